// Package server exposes the strategist over HTTP. Handlers stay thin:
// parse, delegate to the orchestrator or directive engine, translate
// errors into the API envelope.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"strategist/internal/activity"
	"strategist/internal/directive"
	"strategist/internal/domain"
	"strategist/internal/narrative"
	"strategist/internal/repo"
	"strategist/internal/strategist"
)

// Config for the HTTP API handler.
type Config struct {
	Orch     *strategist.Orchestrator
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"directive not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the strategist API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Orch == nil {
		return nil, errors.New("orchestrator required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope shape.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors map to 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Strategist API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRuns(group, cfg.Orch)
	registerDirectives(group, cfg.Orch)
	registerExecutions(group, cfg.Orch)
	registerReports(group, cfg.Orch)
	registerActivity(group, cfg.Orch)
	registerEvents(group, cfg.Orch)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var transition *directive.InvalidTransitionError
	if errors.As(err, &transition) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"directive_id": transition.DirectiveID,
			"from":         transition.From,
			"to":           transition.To,
		})
	}
	if errors.Is(err, directive.ErrExecutionRunning) {
		return newAPIError(http.StatusConflict, "execution_running", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already settled"):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		}
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			}
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func userOr(o *strategist.Orchestrator, v string) string {
	if v != "" {
		return v
	}
	if o.Config != nil {
		return o.Config.User.ID
	}
	return ""
}

func registerRuns(api huma.API, o *strategist.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "run-analysis",
		Method:        http.MethodPost,
		Path:          "/runs",
		Summary:       "Run one analysis pass",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body RunRequest
	}) (*struct {
		Body strategist.RunResult
	}, error) {
		res, err := o.Run(ctx, userOr(o, input.Body.UserID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body strategist.RunResult
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List recent runs",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		Limit  int    `query:"limit" default:"20" minimum:"1" maximum:"200"`
	}) (*struct {
		Body struct {
			Runs []domain.Run `json:"runs"`
		}
	}, error) {
		runs, err := o.Repo.ListRuns(ctx, userOr(o, input.UserID), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Runs []domain.Run `json:"runs"`
			}
		}{}
		resp.Body.Runs = runs
		return resp, nil
	})
}

func registerDirectives(api huma.API, o *strategist.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "issue-directive",
		Method:        http.MethodPost,
		Path:          "/directives",
		Summary:       "Issue a directive",
		Description:   "Supersedes any open directive of the same type for the user.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body IssueDirectiveRequest
	}) (*struct {
		Body domain.Directive
	}, error) {
		d, err := o.Directives.Issue(ctx, directive.IssueOptions{
			UserID:         userOr(o, input.Body.UserID),
			Type:           input.Body.Type,
			Priority:       input.Body.Priority,
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			Reasoning:      input.Body.Reasoning,
			Target:         input.Body.Target,
			ActionRequired: input.Body.ActionRequired,
			ContextJSON:    input.Body.Context,
			ExpiresAt:      input.Body.ExpiresAt,
			ActorID:        actorOr(input.Body.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Directive
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-active-directives",
		Method:      http.MethodGet,
		Path:        "/directives",
		Summary:     "List active directives",
		Description: "Non-expired pending/active directives, most severe first.",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UserID      string `query:"user_id"`
		Type        string `query:"type"`
		Target      string `query:"target"`
		MinPriority string `query:"min_priority" enum:",critical,high,medium,low"`
	}) (*struct {
		Body struct {
			Directives []domain.Directive `json:"directives"`
		}
	}, error) {
		list, err := o.Directives.GetActive(ctx, userOr(o, input.UserID), directive.ActiveFilters{
			Type:        input.Type,
			Target:      input.Target,
			MinPriority: input.MinPriority,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Directives []domain.Directive `json:"directives"`
			}
		}{}
		resp.Body.Directives = list
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-directive",
		Method:      http.MethodGet,
		Path:        "/directives/{directive_id}",
		Summary:     "Get directive",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		DirectiveID string `path:"directive_id"`
	}) (*struct {
		Body domain.Directive
	}, error) {
		d, err := o.Directives.Get(ctx, input.DirectiveID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Directive
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-directive",
		Method:      http.MethodPost,
		Path:        "/directives/{directive_id}/cancel",
		Summary:     "Cancel directive",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		DirectiveID string                 `path:"directive_id"`
		Body        CancelDirectiveRequest
	}) (*struct {
		Body domain.Directive
	}, error) {
		d, err := o.Directives.Cancel(ctx, input.DirectiveID, input.Body.Reason, actorOr(input.Body.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Directive
		}{Body: d}, nil
	})
}

func registerExecutions(api huma.API, o *strategist.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-execution",
		Method:        http.MethodPost,
		Path:          "/directives/{directive_id}/executions",
		Summary:       "Start directive execution",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DirectiveID string                `path:"directive_id"`
		Body        StartExecutionRequest
	}) (*struct {
		Body domain.ExecutionLog
	}, error) {
		log, err := o.Directives.StartExecution(ctx, input.DirectiveID, input.Body.ExecutedBy)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExecutionLog
		}{Body: log}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-execution",
		Method:      http.MethodPost,
		Path:        "/directives/{directive_id}/executions/{execution_id}/complete",
		Summary:     "Complete directive execution",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DirectiveID string                   `path:"directive_id"`
		ExecutionID string                   `path:"execution_id"`
		Body        CompleteExecutionRequest
	}) (*struct {
		Body domain.Directive
	}, error) {
		d, err := o.Directives.CompleteExecution(ctx, directive.CompleteOptions{
			DirectiveID: input.DirectiveID,
			ExecutionID: input.ExecutionID,
			Success:     input.Body.Success,
			Result:      input.Body.Result,
			ImpactJSON:  input.Body.ImpactMetrics,
			Logs:        input.Body.Logs,
			ErrorMsg:    input.Body.ErrorMessage,
			ActorID:     actorOr(input.Body.ActorID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Directive
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-executions",
		Method:      http.MethodGet,
		Path:        "/directives/{directive_id}/executions",
		Summary:     "List execution attempts",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		DirectiveID string `path:"directive_id"`
	}) (*struct {
		Body struct {
			Executions []domain.ExecutionLog `json:"executions"`
		}
	}, error) {
		logs, err := o.Directives.ExecutionHistory(ctx, input.DirectiveID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Executions []domain.ExecutionLog `json:"executions"`
			}
		}{}
		resp.Body.Executions = logs
		return resp, nil
	})
}

func registerReports(api huma.API, o *strategist.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "velocity-report",
		Method:      http.MethodGet,
		Path:        "/reports/velocity",
		Summary:     "Velocity report",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body struct {
			Report domain.VelocityReport `json:"report"`
			Stall  domain.StallCheck     `json:"stall"`
		}
	}, error) {
		userID := userOr(o, input.UserID)
		report, err := o.Velocity.GenerateReport(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		stall, err := o.Velocity.IsStalled(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Report domain.VelocityReport `json:"report"`
				Stall  domain.StallCheck     `json:"stall"`
			}
		}{}
		resp.Body.Report = report
		resp.Body.Stall = stall
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "hope-report",
		Method:      http.MethodGet,
		Path:        "/reports/hope",
		Summary:     "Hope report",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body domain.HopeReport
	}, error) {
		userID := userOr(o, input.UserID)
		apps, err := o.Store.Applications(ctx, userID, activity.Window{})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.HopeReport
		}{Body: o.Hope.Report(userID, apps)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detect-patterns",
		Method:      http.MethodGet,
		Path:        "/reports/patterns",
		Summary:     "Detected patterns",
		Description: "Runs pattern detection without deciding or issuing anything.",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body struct {
			Patterns []domain.PatternMatch `json:"patterns"`
		}
	}, error) {
		resp := &struct {
			Body struct {
				Patterns []domain.PatternMatch `json:"patterns"`
			}
		}{}
		resp.Body.Patterns = o.Detector.DetectAll(ctx, userOr(o, input.UserID))
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "narrative-report",
		Method:      http.MethodGet,
		Path:        "/reports/narrative",
		Summary:     "Narrative summary",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body narrative.Narrative
	}, error) {
		userID := userOr(o, input.UserID)
		in := narrative.Input{UserID: userID, Patterns: o.Detector.DetectAll(ctx, userID)}
		if report, err := o.Velocity.GenerateReport(ctx, userID); err == nil {
			in.Velocity = &report
		}
		if apps, err := o.Store.Applications(ctx, userID, activity.Window{}); err == nil {
			hopeReport := o.Hope.Report(userID, apps)
			in.Hope = &hopeReport
		}
		return &struct {
			Body narrative.Narrative
		}{Body: narrative.Generate(ctx, o.Synth, in, o.Logger)}, nil
	})
}

func registerEvents(api huma.API, o *strategist.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Description: "Newest first. Pass the smallest id from the previous page as cursor.",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UserID     string `query:"user_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Cursor     int64  `query:"cursor" minimum:"0"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body struct {
			Events []domain.Event `json:"events"`
		}
	}, error) {
		evts, err := o.Repo.LatestEventsFrom(ctx, input.Limit, input.Cursor, userOr(o, input.UserID), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Events []domain.Event `json:"events"`
			}
		}{}
		resp.Body.Events = evts
		return resp, nil
	})
}

func actorOr(v string) string {
	if v == "" {
		return "api"
	}
	return v
}

func stamp(o *strategist.Orchestrator) string {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func registerActivity(api huma.API, o *strategist.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-application",
		Method:        http.MethodPost,
		Path:          "/activity/applications",
		Summary:       "Record an application",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body AddApplicationRequest
	}) (*struct {
		Body domain.Application
	}, error) {
		if input.Body.Company == "" || input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "company and role are required", nil)
		}
		now := stamp(o)
		a := domain.Application{
			ID:        input.Body.ID,
			UserID:    userOr(o, input.Body.UserID),
			Company:   input.Body.Company,
			Role:      input.Body.Role,
			Platform:  input.Body.Platform,
			Status:    input.Body.Status,
			Feedback:  input.Body.Feedback,
			AppliedAt: input.Body.AppliedAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Status == "" {
			a.Status = domain.AppStatusApplied
		}
		if a.AppliedAt == "" {
			a.AppliedAt = now
		}
		if input.Body.LastActivityAt != "" {
			a.LastActivityAt = &input.Body.LastActivityAt
		}
		if err := o.Repo.InsertApplication(ctx, a); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-interview",
		Method:        http.MethodPost,
		Path:          "/activity/interviews",
		Summary:       "Record an interview",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body AddInterviewRequest
	}) (*struct {
		Body domain.Interview
	}, error) {
		now := stamp(o)
		iv := domain.Interview{
			ID:        input.Body.ID,
			UserID:    userOr(o, input.Body.UserID),
			Kind:      input.Body.Kind,
			Status:    input.Body.Status,
			Score:     input.Body.Score,
			Feedback:  input.Body.Feedback,
			SkillGaps: input.Body.SkillGaps,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if iv.ID == "" {
			iv.ID = uuid.NewString()
		}
		if iv.Status == "" {
			iv.Status = domain.InterviewStatusScheduled
		}
		if input.Body.ApplicationID != "" {
			iv.ApplicationID = &input.Body.ApplicationID
		}
		if input.Body.ScheduledAt != "" {
			iv.ScheduledAt = &input.Body.ScheduledAt
		}
		if input.Body.CompletedAt != "" {
			iv.CompletedAt = &input.Body.CompletedAt
		} else if iv.Status == domain.InterviewStatusCompleted {
			iv.CompletedAt = &now
		}
		if err := o.Repo.InsertInterview(ctx, iv); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Interview
		}{Body: iv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-verification",
		Method:        http.MethodPost,
		Path:          "/activity/verifications",
		Summary:       "Record a skill verification or module completion",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body AddVerificationRequest
	}) (*struct {
		Body domain.SkillVerification
	}, error) {
		if input.Body.Skill == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "skill is required", nil)
		}
		now := stamp(o)
		v := domain.SkillVerification{
			ID:        input.Body.ID,
			UserID:    userOr(o, input.Body.UserID),
			Kind:      input.Body.Kind,
			Skill:     input.Body.Skill,
			Status:    input.Body.Status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		if v.Kind == "" {
			v.Kind = domain.VerificationKindSkill
		}
		if v.Status == "" {
			v.Status = domain.VerificationStatusVerified
		}
		if input.Body.VerifiedAt != "" {
			v.VerifiedAt = &input.Body.VerifiedAt
		} else if v.Status == domain.VerificationStatusVerified {
			v.VerifiedAt = &now
		}
		if err := o.Repo.InsertVerification(ctx, v); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SkillVerification
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/activity/applications",
		Summary:     "List applications",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body struct {
			Applications []domain.Application `json:"applications"`
		}
	}, error) {
		apps, err := o.Repo.ListApplications(ctx, repo.ActivityFilters{
			UserID: userOr(o, input.UserID),
			Status: input.Status,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Applications []domain.Application `json:"applications"`
			}
		}{}
		resp.Body.Applications = apps
		return resp, nil
	})
}
