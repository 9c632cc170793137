// Package strategist orchestrates one analysis pass: fan out the
// read-only detectors, decide interventions, issue directives, emit
// events and record the run. Partial failure is the expected operating
// mode; whatever succeeded is reported and whatever failed becomes a note.
package strategist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategist/internal/activity"
	"strategist/internal/config"
	"strategist/internal/decide"
	"strategist/internal/detect"
	"strategist/internal/directive"
	"strategist/internal/domain"
	"strategist/internal/events"
	"strategist/internal/hope"
	"strategist/internal/narrative"
	"strategist/internal/repo"
	"strategist/internal/velocity"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

const actorID = "strategist"

type Orchestrator struct {
	DB         *sql.DB
	Repo       repo.Repo
	Store      activity.Store
	Detector   *detect.Detector
	Velocity   velocity.Tracker
	Hope       hope.Model
	Directives directive.Engine
	Events     events.Writer
	Synth      narrative.Synthesizer
	Config     *config.Config
	Logger     *zap.Logger
	Now        func() time.Time
}

func New(conn *sql.DB, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := repo.Repo{DB: conn}
	store := activity.SQLStore{Repo: r}
	var pub events.Publisher
	if cfg.Events.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.Events.NATSURL)
		if err != nil {
			logger.Warn("event bus unavailable", zap.String("url", cfg.Events.NATSURL), zap.Error(err))
		} else {
			pub = p
		}
	}
	dirs := directive.New(conn, cfg, logger)
	dirs.Events.Publisher = pub
	var synth narrative.Synthesizer
	if cfg.Narrative.Enabled {
		s, err := narrative.NewAnthropicSynthesizer(cfg.Narrative)
		if err != nil {
			logger.Warn("narrative model unavailable", zap.Error(err))
		} else {
			synth = s
		}
	}
	return &Orchestrator{
		DB:         conn,
		Repo:       r,
		Store:      store,
		Detector:   detect.New(store, cfg.Detection, logger),
		Velocity:   velocity.NewTracker(store, cfg.Velocity),
		Hope:       hope.NewModel(cfg.Hope),
		Directives: dirs,
		Events:     events.Writer{DB: conn, Publisher: pub},
		Synth:      synth,
		Config:     cfg,
		Logger:     logger,
		Now:        time.Now,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// WithClock pins every component to one clock, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.Now = now
	o.Detector.Now = now
	o.Velocity.Now = now
	o.Hope.Now = now
	o.Directives.Now = now
	o.Events.Now = now
	return o
}

// RunResult carries everything one orchestration pass produced.
type RunResult struct {
	Run        domain.Run                    `json:"run"`
	Patterns   []domain.PatternMatch         `json:"patterns,omitempty"`
	Velocity   *domain.VelocityReport        `json:"velocity,omitempty"`
	Stall      *domain.StallCheck            `json:"stall,omitempty"`
	Hope       *domain.HopeReport            `json:"hope,omitempty"`
	Decisions  []domain.InterventionDecision `json:"decisions,omitempty"`
	Directives []domain.Directive            `json:"directives,omitempty"`
	Expired    int                           `json:"expired"`
	Narrative  narrative.Narrative           `json:"narrative"`
}

// Run executes one full pass for a user. The returned error is non-nil
// only when the run record itself could not be persisted; analysis
// failures degrade to a partial run instead.
func (o *Orchestrator) Run(ctx context.Context, userID string) (RunResult, error) {
	if userID == "" {
		return RunResult{}, fmt.Errorf("user is required")
	}
	run := domain.Run{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    RunRunning,
		StartedAt: o.now().UTC().Format(time.RFC3339),
	}
	if err := o.Repo.InsertRun(ctx, run); err != nil {
		return RunResult{}, fmt.Errorf("record run: %w", err)
	}

	res := RunResult{Run: run}
	var notes []string

	// The three analysis passes are independent reads; fan out and keep
	// whatever comes back.
	var (
		velocityReport domain.VelocityReport
		stallCheck     domain.StallCheck
		hopeReport     domain.HopeReport
		velocityErr    error
		stallErr       error
		hopeErr        error
	)
	var g errgroup.Group
	g.Go(func() error {
		res.Patterns = o.Detector.DetectAll(ctx, userID)
		return nil
	})
	g.Go(func() error {
		velocityReport, velocityErr = o.Velocity.GenerateReport(ctx, userID)
		if velocityErr == nil {
			stallCheck, stallErr = o.Velocity.IsStalled(ctx, userID)
		}
		return nil
	})
	g.Go(func() error {
		apps, err := o.Store.Applications(ctx, userID, activity.Window{})
		if err != nil {
			hopeErr = err
			return nil
		}
		hopeReport = o.Hope.Report(userID, apps)
		return nil
	})
	_ = g.Wait()

	if velocityErr != nil {
		notes = append(notes, "velocity report failed: "+velocityErr.Error())
	} else {
		res.Velocity = &velocityReport
		if stallErr != nil {
			notes = append(notes, "stall check failed: "+stallErr.Error())
		} else {
			res.Stall = &stallCheck
		}
	}
	if hopeErr != nil {
		notes = append(notes, "hope report failed: "+hopeErr.Error())
	} else {
		res.Hope = &hopeReport
	}

	res.Decisions = decide.Decide(res.Patterns, res.Velocity, res.Stall)

	issued, issueNotes := o.applyDecisions(ctx, userID, res.Patterns, res.Decisions)
	res.Directives = issued
	notes = append(notes, issueNotes...)

	if expired, err := o.Directives.ExpireDue(ctx, userID, actorID); err != nil {
		notes = append(notes, "expiry sweep failed: "+err.Error())
	} else {
		res.Expired = expired
	}

	res.Narrative = narrative.Generate(ctx, o.Synth, narrative.Input{
		UserID:   userID,
		Patterns: res.Patterns,
		Velocity: res.Velocity,
		Hope:     res.Hope,
	}, o.Logger)

	o.emitRunEvents(ctx, userID, &res, &notes)

	run.Status = RunCompleted
	if len(notes) > 0 {
		run.Status = RunPartial
		joined := strings.Join(notes, "; ")
		run.Notes = &joined
	}
	run.Patterns = len(res.Patterns)
	run.Decisions = len(res.Decisions)
	run.DirectivesIssued = len(res.Directives)
	finished := o.now().UTC().Format(time.RFC3339)
	run.FinishedAt = &finished
	if err := o.Repo.FinishRun(ctx, run); err != nil {
		return res, fmt.Errorf("finish run: %w", err)
	}
	res.Run = run

	o.Logger.Info("run finished",
		zap.String("user_id", userID),
		zap.String("run_id", run.ID),
		zap.String("status", run.Status),
		zap.Int("patterns", run.Patterns),
		zap.Int("decisions", run.Decisions),
		zap.Int("directives", run.DirectivesIssued))
	return res, nil
}

// applyDecisions turns decisions into directives. NOTIFY_USER and
// CELEBRATE have no external executor waiting on them; they settle as
// events inside emitRunEvents instead of as directives.
func (o *Orchestrator) applyDecisions(ctx context.Context, userID string, patterns []domain.PatternMatch, decisions []domain.InterventionDecision) ([]domain.Directive, []string) {
	var issued []domain.Directive
	var notes []string

	issue := func(d domain.Directive, err error) {
		if r := directive.Result(d, err); !r.Success {
			notes = append(notes, "issue directive failed: "+r.Message)
			return
		}
		issued = append(issued, d)
	}

	// Only one skill_priority directive can be open per user, so a run
	// with several gap clusters issues for the worst one. Detector output
	// is already ordered worst first.
	repathed := false
	practiced := false
	for _, dec := range decisions {
		switch dec.Action {
		case domain.ActionRepathRoadmap:
			if repathed {
				continue
			}
			repathed = true
			skill, _ := dec.Payload["skill"].(string)
			title := "close the " + skill + " gap before applying further"
			if skill == "" {
				title = "rework the roadmap around detected skill gaps"
			}
			payload, _ := jsonPayload(dec.Payload)
			issue(o.Directives.IssueSkillPriority(ctx, directive.TemplateInput{
				UserID:      userID,
				Title:       title,
				Description: dec.Reason,
				Reasoning:   dec.Reason,
				ContextJSON: payload,
				ActorID:     actorID,
			}))
		case domain.ActionRequestPractice:
			if practiced {
				continue
			}
			practiced = true
			payload, _ := jsonPayload(dec.Payload)
			issue(o.Directives.Issue(ctx, directive.IssueOptions{
				UserID:      userID,
				Type:        domain.DirectiveRoadmapAdjustment,
				Priority:    priorityForUrgency(dec.Urgency),
				Title:       "schedule interview practice sessions",
				Description: dec.Reason,
				Reasoning:   dec.Reason,
				Target:      directive.TargetRoadmapPlanner,
				ContextJSON: payload,
				ActorID:     actorID,
			}))
		}
	}

	// A severe rejection streak with no interviews is a resume problem as
	// much as a skill problem.
	for _, p := range patterns {
		if p.Type != domain.PatternDecliningTrend || p.Data["metric"] != "rejection_rate" {
			continue
		}
		payload, _ := jsonPayload(p.Data)
		issue(o.Directives.IssueResumeRewrite(ctx, directive.TemplateInput{
			UserID:      userID,
			Title:       "rewrite resume for the roles being targeted",
			Description: p.Description,
			Reasoning:   p.Description,
			ContextJSON: payload,
			ActorID:     actorID,
		}))
		break
	}

	// A ghosting pile-up gets a follow-up directive for the application
	// manager, independent of the notification path.
	ghosted := 0
	for _, p := range patterns {
		if p.Type == domain.PatternStall && p.Data["metric"] == "response_rate" {
			ghosted++
		}
	}
	if ghosted > 0 {
		issue(o.Directives.IssueGhostingResponse(ctx, directive.TemplateInput{
			UserID:      userID,
			Title:       "follow up or close out unanswered applications",
			Description: "response rate is too low to keep applying on the same channels",
			ActorID:     actorID,
		}))
	}

	sort.SliceStable(issued, func(i, j int) bool {
		return domain.SeverityRank(issued[i].Priority) > domain.SeverityRank(issued[j].Priority)
	})
	return issued, notes
}

// emitRunEvents appends the run's observational events: critical
// patterns, milestones, stall notifications and the run summary itself.
func (o *Orchestrator) emitRunEvents(ctx context.Context, userID string, res *RunResult, notes *[]string) {
	emit := func(evtType string, payload events.EventPayload) {
		tx, err := o.DB.BeginTx(ctx, nil)
		if err != nil {
			*notes = append(*notes, "emit "+evtType+": "+err.Error())
			return
		}
		defer tx.Rollback()
		if err := o.Events.Append(ctx, tx, evtType, userID, "run", res.Run.ID, actorID, payload); err != nil {
			*notes = append(*notes, "emit "+evtType+": "+err.Error())
			return
		}
		if err := tx.Commit(); err != nil {
			*notes = append(*notes, "emit "+evtType+": "+err.Error())
			return
		}
		if err := o.Events.Publish(evtType, userID, payload); err != nil {
			o.Logger.Warn("event publish failed", zap.String("type", evtType), zap.Error(err))
		}
	}

	for _, p := range res.Patterns {
		switch {
		case p.Severity == domain.SeverityCritical:
			emit(events.TypeCriticalPattern, events.EventPayload{"pattern": p.Type, "description": p.Description})
		case p.Type == domain.PatternMilestone:
			emit(events.TypeMilestone, events.EventPayload{"description": p.Description, "data": p.Data})
		}
	}
	if res.Stall != nil && res.Stall.Stalled {
		emit(events.TypeUserStalled, events.EventPayload{
			"reason":        res.Stall.Reason,
			"days_inactive": res.Stall.DaysInactive,
		})
	}
	emit(events.TypeRunCompleted, events.EventPayload{
		"patterns":   len(res.Patterns),
		"decisions":  len(res.Decisions),
		"directives": len(res.Directives),
		"expired":    res.Expired,
	})
}

func priorityForUrgency(urgency string) string {
	switch urgency {
	case domain.UrgencyImmediate:
		return domain.SeverityCritical
	case domain.UrgencySoon:
		return domain.SeverityHigh
	}
	return domain.SeverityMedium
}

func jsonPayload(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
