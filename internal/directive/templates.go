package directive

import (
	"context"
	"time"

	"strategist/internal/domain"
)

// Consuming subsystems named as directive targets.
const (
	TargetRoadmapPlanner     = "roadmap-planner"
	TargetApplicationManager = "application-manager"
	TargetResumeWriter       = "resume-writer"
	TargetNotifier           = "notifier"
)

// TemplateInput is the caller-supplied part of a templated directive.
// Priority, target and expiry come from the template.
type TemplateInput struct {
	UserID      string
	Title       string
	Description string
	Reasoning   string
	ContextJSON string
	ActorID     string
}

func (e Engine) issueTemplated(ctx context.Context, in TemplateInput, dtype, priority, target string, ttl time.Duration) (domain.Directive, error) {
	opts := IssueOptions{
		UserID:      in.UserID,
		Type:        dtype,
		Priority:    priority,
		Title:       in.Title,
		Description: in.Description,
		Reasoning:   in.Reasoning,
		ContextJSON: in.ContextJSON,
		Target:      target,
		ActorID:     in.ActorID,
	}
	if ttl > 0 {
		opts.ExpiresAt = e.now().UTC().Add(ttl).Format(time.RFC3339)
	}
	return e.Issue(ctx, opts)
}

// IssueFocusShift redirects the roadmap toward a different skill area.
func (e Engine) IssueFocusShift(ctx context.Context, in TemplateInput) (domain.Directive, error) {
	return e.issueTemplated(ctx, in, domain.DirectiveFocusShift, domain.SeverityHigh, TargetRoadmapPlanner, 14*24*time.Hour)
}

// IssueSkillPriority reorders roadmap work so a named skill comes first.
func (e Engine) IssueSkillPriority(ctx context.Context, in TemplateInput) (domain.Directive, error) {
	return e.issueTemplated(ctx, in, domain.DirectiveSkillPriority, domain.SeverityHigh, TargetRoadmapPlanner, 30*24*time.Hour)
}

// IssueGhostingResponse tells the application manager how to handle a
// pile-up of unanswered applications.
func (e Engine) IssueGhostingResponse(ctx context.Context, in TemplateInput) (domain.Directive, error) {
	return e.issueTemplated(ctx, in, domain.DirectiveGhostingResponse, domain.SeverityMedium, TargetApplicationManager, 7*24*time.Hour)
}

// IssueRejectionInsight surfaces a recurring rejection theme to the user.
func (e Engine) IssueRejectionInsight(ctx context.Context, in TemplateInput) (domain.Directive, error) {
	return e.issueTemplated(ctx, in, domain.DirectiveRejectionInsight, domain.SeverityMedium, TargetNotifier, 30*24*time.Hour)
}

// IssueResumeRewrite asks for a resume pass, usually after a high
// rejection rate with no interviews.
func (e Engine) IssueResumeRewrite(ctx context.Context, in TemplateInput) (domain.Directive, error) {
	return e.issueTemplated(ctx, in, domain.DirectiveResumeRewrite, domain.SeverityHigh, TargetResumeWriter, 30*24*time.Hour)
}

// IssuePauseApplications halts outbound applications while something more
// important is fixed. Short expiry on purpose; a pause must not linger.
func (e Engine) IssuePauseApplications(ctx context.Context, in TemplateInput) (domain.Directive, error) {
	return e.issueTemplated(ctx, in, domain.DirectivePauseApplications, domain.SeverityCritical, TargetApplicationManager, 7*24*time.Hour)
}

// OperationResult is the structured outcome handed to tool-style callers
// that must never see a raw error.
type OperationResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	DirectiveID string `json:"directive_id,omitempty"`
}

// Result folds a lifecycle outcome into an OperationResult.
func Result(d domain.Directive, err error) OperationResult {
	if err != nil {
		return OperationResult{Success: false, Message: err.Error()}
	}
	return OperationResult{Success: true, Message: "directive " + d.Status, DirectiveID: d.ID}
}
