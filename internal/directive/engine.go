// Package directive owns the persisted directive lifecycle. Every mutation
// happens through one of the operations here; each runs in a single sqlite
// transaction that also appends to the durable event log, so state and
// audit trail can never drift apart.
package directive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"strategist/internal/config"
	"strategist/internal/domain"
	"strategist/internal/events"
	"strategist/internal/repo"
)

// InvalidTransitionError rejects a lifecycle move from a state that does
// not permit it. Terminal states are never left.
type InvalidTransitionError struct {
	DirectiveID string
	From        string
	To          string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("directive %s: invalid status transition %s -> %s", e.DirectiveID, e.From, e.To)
}

// ErrExecutionRunning rejects starting a directive that already has an
// open execution attempt.
var ErrExecutionRunning = errors.New("directive already has a running execution")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// publish fans a committed event out to the external bus. Delivery is best
// effort; a dead bus never fails the operation that already committed.
func (e Engine) publish(evtType, userID string, payload events.EventPayload) {
	if err := e.Events.Publish(evtType, userID, payload); err != nil {
		e.Logger.Warn("event publish failed", zap.String("type", evtType), zap.Error(err))
	}
}

// IssueOptions are parameters for issuing a directive.
type IssueOptions struct {
	UserID         string
	Type           string
	Priority       string
	Title          string
	Description    string
	Reasoning      string
	Target         string
	ActionRequired string
	ContextJSON    string
	ExpiresAt      string
	ActorID        string
}

func validDirectiveType(t string) bool {
	for _, dt := range domain.DirectiveTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// Issue supersedes every open directive of the same (user, type) and
// inserts the replacement as pending, atomically. Two concurrent issuances
// for one key cannot both survive: the supersede and the insert share a
// transaction.
func (e Engine) Issue(ctx context.Context, opts IssueOptions) (domain.Directive, error) {
	if opts.UserID == "" {
		return domain.Directive{}, errors.New("user is required")
	}
	if !validDirectiveType(opts.Type) {
		return domain.Directive{}, fmt.Errorf("unknown directive type %q", opts.Type)
	}
	if opts.Title == "" {
		return domain.Directive{}, errors.New("title is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.SeverityMedium
	}
	if domain.SeverityRank(opts.Priority) == 0 {
		return domain.Directive{}, fmt.Errorf("unknown priority %q", opts.Priority)
	}
	if opts.ContextJSON != "" {
		var tmp any
		if err := json.Unmarshal([]byte(opts.ContextJSON), &tmp); err != nil {
			return domain.Directive{}, fmt.Errorf("context must be valid JSON: %w", err)
		}
	}
	if opts.ExpiresAt != "" {
		if _, err := time.Parse(time.RFC3339, opts.ExpiresAt); err != nil {
			return domain.Directive{}, fmt.Errorf("expires-at must be RFC3339: %w", err)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Directive{}, err
	}
	defer tx.Rollback()

	open, err := e.Repo.ListOpenDirectivesTx(ctx, tx, opts.UserID, opts.Type)
	if err != nil {
		return domain.Directive{}, fmt.Errorf("find open directives: %w", err)
	}
	superseded := make([]string, 0, len(open))
	for _, prev := range open {
		prev.Status = domain.DirectiveSuperseded
		if err := e.Repo.UpdateDirectiveTx(ctx, tx, prev); err != nil {
			return domain.Directive{}, fmt.Errorf("supersede directive %s: %w", prev.ID, err)
		}
		superseded = append(superseded, prev.ID)
	}

	d := domain.Directive{
		ID:          uuid.NewString(),
		UserID:      opts.UserID,
		Type:        opts.Type,
		Priority:    opts.Priority,
		Status:      domain.DirectivePending,
		Title:       opts.Title,
		Description: opts.Description,
		IssuedAt:    e.stamp(),
	}
	if opts.Reasoning != "" {
		d.Reasoning = &opts.Reasoning
	}
	if opts.Target != "" {
		d.Target = &opts.Target
	}
	if opts.ActionRequired != "" {
		d.ActionRequired = &opts.ActionRequired
	}
	if opts.ContextJSON != "" {
		d.ContextJSON = &opts.ContextJSON
	}
	if opts.ExpiresAt != "" {
		d.ExpiresAt = &opts.ExpiresAt
	}
	if err := e.Repo.InsertDirectiveTx(ctx, tx, d); err != nil {
		return domain.Directive{}, fmt.Errorf("insert directive: %w", err)
	}

	payload := events.EventPayload{"type": d.Type, "priority": d.Priority, "title": d.Title}
	if len(superseded) > 0 {
		payload["superseded"] = superseded
	}
	if err := e.Events.Append(ctx, tx, events.TypeDirectiveIssued, d.UserID, "directive", d.ID, opts.ActorID, payload); err != nil {
		return domain.Directive{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Directive{}, err
	}
	e.publish(events.TypeDirectiveIssued, d.UserID, payload)
	return d, nil
}

// ActiveFilters narrow a GetActive query.
type ActiveFilters struct {
	Type        string
	Target      string
	MinPriority string
}

// GetActive returns the non-expired pending/active directives for a user,
// most severe first. Expiry is evaluated at query time; rows are never
// deleted or rewritten by the passage of time alone.
func (e Engine) GetActive(ctx context.Context, userID string, f ActiveFilters) ([]domain.Directive, error) {
	if f.MinPriority != "" && domain.SeverityRank(f.MinPriority) == 0 {
		return nil, fmt.Errorf("unknown priority %q", f.MinPriority)
	}
	return e.Repo.ListDirectives(ctx, repo.DirectiveFilters{
		UserID:       userID,
		Type:         f.Type,
		Target:       f.Target,
		Statuses:     []string{domain.DirectivePending, domain.DirectiveActive},
		MinPriority:  f.MinPriority,
		NotExpiredAt: e.stamp(),
	})
}

// StartExecution moves a directive to active and opens a running execution
// log row. A directive with an attempt still running cannot be started again.
func (e Engine) StartExecution(ctx context.Context, directiveID, executedBy string) (domain.ExecutionLog, error) {
	if executedBy == "" {
		return domain.ExecutionLog{}, errors.New("executed-by is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExecutionLog{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDirectiveTx(ctx, tx, directiveID)
	if err != nil {
		return domain.ExecutionLog{}, err
	}
	if d.Status != domain.DirectivePending && d.Status != domain.DirectiveActive {
		return domain.ExecutionLog{}, &InvalidTransitionError{DirectiveID: d.ID, From: d.Status, To: domain.DirectiveActive}
	}
	running, err := e.Repo.HasRunningExecutionTx(ctx, tx, d.ID)
	if err != nil {
		return domain.ExecutionLog{}, err
	}
	if running {
		return domain.ExecutionLog{}, ErrExecutionRunning
	}

	now := e.stamp()
	d.Status = domain.DirectiveActive
	if d.ExecutedAt == nil {
		d.ExecutedAt = &now
	}
	if err := e.Repo.UpdateDirectiveTx(ctx, tx, d); err != nil {
		return domain.ExecutionLog{}, err
	}

	log := domain.ExecutionLog{
		ID:              uuid.NewString(),
		DirectiveID:     d.ID,
		ExecutedBy:      executedBy,
		ExecutionStatus: domain.ExecutionRunning,
		StartedAt:       now,
	}
	if err := e.Repo.InsertExecutionLogTx(ctx, tx, log); err != nil {
		return domain.ExecutionLog{}, fmt.Errorf("insert execution log: %w", err)
	}
	payload := events.EventPayload{"execution_id": log.ID, "executed_by": executedBy}
	if err := e.Events.Append(ctx, tx, events.TypeDirectiveStarted, d.UserID, "directive", d.ID, executedBy, payload); err != nil {
		return domain.ExecutionLog{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExecutionLog{}, err
	}
	e.publish(events.TypeDirectiveStarted, d.UserID, payload)
	return log, nil
}

// CompleteOptions are parameters for closing an execution attempt.
type CompleteOptions struct {
	DirectiveID string
	ExecutionID string
	Success     bool
	Result      string
	ImpactJSON  string
	Logs        string
	ErrorMsg    string
	ActorID     string
}

// CompleteExecution closes the log row and settles the directive to
// completed or failed. Only an active directive can be settled; anything
// else is an invariant violation and is rejected outright.
func (e Engine) CompleteExecution(ctx context.Context, opts CompleteOptions) (domain.Directive, error) {
	target := domain.DirectiveCompleted
	if !opts.Success {
		target = domain.DirectiveFailed
	}
	if opts.ImpactJSON != "" {
		var tmp any
		if err := json.Unmarshal([]byte(opts.ImpactJSON), &tmp); err != nil {
			return domain.Directive{}, fmt.Errorf("impact metrics must be valid JSON: %w", err)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Directive{}, err
	}
	defer tx.Rollback()

	log, err := e.Repo.GetExecutionLogTx(ctx, tx, opts.ExecutionID)
	if err != nil {
		return domain.Directive{}, err
	}
	if opts.DirectiveID != "" && log.DirectiveID != opts.DirectiveID {
		return domain.Directive{}, fmt.Errorf("execution %s does not belong to directive %s", opts.ExecutionID, opts.DirectiveID)
	}
	if log.ExecutionStatus != domain.ExecutionRunning {
		return domain.Directive{}, fmt.Errorf("execution %s already settled as %s", log.ID, log.ExecutionStatus)
	}
	d, err := e.Repo.GetDirectiveTx(ctx, tx, log.DirectiveID)
	if err != nil {
		return domain.Directive{}, err
	}
	if d.Status != domain.DirectiveActive {
		return domain.Directive{}, &InvalidTransitionError{DirectiveID: d.ID, From: d.Status, To: target}
	}

	now := e.stamp()
	log.ExecutionStatus = domain.ExecutionCompleted
	if !opts.Success {
		log.ExecutionStatus = domain.ExecutionFailed
	}
	log.CompletedAt = &now
	if started, err := time.Parse(time.RFC3339, log.StartedAt); err == nil {
		ms := e.now().UTC().Sub(started).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		log.ExecutionTimeMS = &ms
	}
	if opts.Logs != "" {
		log.Logs = &opts.Logs
	}
	if opts.ErrorMsg != "" {
		log.ErrorMessage = &opts.ErrorMsg
	}
	if err := e.Repo.UpdateExecutionLogTx(ctx, tx, log); err != nil {
		return domain.Directive{}, err
	}

	d.Status = target
	if opts.Result != "" {
		d.Result = &opts.Result
	}
	if opts.ImpactJSON != "" {
		d.ImpactJSON = &opts.ImpactJSON
	}
	if err := e.Repo.UpdateDirectiveTx(ctx, tx, d); err != nil {
		return domain.Directive{}, err
	}

	evtType := events.TypeDirectiveCompleted
	if !opts.Success {
		evtType = events.TypeDirectiveFailed
	}
	payload := events.EventPayload{"execution_id": log.ID, "status": d.Status}
	if opts.Result != "" {
		payload["result"] = opts.Result
	}
	if err := e.Events.Append(ctx, tx, evtType, d.UserID, "directive", d.ID, opts.ActorID, payload); err != nil {
		return domain.Directive{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Directive{}, err
	}
	e.publish(evtType, d.UserID, payload)
	return d, nil
}

// Cancel moves any non-terminal directive to cancelled, recording the
// reason in result.
func (e Engine) Cancel(ctx context.Context, directiveID, reason, actorID string) (domain.Directive, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Directive{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDirectiveTx(ctx, tx, directiveID)
	if err != nil {
		return domain.Directive{}, err
	}
	if d.Status != domain.DirectivePending && d.Status != domain.DirectiveActive {
		return domain.Directive{}, &InvalidTransitionError{DirectiveID: d.ID, From: d.Status, To: domain.DirectiveCancelled}
	}
	d.Status = domain.DirectiveCancelled
	if reason != "" {
		d.Result = &reason
	}
	if err := e.Repo.UpdateDirectiveTx(ctx, tx, d); err != nil {
		return domain.Directive{}, err
	}
	payload := events.EventPayload{"reason": reason}
	if err := e.Events.Append(ctx, tx, events.TypeDirectiveCancelled, d.UserID, "directive", d.ID, actorID, payload); err != nil {
		return domain.Directive{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Directive{}, err
	}
	e.publish(events.TypeDirectiveCancelled, d.UserID, payload)
	return d, nil
}

const expiredResult = "expired"

// ExpireDue sweeps open directives whose expires_at has passed and settles
// them as cancelled with result "expired". Expiry stays logical for reads;
// this sweep only tidies directives nobody will ever execute.
func (e Engine) ExpireDue(ctx context.Context, userID, actorID string) (int, error) {
	due, err := e.Repo.ListExpiredOpenDirectives(ctx, userID, e.stamp())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, d := range due {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return expired, err
		}
		cur, err := e.Repo.GetDirectiveTx(ctx, tx, d.ID)
		if err != nil {
			tx.Rollback()
			return expired, err
		}
		if cur.Status != domain.DirectivePending && cur.Status != domain.DirectiveActive {
			tx.Rollback()
			continue
		}
		cur.Status = domain.DirectiveCancelled
		result := expiredResult
		cur.Result = &result
		if err := e.Repo.UpdateDirectiveTx(ctx, tx, cur); err != nil {
			tx.Rollback()
			return expired, err
		}
		payload := events.EventPayload{"reason": expiredResult, "expires_at": *cur.ExpiresAt}
		if err := e.Events.Append(ctx, tx, events.TypeDirectiveCancelled, cur.UserID, "directive", cur.ID, actorID, payload); err != nil {
			tx.Rollback()
			return expired, err
		}
		if err := tx.Commit(); err != nil {
			return expired, err
		}
		e.publish(events.TypeDirectiveCancelled, cur.UserID, payload)
		expired++
	}
	return expired, nil
}

// Get returns one directive by id.
func (e Engine) Get(ctx context.Context, id string) (domain.Directive, error) {
	return e.Repo.GetDirective(ctx, id)
}

// ExecutionHistory returns every execution attempt for a directive, newest
// first. The log is append-only; settled rows are never rewritten except to
// close them.
func (e Engine) ExecutionHistory(ctx context.Context, directiveID string) ([]domain.ExecutionLog, error) {
	if _, err := e.Repo.GetDirective(ctx, directiveID); err != nil {
		return nil, err
	}
	return e.Repo.ListExecutionLogs(ctx, directiveID)
}
