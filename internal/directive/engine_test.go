package directive_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategist/internal/config"
	"strategist/internal/db"
	"strategist/internal/directive"
	"strategist/internal/domain"
	"strategist/internal/events"
	"strategist/internal/migrate"
)

type testEnv struct {
	Engine directive.Engine
	Ctx    context.Context
	now    *time.Time
}

func (env *testEnv) advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	eng := directive.New(conn, config.Default("u1"), nil)
	eng.Now = func() time.Time { return now }
	return &testEnv{Engine: eng, Ctx: context.Background(), now: &now}
}

func TestIssueSupersedesOpenDirective(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.Engine.IssuePauseApplications(env.Ctx, directive.TemplateInput{
		UserID: "u1", Title: "pause while fixing resume", ActorID: "orchestrator",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectivePending, first.Status)

	second, err := env.Engine.IssuePauseApplications(env.Ctx, directive.TemplateInput{
		UserID: "u1", Title: "pause while closing skill gap", ActorID: "orchestrator",
	})
	require.NoError(t, err)

	old, err := env.Engine.Get(env.Ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectiveSuperseded, old.Status)

	active, err := env.Engine.GetActive(env.Ctx, "u1", directive.ActiveFilters{Type: domain.DirectivePauseApplications})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.Equal(t, domain.DirectivePending, active[0].Status)
}

func TestIssueValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.Issue(env.Ctx, directive.IssueOptions{UserID: "u1", Type: "reboot", Title: "x"})
	assert.ErrorContains(t, err, "unknown directive type")

	_, err = env.Engine.Issue(env.Ctx, directive.IssueOptions{UserID: "u1", Type: domain.DirectiveFocusShift})
	assert.ErrorContains(t, err, "title is required")

	_, err = env.Engine.Issue(env.Ctx, directive.IssueOptions{
		UserID: "u1", Type: domain.DirectiveFocusShift, Title: "x", ContextJSON: "{broken",
	})
	assert.ErrorContains(t, err, "valid JSON")
}

func TestExecutionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	d, err := env.Engine.IssueSkillPriority(env.Ctx, directive.TemplateInput{
		UserID: "u1", Title: "prioritize system design", ActorID: "orchestrator",
	})
	require.NoError(t, err)

	log, err := env.Engine.StartExecution(env.Ctx, d.ID, "roadmap-planner")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionRunning, log.ExecutionStatus)

	started, err := env.Engine.Get(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectiveActive, started.Status)
	require.NotNil(t, started.ExecutedAt)

	env.advance(90 * time.Second)
	done, err := env.Engine.CompleteExecution(env.Ctx, directive.CompleteOptions{
		DirectiveID: d.ID,
		ExecutionID: log.ID,
		Success:     true,
		Result:      "roadmap reordered",
		ImpactJSON:  `{"modules_moved":2}`,
		ActorID:     "roadmap-planner",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DirectiveCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "roadmap reordered", *done.Result)
	require.NotNil(t, done.ImpactJSON)

	history, err := env.Engine.ExecutionHistory(env.Ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ExecutionCompleted, history[0].ExecutionStatus)
	require.NotNil(t, history[0].CompletedAt)
	require.NotNil(t, history[0].ExecutionTimeMS)
	assert.Equal(t, int64(90_000), *history[0].ExecutionTimeMS)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "u1", "", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	assert.Equal(t, events.TypeDirectiveCompleted, evts[0].Type)
}

func TestCompleteRejectedFromTerminalState(t *testing.T) {
	env := newTestEnv(t)

	d, err := env.Engine.IssueFocusShift(env.Ctx, directive.TemplateInput{UserID: "u1", Title: "shift focus"})
	require.NoError(t, err)
	log, err := env.Engine.StartExecution(env.Ctx, d.ID, "roadmap-planner")
	require.NoError(t, err)
	_, err = env.Engine.CompleteExecution(env.Ctx, directive.CompleteOptions{ExecutionID: log.ID, Success: false, ErrorMsg: "planner offline"})
	require.NoError(t, err)

	failed, err := env.Engine.Get(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectiveFailed, failed.Status)

	// Settled executions and terminal directives reject further moves.
	_, err = env.Engine.CompleteExecution(env.Ctx, directive.CompleteOptions{ExecutionID: log.ID, Success: true})
	assert.ErrorContains(t, err, "already settled")

	_, err = env.Engine.StartExecution(env.Ctx, d.ID, "roadmap-planner")
	var transition *directive.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, domain.DirectiveFailed, transition.From)
}

func TestConcurrentStartRejected(t *testing.T) {
	env := newTestEnv(t)

	d, err := env.Engine.IssueGhostingResponse(env.Ctx, directive.TemplateInput{UserID: "u1", Title: "follow up on silent applications"})
	require.NoError(t, err)
	_, err = env.Engine.StartExecution(env.Ctx, d.ID, "application-manager")
	require.NoError(t, err)

	_, err = env.Engine.StartExecution(env.Ctx, d.ID, "application-manager")
	assert.ErrorIs(t, err, directive.ErrExecutionRunning)
}

func TestCancelStoresReason(t *testing.T) {
	env := newTestEnv(t)

	d, err := env.Engine.IssueResumeRewrite(env.Ctx, directive.TemplateInput{UserID: "u1", Title: "rewrite resume"})
	require.NoError(t, err)

	cancelled, err := env.Engine.Cancel(env.Ctx, d.ID, "user opted out", "cli")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectiveCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Result)
	assert.Equal(t, "user opted out", *cancelled.Result)

	_, err = env.Engine.Cancel(env.Ctx, d.ID, "again", "cli")
	var transition *directive.InvalidTransitionError
	assert.ErrorAs(t, err, &transition)
}

func TestExpiryIsLogicalThenSwept(t *testing.T) {
	env := newTestEnv(t)

	d, err := env.Engine.IssuePauseApplications(env.Ctx, directive.TemplateInput{UserID: "u1", Title: "short pause"})
	require.NoError(t, err)

	active, err := env.Engine.GetActive(env.Ctx, "u1", directive.ActiveFilters{})
	require.NoError(t, err)
	require.Len(t, active, 1)

	// Past the 7-day template expiry the directive disappears from active
	// queries but its row is untouched.
	env.advance(8 * 24 * time.Hour)
	active, err = env.Engine.GetActive(env.Ctx, "u1", directive.ActiveFilters{})
	require.NoError(t, err)
	assert.Empty(t, active)

	still, err := env.Engine.Get(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectivePending, still.Status)

	n, err := env.Engine.ExpireDue(env.Ctx, "u1", "sweeper")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	swept, err := env.Engine.Get(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectiveCancelled, swept.Status)
	require.NotNil(t, swept.Result)
	assert.Equal(t, "expired", *swept.Result)
}

func TestGetActiveFilters(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.IssuePauseApplications(env.Ctx, directive.TemplateInput{UserID: "u1", Title: "pause"})
	require.NoError(t, err)
	_, err = env.Engine.IssueSkillPriority(env.Ctx, directive.TemplateInput{UserID: "u1", Title: "skills first"})
	require.NoError(t, err)
	_, err = env.Engine.IssueGhostingResponse(env.Ctx, directive.TemplateInput{UserID: "u1", Title: "nudge"})
	require.NoError(t, err)

	all, err := env.Engine.GetActive(env.Ctx, "u1", directive.ActiveFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Most severe first.
	assert.Equal(t, domain.SeverityCritical, all[0].Priority)

	severe, err := env.Engine.GetActive(env.Ctx, "u1", directive.ActiveFilters{MinPriority: domain.SeverityHigh})
	require.NoError(t, err)
	require.Len(t, severe, 2)

	byTarget, err := env.Engine.GetActive(env.Ctx, "u1", directive.ActiveFilters{Target: directive.TargetRoadmapPlanner})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	assert.Equal(t, domain.DirectiveSkillPriority, byTarget[0].Type)
}

func TestOperationResult(t *testing.T) {
	env := newTestEnv(t)

	d, err := env.Engine.IssueFocusShift(env.Ctx, directive.TemplateInput{UserID: "u1", Title: "shift"})
	res := directive.Result(d, err)
	assert.True(t, res.Success)
	assert.Equal(t, d.ID, res.DirectiveID)

	_, err = env.Engine.Issue(env.Ctx, directive.IssueOptions{UserID: "u1", Type: "bogus", Title: "x"})
	res = directive.Result(domain.Directive{}, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "unknown directive type")
}
