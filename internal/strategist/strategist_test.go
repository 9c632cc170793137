package strategist_test

import (
	"context"
	"fmt"
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
	"strategist/internal/strategist"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func rfc(t time.Time) string { return t.UTC().Format(time.RFC3339) }

type testEnv struct {
	Orch *strategist.Orchestrator
	Ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	orch := strategist.New(conn, config.Default("u1"), nil).WithClock(func() time.Time { return testNow })
	return testEnv{Orch: orch, Ctx: context.Background()}
}

func (env testEnv) seedRejections(t *testing.T, n int, feedback string) {
	t.Helper()
	for i := 0; i < n; i++ {
		at := rfc(testNow.AddDate(0, 0, -i-1))
		require.NoError(t, env.Orch.Repo.InsertApplication(env.Ctx, domain.Application{
			ID:        fmt.Sprintf("rej-%d-%d", n, i),
			UserID:    "u1",
			Company:   "acme",
			Role:      "backend engineer",
			Platform:  "indeed",
			Status:    domain.AppStatusRejected,
			Feedback:  feedback,
			AppliedAt: at,
			CreatedAt: at,
			UpdatedAt: at,
		}))
	}
}

func TestRunOnEmptyHistoryCompletesQuietly(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Orch.Run(env.Ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, strategist.RunCompleted, res.Run.Status)
	assert.Empty(t, res.Patterns)
	assert.Empty(t, res.Directives)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, domain.ActionNoAction, res.Decisions[0].Action)
	assert.Equal(t, "rules", res.Narrative.Source)
	assert.NotEmpty(t, res.Narrative.Summary)

	runs, err := env.Orch.Repo.ListRuns(env.Ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestRunIssuesSkillPriorityFromGapCluster(t *testing.T) {
	env := newTestEnv(t)
	env.seedRejections(t, 7, "weak system design fundamentals")

	res, err := env.Orch.Run(env.Ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, strategist.RunCompleted, res.Run.Status)

	var gap *domain.PatternMatch
	for i := range res.Patterns {
		if res.Patterns[i].Type == domain.PatternSkillGapCluster {
			gap = &res.Patterns[i]
		}
	}
	require.NotNil(t, gap)
	assert.Equal(t, domain.SeverityCritical, gap.Severity)

	var skill *domain.Directive
	var resume *domain.Directive
	for i := range res.Directives {
		switch res.Directives[i].Type {
		case domain.DirectiveSkillPriority:
			skill = &res.Directives[i]
		case domain.DirectiveResumeRewrite:
			resume = &res.Directives[i]
		}
	}
	require.NotNil(t, skill, "expected a skill_priority directive")
	assert.Contains(t, skill.Title, "system_design")
	assert.Equal(t, domain.DirectivePending, skill.Status)
	// 7 rejections out of 7 also trips the rejection-rate rule.
	require.NotNil(t, resume, "expected a resume_rewrite directive")

	// Critical pattern lands in the event log.
	evts, err := env.Orch.Repo.LatestEvents(env.Ctx, 20, "u1", events.TypeCriticalPattern, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, evts)
}

func TestRerunSupersedesPriorDirectives(t *testing.T) {
	env := newTestEnv(t)
	env.seedRejections(t, 7, "weak system design fundamentals")

	_, err := env.Orch.Run(env.Ctx, "u1")
	require.NoError(t, err)
	_, err = env.Orch.Run(env.Ctx, "u1")
	require.NoError(t, err)

	active, err := env.Orch.Directives.GetActive(env.Ctx, "u1", directive.ActiveFilters{Type: domain.DirectiveSkillPriority})
	require.NoError(t, err)
	assert.Len(t, active, 1, "re-running must not accumulate open directives of one type")
}

func TestRunRecordsStallEvent(t *testing.T) {
	env := newTestEnv(t)
	// Six applications last week, silence this week.
	for i := 0; i < 6; i++ {
		at := rfc(testNow.AddDate(0, 0, -9-i%3))
		require.NoError(t, env.Orch.Repo.InsertApplication(env.Ctx, domain.Application{
			ID:        fmt.Sprintf("a%d", i),
			UserID:    "u1",
			Company:   "acme",
			Role:      "backend engineer",
			Status:    domain.AppStatusApplied,
			AppliedAt: at,
			CreatedAt: at,
			UpdatedAt: at,
		}))
	}

	res, err := env.Orch.Run(env.Ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, res.Stall)
	assert.True(t, res.Stall.Stalled)

	evts, err := env.Orch.Repo.LatestEvents(env.Ctx, 20, "u1", events.TypeUserStalled, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, evts)
}

func TestRunSweepsExpiredDirectives(t *testing.T) {
	env := newTestEnv(t)
	expired := rfc(testNow.Add(-time.Hour))
	_, err := env.Orch.Directives.Issue(env.Ctx, directive.IssueOptions{
		UserID:    "u1",
		Type:      domain.DirectivePauseApplications,
		Title:     "stale pause",
		ExpiresAt: expired,
		ActorID:   "tester",
	})
	require.NoError(t, err)

	res, err := env.Orch.Run(env.Ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
}

func TestRunCompletedEventAlwaysEmitted(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Orch.Run(env.Ctx, "u1")
	require.NoError(t, err)

	evts, err := env.Orch.Repo.LatestEvents(env.Ctx, 10, "u1", events.TypeRunCompleted, "", "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
}
