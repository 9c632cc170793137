package detect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"strategist/internal/activity"
	"strategist/internal/config"
	"strategist/internal/domain"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newDetector(store activity.Store) *Detector {
	d := New(store, config.Default("u1").Detection, zap.NewNop())
	d.Now = func() time.Time { return testNow }
	return d
}

func rfc(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func addApp(store *activity.MemoryStore, id, status, feedback string, createdAt time.Time) {
	store.AddApplication(domain.Application{
		ID:        id,
		UserID:    "u1",
		Company:   "acme",
		Role:      "backend engineer",
		Status:    status,
		Feedback:  feedback,
		AppliedAt: rfc(createdAt),
		CreatedAt: rfc(createdAt),
		UpdatedAt: rfc(createdAt),
	})
}

func addScoredInterview(store *activity.MemoryStore, id string, score float64, completedAt time.Time) {
	at := rfc(completedAt)
	store.AddInterview(domain.Interview{
		ID:          id,
		UserID:      "u1",
		Status:      domain.InterviewStatusCompleted,
		Score:       &score,
		CompletedAt: &at,
		CreatedAt:   at,
		UpdatedAt:   at,
	})
}

func TestSkillGapClusterFromRejectionFeedback(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 5; i++ {
		addApp(store, fmt.Sprintf("a%d", i), domain.AppStatusRejected,
			"weak system design skills", testNow.AddDate(0, 0, -i-1))
	}
	for i := 5; i < 8; i++ {
		addApp(store, fmt.Sprintf("a%d", i), domain.AppStatusRejected,
			"role was filled internally", testNow.AddDate(0, 0, -i-1))
	}

	matches, err := newDetector(store).skillGapClusters(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	m := matches[0]
	assert.Equal(t, domain.PatternSkillGapCluster, m.Type)
	assert.Equal(t, domain.SeverityHigh, m.Severity)
	assert.Equal(t, "system_design", m.Data["skill"])
	assert.Equal(t, 5, m.Data["occurrences"])
	assert.Equal(t, domain.ActionRepathRoadmap, m.RecommendedAction)
}

func TestSkillGapBelowMinimumIgnored(t *testing.T) {
	store := activity.NewMemoryStore()
	addApp(store, "a1", domain.AppStatusRejected, "needs stronger sql", testNow.AddDate(0, 0, -2))
	addApp(store, "a2", domain.AppStatusRejected, "sql knowledge was thin", testNow.AddDate(0, 0, -4))

	matches, err := newDetector(store).skillGapClusters(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSkillGapCountsInterviewAnnotations(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 2; i++ {
		addApp(store, fmt.Sprintf("a%d", i), domain.AppStatusRejected,
			"kubernetes experience too shallow", testNow.AddDate(0, 0, -i-1))
	}
	at := rfc(testNow.AddDate(0, 0, -3))
	store.AddInterview(domain.Interview{
		ID: "i1", UserID: "u1", Status: domain.InterviewStatusCompleted,
		SkillGaps:   []string{"Kubernetes"},
		CompletedAt: &at, CreatedAt: at, UpdatedAt: at,
	})

	matches, err := newDetector(store).skillGapClusters(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "kubernetes", matches[0].Data["skill"])
	assert.Equal(t, 3, matches[0].Data["occurrences"])
	assert.Equal(t, domain.SeverityMedium, matches[0].Severity)
}

func TestInterviewScoresDecliningTrend(t *testing.T) {
	store := activity.NewMemoryStore()
	for i, score := range []float64{80, 78, 75, 70, 65} {
		addScoredInterview(store, fmt.Sprintf("i%d", i), score, testNow.AddDate(0, 0, -20+i*4))
	}

	matches, err := newDetector(store).interviewScoreTrend(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	m := matches[0]
	assert.Equal(t, domain.PatternDecliningTrend, m.Type)
	assert.Equal(t, domain.SeverityMedium, m.Severity)
	assert.Equal(t, domain.ActionRequestPractice, m.RecommendedAction)
}

func TestSustainedLowScoresFlaggedAlone(t *testing.T) {
	store := activity.NewMemoryStore()
	for i, score := range []float64{45, 40, 42} {
		addScoredInterview(store, fmt.Sprintf("i%d", i), score, testNow.AddDate(0, 0, -10+i*3))
	}

	matches, err := newDetector(store).interviewScoreTrend(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, domain.SeverityHigh, matches[0].Severity)
	assert.Equal(t, "sustained_low_scores", matches[0].Data["reason"])
	assert.Equal(t, 3, matches[0].Data["streak"])
}

func TestInterviewTrendNeedsThreeScores(t *testing.T) {
	store := activity.NewMemoryStore()
	addScoredInterview(store, "i1", 80, testNow.AddDate(0, 0, -10))
	addScoredInterview(store, "i2", 40, testNow.AddDate(0, 0, -5))

	matches, err := newDetector(store).interviewScoreTrend(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestHighRejectionRate(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 9; i++ {
		addApp(store, fmt.Sprintf("a%d", i), domain.AppStatusRejected, "", testNow.AddDate(0, 0, -i-1))
	}
	addApp(store, "a9", domain.AppStatusApplied, "", testNow.AddDate(0, 0, -3))

	matches, err := newDetector(store).applicationTrend(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, domain.PatternDecliningTrend, matches[0].Type)
	assert.Equal(t, domain.SeverityHigh, matches[0].Severity)
	assert.Equal(t, "rejection_rate", matches[0].Data["metric"])
}

func TestLowResponseRate(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 12; i++ {
		addApp(store, fmt.Sprintf("a%d", i), domain.AppStatusApplied, "", testNow.AddDate(0, 0, -i-1))
	}

	matches, err := newDetector(store).applicationTrend(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, domain.PatternStall, matches[0].Type)
	assert.Equal(t, domain.SeverityMedium, matches[0].Severity)
}

func TestApplicationTrendNeedsVolume(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 4; i++ {
		addApp(store, fmt.Sprintf("a%d", i), domain.AppStatusRejected, "", testNow.AddDate(0, 0, -i-1))
	}

	matches, err := newDetector(store).applicationTrend(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMilestoneFiresOnExactCheckpoint(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 5; i++ {
		store.AddVerification(domain.SkillVerification{
			ID: fmt.Sprintf("s%d", i), UserID: "u1",
			Kind: domain.VerificationKindSkill, Skill: fmt.Sprintf("skill-%d", i),
			Status:    domain.VerificationStatusVerified,
			CreatedAt: rfc(testNow.AddDate(0, 0, -i-1)),
		})
	}
	for i := 0; i < 3; i++ {
		store.AddVerification(domain.SkillVerification{
			ID: fmt.Sprintf("m%d", i), UserID: "u1",
			Kind: domain.VerificationKindModule, Skill: fmt.Sprintf("module-%d", i),
			Status:    domain.VerificationStatusVerified,
			CreatedAt: rfc(testNow.AddDate(0, 0, -i-1)),
		})
	}

	matches, err := newDetector(store).milestones(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, domain.PatternMilestone, m.Type)
		assert.Equal(t, domain.ActionCelebrate, m.RecommendedAction)
	}
}

func TestMilestoneSilentPastCheckpoint(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 6; i++ {
		store.AddVerification(domain.SkillVerification{
			ID: fmt.Sprintf("s%d", i), UserID: "u1",
			Kind: domain.VerificationKindSkill, Skill: fmt.Sprintf("skill-%d", i),
			Status:    domain.VerificationStatusVerified,
			CreatedAt: rfc(testNow.AddDate(0, 0, -i-1)),
		})
	}

	matches, err := newDetector(store).milestones(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFirstInterviewMilestone(t *testing.T) {
	store := activity.NewMemoryStore()
	addScoredInterview(store, "i1", 72, testNow.Add(-2*time.Hour))

	matches, err := newDetector(store).milestones(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "first_interview", matches[0].Data["kind"])

	// A second completed interview means the first is no longer news.
	addScoredInterview(store, "i2", 75, testNow.Add(-1*time.Hour))
	matches, err = newDetector(store).milestones(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStallAfterActiveWeek(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 6; i++ {
		addApp(store, fmt.Sprintf("a%d", i), domain.AppStatusApplied, "", testNow.AddDate(0, 0, -9-i%3))
	}

	all := newDetector(store).DetectAll(context.Background(), "u1")
	var stall *domain.PatternMatch
	for i := range all {
		if all[i].Type == domain.PatternStall {
			stall = &all[i]
		}
	}
	require.NotNil(t, stall, "expected a stall pattern")
	assert.Equal(t, domain.SeverityHigh, stall.Severity)
	assert.Equal(t, 0, stall.Data["this_week"])
	assert.Equal(t, 6, stall.Data["prior_week"])
}

func TestVelocityDropWeekOverWeek(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 6; i++ {
		addApp(store, fmt.Sprintf("p%d", i), domain.AppStatusApplied, "", testNow.AddDate(0, 0, -9-i%3))
	}
	addApp(store, "c1", domain.AppStatusApplied, "", testNow.AddDate(0, 0, -2))
	addApp(store, "c2", domain.AppStatusApplied, "", testNow.AddDate(0, 0, -3))

	matches, err := newDetector(store).velocityChange(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, domain.PatternVelocityDrop, matches[0].Type)
	assert.Equal(t, domain.SeverityMedium, matches[0].Severity)
}

func TestDetectorFaultIsolation(t *testing.T) {
	store := activity.NewMemoryStore()
	for i := 0; i < 6; i++ {
		addApp(store, fmt.Sprintf("a%d", i), domain.AppStatusApplied, "", testNow.AddDate(0, 0, -9-i%3))
	}
	store.Errs.Interviews = errors.New("table locked")

	all := newDetector(store).DetectAll(context.Background(), "u1")
	found := false
	for _, m := range all {
		if m.Type == domain.PatternStall {
			found = true
		}
	}
	assert.True(t, found, "application detectors should survive interview query failure")
}

func TestNoPatternsOnSparseActivity(t *testing.T) {
	store := activity.NewMemoryStore()
	addApp(store, "a1", domain.AppStatusApplied, "", testNow.AddDate(0, 0, -2))
	addScoredInterview(store, "i1", 60, testNow.AddDate(0, 0, -30))

	all := newDetector(store).DetectAll(context.Background(), "u1")
	assert.Empty(t, all)
}

func TestVocabularyTaggerNormalizes(t *testing.T) {
	tags := NewVocabularyTagger().Tags("Struggled with System Design and CI/CD pipelines")
	assert.Contains(t, tags, "system_design")
	assert.Contains(t, tags, "ci_cd")

	assert.Equal(t, "problem_solving", NormalizeSkill("Problem-Solving"))
	assert.Equal(t, "sql", NormalizeSkill("  SQL  "))
}
