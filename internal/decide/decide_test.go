package decide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategist/internal/domain"
)

func pattern(typ, severity string) domain.PatternMatch {
	return domain.PatternMatch{
		Type:        typ,
		Severity:    severity,
		Description: typ + " detected",
		Data:        map[string]any{"source": typ},
	}
}

func TestCriticalSkillGapEscalatesToImmediate(t *testing.T) {
	decisions := Decide([]domain.PatternMatch{
		pattern(domain.PatternSkillGapCluster, domain.SeverityCritical),
	}, nil, nil)

	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionRepathRoadmap, decisions[0].Action)
	assert.Equal(t, domain.UrgencyImmediate, decisions[0].Urgency)
	assert.Equal(t, map[string]any{"source": domain.PatternSkillGapCluster}, decisions[0].Payload)
}

func TestHighSkillGapIsSoon(t *testing.T) {
	decisions := Decide([]domain.PatternMatch{
		pattern(domain.PatternSkillGapCluster, domain.SeverityHigh),
	}, nil, nil)

	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionRepathRoadmap, decisions[0].Action)
	assert.Equal(t, domain.UrgencySoon, decisions[0].Urgency)
}

func TestMediumSkillGapDoesNotFire(t *testing.T) {
	decisions := Decide([]domain.PatternMatch{
		pattern(domain.PatternSkillGapCluster, domain.SeverityMedium),
	}, nil, nil)

	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionNoAction, decisions[0].Action)
}

func TestDecliningTrendRequestsPracticeOnlyWhenHigh(t *testing.T) {
	decisions := Decide([]domain.PatternMatch{
		pattern(domain.PatternDecliningTrend, domain.SeverityHigh),
		pattern(domain.PatternDecliningTrend, domain.SeverityMedium),
	}, nil, nil)

	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionRequestPractice, decisions[0].Action)
	assert.Equal(t, domain.UrgencySoon, decisions[0].Urgency)
}

func TestStallAndVelocityDropNotify(t *testing.T) {
	decisions := Decide([]domain.PatternMatch{
		pattern(domain.PatternStall, domain.SeverityHigh),
		pattern(domain.PatternVelocityDrop, domain.SeverityMedium),
	}, nil, nil)

	require.Len(t, decisions, 2)
	assert.Equal(t, domain.ActionNotifyUser, decisions[0].Action)
	assert.Equal(t, domain.UrgencyImmediate, decisions[0].Urgency)
	assert.Equal(t, domain.ActionNotifyUser, decisions[1].Action)
	assert.Equal(t, domain.UrgencySoon, decisions[1].Urgency)
}

func TestMilestoneCelebrates(t *testing.T) {
	decisions := Decide([]domain.PatternMatch{
		pattern(domain.PatternMilestone, domain.SeverityLow),
	}, nil, nil)

	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionCelebrate, decisions[0].Action)
	assert.Equal(t, domain.UrgencyWhenConvenient, decisions[0].Urgency)
}

func TestStallCheckUrgencyByInactivity(t *testing.T) {
	recent := &domain.StallCheck{Stalled: true, Reason: "no activity this week", DaysInactive: 8}
	decisions := Decide(nil, nil, recent)
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionNotifyUser, decisions[0].Action)
	assert.Equal(t, domain.UrgencySoon, decisions[0].Urgency)

	prolonged := &domain.StallCheck{Stalled: true, Reason: "no activity for weeks", DaysInactive: 21}
	decisions = Decide(nil, nil, prolonged)
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.UrgencyImmediate, decisions[0].Urgency)
}

func TestAllMatchingRulesFire(t *testing.T) {
	decisions := Decide([]domain.PatternMatch{
		pattern(domain.PatternSkillGapCluster, domain.SeverityCritical),
		pattern(domain.PatternStall, domain.SeverityHigh),
		pattern(domain.PatternMilestone, domain.SeverityLow),
	}, nil, &domain.StallCheck{Stalled: true, Reason: "stalled", DaysInactive: 30})

	require.Len(t, decisions, 4)
	actions := make([]string, len(decisions))
	for i, d := range decisions {
		actions[i] = d.Action
	}
	assert.Equal(t, []string{
		domain.ActionRepathRoadmap,
		domain.ActionNotifyUser,
		domain.ActionCelebrate,
		domain.ActionNotifyUser,
	}, actions)
}

func TestNoActionFallback(t *testing.T) {
	report := &domain.VelocityReport{Overall: domain.VelocityMedium}
	decisions := Decide(nil, report, &domain.StallCheck{Stalled: false})

	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ActionNoAction, decisions[0].Action)
	assert.Equal(t, domain.UrgencyWhenConvenient, decisions[0].Urgency)
	assert.Contains(t, decisions[0].Reason, "medium")
}
