// Package velocity summarizes recent activity volume, outcome success and
// trend direction for one user.
package velocity

import (
	"context"
	"fmt"
	"math"
	"time"

	"strategist/internal/activity"
	"strategist/internal/config"
	"strategist/internal/domain"
)

// Scoring weights for the composite velocity score.
const (
	baseScore          = 50
	activityCap        = 30
	successCap         = 20
	trendBonusStep     = 3
	passScoreThreshold = 70

	// Sentinel for days_inactive when no activity exists at all.
	noActivitySentinel = 9999

	// Lookback for finding the most recent activity timestamp.
	inactivityLookbackDays = 180

	maxRecommendations = 5
)

type Tracker struct {
	Store activity.Store
	Cfg   config.VelocityConfig
	Now   func() time.Time
}

func NewTracker(store activity.Store, cfg config.VelocityConfig) Tracker {
	return Tracker{Store: store, Cfg: cfg, Now: time.Now}
}

func (t Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// GenerateReport computes metrics for [now-N, now) against the equal
// prior window [now-2N, now-N).
func (t Tracker) GenerateReport(ctx context.Context, userID string) (domain.VelocityReport, error) {
	now := t.now().UTC()
	n := t.Cfg.PeriodDays
	if n <= 0 {
		n = 7
	}
	curWin := activity.Window{From: now.AddDate(0, 0, -n), To: now}
	prevWin := activity.Window{From: now.AddDate(0, 0, -2*n), To: now.AddDate(0, 0, -n)}

	cur, err := t.periodMetrics(ctx, userID, curWin)
	if err != nil {
		return domain.VelocityReport{}, fmt.Errorf("current period: %w", err)
	}
	prev, err := t.periodMetrics(ctx, userID, prevWin)
	if err != nil {
		return domain.VelocityReport{}, fmt.Errorf("previous period: %w", err)
	}

	rep := domain.VelocityReport{
		UserID:       userID,
		Current:      cur,
		Previous:     prev,
		Applications: classify("applications", cur.Applications, prev.Applications),
		Interviews:   classify("interviews", cur.Interviews, prev.Interviews),
		Progress: classify("progress",
			cur.ModulesCompleted+cur.SkillsVerified,
			prev.ModulesCompleted+prev.SkillsVerified),
		GeneratedAt: now.Format(time.RFC3339),
	}
	rep.VelocityScore = t.score(rep)
	rep.Overall = category(rep.VelocityScore)
	rep.Recommendations = t.recommendations(rep)
	return rep, nil
}

func (t Tracker) periodMetrics(ctx context.Context, userID string, w activity.Window) (domain.PeriodMetrics, error) {
	m := domain.PeriodMetrics{
		Start: w.From.Format(time.RFC3339),
		End:   w.To.Format(time.RFC3339),
	}

	apps, err := t.Store.Applications(ctx, userID, w)
	if err != nil {
		return m, err
	}
	m.Applications = len(apps)
	for _, a := range apps {
		switch a.Status {
		case domain.AppStatusInterviewing:
			m.Responses++
		case domain.AppStatusOffered:
			m.Responses++
			m.Offers++
		case domain.AppStatusRejected:
			m.Responses++
			m.Rejections++
		}
	}
	if m.Applications > 0 {
		m.ResponseRate = float64(m.Responses) / float64(m.Applications) * 100
	}

	interviews, err := t.Store.Interviews(ctx, userID, w)
	if err != nil {
		return m, err
	}
	m.Interviews = len(interviews)
	completed, passed := 0, 0
	for _, iv := range interviews {
		if iv.Status != domain.InterviewStatusCompleted {
			continue
		}
		completed++
		if iv.Score != nil && *iv.Score >= passScoreThreshold {
			passed++
		}
	}
	if completed > 0 {
		m.PassRate = float64(passed) / float64(completed) * 100
	}

	verifications, err := t.Store.Verifications(ctx, userID, "", w)
	if err != nil {
		return m, err
	}
	for _, v := range verifications {
		if v.Status != domain.VerificationStatusVerified {
			continue
		}
		switch v.Kind {
		case domain.VerificationKindModule:
			m.ModulesCompleted++
		case domain.VerificationKindSkill:
			m.SkillsVerified++
		}
	}
	return m, nil
}

// classify grades one metric's movement between the two periods.
func classify(metric string, current, previous int) domain.MetricTrend {
	mt := domain.MetricTrend{Metric: metric, Current: current, Previous: previous}

	switch {
	case previous == 0 && current == 0:
		mt.Direction = domain.TrendStalled
		mt.Significance = domain.SignificanceNoise
		return mt
	case previous == 0:
		mt.Direction = domain.TrendAccelerating
		mt.ChangePercentage = 100
		if current >= 3 {
			mt.Significance = domain.SignificanceSignificant
		} else {
			mt.Significance = domain.SignificanceMarginal
		}
		return mt
	}

	pct := float64(current-previous) / float64(previous) * 100
	mt.ChangePercentage = pct
	switch {
	case current == 0:
		mt.Direction = domain.TrendStalled
	case pct > 20:
		mt.Direction = domain.TrendAccelerating
	case pct < -20:
		mt.Direction = domain.TrendDecelerating
	default:
		mt.Direction = domain.TrendStable
	}

	absPct := math.Abs(pct)
	absDelta := math.Abs(float64(current - previous))
	switch {
	case absPct > 50 || absDelta >= 5:
		mt.Significance = domain.SignificanceSignificant
	case absPct > 20:
		mt.Significance = domain.SignificanceMarginal
	default:
		mt.Significance = domain.SignificanceNoise
	}
	return mt
}

func (t Tracker) score(rep domain.VelocityReport) float64 {
	cur := rep.Current

	act := 2*float64(cur.Applications) + 5*float64(cur.Interviews) +
		3*float64(cur.ModulesCompleted) + 4*float64(cur.SkillsVerified)
	if act > activityCap {
		act = activityCap
	}

	success := 0.1*cur.ResponseRate + 10*float64(cur.Offers)
	if success > successCap {
		success = successCap
	}

	bonus := 0.0
	for _, mt := range []domain.MetricTrend{rep.Applications, rep.Interviews, rep.Progress} {
		switch mt.Direction {
		case domain.TrendAccelerating:
			bonus += trendBonusStep
		case domain.TrendDecelerating:
			bonus -= trendBonusStep
		}
	}

	s := baseScore + act + success + bonus
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func category(score float64) string {
	switch {
	case score >= 75:
		return domain.VelocityHigh
	case score >= 50:
		return domain.VelocityMedium
	case score >= 25:
		return domain.VelocityLow
	default:
		return domain.VelocityStalled
	}
}

// IsStalled reports whether the trailing week shows no applications, no
// completed interviews, and no completed modules.
func (t Tracker) IsStalled(ctx context.Context, userID string) (domain.StallCheck, error) {
	now := t.now().UTC()
	week := activity.Window{From: now.AddDate(0, 0, -7), To: now}

	apps, err := t.Store.Applications(ctx, userID, week)
	if err != nil {
		return domain.StallCheck{}, err
	}
	interviews, err := t.Store.Interviews(ctx, userID, week)
	if err != nil {
		return domain.StallCheck{}, err
	}
	modules, err := t.Store.Verifications(ctx, userID, domain.VerificationKindModule, week)
	if err != nil {
		return domain.StallCheck{}, err
	}

	completedInterviews := 0
	for _, iv := range interviews {
		if iv.Status == domain.InterviewStatusCompleted {
			completedInterviews++
		}
	}
	completedModules := 0
	for _, v := range modules {
		if v.Status == domain.VerificationStatusVerified {
			completedModules++
		}
	}

	daysInactive, err := t.daysInactive(ctx, userID, now)
	if err != nil {
		return domain.StallCheck{}, err
	}

	if len(apps) == 0 && completedInterviews == 0 && completedModules == 0 {
		return domain.StallCheck{
			Stalled:      true,
			Reason:       "no applications, completed interviews, or completed modules in the last 7 days",
			DaysInactive: daysInactive,
		}, nil
	}
	return domain.StallCheck{DaysInactive: daysInactive}, nil
}

// daysInactive looks for the freshest activity timestamp across
// applications and interviews inside the lookback horizon.
func (t Tracker) daysInactive(ctx context.Context, userID string, now time.Time) (int, error) {
	horizon := activity.Window{From: now.AddDate(0, 0, -inactivityLookbackDays), To: now}

	var latest time.Time
	consider := func(ts string) {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return
		}
		if parsed.After(latest) {
			latest = parsed
		}
	}

	apps, err := t.Store.Applications(ctx, userID, horizon)
	if err != nil {
		return 0, err
	}
	for _, a := range apps {
		consider(a.CreatedAt)
		consider(a.UpdatedAt)
		if a.LastActivityAt != nil {
			consider(*a.LastActivityAt)
		}
	}
	interviews, err := t.Store.Interviews(ctx, userID, horizon)
	if err != nil {
		return 0, err
	}
	for _, iv := range interviews {
		consider(iv.CreatedAt)
		if iv.CompletedAt != nil {
			consider(*iv.CompletedAt)
		}
	}

	if latest.IsZero() {
		return noActivitySentinel, nil
	}
	return int(now.Sub(latest).Hours() / 24), nil
}

// recommendations evaluates the fixed-priority rule list. Rules are not
// mutually exclusive; the output is truncated to five entries.
func (t Tracker) recommendations(rep domain.VelocityReport) []string {
	var recs []string
	cur := rep.Current

	if cur.Applications < 3 {
		recs = append(recs, "application volume is low; aim for at least 3 applications this week")
	}
	if cur.ResponseRate < 10 && cur.Applications >= 10 {
		recs = append(recs, "response rate is under 10%; revisit resume targeting before sending more volume")
	}
	if cur.Interviews == 0 {
		recs = append(recs, "no interviews this week; follow up on outstanding applications")
	}
	if cur.ModulesCompleted+cur.SkillsVerified == 0 {
		recs = append(recs, "no learning progress this week; complete at least one roadmap module")
	}
	if rep.Applications.Direction == domain.TrendDecelerating {
		recs = append(recs, "application pace is dropping versus last week; schedule dedicated application time")
	}
	if rep.Progress.Direction == domain.TrendStalled {
		recs = append(recs, "skill progress has stalled; pick up the roadmap where you left off")
	}
	if cur.Offers > 0 {
		recs = append(recs, "congratulations on the offer; compare it against your target criteria before deciding")
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}
