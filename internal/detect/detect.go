// Package detect runs statistical pattern detection over recent activity.
// Findings are ephemeral: every pass recomputes from the activity store
// and nothing here writes to the database.
package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategist/internal/activity"
	"strategist/internal/config"
	"strategist/internal/domain"
	"strategist/internal/trend"
)

const firstInterviewRecency = 24 * time.Hour

// Detector evaluates five independent signal families against one user's
// activity window. Each family is fault-isolated: a failing query or a
// malformed record degrades that family to zero findings and the rest
// still report.
type Detector struct {
	Store  activity.Store
	Cfg    config.DetectionConfig
	Tagger Tagger
	Logger *zap.Logger
	Now    func() time.Time
}

func New(store activity.Store, cfg config.DetectionConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		Store:  store,
		Cfg:    cfg,
		Tagger: NewVocabularyTagger(),
		Logger: logger,
		Now:    time.Now,
	}
}

// DetectAll runs every sub-detector and concatenates their findings in a
// fixed family order. Sub-detector errors are logged and swallowed so one
// broken signal never blanks the whole report.
func (d *Detector) DetectAll(ctx context.Context, userID string) []domain.PatternMatch {
	subs := []struct {
		name string
		fn   func(context.Context, string) ([]domain.PatternMatch, error)
	}{
		{"skill_gap_clusters", d.skillGapClusters},
		{"interview_score_trend", d.interviewScoreTrend},
		{"application_trend", d.applicationTrend},
		{"milestones", d.milestones},
		{"velocity_change", d.velocityChange},
	}

	results := make([][]domain.PatternMatch, len(subs))
	var g errgroup.Group
	for i, sub := range subs {
		g.Go(func() error {
			matches, err := sub.fn(ctx, userID)
			if err != nil {
				d.Logger.Warn("detector degraded",
					zap.String("detector", sub.name),
					zap.String("user_id", userID),
					zap.Error(err))
				return nil
			}
			results[i] = matches
			return nil
		})
	}
	_ = g.Wait()

	var all []domain.PatternMatch
	for _, r := range results {
		all = append(all, r...)
	}
	return all
}

func (d *Detector) window() activity.Window {
	now := d.Now().UTC()
	return activity.Window{From: now.AddDate(0, 0, -d.Cfg.WindowDays), To: now}
}

func (d *Detector) stamp() string {
	return d.Now().UTC().Format(time.RFC3339)
}

// skillGapClusters aggregates skill mentions from rejection feedback and
// completed interviews. Explicit interview gap annotations count alongside
// tagged feedback text; each record contributes a given skill at most once.
func (d *Detector) skillGapClusters(ctx context.Context, userID string) ([]domain.PatternMatch, error) {
	w := d.window()
	apps, err := d.Store.Applications(ctx, userID, w)
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	interviews, err := d.Store.Interviews(ctx, userID, w)
	if err != nil {
		return nil, fmt.Errorf("load interviews: %w", err)
	}

	clusters := map[string]*domain.SkillGapCluster{}
	add := func(skill string, src domain.GapSource) {
		c, ok := clusters[skill]
		if !ok {
			c = &domain.SkillGapCluster{Skill: skill, FirstDetected: src.Timestamp, LastDetected: src.Timestamp}
			clusters[skill] = c
		}
		c.Occurrences++
		c.Sources = append(c.Sources, src)
		if src.Timestamp < c.FirstDetected {
			c.FirstDetected = src.Timestamp
		}
		if src.Timestamp > c.LastDetected {
			c.LastDetected = src.Timestamp
		}
	}

	for _, app := range apps {
		if app.Status != domain.AppStatusRejected || app.Feedback == "" {
			continue
		}
		src := domain.GapSource{Type: "application", RecordID: app.ID, Timestamp: app.UpdatedAt}
		for _, skill := range dedupe(d.Tagger.Tags(app.Feedback)) {
			add(skill, src)
		}
	}
	for _, iv := range interviews {
		if iv.Status != domain.InterviewStatusCompleted {
			continue
		}
		ts := iv.UpdatedAt
		if iv.CompletedAt != nil {
			ts = *iv.CompletedAt
		}
		src := domain.GapSource{Type: "interview", RecordID: iv.ID, Timestamp: ts}
		skills := d.Tagger.Tags(iv.Feedback)
		for _, gap := range iv.SkillGaps {
			skills = append(skills, NormalizeSkill(gap))
		}
		for _, skill := range dedupe(skills) {
			add(skill, src)
		}
	}

	var flagged []*domain.SkillGapCluster
	for _, c := range clusters {
		if c.Occurrences < d.Cfg.SkillGap.MinOccurrences {
			continue
		}
		switch {
		case c.Occurrences >= d.Cfg.SkillGap.CriticalOccurrences:
			c.Severity = domain.SeverityCritical
		case c.Occurrences >= d.Cfg.SkillGap.HighOccurrences:
			c.Severity = domain.SeverityHigh
		default:
			c.Severity = domain.SeverityMedium
		}
		flagged = append(flagged, c)
	}
	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].Occurrences != flagged[j].Occurrences {
			return flagged[i].Occurrences > flagged[j].Occurrences
		}
		return flagged[i].Skill < flagged[j].Skill
	})

	var matches []domain.PatternMatch
	for _, c := range flagged {
		matches = append(matches, domain.PatternMatch{
			Type:     domain.PatternSkillGapCluster,
			Severity: c.Severity,
			Description: fmt.Sprintf("skill gap %q surfaced %d times across rejections and interviews",
				c.Skill, c.Occurrences),
			DetectedAt:        d.stamp(),
			Data:              map[string]any{"skill": c.Skill, "occurrences": c.Occurrences, "cluster": *c},
			RecommendedAction: domain.ActionRepathRoadmap,
		})
	}
	return matches, nil
}

// interviewScoreTrend regresses completed interview scores over time. The
// regression gates alerting; the first-to-last change percentage only
// grades severity. A run of consecutive sub-threshold scores is flagged
// on its own, regardless of slope.
func (d *Detector) interviewScoreTrend(ctx context.Context, userID string) ([]domain.PatternMatch, error) {
	interviews, err := d.Store.Interviews(ctx, userID, d.window())
	if err != nil {
		return nil, fmt.Errorf("load interviews: %w", err)
	}

	type scored struct {
		at    time.Time
		value float64
	}
	var series []scored
	for _, iv := range interviews {
		if iv.Status != domain.InterviewStatusCompleted || iv.Score == nil || iv.CompletedAt == nil {
			continue
		}
		at, err := time.Parse(time.RFC3339, *iv.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("interview %s: bad completed_at: %w", iv.ID, err)
		}
		series = append(series, scored{at: at, value: *iv.Score})
	}
	if len(series) < d.Cfg.InterviewTrend.MinInterviews {
		return nil, nil
	}
	sort.Slice(series, func(i, j int) bool { return series[i].at.Before(series[j].at) })

	points := make([]trend.Point, len(series))
	for i, s := range series {
		points[i] = trend.Point{Timestamp: s.at, Value: s.value}
	}
	ta, err := trend.Analyze("interview_score", points, d.Cfg.WindowDays)
	if err != nil {
		return nil, err
	}

	var matches []domain.PatternMatch
	if ta.Direction == domain.TrendDeclining && ta.Significance == domain.SignificanceSignificant {
		severity := domain.SeverityMedium
		if math.Abs(ta.ChangePercentage) > d.Cfg.InterviewTrend.HighChangePercent {
			severity = domain.SeverityHigh
		}
		matches = append(matches, domain.PatternMatch{
			Type:     domain.PatternDecliningTrend,
			Severity: severity,
			Description: fmt.Sprintf("interview scores declining %.1f%% over %d completed interviews",
				math.Abs(ta.ChangePercentage), len(series)),
			DetectedAt:        d.stamp(),
			Data:              map[string]any{"trend": ta},
			RecommendedAction: domain.ActionRequestPractice,
		})
	}

	streak := 0
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].value >= d.Cfg.InterviewTrend.LowScoreThreshold {
			break
		}
		streak++
	}
	if streak >= d.Cfg.InterviewTrend.LowScoreStreak {
		matches = append(matches, domain.PatternMatch{
			Type:     domain.PatternDecliningTrend,
			Severity: domain.SeverityHigh,
			Description: fmt.Sprintf("%d consecutive interview scores below %.0f",
				streak, d.Cfg.InterviewTrend.LowScoreThreshold),
			DetectedAt:        d.stamp(),
			Data:              map[string]any{"reason": "sustained_low_scores", "streak": streak},
			RecommendedAction: domain.ActionRequestPractice,
		})
	}
	return matches, nil
}

// applicationTrend checks the window's rejection and response rates
// against configured floors.
func (d *Detector) applicationTrend(ctx context.Context, userID string) ([]domain.PatternMatch, error) {
	apps, err := d.Store.Applications(ctx, userID, d.window())
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	total := len(apps)
	if total < d.Cfg.ApplicationTrend.MinApplications {
		return nil, nil
	}

	var rejections, responses int
	for _, app := range apps {
		switch app.Status {
		case domain.AppStatusRejected:
			rejections++
			responses++
		case domain.AppStatusInterviewing, domain.AppStatusOffered:
			responses++
		}
	}
	rejectionRate := float64(rejections) / float64(total) * 100
	responseRate := float64(responses) / float64(total) * 100

	at := d.Cfg.ApplicationTrend
	var matches []domain.PatternMatch
	if rejectionRate > at.RejectionRatePercent && rejections >= at.MinRejections {
		matches = append(matches, domain.PatternMatch{
			Type:     domain.PatternDecliningTrend,
			Severity: domain.SeverityHigh,
			Description: fmt.Sprintf("%.0f%% rejection rate over %d applications (%d rejected)",
				rejectionRate, total, rejections),
			DetectedAt: d.stamp(),
			Data: map[string]any{
				"metric": "rejection_rate", "rejection_rate": rejectionRate,
				"applications": total, "rejections": rejections,
			},
			RecommendedAction: domain.ActionNotifyUser,
		})
	}
	if responseRate < at.ResponseRatePercent && total >= at.MinForResponseCheck {
		matches = append(matches, domain.PatternMatch{
			Type:     domain.PatternStall,
			Severity: domain.SeverityMedium,
			Description: fmt.Sprintf("only %.0f%% of %d applications drew any response",
				responseRate, total),
			DetectedAt: d.stamp(),
			Data: map[string]any{
				"metric": "response_rate", "response_rate": responseRate, "applications": total,
			},
			RecommendedAction: domain.ActionNotifyUser,
		})
	}
	return matches, nil
}

// milestones fires when a running verified count lands exactly on a
// checkpoint. Equality, not >=, so a milestone fires on the pass that
// crossed it and stays quiet afterwards.
func (d *Detector) milestones(ctx context.Context, userID string) ([]domain.PatternMatch, error) {
	now := d.Now().UTC()

	var matches []domain.PatternMatch
	kinds := []struct {
		kind        string
		checkpoints []int
		label       string
	}{
		{domain.VerificationKindSkill, d.Cfg.Milestones.SkillCheckpoints, "skills verified"},
		{domain.VerificationKindModule, d.Cfg.Milestones.ModuleCheckpoints, "roadmap modules completed"},
	}
	for _, k := range kinds {
		count, err := d.Store.CountVerified(ctx, userID, k.kind, now)
		if err != nil {
			return nil, fmt.Errorf("count %s verifications: %w", k.kind, err)
		}
		for _, cp := range k.checkpoints {
			if count == cp {
				matches = append(matches, domain.PatternMatch{
					Type:              domain.PatternMilestone,
					Severity:          domain.SeverityLow,
					Description:       fmt.Sprintf("milestone reached: %d %s", cp, k.label),
					DetectedAt:        d.stamp(),
					Data:              map[string]any{"kind": k.kind, "count": count, "checkpoint": cp},
					RecommendedAction: domain.ActionCelebrate,
				})
			}
		}
	}

	// First completed interview ever is a milestone of its own, reported
	// only while it is fresh.
	interviews, err := d.Store.Interviews(ctx, userID, activity.Window{})
	if err != nil {
		return nil, fmt.Errorf("load interviews: %w", err)
	}
	var first time.Time
	completed := 0
	for _, iv := range interviews {
		if iv.Status != domain.InterviewStatusCompleted || iv.CompletedAt == nil {
			continue
		}
		at, err := time.Parse(time.RFC3339, *iv.CompletedAt)
		if err != nil {
			continue
		}
		completed++
		if first.IsZero() || at.Before(first) {
			first = at
		}
	}
	if completed == 1 && now.Sub(first) < firstInterviewRecency {
		matches = append(matches, domain.PatternMatch{
			Type:              domain.PatternMilestone,
			Severity:          domain.SeverityMedium,
			Description:       "first interview completed",
			DetectedAt:        d.stamp(),
			Data:              map[string]any{"kind": "first_interview"},
			RecommendedAction: domain.ActionCelebrate,
		})
	}
	return matches, nil
}

// velocityChange compares the trailing seven days of application volume
// against the seven days before. A dead week after real momentum is a
// stall; a steep but nonzero drop is a velocity_drop.
func (d *Detector) velocityChange(ctx context.Context, userID string) ([]domain.PatternMatch, error) {
	now := d.Now().UTC()
	thisWeek := activity.Window{From: now.AddDate(0, 0, -7), To: now}
	priorWeek := activity.Window{From: now.AddDate(0, 0, -14), To: now.AddDate(0, 0, -7)}

	current, err := d.Store.Applications(ctx, userID, thisWeek)
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	prior, err := d.Store.Applications(ctx, userID, priorWeek)
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}

	vc := d.Cfg.VelocityChange
	cur, prev := len(current), len(prior)
	if cur == 0 && prev >= vc.StallPriorWeek {
		return []domain.PatternMatch{{
			Type:              domain.PatternStall,
			Severity:          domain.SeverityHigh,
			Description:       fmt.Sprintf("no applications this week after %d last week", prev),
			DetectedAt:        d.stamp(),
			Data:              map[string]any{"this_week": cur, "prior_week": prev},
			RecommendedAction: domain.ActionNotifyUser,
		}}, nil
	}
	if prev >= vc.MinPriorWeek {
		drop := float64(prev-cur) / float64(prev) * 100
		if drop > vc.DropPercent {
			return []domain.PatternMatch{{
				Type:              domain.PatternVelocityDrop,
				Severity:          domain.SeverityMedium,
				Description:       fmt.Sprintf("application volume down %.0f%% week over week (%d to %d)", drop, prev, cur),
				DetectedAt:        d.stamp(),
				Data:              map[string]any{"this_week": cur, "prior_week": prev, "drop_percent": drop},
				RecommendedAction: domain.ActionNotifyUser,
			}}, nil
		}
	}
	return nil, nil
}

func dedupe(skills []string) []string {
	if len(skills) < 2 {
		return skills
	}
	seen := make(map[string]struct{}, len(skills))
	out := skills[:0]
	for _, s := range skills {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
