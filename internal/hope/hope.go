// Package hope estimates the likelihood an outstanding application will
// still progress, as a confidence score that decays with silence.
package hope

import (
	"fmt"
	"sort"
	"time"

	"strategist/internal/config"
	"strategist/internal/domain"
)

// Fixed scores for statuses that need no decay model.
const (
	scoreDraft        = 100
	scoreOffered      = 99
	scoreInterviewing = 95
	scoreGrace        = 90
	scoreDecayFloor   = 50
)

type Model struct {
	Cfg config.HopeConfig
	Now func() time.Time
}

func NewModel(cfg config.HopeConfig) Model {
	return Model{Cfg: cfg, Now: time.Now}
}

func (m Model) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Score computes the hope score for one application. Terminal and
// near-terminal statuses short-circuit; only `applied` decays.
func (m Model) Score(app domain.Application) domain.HopeScore {
	now := m.now()
	appliedAt, _ := time.Parse(time.RFC3339, app.AppliedAt)
	lastActivity := appliedAt
	if app.LastActivityAt != nil {
		if t, err := time.Parse(time.RFC3339, *app.LastActivityAt); err == nil {
			lastActivity = t
		}
	}
	daysSinceApplied := daysBetween(appliedAt, now)
	daysSinceActivity := daysBetween(lastActivity, now)

	hs := domain.HopeScore{
		ApplicationID:     app.ID,
		Company:           app.Company,
		Platform:          app.Platform,
		DaysSinceApplied:  int(daysSinceApplied),
		DaysSinceActivity: int(daysSinceActivity),
	}

	switch app.Status {
	case domain.AppStatusRejected, domain.AppStatusGhosted:
		hs.Score = 0
	case domain.AppStatusOffered:
		hs.Score = scoreOffered
	case domain.AppStatusInterviewing:
		hs.Score = scoreInterviewing
	case domain.AppStatusDraft:
		hs.Score = scoreDraft
	default:
		hs.Score = m.decay(app.Platform, daysSinceActivity)
	}

	hs.Tier = m.tier(hs.Score, daysSinceApplied)
	return hs
}

// decay maps days of silence against the platform's expected response
// window. Flat through the grace period, then two linear phases with the
// mid-phase floored at 50 and the tail floored at the configured minimum.
func (m Model) decay(platform string, d float64) float64 {
	w := m.Cfg.PlatformWindowFor(platform)
	expected := float64(w.ExpectedDays)
	max := float64(w.MaxDays)
	rate := m.Cfg.BaseDecayRate

	switch {
	case d <= expected:
		return scoreGrace
	case d <= max:
		s := scoreGrace - (d-expected)*0.5*rate
		if s < scoreDecayFloor {
			return scoreDecayFloor
		}
		return s
	default:
		s := scoreDecayFloor - (d-max)*rate
		if s < m.Cfg.MinScore {
			return m.Cfg.MinScore
		}
		return s
	}
}

func (m Model) tier(score, daysSinceApplied float64) string {
	switch {
	case score <= 20 || daysSinceApplied >= float64(m.Cfg.GhostedDays):
		return domain.TierGhosted
	case score <= 50 || daysSinceApplied >= float64(m.Cfg.AtRiskDays):
		return domain.TierAtRisk
	default:
		return domain.TierHealthy
	}
}

// Report scores the outstanding population (applied/interviewing) and
// aggregates tier sizes and per-platform ghosting concentration.
func (m Model) Report(userID string, apps []domain.Application) domain.HopeReport {
	rep := domain.HopeReport{
		UserID:          userID,
		GhostedBySource: map[string]int{},
		GeneratedAt:     m.now().UTC().Format(time.RFC3339),
	}

	var total float64
	for _, app := range apps {
		if app.Status != domain.AppStatusApplied && app.Status != domain.AppStatusInterviewing {
			continue
		}
		hs := m.Score(app)
		rep.Scores = append(rep.Scores, hs)
		total += hs.Score
		switch hs.Tier {
		case domain.TierHealthy:
			rep.Healthy++
		case domain.TierAtRisk:
			rep.AtRisk++
		case domain.TierGhosted:
			rep.Ghosted++
			platform := app.Platform
			if platform == "" {
				platform = "unknown"
			}
			rep.GhostedBySource[platform]++
		}
	}
	if len(rep.Scores) > 0 {
		rep.AverageScore = total / float64(len(rep.Scores))
	}
	rep.Recommendations = m.recommendations(rep)
	return rep
}

func (m Model) recommendations(rep domain.HopeReport) []string {
	var recs []string
	if rep.Ghosted > 0 {
		recs = append(recs, fmt.Sprintf("%d applications look ghosted; follow up once, then redirect that effort to fresh applications", rep.Ghosted))
	}
	if rep.AtRisk > 0 {
		recs = append(recs, fmt.Sprintf("%d applications are at risk of going cold; send a follow-up before the response window closes", rep.AtRisk))
	}

	// Flag platforms that concentrate the ghosting.
	platforms := make([]string, 0, len(rep.GhostedBySource))
	for p := range rep.GhostedBySource {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	for _, p := range platforms {
		if n := rep.GhostedBySource[p]; n >= m.Cfg.PlatformGhostFlag {
			recs = append(recs, fmt.Sprintf("%s accounts for %d ghosted applications; consider shifting volume to channels that respond", p, n))
		}
	}
	if len(recs) == 0 && len(rep.Scores) > 0 {
		recs = append(recs, "pipeline looks healthy; keep the current pace")
	}
	return recs
}

func daysBetween(from, to time.Time) float64 {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from).Hours() / 24
}
