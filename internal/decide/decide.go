// Package decide maps detected patterns and tracker results onto
// intervention decisions. It is a pure function of its inputs: no clock,
// no storage, no side effects, which keeps the policy trivially testable.
package decide

import (
	"fmt"

	"strategist/internal/domain"
)

// Inactivity beyond this many days upgrades a stall notification to
// immediate urgency.
const stallImmediateDays = 14

// Decide evaluates every rule against every pattern. Rules are not
// mutually exclusive; all matches fire, in input order, followed by the
// stall-check rule. An empty result collapses to a single NO_ACTION so
// callers can rely on a non-empty list.
func Decide(patterns []domain.PatternMatch, velocity *domain.VelocityReport, stall *domain.StallCheck) []domain.InterventionDecision {
	var decisions []domain.InterventionDecision

	for _, p := range patterns {
		switch p.Type {
		case domain.PatternSkillGapCluster:
			if p.Severity != domain.SeverityCritical && p.Severity != domain.SeverityHigh {
				continue
			}
			urgency := domain.UrgencySoon
			if p.Severity == domain.SeverityCritical {
				urgency = domain.UrgencyImmediate
			}
			decisions = append(decisions, domain.InterventionDecision{
				Action:  domain.ActionRepathRoadmap,
				Reason:  p.Description,
				Urgency: urgency,
				Payload: p.Data,
			})
		case domain.PatternDecliningTrend:
			if p.Severity != domain.SeverityHigh {
				continue
			}
			decisions = append(decisions, domain.InterventionDecision{
				Action:  domain.ActionRequestPractice,
				Reason:  p.Description,
				Urgency: domain.UrgencySoon,
				Payload: p.Data,
			})
		case domain.PatternStall, domain.PatternVelocityDrop:
			urgency := domain.UrgencySoon
			if p.Severity == domain.SeverityHigh {
				urgency = domain.UrgencyImmediate
			}
			decisions = append(decisions, domain.InterventionDecision{
				Action:  domain.ActionNotifyUser,
				Reason:  p.Description,
				Urgency: urgency,
				Payload: p.Data,
			})
		case domain.PatternMilestone:
			decisions = append(decisions, domain.InterventionDecision{
				Action:  domain.ActionCelebrate,
				Reason:  p.Description,
				Urgency: domain.UrgencyWhenConvenient,
				Payload: p.Data,
			})
		}
	}

	if stall != nil && stall.Stalled {
		urgency := domain.UrgencySoon
		if stall.DaysInactive > stallImmediateDays {
			urgency = domain.UrgencyImmediate
		}
		decisions = append(decisions, domain.InterventionDecision{
			Action:  domain.ActionNotifyUser,
			Reason:  stall.Reason,
			Urgency: urgency,
			Payload: map[string]any{"days_inactive": stall.DaysInactive},
		})
	}

	if len(decisions) == 0 {
		reason := "no intervention required"
		if velocity != nil {
			reason = fmt.Sprintf("no intervention required; velocity is %s", velocity.Overall)
		}
		decisions = append(decisions, domain.InterventionDecision{
			Action:  domain.ActionNoAction,
			Reason:  reason,
			Urgency: domain.UrgencyWhenConvenient,
		})
	}
	return decisions
}
