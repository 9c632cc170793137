// Package narrative turns a run's structured findings into prose for the
// user. An LLM backend is optional; the rule-based fallback is always
// available and every scoring decision upstream is independent of this
// package succeeding.
package narrative

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"strategist/internal/domain"
)

// Input is the structured material a narrative is written from.
type Input struct {
	UserID   string                 `json:"user_id"`
	Patterns []domain.PatternMatch  `json:"patterns,omitempty"`
	Velocity *domain.VelocityReport `json:"velocity,omitempty"`
	Hope     *domain.HopeReport     `json:"hope,omitempty"`
}

// Narrative is the synthesized result.
type Narrative struct {
	Summary         string   `json:"summary"`
	Insights        []string `json:"insights,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Source          string   `json:"source"`
}

// Narrative sources.
const (
	SourceLLM   = "llm"
	SourceRules = "rules"
)

// Synthesizer generates a narrative from structured findings.
type Synthesizer interface {
	Synthesize(ctx context.Context, in Input) (Narrative, error)
	Available() bool
}

// Generate runs the synthesizer and substitutes the deterministic
// rule-based text on any failure. Errors never propagate past here.
func Generate(ctx context.Context, s Synthesizer, in Input, logger *zap.Logger) Narrative {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s == nil || !s.Available() {
		return RuleBased(in)
	}
	n, err := s.Synthesize(ctx, in)
	if err != nil {
		logger.Warn("narrative synthesis failed, using rule-based text",
			zap.String("user_id", in.UserID), zap.Error(err))
		return RuleBased(in)
	}
	if n.Summary == "" {
		logger.Warn("narrative synthesis returned empty summary, using rule-based text",
			zap.String("user_id", in.UserID))
		return RuleBased(in)
	}
	n.Source = SourceLLM
	return n
}

const maxNarrativeItems = 5

// RuleBased derives a narrative purely from the structured inputs. Output
// is deterministic for a given input.
func RuleBased(in Input) Narrative {
	n := Narrative{Source: SourceRules}

	var parts []string
	if in.Velocity != nil {
		parts = append(parts, fmt.Sprintf("search velocity is %s (score %.0f)",
			in.Velocity.Overall, in.Velocity.VelocityScore))
	}
	if in.Hope != nil {
		parts = append(parts, fmt.Sprintf("%d applications healthy, %d at risk, %d likely ghosted",
			in.Hope.Healthy, in.Hope.AtRisk, in.Hope.Ghosted))
	}
	switch len(in.Patterns) {
	case 0:
		parts = append(parts, "no concerning patterns detected")
	case 1:
		parts = append(parts, "1 pattern detected")
	default:
		parts = append(parts, fmt.Sprintf("%d patterns detected", len(in.Patterns)))
	}
	n.Summary = strings.Join(parts, "; ") + "."

	for _, p := range in.Patterns {
		if len(n.Insights) == maxNarrativeItems {
			break
		}
		n.Insights = append(n.Insights, fmt.Sprintf("[%s] %s", p.Severity, p.Description))
	}

	seen := map[string]struct{}{}
	add := func(rec string) {
		if len(n.Recommendations) == maxNarrativeItems {
			return
		}
		if _, dup := seen[rec]; dup {
			return
		}
		seen[rec] = struct{}{}
		n.Recommendations = append(n.Recommendations, rec)
	}
	if in.Velocity != nil {
		for _, rec := range in.Velocity.Recommendations {
			add(rec)
		}
	}
	if in.Hope != nil {
		for _, rec := range in.Hope.Recommendations {
			add(rec)
		}
	}
	return n
}
