package narrative

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategist/internal/config"
	"strategist/internal/domain"
)

func sampleInput() Input {
	return Input{
		UserID: "u1",
		Patterns: []domain.PatternMatch{
			{Type: domain.PatternSkillGapCluster, Severity: domain.SeverityHigh, Description: `skill gap "system_design" surfaced 5 times across rejections and interviews`},
		},
		Velocity: &domain.VelocityReport{
			Overall:         domain.VelocityLow,
			VelocityScore:   38,
			Recommendations: []string{"increase application volume", "schedule practice interviews"},
		},
		Hope: &domain.HopeReport{
			Healthy: 2, AtRisk: 3, Ghosted: 4,
			Recommendations: []string{"follow up on 4 likely-ghosted applications", "increase application volume"},
		},
	}
}

func TestRuleBasedIsDeterministic(t *testing.T) {
	in := sampleInput()
	first := RuleBased(in)
	second := RuleBased(in)
	assert.Equal(t, first, second)

	assert.Equal(t, SourceRules, first.Source)
	assert.Contains(t, first.Summary, "low")
	assert.Contains(t, first.Summary, "1 pattern detected")
	require.Len(t, first.Insights, 1)
	// Overlapping recommendations collapse.
	assert.Equal(t, []string{
		"increase application volume",
		"schedule practice interviews",
		"follow up on 4 likely-ghosted applications",
	}, first.Recommendations)
}

func anthropicStub(t *testing.T, replyText string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-API-Key"))
		w.WriteHeader(status)
		if status == http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{
				"content": []map[string]string{{"type": "text", "text": replyText}},
			})
		}
	}))
}

func newSynth(t *testing.T, baseURL string) *AnthropicSynthesizer {
	t.Helper()
	s, err := NewAnthropicSynthesizer(config.NarrativeConfig{APIKey: "test-key", BaseURL: baseURL})
	require.NoError(t, err)
	s.maxRetries = 0
	return s
}

func TestSynthesizeParsesModelJSON(t *testing.T) {
	reply := "```json\n{\"summary\":\"Your search slowed down this month.\",\"recommendations\":[\"apply to 5 roles this week\"]}\n```"
	srv := anthropicStub(t, reply, http.StatusOK)
	defer srv.Close()

	n, err := newSynth(t, srv.URL).Synthesize(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "Your search slowed down this month.", n.Summary)
	assert.Equal(t, []string{"apply to 5 roles this week"}, n.Recommendations)
}

func TestGenerateFallsBackOnMalformedJSON(t *testing.T) {
	srv := anthropicStub(t, "sorry, here is prose instead of JSON", http.StatusOK)
	defer srv.Close()

	n := Generate(context.Background(), newSynth(t, srv.URL), sampleInput(), nil)
	assert.Equal(t, SourceRules, n.Source)
	assert.NotEmpty(t, n.Summary)
}

func TestGenerateFallsBackOnServerError(t *testing.T) {
	srv := anthropicStub(t, "", http.StatusInternalServerError)
	defer srv.Close()

	n := Generate(context.Background(), newSynth(t, srv.URL), sampleInput(), nil)
	assert.Equal(t, SourceRules, n.Source)
}

func TestGenerateWithoutSynthesizerUsesRules(t *testing.T) {
	n := Generate(context.Background(), nil, sampleInput(), nil)
	assert.Equal(t, SourceRules, n.Source)
}

func TestNewSynthesizerRequiresKey(t *testing.T) {
	_, err := NewAnthropicSynthesizer(config.NarrativeConfig{})
	assert.Error(t, err)
}
