package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"strategist/internal/config"
)

const (
	defaultBaseURL     = "https://api.anthropic.com"
	defaultModel       = "claude-3-5-sonnet-20241022"
	defaultMaxTokens   = 1024
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute with small bursts.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

const systemPrompt = `You are a career-search strategist reviewing one user's job-search telemetry.

You receive a JSON object with detected patterns, a velocity report and a hope report. Write for the user directly, second person, concrete and unsentimental.

Respond with a JSON object containing:
- "summary": 1-2 sentences describing the state of the search
- "insights": array of short observations drawn from the patterns (optional)
- "recommendations": array of at most 5 concrete next steps (optional)

Respond ONLY with the JSON object, no additional text.`

// AnthropicSynthesizer generates narratives through the Claude messages API.
type AnthropicSynthesizer struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

var _ Synthesizer = (*AnthropicSynthesizer)(nil)

func NewAnthropicSynthesizer(cfg config.NarrativeConfig) (*AnthropicSynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &AnthropicSynthesizer{
		model:      model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
	}, nil
}

func (a *AnthropicSynthesizer) Available() bool {
	return a != nil && a.apiKey != ""
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

func (a *AnthropicSynthesizer) Synthesize(ctx context.Context, in Input) (Narrative, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return Narrative{}, fmt.Errorf("rate limiter: %w", err)
	}

	material, err := json.Marshal(in)
	if err != nil {
		return Narrative{}, fmt.Errorf("marshal input: %w", err)
	}
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.3,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: string(material)}},
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Narrative{}, ctx.Err()
			}
		}
		n, err := a.doRequest(ctx, req)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return Narrative{}, err
		}
	}
	return Narrative{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (a *AnthropicSynthesizer) doRequest(ctx context.Context, req anthropicRequest) (Narrative, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Narrative{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewBuffer(payload))
	if err != nil {
		return Narrative{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return Narrative{}, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Narrative{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return Narrative{}, &retryableError{err: errors.New("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return Narrative{}, &retryableError{err: fmt.Errorf("server error (%d)", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return Narrative{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return Narrative{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return Narrative{}, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return Narrative{}, errors.New("empty response from API")
	}
	return parseNarrativeJSON(apiResp.Content[0].Text)
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseNarrativeJSON decodes the model's JSON object, tolerating a fenced
// code block around it.
func parseNarrativeJSON(text string) (Narrative, error) {
	raw := text
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		raw = m[1]
	}
	var n Narrative
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return Narrative{}, fmt.Errorf("malformed narrative JSON: %w", err)
	}
	if n.Summary == "" {
		return Narrative{}, errors.New("narrative JSON missing summary")
	}
	if len(n.Recommendations) > maxNarrativeItems {
		n.Recommendations = n.Recommendations[:maxNarrativeItems]
	}
	return n, nil
}
