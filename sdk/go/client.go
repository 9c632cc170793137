package strategistsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Strategist HTTP API client.
type Client struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, userID string) *Client {
	return &Client{
		BaseURL: baseURL,
		UserID:  userID,
		Timeout: 10 * time.Second,
	}
}

// Directive represents the API directive model (partial).
type Directive struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Priority  string `json:"priority"`
	Status    string `json:"status"`
	Title     string `json:"title"`
	Target    string `json:"target,omitempty"`
	Result    string `json:"result,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	IssuedAt  string `json:"issued_at"`
}

// ExecutionLog represents one execution attempt of a directive.
type ExecutionLog struct {
	ID          string `json:"id"`
	DirectiveID string `json:"directive_id"`
	ExecutedBy  string `json:"executed_by"`
	Status      string `json:"execution_status"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// RunSummary represents the result of one analysis pass (partial).
type RunSummary struct {
	Run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"run"`
	Patterns []struct {
		Type        string `json:"type"`
		Severity    string `json:"severity"`
		Description string `json:"description"`
	} `json:"patterns,omitempty"`
	Directives []Directive `json:"directives,omitempty"`
	Expired    int         `json:"expired"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RunAnalysis triggers one full analysis pass.
func (c *Client) RunAnalysis(ctx context.Context) (RunSummary, error) {
	body := map[string]any{"user_id": c.UserID}
	var resp RunSummary
	err := c.do(ctx, http.MethodPost, "v0/runs", body, &resp)
	return resp, err
}

// ActiveDirectives returns non-expired open directives, most severe first.
func (c *Client) ActiveDirectives(ctx context.Context, target, minPriority string) ([]Directive, error) {
	q := url.Values{}
	c.addUser(q)
	if target != "" {
		q.Set("target", target)
	}
	if minPriority != "" {
		q.Set("min_priority", minPriority)
	}
	var resp struct {
		Directives []Directive `json:"directives"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/directives", q), nil, &resp)
	return resp.Directives, err
}

// IssueDirective issues a directive, superseding the open one of the same type.
func (c *Client) IssueDirective(ctx context.Context, dtype, priority, title string, extra map[string]any) (Directive, error) {
	body := map[string]any{
		"user_id":  c.UserID,
		"type":     dtype,
		"priority": priority,
		"title":    title,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Directive
	err := c.do(ctx, http.MethodPost, "v0/directives", body, &resp)
	return resp, err
}

// CancelDirective cancels an open directive.
func (c *Client) CancelDirective(ctx context.Context, id, reason string) (Directive, error) {
	body := map[string]any{"reason": reason}
	var resp Directive
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/directives/%s/cancel", url.PathEscape(id)), body, &resp)
	return resp, err
}

// StartExecution begins executing a directive.
func (c *Client) StartExecution(ctx context.Context, directiveID, executedBy string) (ExecutionLog, error) {
	body := map[string]any{"executed_by": executedBy}
	var resp ExecutionLog
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/directives/%s/executions", url.PathEscape(directiveID)), body, &resp)
	return resp, err
}

// CompleteExecution settles a running execution and its directive.
func (c *Client) CompleteExecution(ctx context.Context, directiveID, executionID string, success bool, result string) (Directive, error) {
	body := map[string]any{
		"success": success,
		"result":  result,
	}
	var resp Directive
	endpoint := fmt.Sprintf("v0/directives/%s/executions/%s/complete", url.PathEscape(directiveID), url.PathEscape(executionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int, evtType string) ([]Event, error) {
	q := url.Values{}
	c.addUser(q)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if evtType != "" {
		q.Set("type", evtType)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/events", q), nil, &resp)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) addUser(q url.Values) {
	if c.UserID != "" {
		q.Set("user_id", c.UserID)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if enc := q.Encode(); enc != "" {
		return endpoint + "?" + enc
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
