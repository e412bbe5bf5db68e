package coachlinesdk

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

// Client is a minimal Coachline HTTP API client. Invite calls need no credentials;
// coach calls use BearerToken and admin calls use APIKey.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v1",
		Timeout:  10 * time.Second,
	}
}

// QuizVersion selects a quiz.
type QuizVersion struct {
	Version string `json:"version"`
	Track   string `json:"track"`
}

// StartedAttempt is returned by StartAttempt.
type StartedAttempt struct {
	AttemptID string      `json:"attempt_id"`
	Quiz      QuizVersion `json:"quiz"`
	StartedAt string      `json:"started_at"`
	Resumed   bool        `json:"resumed"`
}

// AnswerReceipt is returned by RecordAnswers.
type AnswerReceipt struct {
	AttemptID string `json:"attempt_id"`
	Answered  int    `json:"answered"`
}

// Result is what an invite holder can see.
type Result struct {
	Invite struct {
		Status       string      `json:"status"`
		Quiz         QuizVersion `json:"quiz"`
		ExpiresAt    string      `json:"expires_at"`
		CustomerName string      `json:"customer_name"`
		CoachName    string      `json:"coach_name"`
	} `json:"invite"`
	Attempt *struct {
		ID          string            `json:"id"`
		StartedAt   string            `json:"started_at"`
		SubmittedAt string            `json:"submitted_at"`
		Answers     map[string]string `json:"answers"`
		Tags        []string          `json:"tags"`
		Stage       string            `json:"stage"`
		Summary     json.RawMessage   `json:"summary"`
	} `json:"attempt"`
}

// Panel is coaching guidance.
type Panel struct {
	Source     string   `json:"source"`
	StageID    string   `json:"stage_id"`
	SOPID      string   `json:"sop_id"`
	RuleID     string   `json:"rule_id"`
	Name       string   `json:"name"`
	Priority   int      `json:"priority"`
	Confidence int      `json:"confidence"`
	Strategies []string `json:"strategies"`
	Forbidden  []string `json:"forbidden"`
	Summary    string   `json:"summary"`
	Goal       string   `json:"goal"`
}

// Recommendation is the guidance for a customer.
type Recommendation struct {
	CustomerID string   `json:"customer_id"`
	Stage      string   `json:"stage"`
	Tags       []string `json:"tags"`
	AttemptID  string   `json:"attempt_id"`
	Panel      Panel    `json:"panel"`
}

// StageState is a customer's stage.
type StageState struct {
	CustomerID string `json:"customer_id"`
	Stage      string `json:"stage"`
	UpdatedAt  string `json:"updated_at"`
	Version    int64  `json:"version"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartAttempt starts or resumes the attempt behind an invite token.
func (c *Client) StartAttempt(ctx context.Context, token string) (StartedAttempt, error) {
	var resp StartedAttempt
	err := c.do(ctx, http.MethodPost, c.invitePath(token, "start"), nil, &resp)
	return resp, err
}

// RecordAnswers merges question to option answers into an open attempt.
func (c *Client) RecordAnswers(ctx context.Context, token, attemptID string, answers map[string]string) (AnswerReceipt, error) {
	var resp AnswerReceipt
	body := map[string]any{"answers": answers}
	err := c.do(ctx, http.MethodPut, c.invitePath(token, "attempts/"+url.PathEscape(attemptID)+"/answers"), body, &resp)
	return resp, err
}

// Result returns the invite and its latest attempt.
func (c *Client) Result(ctx context.Context, token string) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodGet, c.invitePath(token, "result"), nil, &resp)
	return resp, err
}

// Stage returns a customer's stage.
func (c *Client) Stage(ctx context.Context, customerID string) (StageState, error) {
	var resp StageState
	err := c.do(ctx, http.MethodGet, c.customerPath(customerID, "stage"), nil, &resp)
	return resp, err
}

// AdvanceStage moves a customer's stage one step forward.
func (c *Client) AdvanceStage(ctx context.Context, customerID string) (StageState, error) {
	var resp StageState
	err := c.do(ctx, http.MethodPost, c.customerPath(customerID, "stage/advance"), nil, &resp)
	return resp, err
}

// AddCoachTag tags a customer and returns the customer's coach tags.
func (c *Client) AddCoachTag(ctx context.Context, customerID, tag string) ([]string, error) {
	var resp struct {
		Tags []string `json:"tags"`
	}
	err := c.do(ctx, http.MethodPost, c.customerPath(customerID, "tags"), map[string]string{"tag": tag}, &resp)
	return resp.Tags, err
}

// Recommendation returns guidance for a customer.
func (c *Client) Recommendation(ctx context.Context, customerID string) (Recommendation, error) {
	var resp Recommendation
	err := c.do(ctx, http.MethodGet, c.customerPath(customerID, "recommendation"), nil, &resp)
	return resp, err
}

// MatchSOP evaluates SOP rules. A nil panel means no rule matched.
func (c *Client) MatchSOP(ctx context.Context, stage string, tags []string) (*Panel, error) {
	var resp struct {
		Matched bool   `json:"matched"`
		Panel   *Panel `json:"panel"`
	}
	err := c.do(ctx, http.MethodPost, c.path("sop/match"), map[string]any{"stage": stage, "tags": tags}, &resp)
	return resp.Panel, err
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) path(p string) string {
	return strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) invitePath(token, p string) string {
	return c.path(fmt.Sprintf("invites/%s/%s", url.PathEscape(token), p))
}

func (c *Client) customerPath(customerID, p string) string {
	return c.path(fmt.Sprintf("customers/%s/%s", url.PathEscape(customerID), p))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
