package reportlinesdk

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

// Client is a minimal Reportline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Report represents the API report model. Timestamps are epoch
// milliseconds.
type Report struct {
	ID                 string `json:"id"`
	ReporterID         string `json:"reporterId"`
	ReporterName       string `json:"reporterName"`
	ViolatorName       string `json:"violatorName"`
	ViolatorID         string `json:"violatorId,omitempty"`
	Reason             string `json:"reason"`
	Comment            string `json:"comment"`
	CreatedAt          int64  `json:"createdAt"`
	Status             string `json:"status"`
	AdminComment       string `json:"adminComment,omitempty"`
	ReviewedBy         string `json:"reviewedBy,omitempty"`
	ReviewedByRemoteID string `json:"reviewedByRemoteId,omitempty"`
	ReviewedAt         int64  `json:"reviewedAt,omitempty"`
}

// Session represents a live intake session.
type Session struct {
	Actor        string `json:"actor"`
	Step         string `json:"step"`
	ViolatorName string `json:"violatorName,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Comment      string `json:"comment,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
}

// Effect describes what a submitted input did to the session.
type Effect struct {
	Kind   string `json:"kind"`
	Step   string `json:"step,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ConfirmResult reports whether confirmation produced a report.
type ConfirmResult struct {
	Created bool    `json:"created"`
	Report  *Report `json:"report,omitempty"`
}

// Stats holds report counts by status.
type Stats struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartIntake begins a report intake session for the actor.
func (c *Client) StartIntake(ctx context.Context, actor string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.actorPath(actor, "intake"), nil, &resp)
	return resp, err
}

// SubmitInput feeds one input into the actor's intake session.
func (c *Client) SubmitInput(ctx context.Context, actor, text string) (Effect, error) {
	var resp Effect
	err := c.do(ctx, http.MethodPost, c.actorPath(actor, "input"), map[string]any{"text": text}, &resp)
	return resp, err
}

// Confirm accepts or discards a completed intake.
func (c *Client) Confirm(ctx context.Context, actor string, accept bool) (ConfirmResult, error) {
	var resp ConfirmResult
	err := c.do(ctx, http.MethodPost, c.actorPath(actor, "confirm"), map[string]any{"accept": accept}, &resp)
	return resp, err
}

// Cancel discards the actor's intake session, if any.
func (c *Client) Cancel(ctx context.Context, actor string) error {
	return c.do(ctx, http.MethodPost, c.actorPath(actor, "cancel"), nil, nil)
}

// Reports lists the actor's reports, newest first.
func (c *Client) Reports(ctx context.Context, actor string) ([]Report, error) {
	var resp []Report
	err := c.do(ctx, http.MethodGet, c.actorPath(actor, "reports"), nil, &resp)
	return resp, err
}

// Report fetches a report by id.
func (c *Client) Report(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "reports/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Stats returns report counts, scoped to one actor when non-empty.
func (c *Client) Stats(ctx context.Context, actor string) (Stats, error) {
	endpoint := "stats"
	if actor != "" {
		endpoint += "?actor=" + url.QueryEscape(actor)
	}
	var resp Stats
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) actorPath(actor, suffix string) string {
	return fmt.Sprintf("actors/%s/%s", url.PathEscape(actor), suffix)
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
