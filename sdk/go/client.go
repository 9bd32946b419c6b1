package planificasdk

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

// Client is a minimal Planifica HTTP API client.
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

// Record represents the API record model.
type Record struct {
	ID             string         `json:"id"`
	OwnerActorID   string         `json:"owner_actor_id"`
	Community      string         `json:"community"`
	Period         string         `json:"period"`
	Tally          map[string]int `json:"tally"`
	Total          int            `json:"total"`
	State          string         `json:"state"`
	ReviewerID     string         `json:"reviewer_actor_id,omitempty"`
	ReviewComments string         `json:"review_comments,omitempty"`
	RevisionCount  int            `json:"revision_count"`
	Supersedes     string         `json:"supersedes,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// Transition is one entry in a record's review log.
type Transition struct {
	ID        int64  `json:"id"`
	RecordID  string `json:"record_id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	ActorID   string `json:"actor_id"`
	TS        string `json:"ts"`
	Comment   string `json:"comment,omitempty"`
}

// RecordDetail is a record plus its full transition log.
type RecordDetail struct {
	Record      Record       `json:"record"`
	Transitions []Transition `json:"transitions"`
}

// CommunityView is one community row of a dashboard.
type CommunityView struct {
	Community   string  `json:"community"`
	Recorded    int     `json:"recorded"`
	Provisional int     `json:"provisional"`
	Target      int     `json:"target"`
	Pct         float64 `json:"pct"`
	Tier        string  `json:"tier"`
}

// Dashboard is the scoped coverage summary returned by the API.
type Dashboard struct {
	Scope         map[string]any  `json:"scope"`
	Year          int             `json:"year"`
	Communities   []CommunityView `json:"communities"`
	Recorded      int             `json:"recorded"`
	Provisional   int             `json:"provisional"`
	Target        int             `json:"target"`
	Pct           float64         `json:"pct"`
	Tier          string          `json:"tier"`
	PendingReview int             `json:"pending_review"`
}

// WriteResult is the response to any record write: the record plus the
// caller's refreshed dashboard.
type WriteResult struct {
	Record    Record    `json:"record"`
	Dashboard Dashboard `json:"dashboard"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// SyncEntry is one offline transition to merge.
type SyncEntry struct {
	ID        int64  `json:"id,omitempty"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	ActorID   string `json:"actor_id"`
	TS        string `json:"ts"`
	Comment   string `json:"comment,omitempty"`
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

// PaginatedRecords wraps list responses with cursors.
type PaginatedRecords struct {
	Items      []Record `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

// PaginatedEvents wraps event listings.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// SubmitRecord submits a monthly tally.
func (c *Client) SubmitRecord(ctx context.Context, community, period string, tally map[string]int, total *int) (WriteResult, error) {
	body := map[string]any{
		"community": community,
		"period":    period,
		"tally":     tally,
	}
	if total != nil {
		body["total"] = *total
	}
	var resp WriteResult
	err := c.do(ctx, http.MethodPost, "v0/records", body, &resp)
	return resp, err
}

// TransitionRecord applies a review event to a record.
func (c *Client) TransitionRecord(ctx context.Context, recordID, event, comment string) (WriteResult, error) {
	body := map[string]any{"event": event}
	if comment != "" {
		body["comment"] = comment
	}
	var resp WriteResult
	endpoint := fmt.Sprintf("v0/records/%s/transition", url.PathEscape(recordID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CommentRecord attaches a comment without changing state.
func (c *Client) CommentRecord(ctx context.Context, recordID, comment string) (Record, error) {
	var resp Record
	endpoint := fmt.Sprintf("v0/records/%s/comment", url.PathEscape(recordID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"comment": comment}, &resp)
	return resp, err
}

// SyncRecord merges transitions captured offline.
func (c *Client) SyncRecord(ctx context.Context, recordID string, entries []SyncEntry) (WriteResult, error) {
	var resp WriteResult
	endpoint := fmt.Sprintf("v0/records/%s/sync", url.PathEscape(recordID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"entries": entries}, &resp)
	return resp, err
}

// GetRecord fetches a record with its transition log.
func (c *Client) GetRecord(ctx context.Context, recordID string) (RecordDetail, error) {
	var resp RecordDetail
	endpoint := fmt.Sprintf("v0/records/%s", url.PathEscape(recordID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Records returns a page of records.
func (c *Client) Records(ctx context.Context, limit int, cursor string) (PaginatedRecords, error) {
	endpoint := paged("v0/records", limit, cursor)
	var resp PaginatedRecords
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Dashboard returns the caller's dashboard for an optional explicit scope.
func (c *Client) Dashboard(ctx context.Context, scope, scopeID string) (Dashboard, error) {
	endpoint := "v0/dashboard"
	params := url.Values{}
	if scope != "" {
		params.Set("scope", scope)
	}
	if scopeID != "" {
		params.Set("scope_id", scopeID)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := paged("v0/events", limit, cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func paged(endpoint string, limit int, cursor string) string {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		return endpoint + "?" + params.Encode()
	}
	return endpoint
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
