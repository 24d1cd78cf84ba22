package rotasdk

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

// Client is a minimal Rota do Licenciamento HTTP API client.
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

// Process represents the API process model.
type Process struct {
	ID                string            `json:"id"`
	ApplicantID       string            `json:"applicant_id"`
	ApplicantName     string            `json:"applicant_name"`
	ActivityID        string            `json:"activity_id"`
	ActivityName      string            `json:"activity_name"`
	Status            string            `json:"status"`
	StatusLabel       string            `json:"status_label"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
	AgencyDeadline    *string           `json:"agency_deadline,omitempty"`
	ApplicantDeadline *string           `json:"applicant_deadline,omitempty"`
	Documents         map[string]bool   `json:"documents"`
	Answers           map[string]string `json:"answers,omitempty"`
	History           []HistoryEntry    `json:"history"`
	IssuanceCode      string            `json:"issuance_code,omitempty"`
	Completeness      int               `json:"completeness"`
	Light             string            `json:"light"`
}

// HistoryEntry is one timeline row, newest first in listings.
type HistoryEntry struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Action string `json:"action"`
	Actor  string `json:"actor"`
	Note   string `json:"note,omitempty"`
}

// Activity is a catalog entry with its checklist and intake questions.
type Activity struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	Group             string                `json:"group"`
	Category          string                `json:"category"`
	RiskLevel         string                `json:"risk_level"`
	RequiredDocuments []DocumentRequirement `json:"required_documents"`
	Questions         []Question            `json:"questions"`
}

type DocumentRequirement struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

type Question struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

// Urgency is the traffic light for a process.
type Urgency struct {
	ProcessID     string `json:"process_id"`
	Light         string `json:"light"`
	DaysRemaining *int   `json:"days_remaining,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Type      string `json:"type"`
	ProcessID string `json:"process_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings.
type PaginatedEvents struct {
	Items []Event `json:"items"`
}

// CreateProcess opens a licensing process.
func (c *Client) CreateProcess(ctx context.Context, applicantName, activityID string, answers map[string]string) (Process, error) {
	body := map[string]any{
		"applicant_name": applicantName,
		"activity_id":    activityID,
	}
	if len(answers) > 0 {
		body["answers"] = answers
	}
	var resp Process
	err := c.do(ctx, http.MethodPost, "v0/processes", body, &resp)
	return resp, err
}

// GetProcess fetches a process by protocol.
func (c *Client) GetProcess(ctx context.Context, id string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodGet, "v0/processes/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListProcesses lists processes, optionally filtered by status.
func (c *Client) ListProcesses(ctx context.Context, status string) ([]Process, error) {
	endpoint := "v0/processes"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Process
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetStatus moves a process to a new status. Note may be empty.
func (c *Client) SetStatus(ctx context.Context, id, status, note string) (Process, error) {
	body := map[string]any{"status": status}
	if note != "" {
		body["note"] = note
	}
	var resp Process
	err := c.do(ctx, http.MethodPatch, "v0/processes/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

// Submit sends a process to review once its checklist is complete.
func (c *Client) Submit(ctx context.Context, id string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPost, "v0/processes/"+url.PathEscape(id)+"/submit", nil, &resp)
	return resp, err
}

// History returns the process timeline, newest first.
func (c *Client) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, "v0/processes/"+url.PathEscape(id)+"/history", nil, &resp)
	return resp, err
}

// Urgency returns the traffic light for a process.
func (c *Client) Urgency(ctx context.Context, id string) (Urgency, error) {
	var resp Urgency
	err := c.do(ctx, http.MethodGet, "v0/processes/"+url.PathEscape(id)+"/urgency", nil, &resp)
	return resp, err
}

// MarkDocumentReceived flips a checklist entry.
func (c *Client) MarkDocumentReceived(ctx context.Context, id, docID string) (Process, error) {
	var resp Process
	endpoint := fmt.Sprintf("v0/processes/%s/documents/%s/received", url.PathEscape(id), url.PathEscape(docID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SetAnswers merges intake answers into a process.
func (c *Client) SetAnswers(ctx context.Context, id string, answers map[string]string) (Process, error) {
	var resp Process
	err := c.do(ctx, http.MethodPatch, "v0/processes/"+url.PathEscape(id)+"/answers", map[string]any{"answers": answers}, &resp)
	return resp, err
}

// Activities returns the activity catalog.
func (c *Client) Activities(ctx context.Context) ([]Activity, error) {
	var resp []Activity
	err := c.do(ctx, http.MethodGet, "v0/activities", nil, &resp)
	return resp, err
}

// Activity fetches one catalog entry.
func (c *Client) Activity(ctx context.Context, id string) (Activity, error) {
	var resp Activity
	err := c.do(ctx, http.MethodGet, "v0/activities/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Events returns recent events. Staff only.
func (c *Client) Events(ctx context.Context, limit int, processID string) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if processID != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%sprocess_id=%s", endpoint, sep, url.QueryEscape(processID))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
