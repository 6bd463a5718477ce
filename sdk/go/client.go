package stagelinesdk

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

// Client is a minimal Stageline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	CurrentDepartment string `json:"current_department"`
	Status            string `json:"status"`
	ProjectCode       string `json:"project_code"`
}

// WorkflowStatus reports where a project sits and what moves are legal.
type WorkflowStatus struct {
	CurrentDepartment string   `json:"current_department"`
	WorkStatus        string   `json:"work_status"`
	ProjectCode       string   `json:"project_code"`
	AllowedNext       []string `json:"allowed_next"`
	GateSatisfied     bool     `json:"gate_satisfied"`
	GateMissing       []string `json:"gate_missing"`
	Sequence          []string `json:"sequence"`
}

// HistoryEntry represents one department occupancy.
type HistoryEntry struct {
	ID              int64  `json:"id"`
	ProjectID       string `json:"project_id"`
	FromDepartment  string `json:"from_department"`
	ToDepartment    string `json:"to_department"`
	Status          string `json:"status"`
	CorrectionCount int    `json:"correction_count"`
}

// Approval represents an approval or manager review.
type Approval struct {
	ID              string `json:"id"`
	HistoryID       int64  `json:"history_id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	RequestedBy     string `json:"requested_by"`
	RejectionReason string `json:"rejection_reason"`
}

// QARound represents one testing round.
type QARound struct {
	ID           string `json:"id"`
	RoundNumber  int    `json:"round_number"`
	QAType       string `json:"qa_type"`
	Status       string `json:"status"`
	TesterID     string `json:"tester_id"`
	BugCount     int    `json:"bug_count"`
	CriticalBugs int    `json:"critical_bugs"`
}

// Bug represents a defect found in a QA round.
type Bug struct {
	ID                 string `json:"id"`
	RoundID            string `json:"round_id"`
	Title              string `json:"title"`
	Severity           string `json:"severity"`
	Status             string `json:"status"`
	AssignedDepartment string `json:"assigned_department"`
}

// Event represents a log entry. Payload carries the raw JSON recorded at
// write time.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// GetProject fetches the configured project.
func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

// Workflow returns the project's workflow status.
func (c *Client) Workflow(ctx context.Context) (WorkflowStatus, error) {
	var resp WorkflowStatus
	err := c.do(ctx, http.MethodGet, c.projectPath("workflow"), nil, &resp)
	return resp, err
}

// History returns the department history, newest first.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, c.projectPath("history"), nil, &resp)
	return resp, err
}

// Move advances the project to a department.
func (c *Client) Move(ctx context.Context, to string, notes string) (Project, error) {
	body := map[string]any{
		"to":    to,
		"notes": notes,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("move"), body, &resp)
	return resp, err
}

// UpdateStatus changes the current department's work status.
func (c *Client) UpdateStatus(ctx context.Context, status, notes string) (HistoryEntry, error) {
	body := map[string]any{
		"status": status,
		"notes":  notes,
	}
	var resp HistoryEntry
	err := c.do(ctx, http.MethodPost, c.projectPath("status"), body, &resp)
	return resp, err
}

// RequestApproval opens an approval on the current department entry.
func (c *Client) RequestApproval(ctx context.Context, approvalType, comments string) (Approval, error) {
	body := map[string]any{
		"type":     approvalType,
		"comments": comments,
	}
	var resp Approval
	err := c.do(ctx, http.MethodPost, c.projectPath("approvals"), body, &resp)
	return resp, err
}

// DecideApproval records an approved/rejected decision.
func (c *Client) DecideApproval(ctx context.Context, approvalID, decision, comments, rejectionReason string) (Approval, error) {
	body := map[string]any{
		"decision":         decision,
		"comments":         comments,
		"rejection_reason": rejectionReason,
	}
	var resp Approval
	endpoint := fmt.Sprintf("v0/approvals/%s/decision", url.PathEscape(approvalID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// StartQARound opens a testing round.
func (c *Client) StartQARound(ctx context.Context, qaType, testerID string) (QARound, error) {
	body := map[string]any{
		"qa_type":   qaType,
		"tester_id": testerID,
	}
	var resp QARound
	err := c.do(ctx, http.MethodPost, c.projectPath("qa-rounds"), body, &resp)
	return resp, err
}

// CompleteQARound closes a round with a verdict.
func (c *Client) CompleteQARound(ctx context.Context, roundID, outcome, results, rejectionReason string) (QARound, error) {
	body := map[string]any{
		"outcome":          outcome,
		"results":          results,
		"rejection_reason": rejectionReason,
	}
	var resp QARound
	endpoint := fmt.Sprintf("v0/qa-rounds/%s/complete", url.PathEscape(roundID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ReportBug records a defect in a round.
func (c *Client) ReportBug(ctx context.Context, roundID, title, description, severity string) (Bug, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"severity":    severity,
	}
	var resp Bug
	endpoint := fmt.Sprintf("v0/qa-rounds/%s/bugs", url.PathEscape(roundID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return fmt.Sprintf("v0/projects/%s", project)
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
