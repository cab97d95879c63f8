package leadlinesdk

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

// Client is a minimal Leadline HTTP API client.
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

// Contact represents the API contact model (partial).
type Contact struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Source            string  `json:"source"`
	Stage             string  `json:"stage"`
	Score             float64 `json:"score"`
	AssignedAgent     *string `json:"assigned_agent,omitempty"`
	LostReason        *string `json:"lost_reason,omitempty"`
	LastInteractionAt *string `json:"last_interaction_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// Interaction is one recorded touch.
type Interaction struct {
	ID         string `json:"id"`
	ContactID  string `json:"contact_id"`
	Type       string `json:"type"`
	OccurredAt string `json:"occurred_at"`
	Payload    string `json:"payload,omitempty"`
}

// Task is a follow-up item.
type Task struct {
	ID         string  `json:"id"`
	ContactID  *string `json:"contact_id,omitempty"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	AssignedTo string  `json:"assigned_to"`
	DueDate    *string `json:"due_date,omitempty"`
}

// Score is a computed priority score with its factor breakdown.
type Score struct {
	ContactID string  `json:"contact_id"`
	Value     float64 `json:"score"`
	Factors   []struct {
		Name         string  `json:"name"`
		Contribution float64 `json:"contribution"`
	} `json:"factors"`
	ComputedAt string `json:"computed_at"`
}

// Prediction is a close-probability estimate.
type Prediction struct {
	ContactID   string  `json:"contact_id"`
	Probability float64 `json:"probability"`
	TopFactors  []struct {
		Name         string  `json:"name"`
		Contribution float64 `json:"contribution"`
	} `json:"top_factors,omitempty"`
	LowConfidence bool `json:"low_confidence"`
}

// CallScript is a suggested outreach script for a contact.
type CallScript struct {
	ContactID     string   `json:"contact_id"`
	Opening       string   `json:"opening"`
	TalkingPoints []string `json:"talking_points"`
	Closing       string   `json:"closing"`
	Probability   float64  `json:"probability"`
}

// CycleResult summarizes one escalation sweep.
type CycleResult struct {
	StaleContactsFlagged  int      `json:"stale_contacts_flagged"`
	HotLeadsNotified      int      `json:"hot_leads_notified"`
	OverdueTasksEscalated int      `json:"overdue_tasks_escalated"`
	Escalated             int      `json:"escalated"`
	Errors                []string `json:"errors,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateContact creates a contact in stage new.
func (c *Client) CreateContact(ctx context.Context, name, source, agent string) (Contact, error) {
	body := map[string]any{"name": name}
	if source != "" {
		body["source"] = source
	}
	if agent != "" {
		body["assigned_agent"] = agent
	}
	var resp Contact
	err := c.do(ctx, http.MethodPost, "v1/contacts", body, &resp)
	return resp, err
}

// MoveToStage moves a contact through the pipeline. reason is required
// when moving to lost.
func (c *Client) MoveToStage(ctx context.Context, contactID, toStage, reason string) (Contact, error) {
	body := map[string]any{
		"contact_id": contactID,
		"to_stage":   toStage,
	}
	if reason != "" {
		body["lost_reason"] = reason
	}
	var resp Contact
	err := c.do(ctx, http.MethodPost, "v1/pipeline/move", body, &resp)
	return resp, err
}

// LogInteraction records a touch with a contact.
func (c *Client) LogInteraction(ctx context.Context, contactID, kind, payload string) (Interaction, error) {
	body := map[string]any{"type": kind}
	if payload != "" {
		body["payload"] = payload
	}
	var resp Interaction
	err := c.do(ctx, http.MethodPost, "v1/contacts/"+url.PathEscape(contactID)+"/interactions", body, &resp)
	return resp, err
}

// GetScore computes the current priority score for a contact.
func (c *Client) GetScore(ctx context.Context, contactID string) (Score, error) {
	var resp Score
	err := c.do(ctx, http.MethodGet, "v1/ai?action=score&contact_id="+url.QueryEscape(contactID), nil, &aiEnvelope{Score: &resp})
	return resp, err
}

// GetPrediction estimates the close probability for a contact.
func (c *Client) GetPrediction(ctx context.Context, contactID string) (Prediction, error) {
	var resp Prediction
	err := c.do(ctx, http.MethodGet, "v1/ai?action=predict&contact_id="+url.QueryEscape(contactID), nil, &aiEnvelope{Prediction: &resp})
	return resp, err
}

// GetCallScript assembles an outreach script for an open contact.
func (c *Client) GetCallScript(ctx context.Context, contactID string) (CallScript, error) {
	var resp CallScript
	err := c.do(ctx, http.MethodGet, "v1/ai?action=script&contact_id="+url.QueryEscape(contactID), nil, &aiEnvelope{Script: &resp})
	return resp, err
}

// RunEscalation triggers one sweep using the shared escalation secret.
func (c *Client) RunEscalation(ctx context.Context, secret string) (CycleResult, error) {
	var resp CycleResult
	err := c.do(ctx, http.MethodPost, "v1/escalation?secret="+url.QueryEscape(secret), nil, &resp)
	return resp, err
}

// CreateTask creates a follow-up task.
func (c *Client) CreateTask(ctx context.Context, title, contactID string) (Task, error) {
	body := map[string]any{"title": title}
	if contactID != "" {
		body["contact_id"] = contactID
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v1/tasks", body, &resp)
	return resp, err
}

// aiEnvelope mirrors the /ai response, which nests the result per action.
type aiEnvelope struct {
	Score      *Score      `json:"score,omitempty"`
	Prediction *Prediction `json:"prediction,omitempty"`
	Script     *CallScript `json:"script,omitempty"`
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
