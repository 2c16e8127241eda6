package checklinesdk

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

// Client is a minimal Checkline HTTP API client.
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

// Project represents the API project model.
type Project struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	Repo        *struct {
		Provider string `json:"provider"`
		FullName string `json:"full_name"`
		URL      string `json:"url,omitempty"`
	} `json:"repo,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ChecklistItem is one verification item on a task.
type ChecklistItem struct {
	Key     string `json:"key"`
	Text    string `json:"text"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// RepoLink describes the verification branch and check state of a task.
type RepoLink struct {
	Provider    string `json:"provider,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Branch      string `json:"branch,omitempty"`
	CheckStatus string `json:"check_status"`
	CheckURL    string `json:"check_url,omitempty"`
	LastRunAt   string `json:"last_run_at,omitempty"`
}

// Task represents the API task model.
type Task struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	AcceptanceCriteria string          `json:"acceptance_criteria,omitempty"`
	AssigneeID         *string         `json:"assignee_id,omitempty"`
	Column             string          `json:"column"`
	Verification       string          `json:"verification"`
	RepoLink           RepoLink        `json:"repo_link"`
	Checklist          []ChecklistItem `json:"checklist,omitempty"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
}

// Membership is a user's standing on the linked repository.
type Membership struct {
	ProjectID  string `json:"project_id"`
	UserID     string `json:"user_id"`
	State      string `json:"state"`
	Joined     bool   `json:"joined"`
	InvitedAt  string `json:"invited_at,omitempty"`
	AcceptedAt string `json:"accepted_at,omitempty"`
	CheckedAt  string `json:"checked_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
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

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, title, description string) (Project, error) {
	body := map[string]any{"title": title, "description": description}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v0/projects", nil, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "v0/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// LinkRepository attaches an external repository to the client's project.
func (c *Client) LinkRepository(ctx context.Context, fullName string) (Project, error) {
	body := map[string]any{"full_name": fullName}
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath("repo"), body, &resp)
	return resp, err
}

// ImportTask imports a backlog task into the client's project.
func (c *Client) ImportTask(ctx context.Context, id, title, description, acceptanceCriteria string) (Task, error) {
	body := map[string]any{
		"id":                  id,
		"title":               title,
		"description":         description,
		"acceptance_criteria": acceptanceCriteria,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// ListTasks returns the project's tasks, optionally filtered by column.
func (c *Client) ListTasks(ctx context.Context, column string) ([]Task, error) {
	endpoint := c.projectPath("tasks")
	if column != "" {
		endpoint = fmt.Sprintf("%s?column=%s", endpoint, url.QueryEscape(column))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Assign claims a task for the authenticated user.
func (c *Client) Assign(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "assign")
}

// Unassign releases a claimed task back to the board.
func (c *Client) Unassign(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "unassign")
}

// Submit moves a task into review.
func (c *Client) Submit(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "submit")
}

// Verify triggers the verification run for a task in review.
func (c *Client) Verify(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "verify")
}

func (c *Client) taskAction(ctx context.Context, taskID, verb string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/%s", url.PathEscape(taskID), verb)
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Membership returns the authenticated user's repository standing.
func (c *Client) Membership(ctx context.Context) (Membership, error) {
	var resp Membership
	err := c.do(ctx, http.MethodGet, c.projectPath("membership"), nil, &resp)
	return resp, err
}

// InviteMember invites a user to the linked repository.
func (c *Client) InviteMember(ctx context.Context, userID string) (Membership, error) {
	endpoint := c.projectPath(fmt.Sprintf("members/%s/invite", url.PathEscape(userID)))
	var resp Membership
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events tails the event log starting after the given id.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if after > 0 {
		params.Set("after", fmt.Sprintf("%d", after))
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if c.ProjectID != "" {
		params.Set("project", c.ProjectID)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
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
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
