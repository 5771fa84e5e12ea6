package subagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Task is one external-task-service task, covering the fields the tool
// surface in spec §6 needs.
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Title     string `json:"title"`
	DueDate   string `json:"due_date,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Project is a task-service project/board.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProjectData bundles a project with its tasks and columns (kanban-style
// services expose columns; simple list services may leave Columns empty).
type ProjectData struct {
	Project Project  `json:"project"`
	Tasks   []Task   `json:"tasks"`
	Columns []string `json:"columns,omitempty"`
}

// TaskService is the typed CRUD surface the external task-service HTTP
// API exposes (spec §6): list projects, fetch project data, list tasks
// across projects, create/update/complete task, get task by id.
type TaskService struct {
	baseURL    string
	oauth      *OAuthClient
	httpClient *http.Client
}

// NewTaskService wires a TaskService client against baseURL, authenticating
// every call with a bearer token from oauth, refreshing once on 401.
func NewTaskService(baseURL string, oauth *OAuthClient) *TaskService {
	return &TaskService{
		baseURL:    baseURL,
		oauth:      oauth,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListProjects returns all projects visible to the authenticated user.
func (s *TaskService) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := s.doJSON(ctx, http.MethodGet, "/projects", nil, &out)
	return out, err
}

// GetProjectData fetches a project plus its tasks and columns.
func (s *TaskService) GetProjectData(ctx context.Context, projectID string) (*ProjectData, error) {
	var out ProjectData
	err := s.doJSON(ctx, http.MethodGet, "/projects/"+projectID, nil, &out)
	return &out, err
}

// ListTasks lists tasks across all projects.
func (s *TaskService) ListTasks(ctx context.Context) ([]Task, error) {
	var out []Task
	err := s.doJSON(ctx, http.MethodGet, "/tasks", nil, &out)
	return out, err
}

// CreateTask creates a new task.
func (s *TaskService) CreateTask(ctx context.Context, t Task) (*Task, error) {
	var out Task
	err := s.doJSON(ctx, http.MethodPost, "/tasks", t, &out)
	return &out, err
}

// UpdateTask updates an existing task by id.
func (s *TaskService) UpdateTask(ctx context.Context, id string, t Task) (*Task, error) {
	var out Task
	err := s.doJSON(ctx, http.MethodPut, "/tasks/"+id, t, &out)
	return &out, err
}

// CompleteTask marks a task complete.
func (s *TaskService) CompleteTask(ctx context.Context, id string) error {
	return s.doJSON(ctx, http.MethodPost, "/tasks/"+id+"/complete", nil, nil)
}

// GetTask fetches a single task by id.
func (s *TaskService) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	err := s.doJSON(ctx, http.MethodGet, "/tasks/"+id, nil, &out)
	return &out, err
}

func (s *TaskService) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	resp, err := s.request(ctx, method, path, body)
	if err == errUnauthorized {
		s.oauth.InvalidateCached()
		resp, err = s.request(ctx, method, path, body)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var errUnauthorized = fmt.Errorf("task service returned 401")

func (s *TaskService) request(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	tok, err := s.oauth.ValidToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain task-service token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create task-service request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("task-service request failed: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, errUnauthorized
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("task-service returned %d: %s", resp.StatusCode, string(data))
	}
	return resp, nil
}
