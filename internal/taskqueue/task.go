package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"hyperlapse-desktop/internal/config"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s TaskStatus) Finished() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Render phases reported in TaskProgress.
const (
	PhaseRouting    = "routing"
	PhaseGenerating = "generating"
	PhaseExporting  = "exporting"
)

// TaskProgress represents detailed progress information
type TaskProgress struct {
	Phase   string `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
}

// RenderTask is one queued hyperlapse: a plan to generate and export.
type RenderTask struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"` // higher runs first
	CreatedAt   string     `json:"createdAt"`
	StartedAt   string     `json:"startedAt,omitempty"`
	CompletedAt string     `json:"completedAt,omitempty"`

	Plan config.Plan `json:"plan"`

	Progress TaskProgress `json:"progress"`

	Error      string `json:"error,omitempty"`
	Label      string `json:"label,omitempty"`
	OutputPath string `json:"outputPath,omitempty"`
}

// NewRenderTask creates a pending task for plan.
func NewRenderTask(name string, plan config.Plan) *RenderTask {
	if name == "" {
		name = plan.Name
	}
	return &RenderTask{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().Format(time.RFC3339),
		Plan:      plan,
	}
}

// SaveToFile persists the task to a JSON file
func (t *RenderTask) SaveToFile(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	path := filepath.Join(dir, t.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename task file: %w", err)
	}
	return nil
}

// LoadFromFile loads a task from a JSON file
func LoadFromFile(path string) (*RenderTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var task RenderTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// DeleteFile removes the task file from disk
func (t *RenderTask) DeleteFile(dir string) error {
	return os.Remove(filepath.Join(dir, t.ID+".json"))
}

// UpdateProgress records progress within a phase.
func (t *RenderTask) UpdateProgress(p TaskProgress) {
	if p.Total > 0 {
		p.Percent = p.Current * 100 / p.Total
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
	t.Progress = p
}

// MarkStarted marks the task as started
func (t *RenderTask) MarkStarted() {
	t.StartedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusRunning
	t.Error = ""
}

// MarkCompleted marks the task as completed
func (t *RenderTask) MarkCompleted() {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCompleted
	t.Progress.Percent = 100
}

// MarkFailed marks the task as failed with an error
func (t *RenderTask) MarkFailed(err error) {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
}

// MarkCancelled marks the task as cancelled
func (t *RenderTask) MarkCancelled() {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCancelled
}

// Reset returns a finished task to pending, clearing its run results.
func (t *RenderTask) Reset() {
	t.Status = TaskStatusPending
	t.StartedAt, t.CompletedAt = "", ""
	t.Error, t.Label, t.OutputPath = "", "", ""
	t.Progress = TaskProgress{}
}
