// Package task orchestrates the video-to-note pipeline: task lifecycle,
// stage execution, artifact persistence, and progress events.
package task

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one video processing job.
type Task struct {
	ID        string    `json:"id"`
	VideoPath string    `json:"video_path"`
	Status    Status    `json:"status"`
	Stage     Stage     `json:"stage"`
	Progress  float64   `json:"progress"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the task is in a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
