package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enums. The task lifecycle is owned by the task-tracking
// subsystem; the payment engine only reads assignment and completion state
// and flips the paid flag.
const (
	TaskStatusCreated    = "created"
	TaskStatusAssigned   = "assigned"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

// Task is the engine's view of an external gig task.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	WorkerID    *uuid.UUID `json:"worker_id,omitempty"`
	PlatformID  uuid.UUID  `json:"platform_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	StreamID    *uuid.UUID `json:"stream_id,omitempty"`
	Paid        bool       `json:"paid"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CompletedOnTime reports whether the task finished by its deadline. Tasks
// without a deadline count as on time.
func (t *Task) CompletedOnTime() bool {
	if t.CompletedAt == nil {
		return false
	}
	if t.DueAt == nil {
		return true
	}
	return !t.CompletedAt.After(*t.DueAt)
}
