package models

import "time"

// Job is one queued unit of background work. It is the durable producer
// side: the notification pipeline only sees the TaskRecord a running job
// reports into the registry.
type Job struct {
	ID          string     `json:"id"`
	UserID      int64      `json:"user_id"`
	Type        string     `json:"type"`
	Payload     string     `json:"payload,omitempty"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	RetryCount  int        `json:"retry_count"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Job statuses
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job priorities
const (
	JobPriorityImmediate = 0
	JobPriorityNormal    = 5
	JobPriorityBatch     = 9
)
