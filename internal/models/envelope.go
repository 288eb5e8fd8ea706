package models

// Envelope is the one-object-per-message frame carried over the task
// stream. "initial" and "refresh" carry the full Tasks snapshot; "update"
// carries the single changed Task; "ping"/"pong" carry neither.
type Envelope struct {
	Event string       `json:"event"`
	Tasks []TaskRecord `json:"tasks,omitempty"`
	Task  *TaskRecord  `json:"task,omitempty"`
}

// Stream event names
const (
	EventInitial = "initial"
	EventRefresh = "refresh"
	EventUpdate  = "update"
	EventPing    = "ping"
	EventPong    = "pong"
)
