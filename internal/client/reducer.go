package client

import (
	"strconv"
	"time"

	"podpulse/internal/models"
)

// DisplayWindow is how long a finished task stays visible after this client
// first observed its terminal status.
const DisplayWindow = 30 * time.Second

// Notification is the client-held view of one task. CompletionTime is local
// wall clock, stamped the instant this client saw a terminal status; it is
// never transmitted and exists purely for auto-expiry.
type Notification struct {
	models.TaskRecord
	CompletionTime *time.Time
}

// Reducer is the single merge point for all task state the client has seen,
// whichever transport delivered it. It is not safe for concurrent use; the
// notification center serializes access.
type Reducer struct {
	list []Notification
	now  func() time.Time
}

// NewReducer creates an empty reducer.
func NewReducer() *Reducer {
	return &Reducer{now: time.Now}
}

// Apply upserts a single incoming record by task_id, then sweeps expired
// entries. Used for "update" events.
func (r *Reducer) Apply(rec models.TaskRecord) {
	r.applyRecord(rec)
	r.Sweep()
}

// ApplySnapshot replaces the entire list with a full resync. "initial" and
// "refresh" events both land here; they differ from "update" only in that
// the list is cleared first.
func (r *Reducer) ApplySnapshot(recs []models.TaskRecord) {
	r.list = r.list[:0]
	for _, rec := range recs {
		r.applyRecord(rec)
	}
	r.Sweep()
}

// applyRecord is the one parsing/merging path every record goes through.
func (r *Reducer) applyRecord(rec models.TaskRecord) {
	details := make(map[string]string, len(rec.Details)+2)
	for k, v := range rec.Details {
		details[k] = v
	}

	// A bare numeric episode_id gets a placeholder name unless the patch
	// already carries a real title.
	if id, ok := details["episode_id"]; ok {
		if _, err := strconv.ParseInt(id, 10, 64); err == nil {
			_, hasEpisode := details["episode_title"]
			_, hasItem := details["item_title"]
			if !hasEpisode && !hasItem {
				details["episode_title"] = "Episode #" + id
			}
		}
	}

	if details["status_text"] == "" {
		details["status_text"] = statusText(rec.Type, rec.Status, details)
	}
	rec.Details = details

	n := Notification{TaskRecord: rec}
	if rec.Terminal() {
		now := r.now()
		n.CompletionTime = &now
	}

	for i := range r.list {
		if r.list[i].TaskID != rec.TaskID {
			continue
		}
		// Replace in place. Completion marks survive the replacement:
		// once observed terminal, a task never loses its expiry clock.
		if n.CompletionTime == nil {
			n.CompletionTime = r.list[i].CompletionTime
		} else if r.list[i].CompletionTime != nil {
			n.CompletionTime = r.list[i].CompletionTime
		}
		if n.CompletedAt == nil {
			n.CompletedAt = r.list[i].CompletedAt
		}
		r.list[i] = n
		return
	}
	r.list = append(r.list, n)
}

// Sweep drops entries that went terminal at least DisplayWindow ago.
// Non-terminal tasks are never removed by time.
func (r *Reducer) Sweep() {
	now := r.now()
	kept := r.list[:0]
	for _, n := range r.list {
		if n.CompletionTime != nil && now.Sub(*n.CompletionTime) >= DisplayWindow {
			continue
		}
		kept = append(kept, n)
	}
	r.list = kept
}

// Tasks returns a copy of the current list.
func (r *Reducer) Tasks() []Notification {
	out := make([]Notification, len(r.list))
	copy(out, r.list)
	return out
}

// ActiveCount is the number of tasks still running.
func (r *Reducer) ActiveCount() int {
	count := 0
	for _, n := range r.list {
		if !n.Terminal() {
			count++
		}
	}
	return count
}

// Dismiss removes exactly one task by id.
func (r *Reducer) Dismiss(taskID string) {
	for i := range r.list {
		if r.list[i].TaskID == taskID {
			r.list = append(r.list[:i], r.list[i+1:]...)
			return
		}
	}
}

// DismissCompleted removes all terminal tasks immediately, bypassing the
// display window.
func (r *Reducer) DismissCompleted() {
	kept := r.list[:0]
	for _, n := range r.list {
		if n.Terminal() {
			continue
		}
		kept = append(kept, n)
	}
	r.list = kept
}
