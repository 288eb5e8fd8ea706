package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// TaskRecord is the server-held state of one background task, scoped to its
// owning user. Records are replaced by task_id, never appended.
type TaskRecord struct {
	TaskID      string            `json:"task_id"`
	UserID      int64             `json:"user_id"`
	ItemID      *string           `json:"item_id,omitempty"`
	Type        string            `json:"task_type"`
	Status      string            `json:"status"`
	Progress    float64           `json:"progress"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// Task types
const (
	TaskTypePodcastDownload = "podcast_download"
	TaskTypeFeedRefresh     = "feed_refresh"
	TaskTypeYouTubeDownload = "youtube_download"
	TaskTypePlaylistGen     = "playlist_generation"
)

// Task statuses
const (
	StatusPending     = "PENDING"
	StatusStarted     = "STARTED"
	StatusProgress    = "PROGRESS"
	StatusDownloading = "DOWNLOADING"
	StatusProcessing  = "PROCESSING"
	StatusFinalizing  = "FINALIZING"
	StatusSuccess     = "SUCCESS"
	StatusFailed      = "FAILED"
)

// IsTerminal reports whether a status admits no further progress.
func IsTerminal(status string) bool {
	return status == StatusSuccess || status == StatusFailed
}

// Terminal reports whether the record has reached a terminal status.
func (t *TaskRecord) Terminal() bool {
	return IsTerminal(t.Status)
}

// Clone returns a deep copy so snapshots can leave the registry's lock.
func (t *TaskRecord) Clone() *TaskRecord {
	c := *t
	if t.ItemID != nil {
		id := *t.ItemID
		c.ItemID = &id
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.Details != nil {
		c.Details = make(map[string]string, len(t.Details))
		for k, v := range t.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// UnmarshalJSON normalizes the wire shape: item_id arrives as a JSON number
// or string from different producers, and details values may be any scalar
// JSON type. Both collapse to strings here so nothing downstream handles
// raw JSON.
func (t *TaskRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		TaskID      string                     `json:"task_id"`
		UserID      int64                      `json:"user_id"`
		ItemID      json.RawMessage            `json:"item_id"`
		Type        string                     `json:"task_type"`
		Status      string                     `json:"status"`
		Progress    float64                    `json:"progress"`
		StartedAt   time.Time                  `json:"started_at"`
		CompletedAt *time.Time                 `json:"completed_at"`
		Details     map[string]json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.TaskID = raw.TaskID
	t.UserID = raw.UserID
	t.ItemID = normalizeID(raw.ItemID)
	t.Type = raw.Type
	t.Status = raw.Status
	t.Progress = raw.Progress
	t.StartedAt = raw.StartedAt
	t.CompletedAt = raw.CompletedAt

	if raw.Details != nil {
		t.Details = make(map[string]string, len(raw.Details))
		for k, v := range raw.Details {
			t.Details[k] = rawScalar(v)
		}
	} else {
		t.Details = nil
	}
	return nil
}

// normalizeID maps a raw item_id to string-or-absent: null and missing
// become nil, numbers keep their literal form.
func normalizeID(raw json.RawMessage) *string {
	s, ok := scalar(raw)
	if !ok {
		return nil
	}
	return &s
}

// rawScalar renders a JSON value as display text: strings lose their
// quotes, everything else keeps its literal form.
func rawScalar(raw json.RawMessage) string {
	s, _ := scalar(raw)
	return s
}

func scalar(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s, true
	}
	return string(trimmed), true
}
