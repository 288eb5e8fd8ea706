package tasks

import (
	"log"
	"sync"
	"time"

	"podpulse/internal/models"

	"github.com/google/uuid"
)

// Publisher receives every record change the registry applies. Implementations
// must not block; the registry calls it under its own lock so that updates to
// one task are published in the order they were applied.
type Publisher interface {
	Publish(userID int64, rec *models.TaskRecord)
}

// Registry is the server-side source of truth for all task state visible to
// a user. Records live in memory only; terminal records are expired after a
// bounded retention window to cap growth.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*models.TaskRecord
	byUser map[int64]map[string]*models.TaskRecord

	pub       Publisher
	retention time.Duration
	now       func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// DefaultRetention keeps terminal records around twice as long as the
// client's own 30s display window, so a late resync still sees them.
const DefaultRetention = 60 * time.Second

// NewRegistry creates a registry that publishes every change to pub.
// pub may be nil for callers that only want the store.
func NewRegistry(pub Publisher) *Registry {
	return &Registry{
		tasks:     make(map[string]*models.TaskRecord),
		byUser:    make(map[int64]map[string]*models.TaskRecord),
		pub:       pub,
		retention: DefaultRetention,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// SetRetention overrides the terminal-record retention window. Safe to call
// while the sweeper is running.
func (r *Registry) SetRetention(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retention = d
}

// Create allocates a new PENDING record and returns a copy of it.
func (r *Registry) Create(userID int64, taskType string, itemID *string) *models.TaskRecord {
	rec := &models.TaskRecord{
		TaskID:    uuid.New().String(),
		UserID:    userID,
		ItemID:    itemID,
		Type:      taskType,
		Status:    models.StatusPending,
		Progress:  0,
		StartedAt: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[rec.TaskID] = rec
	byID, ok := r.byUser[userID]
	if !ok {
		byID = make(map[string]*models.TaskRecord)
		r.byUser[userID] = byID
	}
	byID[rec.TaskID] = rec

	r.publishLocked(rec)
	return rec.Clone()
}

// Update applies a status/progress change and patch-merges details: new keys
// are added, existing keys overwritten, absent keys untouched. The first
// transition into a terminal status stamps CompletedAt exactly once. An
// unknown task_id is a logged no-op so the background job that triggered it
// is never affected by notification delivery.
func (r *Registry) Update(taskID, status string, progress float64, patch map[string]string) {
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[taskID]
	if !ok {
		log.Printf("task registry: update for unknown task %s dropped", taskID)
		return
	}

	rec.Status = status
	rec.Progress = progress
	if models.IsTerminal(status) && rec.CompletedAt == nil {
		now := r.now()
		rec.CompletedAt = &now
	}
	if len(patch) > 0 {
		if rec.Details == nil {
			rec.Details = make(map[string]string, len(patch))
		}
		for k, v := range patch {
			rec.Details[k] = v
		}
	}

	r.publishLocked(rec)
}

// SnapshotForUser returns copies of all records currently retained for a
// user, terminal or not.
func (r *Registry) SnapshotForUser(userID int64) []models.TaskRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := r.byUser[userID]
	out := make([]models.TaskRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, *rec.Clone())
	}
	return out
}

// Start begins the retention sweeper.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop halts the retention sweeper.
func (r *Registry) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Registry) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep drops terminal records whose completion is older than the retention
// window. Non-terminal records are never expired by time.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.retention)

	for id, rec := range r.tasks {
		if rec.CompletedAt == nil || !rec.Terminal() {
			continue
		}
		if rec.CompletedAt.After(cutoff) {
			continue
		}
		delete(r.tasks, id)
		if byID, ok := r.byUser[rec.UserID]; ok {
			delete(byID, id)
			if len(byID) == 0 {
				delete(r.byUser, rec.UserID)
			}
		}
	}
}

func (r *Registry) publishLocked(rec *models.TaskRecord) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(rec.UserID, rec.Clone())
}
