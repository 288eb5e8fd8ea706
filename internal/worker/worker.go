package worker

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"podpulse/internal/models"
	"podpulse/internal/storage"
	"podpulse/internal/tasks"
)

// JobHandler is a function that processes a job, reporting progress through
// the reporter as it goes.
type JobHandler func(ctx context.Context, job *models.Job, rep *tasks.Reporter) error

// Worker processes jobs from the queue. Around every run it drives the task
// registry: one record created at start, exactly one terminal update at
// completion. That is the whole contract a job must honor to appear in the
// notification UI.
type Worker struct {
	jobRepo  *storage.JobRepository
	registry *tasks.Registry
	handlers map[string]JobHandler
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// NewWorker creates a new worker.
func NewWorker(jobRepo *storage.JobRepository, registry *tasks.Registry) *Worker {
	return &Worker{
		jobRepo:  jobRepo,
		registry: registry,
		handlers: make(map[string]JobHandler),
		interval: 1 * time.Second,
		stop:     make(chan struct{}),
	}
}

// RegisterHandler registers a handler for a job type.
func (w *Worker) RegisterHandler(jobType string, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// SetInterval sets the polling interval.
func (w *Worker) SetInterval(interval time.Duration) {
	w.interval = interval
}

// Start begins processing jobs.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	log.Println("Worker started")
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
	log.Println("Worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.processNextJob(ctx)
		}
	}
}

func (w *Worker) processNextJob(ctx context.Context) {
	job, err := w.jobRepo.GetNextQueued(ctx)
	if err != nil {
		log.Printf("Error getting next job: %v", err)
		return
	}
	if job == nil {
		return // No jobs to process
	}

	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()

	if !ok {
		log.Printf("No handler for job type: %s", job.Type)
		_ = w.jobRepo.Fail(ctx, job.ID, "no handler registered for job type: "+job.Type)
		return
	}

	if err := w.jobRepo.Start(ctx, job.ID); err != nil {
		log.Printf("Error starting job %s: %v", job.ID, err)
		return
	}

	rec := w.registry.Create(job.UserID, job.Type, payloadItemID(job.Payload))
	rep := tasks.NewReporter(w.registry, rec.TaskID)
	rep.Progress(models.StatusStarted, 0)

	log.Printf("Processing job %s (type: %s)", job.ID, job.Type)

	if err := handler(ctx, job, rep); err != nil {
		log.Printf("Job %s failed: %v", job.ID, err)
		rep.Update(models.StatusFailed, rep.Last(), map[string]string{"error": err.Error()})
		w.handleJobFailure(ctx, job, err)
		return
	}

	if err := w.jobRepo.Complete(ctx, job.ID); err != nil {
		log.Printf("Error completing job %s: %v", job.ID, err)
	}
	rep.Progress(models.StatusSuccess, 100)

	log.Printf("Job %s completed", job.ID)
}

func (w *Worker) handleJobFailure(ctx context.Context, job *models.Job, jobErr error) {
	maxRetries := 3

	if job.RetryCount < maxRetries {
		// Requeue; the retry attempt reports a fresh task record
		if err := w.jobRepo.Retry(ctx, job.ID); err != nil {
			log.Printf("Error retrying job %s: %v", job.ID, err)
		} else {
			log.Printf("Job %s queued for retry (attempt %d/%d)", job.ID, job.RetryCount+1, maxRetries)
		}
	} else {
		if err := w.jobRepo.Fail(ctx, job.ID, jobErr.Error()); err != nil {
			log.Printf("Error failing job %s: %v", job.ID, err)
		}
	}
}

// SubmitJob creates a new job and adds it to the queue.
func (w *Worker) SubmitJob(ctx context.Context, jobType string, userID int64, payload string, priority int) (*models.Job, error) {
	job := &models.Job{
		Type:     jobType,
		UserID:   userID,
		Payload:  payload,
		Priority: priority,
	}

	if err := w.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	log.Printf("Job %s submitted (type: %s, priority: %d)", job.ID, jobType, priority)
	return job, nil
}

// payloadItemID peeks at the payload for the optional subject id so the task
// record can carry it from creation.
func payloadItemID(payload string) *string {
	if payload == "" {
		return nil
	}
	var p struct {
		ItemID json.RawMessage `json:"item_id"`
	}
	if err := json.Unmarshal([]byte(payload), &p); err != nil || len(p.ItemID) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(p.ItemID, &s); err == nil {
		return &s
	}
	lit := string(p.ItemID)
	if lit == "null" {
		return nil
	}
	return &lit
}
