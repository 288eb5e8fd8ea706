package storage

import (
	"context"
	"database/sql"
	"time"

	"podpulse/internal/models"

	"github.com/google/uuid"
)

// JobRepository is the data access layer for the background job queue.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, user_id, type, payload, status, priority, retry_count, error, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID, &job.UserID, &job.Type, &job.Payload, &job.Status,
		&job.Priority, &job.RetryCount, &job.Error,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Create inserts a new job in the queued state.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = time.Now()
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.Type, job.Payload, job.Status,
		job.Priority, job.RetryCount, job.Error,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	return err
}

// GetByID fetches a job by id, nil when it does not exist.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetNextQueued returns the next queued job in priority order, nil when the
// queue is empty.
func (r *JobRepository) GetNextQueued(ctx context.Context) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? ORDER BY priority ASC, created_at ASC LIMIT 1`,
		models.JobStatusQueued)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Start marks a job as running.
func (r *JobRepository) Start(ctx context.Context, id string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		models.JobStatusRunning, now, id)
	return err
}

// Complete marks a job as completed.
func (r *JobRepository) Complete(ctx context.Context, id string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?`,
		models.JobStatusCompleted, now, id)
	return err
}

// Fail marks a job as failed with an error message.
func (r *JobRepository) Fail(ctx context.Context, id, errMsg string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		models.JobStatusFailed, errMsg, now, id)
	return err
}

// Retry requeues a job and bumps its retry count.
func (r *JobRepository) Retry(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, retry_count = retry_count + 1, started_at = NULL WHERE id = ?`,
		models.JobStatusQueued, id)
	return err
}

// ListRecent returns the most recently created jobs.
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
