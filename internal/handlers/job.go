package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"podpulse/internal/models"
	"podpulse/internal/storage"
	"podpulse/internal/worker"

	"github.com/labstack/echo/v4"
)

// JobHandler is the producer-side API: enqueue background jobs and inspect
// their queue state.
type JobHandler struct {
	repo   *storage.JobRepository
	worker *worker.Worker
	keys   *storage.ApiKeyRepository
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(repo *storage.JobRepository, w *worker.Worker, keys *storage.ApiKeyRepository) *JobHandler {
	return &JobHandler{repo: repo, worker: w, keys: keys}
}

type submitJobRequest struct {
	Type     string          `json:"type"`
	UserID   int64           `json:"user_id"`
	Priority *int            `json:"priority,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Submit enqueues a new background job.
// POST /api/jobs, credential in X-Api-Key.
func (h *JobHandler) Submit(c echo.Context) error {
	var req submitJobRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Type == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "type is required"})
	}
	if !h.authorized(c, req.UserID) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "api key does not authorize this user"})
	}

	priority := models.JobPriorityNormal
	if req.Priority != nil {
		priority = *req.Priority
	}

	job, err := h.worker.SubmitJob(c.Request().Context(), req.Type, req.UserID, string(req.Payload), priority)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, job)
}

// Get fetches a job by id.
// GET /api/jobs/:id
func (h *JobHandler) Get(c echo.Context) error {
	job, err := h.repo.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if job == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}
	if !h.authorized(c, job.UserID) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "api key does not authorize this user"})
	}
	return c.JSON(http.StatusOK, job)
}

// List returns recent jobs.
// GET /api/jobs?limit=N
func (h *JobHandler) List(c echo.Context) error {
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	jobs, err := h.repo.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, jobs)
}

func (h *JobHandler) authorized(c echo.Context, userID int64) bool {
	key := c.Request().Header.Get("X-Api-Key")
	if key == "" {
		return false
	}
	owner, ok, err := h.keys.GetUserID(c.Request().Context(), key)
	if err != nil {
		return false
	}
	return ok && owner == userID
}
