package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"podpulse/internal/models"
)

// ErrFetchInFlight is returned when a fetch is requested while a previous
// one is still outstanding; fetches are single-flight per user.
var ErrFetchInFlight = errors.New("active-task fetch already in flight")

// Fetcher polls the REST fallback endpoint when the stream is unavailable.
type Fetcher struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	userID   int64
	inFlight atomic.Bool
}

// NewFetcher creates a fetcher for one user against baseURL
// (e.g. "http://localhost:8080").
func NewFetcher(client *http.Client, baseURL, apiKey string, userID int64) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, baseURL: baseURL, apiKey: apiKey, userID: userID}
}

// Fetch retrieves the current active-task snapshot. A 404 means the
// deployment does not expose the endpoint and reads as "no active tasks",
// not a failure. Any other non-2xx is an error and the caller must leave
// its task list untouched.
func (f *Fetcher) Fetch(ctx context.Context) ([]models.TaskRecord, error) {
	if !f.inFlight.CompareAndSwap(false, true) {
		return nil, ErrFetchInFlight
	}
	defer f.inFlight.Store(false)

	url := f.baseURL + "/api/tasks/active?user_id=" + strconv.FormatInt(f.userID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("active-task fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("active-task fetch returned %d", resp.StatusCode)
	}

	var body struct {
		Tasks []models.TaskRecord `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("active-task response malformed: %w", err)
	}
	return body.Tasks, nil
}
