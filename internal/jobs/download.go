package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"podpulse/internal/models"
	"podpulse/internal/tasks"
	"podpulse/internal/worker"
)

// DownloadPayload is the queued form of a podcast episode download.
type DownloadPayload struct {
	URL          string `json:"url"`
	EpisodeID    int64  `json:"episode_id,omitempty"`
	EpisodeTitle string `json:"episode_title,omitempty"`
}

// PodcastDownload returns the handler for podcast_download jobs: fetch the
// episode enclosure into dataDir, reporting byte progress as it streams.
func PodcastDownload(dataDir string, client *http.Client) worker.JobHandler {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, job *models.Job, rep *tasks.Reporter) error {
		var p DownloadPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("invalid download payload: %w", err)
		}
		if p.URL == "" {
			return fmt.Errorf("download payload has no url")
		}

		details := map[string]string{}
		if p.EpisodeID != 0 {
			details["episode_id"] = strconv.FormatInt(p.EpisodeID, 10)
		}
		if p.EpisodeTitle != "" {
			details["episode_title"] = p.EpisodeTitle
		}
		rep.Update(models.StatusDownloading, 0, details)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch enclosure: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("enclosure fetch returned %d", resp.StatusCode)
		}

		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return err
		}
		tmpPath := filepath.Join(dataDir, job.ID+".part")
		out, err := os.Create(tmpPath)
		if err != nil {
			return err
		}

		counter := &countingWriter{
			total: resp.ContentLength,
			report: func(pct float64) {
				rep.Progress(models.StatusDownloading, pct)
			},
		}
		if _, err := io.Copy(io.MultiWriter(out, counter), resp.Body); err != nil {
			out.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("download interrupted: %w", err)
		}
		if err := out.Close(); err != nil {
			os.Remove(tmpPath)
			return err
		}

		rep.Progress(models.StatusFinalizing, 99)
		finalPath := filepath.Join(dataDir, job.ID+filepath.Ext(p.URL))
		if filepath.Ext(p.URL) == "" {
			finalPath = filepath.Join(dataDir, job.ID+".mp3")
		}
		if err := os.Rename(tmpPath, finalPath); err != nil {
			os.Remove(tmpPath)
			return err
		}
		return nil
	}
}

// countingWriter reports download percentage at whole-percent steps so slow
// links do not flood the stream with updates.
type countingWriter struct {
	total   int64
	written int64
	lastPct int
	report  func(pct float64)
}

func (c *countingWriter) Write(b []byte) (int, error) {
	c.written += int64(len(b))
	if c.total > 0 {
		pct := int(float64(c.written) / float64(c.total) * 100)
		if pct > c.lastPct {
			c.lastPct = pct
			c.report(float64(pct))
		}
	}
	return len(b), nil
}
