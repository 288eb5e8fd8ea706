package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"podpulse/internal/models"
	"podpulse/internal/tasks"
	"podpulse/internal/worker"
	"podpulse/internal/youtube"
)

// YouTubePayload is the queued form of a YouTube audio download.
type YouTubePayload struct {
	URL string `json:"url"`
}

// YouTubeDownload returns the handler for youtube_download jobs: resolve the
// video, then stream its best audio track into dataDir with progress.
func YouTubeDownload(dataDir string, client *youtube.Client) worker.JobHandler {
	if client == nil {
		client = youtube.NewClient()
	}

	return func(ctx context.Context, job *models.Job, rep *tasks.Reporter) error {
		var p YouTubePayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("invalid youtube payload: %w", err)
		}
		if p.URL == "" {
			return fmt.Errorf("youtube payload has no url")
		}

		rep.Progress(models.StatusStarted, 0)

		info, err := client.GetVideo(p.URL)
		if err != nil {
			return fmt.Errorf("failed to resolve video: %w", err)
		}
		rep.Update(models.StatusDownloading, 5, map[string]string{
			"item_title": info.Title,
			"author":     info.Author,
		})

		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return err
		}

		lastPct := 0
		outputPath := filepath.Join(dataDir, info.ID+".m4a")
		err = client.DownloadAudio(ctx, p.URL, outputPath, func(current, total int64) {
			if total <= 0 {
				return
			}
			// 5..99, whole-percent steps
			pct := 5 + int(float64(current)/float64(total)*94)
			if pct > lastPct {
				lastPct = pct
				rep.Progress(models.StatusDownloading, float64(pct))
			}
		})
		if err != nil {
			return err
		}

		rep.Progress(models.StatusFinalizing, 99)
		return nil
	}
}
