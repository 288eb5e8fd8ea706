package client

import (
	"fmt"

	"podpulse/internal/models"
)

// statusText synthesizes a human-readable line from (type, status) when the
// producer sent none. Titles come from the details the producer did send.
func statusText(taskType, status string, details map[string]string) string {
	title := details["episode_title"]
	if title == "" {
		title = details["item_title"]
	}

	switch taskType {
	case models.TaskTypePodcastDownload:
		subject := title
		if subject == "" {
			subject = "episode"
		}
		switch status {
		case models.StatusProcessing, models.StatusFinalizing:
			return "Processing " + subject
		case models.StatusSuccess:
			return "Downloaded " + subject
		case models.StatusFailed:
			return "Download failed"
		default:
			return "Downloading " + subject
		}

	case models.TaskTypeFeedRefresh:
		switch status {
		case models.StatusSuccess:
			return "Feed refresh complete"
		case models.StatusFailed:
			return "Feed refresh failed"
		default:
			return "Refreshing podcast feeds"
		}

	case models.TaskTypeYouTubeDownload:
		subject := title
		if subject == "" {
			subject = "video"
		}
		switch status {
		case models.StatusProcessing, models.StatusFinalizing:
			return "Processing " + subject
		case models.StatusSuccess:
			return "Video download complete"
		case models.StatusFailed:
			return "Video download failed"
		default:
			return "Downloading " + subject
		}

	case models.TaskTypePlaylistGen:
		switch status {
		case models.StatusSuccess:
			return "Playlist ready"
		case models.StatusFailed:
			return "Playlist generation failed"
		default:
			return "Generating playlist"
		}
	}

	return fmt.Sprintf("%s task: %s", taskType, status)
}
