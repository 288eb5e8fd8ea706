package jobs

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"

	"podpulse/internal/models"
	"podpulse/internal/tasks"
	"podpulse/internal/worker"
)

// FeedPayload is the queued form of a podcast feed refresh.
type FeedPayload struct {
	FeedURL      string `json:"feed_url"`
	PodcastTitle string `json:"podcast_title,omitempty"`
	// DownloadNew asks the refresh to enqueue a download job per
	// enclosure-bearing item it finds.
	DownloadNew bool `json:"download_new,omitempty"`
}

type rssFeed struct {
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title     string `xml:"title"`
	GUID      string `xml:"guid"`
	Enclosure struct {
		URL string `xml:"url,attr"`
	} `xml:"enclosure"`
}

// FeedRefresh returns the handler for feed_refresh jobs: fetch and parse the
// RSS feed and report how many episodes it lists. When the payload asks for
// downloads, onEpisode is called for every item with an enclosure so the
// caller can enqueue a download job per episode.
func FeedRefresh(client *http.Client, onEpisode func(ctx context.Context, userID int64, item FeedEpisode)) worker.JobHandler {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, job *models.Job, rep *tasks.Reporter) error {
		var p FeedPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("invalid feed payload: %w", err)
		}
		if p.FeedURL == "" {
			return fmt.Errorf("feed payload has no feed_url")
		}

		details := map[string]string{}
		if p.PodcastTitle != "" {
			details["podcast_title"] = p.PodcastTitle
		}
		rep.Update(models.StatusStarted, 0, details)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.FeedURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch feed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("feed fetch returned %d", resp.StatusCode)
		}

		rep.Progress(models.StatusProcessing, 25)

		var feed rssFeed
		if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
			return fmt.Errorf("failed to parse feed: %w", err)
		}

		patch := map[string]string{
			"episodes_found": strconv.Itoa(len(feed.Channel.Items)),
		}
		if details["podcast_title"] == "" && feed.Channel.Title != "" {
			patch["podcast_title"] = feed.Channel.Title
		}
		rep.Update(models.StatusProcessing, 50, patch)

		total := len(feed.Channel.Items)
		for i, item := range feed.Channel.Items {
			if p.DownloadNew && item.Enclosure.URL != "" && onEpisode != nil {
				onEpisode(ctx, job.UserID, FeedEpisode{
					Title: item.Title,
					GUID:  item.GUID,
					URL:   item.Enclosure.URL,
				})
			}
			if total > 0 {
				rep.Progress(models.StatusProgress, 50+float64(i+1)/float64(total)*49)
			}
		}
		return nil
	}
}

// FeedEpisode is one enclosure-bearing item found during a refresh.
type FeedEpisode struct {
	Title string
	GUID  string
	URL   string
}
