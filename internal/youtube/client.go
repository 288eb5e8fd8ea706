package youtube

import (
	"time"

	"github.com/kkdai/youtube/v2"
)

// Client wraps YouTube video access for download jobs.
type Client struct {
	client youtube.Client
}

// NewClient creates a new YouTube client.
func NewClient() *Client {
	return &Client{
		client: youtube.Client{},
	}
}

// VideoInfo is the metadata a download task surfaces in its details.
type VideoInfo struct {
	ID       string
	Title    string
	Author   string
	Duration time.Duration
}

// GetVideo fetches video metadata.
func (c *Client) GetVideo(url string) (*VideoInfo, error) {
	video, err := c.client.GetVideo(url)
	if err != nil {
		return nil, err
	}

	return &VideoInfo{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
	}, nil
}
