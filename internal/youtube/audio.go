package youtube

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	ytdl "github.com/kkdai/youtube/v2"
)

// DownloadAudio downloads the highest-bitrate audio-only stream of a video,
// reporting byte progress through the callback when one is given.
func (c *Client) DownloadAudio(ctx context.Context, videoURL, outputPath string, progress func(current, total int64)) error {
	video, err := c.client.GetVideo(videoURL)
	if err != nil {
		return fmt.Errorf("failed to get video: %w", err)
	}

	format := bestAudioFormat(video)
	if format == nil {
		return fmt.Errorf("no audio formats available for video %s", video.ID)
	}

	stream, size, err := c.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	var reader io.Reader = stream
	if progress != nil {
		reader = &progressReader{r: stream, total: size, report: progress}
	}

	if _, err := io.Copy(out, reader); err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("failed to download audio: %w", err)
	}
	return nil
}

// bestAudioFormat picks the highest-bitrate audio-only format.
func bestAudioFormat(video *ytdl.Video) *ytdl.Format {
	var audio []*ytdl.Format
	for i := range video.Formats {
		f := &video.Formats[i]
		if strings.HasPrefix(f.MimeType, "audio/") {
			audio = append(audio, f)
		}
	}
	if len(audio) == 0 {
		return nil
	}
	sort.Slice(audio, func(i, j int) bool {
		return audio[i].Bitrate > audio[j].Bitrate
	})
	return audio[0]
}

type progressReader struct {
	r       io.Reader
	total   int64
	current int64
	report  func(current, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.current += int64(n)
		p.report(p.current, p.total)
	}
	return n, err
}
