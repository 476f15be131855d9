package youtube

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ytdl "github.com/kkdai/youtube/v2"
)

// Client wraps the YouTube scraper client.
type Client struct {
	client ytdl.Client
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client) *Client {
	return &Client{
		client: ytdl.Client{HTTPClient: httpClient},
	}
}

// VideoInfo is the metadata shown before a video is transcribed.
type VideoInfo struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Author       string        `json:"author"`
	Duration     time.Duration `json:"duration"`
	Description  string        `json:"description"`
	ThumbnailURL string        `json:"thumbnail_url"`
}

// GetVideo fetches video metadata.
func (c *Client) GetVideo(ctx context.Context, url string) (*VideoInfo, error) {
	video, err := c.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return toVideoInfo(video), nil
}

func toVideoInfo(video *ytdl.Video) *VideoInfo {
	return &VideoInfo{
		ID:           video.ID,
		Title:        video.Title,
		Author:       video.Author,
		Duration:     video.Duration,
		Description:  video.Description,
		ThumbnailURL: bestThumbnail(video.Thumbnails),
	}
}

// bestThumbnail returns the widest thumbnail URL.
func bestThumbnail(thumbs ytdl.Thumbnails) string {
	var best ytdl.Thumbnail
	for _, t := range thumbs {
		if t.Width >= best.Width {
			best = t
		}
	}
	return best.URL
}
