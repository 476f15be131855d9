package youtube

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ytdl "github.com/kkdai/youtube/v2"

	"subforge/internal/subtitle"
)

// AudioFormat describes one audio-only stream.
type AudioFormat struct {
	ItagNo        int
	MimeType      string
	Bitrate       int
	ContentLength int64
	Quality       string
	Language      string
	LanguageName  string
	IsDefault     bool
}

// Extension maps the MIME type to a file extension.
func (f *AudioFormat) Extension() string {
	if strings.Contains(f.MimeType, "mp4") {
		return ".m4a"
	}
	if strings.Contains(f.MimeType, "webm") {
		return ".webm"
	}
	return ".audio"
}

// Download is a finished audio download.
type Download struct {
	Path  string
	Video *VideoInfo
}

// audioFormats lists the audio-only streams of video, highest bitrate first.
func audioFormats(video *ytdl.Video) []AudioFormat {
	var formats []AudioFormat
	for _, f := range video.Formats {
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}

		af := AudioFormat{
			ItagNo:        f.ItagNo,
			MimeType:      f.MimeType,
			Bitrate:       f.Bitrate,
			ContentLength: f.ContentLength,
			Quality:       f.AudioQuality,
		}
		if f.AudioTrack != nil {
			af.LanguageName = f.AudioTrack.DisplayName
			af.Language = f.AudioTrack.ID
			af.IsDefault = f.AudioTrack.AudioIsDefault
		}
		formats = append(formats, af)
	}

	sort.SliceStable(formats, func(i, j int) bool {
		return formats[i].Bitrate > formats[j].Bitrate
	})
	return formats
}

// selectAudioFormat picks the best stream. Dubbed videos carry several audio
// tracks; the default track wins over higher-bitrate dubs.
func selectAudioFormat(formats []AudioFormat) (*AudioFormat, error) {
	if len(formats) == 0 {
		return nil, fmt.Errorf("no audio formats available")
	}
	for i := range formats {
		if formats[i].IsDefault {
			return &formats[i], nil
		}
	}
	return &formats[0], nil
}

// DownloadAudio saves the best audio-only stream of url into dir. The file is
// named after the video ID so titles never reach the filesystem unchecked.
func (c *Client) DownloadAudio(ctx context.Context, url, dir string, progress func(current, total int64)) (*Download, error) {
	video, err := c.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	selected, err := selectAudioFormat(audioFormats(video))
	if err != nil {
		return nil, err
	}

	var target *ytdl.Format
	for i := range video.Formats {
		f := &video.Formats[i]
		if f.ItagNo != selected.ItagNo {
			continue
		}
		if selected.Language != "" && (f.AudioTrack == nil || f.AudioTrack.ID != selected.Language) {
			continue
		}
		target = f
		break
	}
	if target == nil {
		return nil, fmt.Errorf("format not found: itag=%d lang=%s", selected.ItagNo, selected.Language)
	}

	stream, size, err := c.client.GetStreamContext(ctx, video, target)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	outputPath := filepath.Join(dir, subtitle.SafeFilename(video.ID)+selected.Extension())
	file, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	err = copyWithProgress(ctx, file, stream, size, progress)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outputPath)
		return nil, fmt.Errorf("failed to download: %w", err)
	}

	return &Download{Path: outputPath, Video: toVideoInfo(video)}, nil
}

// copyWithProgress copies src to dst, checking ctx between reads.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress func(current, total int64)) error {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
				if progress != nil {
					progress(written, total)
				}
			}
			if ew != nil {
				return ew
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
