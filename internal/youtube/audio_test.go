package youtube

import (
	"bytes"
	"context"
	"strings"
	"testing"

	ytdl "github.com/kkdai/youtube/v2"
)

func TestAudioFormatsFiltersAndSorts(t *testing.T) {
	video := &ytdl.Video{Formats: ytdl.FormatList{
		{ItagNo: 18, MimeType: "video/mp4; codecs=\"avc1\"", Bitrate: 500000},
		{ItagNo: 140, MimeType: "audio/mp4; codecs=\"mp4a.40.2\"", Bitrate: 128000},
		{ItagNo: 251, MimeType: "audio/webm; codecs=\"opus\"", Bitrate: 160000},
	}}

	formats := audioFormats(video)
	if len(formats) != 2 {
		t.Fatalf("got %d formats, want 2", len(formats))
	}
	if formats[0].ItagNo != 251 || formats[1].ItagNo != 140 {
		t.Errorf("order = %d, %d", formats[0].ItagNo, formats[1].ItagNo)
	}
	if formats[0].Extension() != ".webm" || formats[1].Extension() != ".m4a" {
		t.Errorf("extensions = %s, %s", formats[0].Extension(), formats[1].Extension())
	}
}

func TestSelectAudioFormatPrefersDefaultTrack(t *testing.T) {
	formats := []AudioFormat{
		{ItagNo: 251, Bitrate: 160000, Language: "de.3"},
		{ItagNo: 140, Bitrate: 128000, Language: "en.4", IsDefault: true},
	}
	got, err := selectAudioFormat(formats)
	if err != nil {
		t.Fatal(err)
	}
	if got.ItagNo != 140 {
		t.Errorf("selected itag %d", got.ItagNo)
	}

	got, _ = selectAudioFormat(formats[:1])
	if got.ItagNo != 251 {
		t.Errorf("fallback itag %d", got.ItagNo)
	}

	if _, err := selectAudioFormat(nil); err == nil {
		t.Error("expected error without formats")
	}
}

func TestBestThumbnail(t *testing.T) {
	thumbs := ytdl.Thumbnails{
		{URL: "small", Width: 120},
		{URL: "large", Width: 1280},
		{URL: "medium", Width: 480},
	}
	if got := bestThumbnail(thumbs); got != "large" {
		t.Errorf("bestThumbnail() = %s", got)
	}
	if got := bestThumbnail(nil); got != "" {
		t.Errorf("bestThumbnail(nil) = %q", got)
	}
}

func TestCopyWithProgress(t *testing.T) {
	src := strings.Repeat("x", 100*1024)
	var dst bytes.Buffer
	var last int64
	err := copyWithProgress(context.Background(), &dst, strings.NewReader(src), int64(len(src)), func(cur, total int64) {
		last = cur
	})
	if err != nil {
		t.Fatal(err)
	}
	if dst.Len() != len(src) || last != int64(len(src)) {
		t.Errorf("copied %d, last progress %d", dst.Len(), last)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := copyWithProgress(ctx, &dst, strings.NewReader(src), 0, nil); err == nil {
		t.Error("expected cancellation error")
	}
}
