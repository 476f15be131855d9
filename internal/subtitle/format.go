package subtitle

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Segment is a timestamped span of recognized speech.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Format is an output subtitle format.
type Format string

const (
	FormatSRT Format = "SRT"
	FormatVTT Format = "WebVTT"
	FormatTXT Format = "txt"
)

// Formats lists the formats in the order they are offered to users.
var Formats = []Format{FormatSRT, FormatVTT, FormatTXT}

// ParseFormat accepts the display names and the common extensions.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "."))) {
	case "srt", "":
		return FormatSRT, nil
	case "webvtt", "vtt":
		return FormatVTT, nil
	case "txt", "text", "plain":
		return FormatTXT, nil
	}
	return "", fmt.Errorf("unknown subtitle format: %q", s)
}

// Extension returns the file extension including the leading dot.
func (f Format) Extension() string {
	switch f {
	case FormatVTT:
		return ".vtt"
	case FormatTXT:
		return ".txt"
	default:
		return ".srt"
	}
}

// Render serializes segments in the given format.
func Render(segments []Segment, f Format) (string, error) {
	switch f {
	case FormatSRT:
		return FormatAsSRT(segments), nil
	case FormatVTT:
		return FormatAsVTT(segments), nil
	case FormatTXT:
		return FormatAsText(segments), nil
	}
	return "", fmt.Errorf("unknown subtitle format: %q", f)
}

// FormatAsSRT renders numbered cues separated by blank lines. Segments
// without text are skipped.
func FormatAsSRT(segments []Segment) string {
	var sb strings.Builder
	for i, seg := range withText(segments) {
		fmt.Fprintf(&sb, "%d\n", i+1)
		fmt.Fprintf(&sb, "%s --> %s\n", SRTTimestamp(seg.Start), SRTTimestamp(seg.End))
		sb.WriteString(cueText(seg.Text))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// FormatAsVTT renders a WEBVTT document. Cues carry the same numeric
// identifiers as SRT so the two formats stay line-aligned.
func FormatAsVTT(segments []Segment) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for i, seg := range withText(segments) {
		fmt.Fprintf(&sb, "%d\n", i+1)
		fmt.Fprintf(&sb, "%s --> %s\n", VTTTimestamp(seg.Start), VTTTimestamp(seg.End))
		sb.WriteString(cueText(seg.Text))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// FormatAsText writes one segment per line without timestamps.
func FormatAsText(segments []Segment) string {
	var sb strings.Builder
	for _, seg := range withText(segments) {
		sb.WriteString(cueText(seg.Text))
		sb.WriteString("\n")
	}
	return sb.String()
}

// SRTTimestamp formats d as HH:MM:SS,mmm.
func SRTTimestamp(d time.Duration) string {
	h, m, s, ms := splitDuration(d)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// VTTTimestamp formats d as HH:MM:SS.mmm.
func VTTTimestamp(d time.Duration) string {
	h, m, s, ms := splitDuration(d)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// Seconds converts fractional seconds reported by a decoder into a duration
// rounded to the millisecond.
func Seconds(sec float64) time.Duration {
	return time.Duration(math.Round(sec*1000)) * time.Millisecond
}

func splitDuration(d time.Duration) (h, m, s, ms int64) {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Millisecond)
	total := d.Milliseconds()
	ms = total % 1000
	s = (total / 1000) % 60
	m = (total / 60000) % 60
	h = total / 3600000
	return
}

// withText drops segments that would render as empty cues.
func withText(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		if cueText(seg.Text) != "" {
			out = append(out, seg)
		}
	}
	return out
}

// cueText trims surrounding whitespace and drops blank lines, which would
// otherwise terminate the cue early.
func cueText(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}
