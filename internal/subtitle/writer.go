package subtitle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// TimestampLayout is the suffix appended to output names (month, day, hour,
// minute, second).
const TimestampLayout = "0102150405"

// Writer writes rendered subtitles below a fixed output directory.
type Writer struct {
	Dir string
	Now func() time.Time
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, Now: time.Now}
}

// Path returns the destination for name without creating anything.
func (w *Writer) Path(name string, f Format, addTimestamp bool) string {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	return OutputPath(w.Dir, name, f, addTimestamp, now())
}

// Write renders segments and writes them to Path(name, f, addTimestamp).
// It returns the rendered text and the file path.
func (w *Writer) Write(name string, segments []Segment, f Format, addTimestamp bool) (string, string, error) {
	content, err := Render(segments, f)
	if err != nil {
		return "", "", err
	}

	path := w.Path(name, f, addTimestamp)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write subtitle file: %w", err)
	}
	return content, path, nil
}

// OutputPath builds <dir>/<name>[-<timestamp>].<ext> with a sanitized name.
func OutputPath(dir, name string, f Format, addTimestamp bool, now time.Time) string {
	base := SafeFilename(name)
	if addTimestamp {
		base += "-" + now.Format(TimestampLayout)
	}
	return filepath.Join(dir, base+f.Extension())
}

// SafeFilename replaces characters that are illegal on common filesystems
// and trims the result to a usable length. An empty result becomes "untitled".
func SafeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	name = replacer.Replace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")

	const maxRunes = 150
	if runes := []rune(name); len(runes) > maxRunes {
		name = strings.TrimSpace(string(runes[:maxRunes]))
	}
	if name == "" {
		return "untitled"
	}
	return name
}

// BaseName strips the directory and extension from a path.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
