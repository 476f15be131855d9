package subtitle

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseFile reads an SRT or WebVTT file from disk.
func ParseFile(path string) ([]Segment, Format, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read subtitle file: %w", err)
	}
	return Parse(string(data))
}

// Parse detects the format from the content and returns its cues in order.
// Plain-text transcripts carry no timing and are rejected.
func Parse(content string) ([]Segment, Format, error) {
	content = strings.TrimPrefix(content, "\ufeff")
	content = strings.ReplaceAll(content, "\r\n", "\n")

	format := FormatSRT
	if strings.HasPrefix(strings.TrimSpace(content), "WEBVTT") {
		format = FormatVTT
	}

	var segments []Segment
	for _, block := range strings.Split(content, "\n\n") {
		lines := strings.Split(strings.Trim(block, "\n"), "\n")
		timing := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timing = i
				break
			}
		}
		if timing < 0 {
			// header, NOTE, STYLE or stray text
			continue
		}

		start, end, err := parseTiming(lines[timing])
		if err != nil {
			return nil, "", err
		}
		segments = append(segments, Segment{
			Start: start,
			End:   end,
			Text:  strings.Join(lines[timing+1:], "\n"),
		})
	}

	if len(segments) == 0 {
		return nil, "", fmt.Errorf("no subtitle cues found")
	}
	return segments, format, nil
}

func parseTiming(line string) (time.Duration, time.Duration, error) {
	parts := strings.SplitN(line, "-->", 2)
	start, err := ParseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	// WebVTT cue settings follow the end timestamp
	fields := strings.Fields(parts[1])
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("missing end timestamp in %q", line)
	}
	end, err := ParseTimestamp(fields[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// ParseTimestamp accepts HH:MM:SS,mmm, HH:MM:SS.mmm and the WebVTT short
// form MM:SS.mmm.
func ParseTimestamp(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.ReplaceAll(value, ",", "."))
	main, frac, _ := strings.Cut(value, ".")

	parts := strings.Split(main, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	var hours, minutes, seconds int
	var err error
	if len(parts) == 3 {
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("invalid hours in %q", value)
		}
		parts = parts[1:]
	}
	if minutes, err = strconv.Atoi(parts[0]); err != nil {
		return 0, fmt.Errorf("invalid minutes in %q", value)
	}
	if seconds, err = strconv.Atoi(parts[1]); err != nil {
		return 0, fmt.Errorf("invalid seconds in %q", value)
	}

	millis := 0
	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		if millis, err = strconv.Atoi(frac); err != nil {
			return 0, fmt.Errorf("invalid milliseconds in %q", value)
		}
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, nil
}
