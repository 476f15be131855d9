package main

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"subforge/internal/progress"
)

const barSteps = 1000

type barSink struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	label string
}

func (s *barSink) Report(fraction float64, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if label != "" && label != s.label {
		s.label = label
		s.bar.Describe(label)
	}
	s.bar.Set(int(fraction * barSteps))
}

// newProgressSink draws a bar on w when it is a terminal and discards
// updates otherwise. The returned function clears the bar.
func newProgressSink(w io.Writer) (progress.Sink, func()) {
	if !isTerminal(w) {
		return progress.Discard, func() {}
	}
	bar := progressbar.NewOptions(barSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
	return &barSink{bar: bar}, func() { bar.Finish() }
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
