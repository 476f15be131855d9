//go:build whispercpp

package asr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"subforge/internal/audio"
	"subforge/internal/progress"
	"subforge/internal/subtitle"
)

// WhisperCppBackend runs ggml checkpoints through the whisper.cpp bindings.
// Models are <ModelDir>/ggml-<id>.bin, or ggml-<id>-<quant>.bin for the
// quantized precisions.
type WhisperCppBackend struct {
	ModelDir string
	Threads  int
}

// NewWhisperCppBackend creates a whisper.cpp backend.
func NewWhisperCppBackend(modelDir string, threads int) Backend {
	if threads <= 0 {
		threads = 4
	}
	return &WhisperCppBackend{ModelDir: modelDir, Threads: threads}
}

func (b *WhisperCppBackend) Name() string { return "whisper.cpp" }

func (b *WhisperCppBackend) Models() []string {
	return []string{
		"tiny", "tiny.en", "base", "base.en", "small", "small.en",
		"medium", "medium.en", "large-v1", "large-v2", "large-v3", "large-v3-turbo",
	}
}

func (b *WhisperCppBackend) Precisions() []string { return []string{"float16", "q8_0", "q5_0"} }

func (b *WhisperCppBackend) DefaultPrecision() string { return "float16" }

func (b *WhisperCppBackend) modelPath(id, precision string) string {
	name := "ggml-" + id
	if precision != "" && precision != "float16" && precision != "float32" {
		name += "-" + precision
	}
	return filepath.Join(b.ModelDir, name+".bin")
}

// Load opens the checkpoint. Weight precision is fixed by the file, so a
// later precision-only change keeps using these weights.
func (b *WhisperCppBackend) Load(_ context.Context, id, precision string) (Model, error) {
	path := b.modelPath(id, precision)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file not found: %s", path)
	}
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper.cpp model: %w", err)
	}
	return &whisperCppModel{model: model, threads: b.Threads}, nil
}

type whisperCppModel struct {
	mu      sync.Mutex
	model   whisper.Model
	threads int
}

func (m *whisperCppModel) Transcribe(ctx context.Context, clip audio.Clip, opts DecodeOptions, sink progress.Sink) ([]subtitle.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if clip.SampleRate != whisper.SampleRate {
		return nil, fmt.Errorf("expected %d Hz audio, got %d Hz", whisper.SampleRate, clip.SampleRate)
	}

	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("unsupported language %q: %w", lang, err)
	}
	wctx.SetTranslate(opts.Task == TaskTranslate)
	wctx.SetThreads(uint(m.threads))
	if opts.BeamSize > 0 {
		wctx.SetBeamSize(opts.BeamSize)
	}
	logIgnoredThresholds(slog.Default(), "whisper.cpp", opts)

	sink = progress.OrDiscard(sink)
	var segments []subtitle.Segment
	onSegment := func(s whisper.Segment) {
		if text := strings.TrimSpace(s.Text); text != "" {
			segments = append(segments, subtitle.Segment{Start: s.Start, End: s.End, Text: text})
		}
	}
	onProgress := func(p int) {
		sink.Report(float64(p)/100, "transcribing")
	}

	if err := wctx.Process(clip.Samples, nil, onSegment, onProgress); err != nil {
		return nil, fmt.Errorf("whisper.cpp inference failed: %w", err)
	}
	return segments, nil
}

func (m *whisperCppModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model.Close()
}
