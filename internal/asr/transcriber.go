package asr

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"subforge/internal/audio"
	"subforge/internal/modelcache"
	"subforge/internal/progress"
	"subforge/internal/subtitle"
)

// JobConfig is the per-request recognition configuration.
type JobConfig struct {
	ModelID           string  `json:"model"`
	Language          string  `json:"language"`
	Translate         bool    `json:"translate"`
	BeamSize          int     `json:"beam_size"`
	LogProbThreshold  float64 `json:"log_prob_threshold"`
	NoSpeechThreshold float64 `json:"no_speech_threshold"`
	Precision         string  `json:"precision"`
}

// DefaultJobConfig mirrors the form defaults.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		ModelID:           "large-v3",
		Language:          AutoLanguage,
		BeamSize:          1,
		LogProbThreshold:  -1.0,
		NoSpeechThreshold: 0.6,
	}
}

// Source is either a media file or already decoded samples.
type Source struct {
	Path string
	Clip *audio.Clip
}

// Result is the output of one transcription.
type Result struct {
	Segments   []subtitle.Segment
	Elapsed    time.Duration
	Language   string
	Task       Task
	Downgraded bool
}

// TranscriberConfig configures a Transcriber.
type TranscriberConfig struct {
	// ScratchDir receives intermediate WAV files during decoding.
	ScratchDir string
	Logger     *slog.Logger
	OnLoad     modelcache.LoadObserver
}

// Transcriber owns the speech model cache and runs jobs against it.
type Transcriber struct {
	backend Backend
	cache   *modelcache.Cache[Model]
	scratch string
	logger  *slog.Logger
}

// NewTranscriber creates a Transcriber backed by b.
func NewTranscriber(b Backend, cfg TranscriberConfig) *Transcriber {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{
		backend: b,
		cache: modelcache.New("asr", b.Load,
			modelcache.WithReleaser(func(m Model) error { return m.Close() }),
			modelcache.WithObserver[Model](cfg.OnLoad),
			modelcache.WithLogger[Model](logger),
		),
		scratch: cfg.ScratchDir,
		logger:  logger,
	}
}

// Backend returns the inference backend.
func (t *Transcriber) Backend() Backend { return t.backend }

// Loaded reports the resident model, if any.
func (t *Transcriber) Loaded() (modelcache.Entry, bool) { return t.cache.Current() }

// Transcribe runs cfg against src and returns segments in time order along
// with the wall-clock time spent, model loading included.
func (t *Transcriber) Transcribe(ctx context.Context, src Source, cfg JobConfig, sink progress.Sink) (*Result, error) {
	sink = progress.OrDiscard(sink)
	start := time.Now()

	lang, err := NormalizeLanguage(cfg.Language)
	if err != nil {
		return nil, err
	}

	task, downgraded := ResolveTask(cfg.ModelID, cfg.Translate)
	if downgraded {
		t.logger.Info("model cannot translate, transcribing instead", "model", cfg.ModelID)
	}

	precision := cfg.Precision
	if precision == "" {
		precision = t.backend.DefaultPrecision()
	}

	sink.Report(0, "loading model")
	model, err := t.cache.Get(ctx, cfg.ModelID, precision)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, cfg.ModelID, err)
	}

	clip := src.Clip
	if clip == nil {
		sink.Report(0.02, "decoding audio")
		decoded, err := audio.Load(ctx, src.Path, t.scratch)
		if err != nil {
			return nil, err
		}
		clip = &decoded
	}

	opts := DecodeOptions{
		Language:          lang,
		Task:              task,
		BeamSize:          cfg.BeamSize,
		LogProbThreshold:  cfg.LogProbThreshold,
		NoSpeechThreshold: cfg.NoSpeechThreshold,
		Precision:         precision,
	}
	segments, err := model.Transcribe(ctx, *clip, opts, progress.Scale(sink, 0.05, 1))
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	return &Result{
		Segments:   segments,
		Elapsed:    time.Since(start),
		Language:   lang,
		Task:       task,
		Downgraded: downgraded,
	}, nil
}

// ReleaseMemory drops scratch memory held after inference while keeping the
// model resident.
func (t *Transcriber) ReleaseMemory() {
	if m, ok := t.cache.Peek(); ok {
		if r, ok := m.(MemoryReleaser); ok {
			r.ReleaseMemory()
		}
	}
	debug.FreeOSMemory()
}

// Close unloads the resident model.
func (t *Transcriber) Close() {
	t.cache.Evict()
}
