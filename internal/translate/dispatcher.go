// Package translate translates subtitle files through DeepL or a locally
// served model while keeping cue timing intact.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"subforge/internal/modelcache"
	"subforge/internal/progress"
	"subforge/internal/subtitle"
)

var (
	// ErrInvalidRequest marks requests rejected before any provider call.
	ErrInvalidRequest = errors.New("invalid translation request")
	// ErrWriteOutput marks failures writing the translated file.
	ErrWriteOutput = errors.New("failed to write translation")
	// ErrModelLoad marks failures loading the local translation model.
	ErrModelLoad = errors.New("translation model load failed")
)

// Translator translates texts in order.
type Translator interface {
	Translate(ctx context.Context, texts []string, source, target string, sink progress.Sink) ([]string, error)
}

// Provider selects the translation engine.
type Provider string

const (
	ProviderDeepL Provider = "deepl"
	ProviderLocal Provider = "local"
)

// ParseProvider accepts the provider names used by forms and flags.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deepl", "deepl-api":
		return ProviderDeepL, nil
	case "local", "ollama", "nllb":
		return ProviderLocal, nil
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrInvalidRequest, s)
}

// Request describes one translation. APIKey is never serialized.
type Request struct {
	Provider     Provider `json:"provider"`
	Model        string   `json:"model,omitempty"`
	APIKey       string   `json:"-"`
	Pro          bool     `json:"pro"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	AddTimestamp bool     `json:"add_timestamp"`
}

// Output is a written translation.
type Output struct {
	Name    string
	Path    string
	Content string
	Format  subtitle.Format
	Elapsed time.Duration
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// OutputDir receives translated files, normally outputs/translations.
	OutputDir string
	// Local serves ProviderLocal; nil disables it.
	Local *OllamaBackend
	// NewDeepL builds the remote client; nil uses NewDeepLClient.
	NewDeepL     func(apiKey string, pro bool) Translator
	DeepLOptions []Option
	Logger       *slog.Logger
	OnLoad       modelcache.LoadObserver
}

// Dispatcher routes translation requests to the chosen provider.
type Dispatcher struct {
	local    *modelcache.Cache[*LocalModel]
	newDeepL func(apiKey string, pro bool) Translator
	writer   *subtitle.Writer
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		newDeepL: cfg.NewDeepL,
		writer:   subtitle.NewWriter(cfg.OutputDir),
		logger:   logger,
	}
	if d.newDeepL == nil {
		opts := append([]Option{WithDeepLLogger(logger)}, cfg.DeepLOptions...)
		d.newDeepL = func(apiKey string, pro bool) Translator {
			return NewDeepLClient(apiKey, pro, opts...)
		}
	}
	if cfg.Local != nil {
		d.local = modelcache.New("translation", cfg.Local.Load,
			modelcache.WithReleaser(cfg.Local.Unload),
			modelcache.WithObserver[*LocalModel](cfg.OnLoad),
			modelcache.WithLogger[*LocalModel](logger),
		)
	}
	return d
}

// Writer exposes the output writer.
func (d *Dispatcher) Writer() *subtitle.Writer { return d.writer }

// TranslateFile translates the SRT or WebVTT file at path and writes the
// result in the same format below the output directory.
func (d *Dispatcher) TranslateFile(ctx context.Context, path string, req Request, sink progress.Sink) (*Output, error) {
	start := time.Now()
	sink = progress.OrDiscard(sink)

	segments, format, err := subtitle.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, filepath.Base(path), err)
	}

	translator, err := d.translator(ctx, req)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	sink.Report(0.05, "translating")
	translated, err := translator.Translate(ctx, texts, req.Source, req.Target, progress.Scale(sink, 0.05, 0.95))
	if err != nil {
		return nil, err
	}
	if len(translated) != len(segments) {
		return nil, fmt.Errorf("translator returned %d lines for %d cues", len(translated), len(segments))
	}

	out := make([]subtitle.Segment, len(segments))
	for i, seg := range segments {
		out[i] = subtitle.Segment{Start: seg.Start, End: seg.End, Text: translated[i]}
	}

	name := subtitle.BaseName(path)
	content, outPath, err := d.writer.Write(name, out, format, req.AddTimestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteOutput, err)
	}
	sink.Report(1, "done")

	d.logger.Info("translation written", "provider", req.Provider, "source", path, "output", outPath, "cues", len(out))
	return &Output{
		Name:    name,
		Path:    outPath,
		Content: content,
		Format:  format,
		Elapsed: time.Since(start),
	}, nil
}

func (d *Dispatcher) translator(ctx context.Context, req Request) (Translator, error) {
	switch req.Provider {
	case ProviderDeepL:
		if strings.TrimSpace(req.APIKey) == "" {
			return nil, fmt.Errorf("%w: deepl api key is required", ErrInvalidRequest)
		}
		if _, err := DeepLSourceCode(req.Source); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if _, err := DeepLTargetCode(req.Target); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return d.newDeepL(req.APIKey, req.Pro), nil
	case ProviderLocal:
		if d.local == nil {
			return nil, fmt.Errorf("%w: local translation is not configured", ErrInvalidRequest)
		}
		if req.Model == "" {
			return nil, fmt.Errorf("%w: local model is required", ErrInvalidRequest)
		}
		m, err := d.local.Get(ctx, req.Model, "")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidRequest, req.Provider)
}

// LoadedModel reports the resident local translation model, if any.
func (d *Dispatcher) LoadedModel() (modelcache.Entry, bool) {
	if d.local == nil {
		return modelcache.Entry{}, false
	}
	return d.local.Current()
}

// Close unloads the local translation model.
func (d *Dispatcher) Close() {
	if d.local != nil {
		d.local.Evict()
	}
}
