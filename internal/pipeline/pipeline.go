// Package pipeline exposes the user-facing operations: transcribing uploads,
// YouTube videos and microphone captures, and translating subtitle files.
// Every operation removes its temporary inputs and releases model scratch
// memory before returning, whether it succeeded or not.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"subforge/internal/asr"
	"subforge/internal/audio"
	"subforge/internal/progress"
	"subforge/internal/subtitle"
	"subforge/internal/translate"
	"subforge/internal/youtube"
)

// MicName is the artifact name used for microphone captures.
const MicName = "Mic"

const separator = "------------------------------------"

// VideoSource downloads the audio track of an online video.
type VideoSource interface {
	DownloadAudio(ctx context.Context, url, dir string, progress func(current, total int64)) (*youtube.Download, error)
}

// TranscribeRequest configures a transcription job.
type TranscribeRequest struct {
	asr.JobConfig
	Format       subtitle.Format `json:"format"`
	AddTimestamp bool            `json:"add_timestamp"`
}

// Input lists the files a job works on. WorkDir, when set, holds files
// created for this job only and is removed when the job ends.
type Input struct {
	Paths   []string
	WorkDir string
}

// MicInput is a microphone capture, either as a file or as decoded samples.
type MicInput struct {
	Path    string
	Clip    *audio.Clip
	WorkDir string
}

// Artifact is one written subtitle file.
type Artifact struct {
	Name    string          `json:"name"`
	Path    string          `json:"path"`
	Content string          `json:"-"`
	Format  subtitle.Format `json:"format"`
	Elapsed time.Duration   `json:"elapsed"`
}

// Result is the outcome of one entry point.
type Result struct {
	Artifacts []Artifact
	Elapsed   time.Duration
	Summary   string
	// Downgraded is set when a translate request ran as transcription.
	Downgraded bool
	// Video is set for YouTube jobs.
	Video *youtube.VideoInfo
}

// Config wires a Pipeline.
type Config struct {
	OutputDir   string
	Transcriber *asr.Transcriber
	Translator  *translate.Dispatcher
	Videos      VideoSource
	Logger      *slog.Logger
}

// Pipeline runs jobs against one transcriber and one translation dispatcher.
type Pipeline struct {
	transcriber *asr.Transcriber
	translator  *translate.Dispatcher
	videos      VideoSource
	writer      *subtitle.Writer
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		transcriber: cfg.Transcriber,
		translator:  cfg.Translator,
		videos:      cfg.Videos,
		writer:      subtitle.NewWriter(cfg.OutputDir),
		logger:      logger,
	}
}

// Writer exposes the transcript writer.
func (p *Pipeline) Writer() *subtitle.Writer { return p.writer }

// TranscribeFiles transcribes each file into its own subtitle named after
// the file.
func (p *Pipeline) TranscribeFiles(ctx context.Context, in Input, req TranscribeRequest, sink progress.Sink) (res *Result, err error) {
	const op = "transcribe files"
	defer p.cleanup(op, in.WorkDir)
	start := time.Now()
	sink = progress.OrDiscard(sink)

	if len(in.Paths) == 0 {
		return nil, &Error{Kind: KindInput, Op: op, Err: fmt.Errorf("no input files")}
	}
	if _, err := subtitle.ParseFormat(string(req.Format)); err != nil {
		return nil, &Error{Kind: KindInput, Op: op, Err: err}
	}

	res = &Result{}
	n := float64(len(in.Paths))
	for i, path := range in.Paths {
		fileSink := progress.Scale(sink, float64(i)/n, float64(i+1)/n)
		art, downgraded, err := p.transcribeOne(ctx, asr.Source{Path: path}, subtitle.BaseName(path), req, req.AddTimestamp, fileSink)
		if err != nil {
			return nil, wrap(fmt.Sprintf("%s: %s", op, filepath.Base(path)), err, KindInference)
		}
		res.Artifacts = append(res.Artifacts, *art)
		res.Downgraded = res.Downgraded || downgraded
	}
	sink.Report(1, "done")

	res.Elapsed = time.Since(start)
	res.Summary = summarize(res.Artifacts, true)
	return res, nil
}

// TranscribeYouTube downloads the audio of url into workDir, transcribes it
// and names the subtitle after the video title.
func (p *Pipeline) TranscribeYouTube(ctx context.Context, url, workDir string, req TranscribeRequest, sink progress.Sink) (res *Result, err error) {
	const op = "transcribe youtube"
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "subforge-yt-*")
		if err != nil {
			return nil, &Error{Kind: KindIO, Op: op, Err: err}
		}
	}
	defer p.cleanup(op, workDir)
	start := time.Now()
	sink = progress.OrDiscard(sink)

	if strings.TrimSpace(url) == "" {
		return nil, &Error{Kind: KindInput, Op: op, Err: fmt.Errorf("youtube url is required")}
	}
	if p.videos == nil {
		return nil, &Error{Kind: KindInput, Op: op, Err: fmt.Errorf("youtube downloads are not configured")}
	}

	sink.Report(0, "downloading audio")
	dl, err := p.videos.DownloadAudio(ctx, url, workDir, func(cur, total int64) {
		if total > 0 {
			sink.Report(0.2*float64(cur)/float64(total), "downloading audio")
		}
	})
	if err != nil {
		return nil, wrap(op, err, KindNetwork)
	}

	name := dl.Path
	if dl.Video != nil && dl.Video.Title != "" {
		name = dl.Video.Title
	} else {
		name = subtitle.BaseName(name)
	}

	art, downgraded, err := p.transcribeOne(ctx, asr.Source{Path: dl.Path}, name, req, req.AddTimestamp, progress.Scale(sink, 0.2, 1))
	if err != nil {
		return nil, wrap(op, err, KindInference)
	}
	sink.Report(1, "done")

	return &Result{
		Artifacts:  []Artifact{*art},
		Elapsed:    time.Since(start),
		Summary:    summarize([]Artifact{*art}, false),
		Downgraded: downgraded,
		Video:      dl.Video,
	}, nil
}

// TranscribeMic transcribes a microphone capture. The subtitle is always
// named Mic with a timestamp suffix so captures never overwrite each other.
func (p *Pipeline) TranscribeMic(ctx context.Context, in MicInput, req TranscribeRequest, sink progress.Sink) (res *Result, err error) {
	const op = "transcribe mic"
	defer p.cleanup(op, in.WorkDir)
	start := time.Now()
	sink = progress.OrDiscard(sink)

	if in.Clip == nil && in.Path == "" {
		return nil, &Error{Kind: KindInput, Op: op, Err: fmt.Errorf("no recording")}
	}

	art, downgraded, err := p.transcribeOne(ctx, asr.Source{Path: in.Path, Clip: in.Clip}, MicName, req, true, sink)
	if err != nil {
		return nil, wrap(op, err, KindInference)
	}
	sink.Report(1, "done")

	return &Result{
		Artifacts:  []Artifact{*art},
		Elapsed:    time.Since(start),
		Summary:    summarize([]Artifact{*art}, false),
		Downgraded: downgraded,
	}, nil
}

// TranslateFiles translates each subtitle file and writes the results below
// the translations directory.
func (p *Pipeline) TranslateFiles(ctx context.Context, in Input, req translate.Request, sink progress.Sink) (res *Result, err error) {
	const op = "translate files"
	defer p.cleanup(op, in.WorkDir)
	start := time.Now()
	sink = progress.OrDiscard(sink)

	if p.translator == nil {
		return nil, &Error{Kind: KindInput, Op: op, Err: fmt.Errorf("translation is not configured")}
	}
	if len(in.Paths) == 0 {
		return nil, &Error{Kind: KindInput, Op: op, Err: fmt.Errorf("no subtitle files")}
	}

	res = &Result{}
	n := float64(len(in.Paths))
	for i, path := range in.Paths {
		out, err := p.translator.TranslateFile(ctx, path, req, progress.Scale(sink, float64(i)/n, float64(i+1)/n))
		if err != nil {
			return nil, wrap(fmt.Sprintf("%s: %s", op, filepath.Base(path)), err, KindNetwork)
		}
		res.Artifacts = append(res.Artifacts, Artifact{
			Name:    out.Name,
			Path:    out.Path,
			Content: out.Content,
			Format:  out.Format,
			Elapsed: out.Elapsed,
		})
	}
	sink.Report(1, "done")

	res.Elapsed = time.Since(start)
	res.Summary = summarize(res.Artifacts, true)
	return res, nil
}

func (p *Pipeline) transcribeOne(ctx context.Context, src asr.Source, name string, req TranscribeRequest, addTimestamp bool, sink progress.Sink) (*Artifact, bool, error) {
	if p.transcriber == nil {
		return nil, false, &Error{Kind: KindInput, Op: "transcribe", Err: fmt.Errorf("speech recognition is not configured")}
	}
	format, err := subtitle.ParseFormat(string(req.Format))
	if err != nil {
		return nil, false, &Error{Kind: KindInput, Op: "transcribe", Err: err}
	}

	result, err := p.transcriber.Transcribe(ctx, src, req.JobConfig, sink)
	if err != nil {
		return nil, false, err
	}

	content, path, err := p.writer.Write(name, result.Segments, format, addTimestamp)
	if err != nil {
		return nil, false, &Error{Kind: KindIO, Op: "write subtitle", Err: err}
	}

	p.logger.Info("subtitle written",
		"name", name,
		"path", path,
		"segments", len(result.Segments),
		"task", result.Task,
		"elapsed", result.Elapsed,
	)
	return &Artifact{
		Name:    subtitle.SafeFilename(name),
		Path:    path,
		Content: content,
		Format:  format,
		Elapsed: result.Elapsed,
	}, result.Downgraded, nil
}

// cleanup removes the job's temporary inputs and releases inference scratch
// memory. Its own failures are logged and dropped.
func (p *Pipeline) cleanup(op, workDir string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("cleanup panicked", "op", op, "panic", r)
		}
	}()
	if workDir != "" {
		if err := os.RemoveAll(workDir); err != nil {
			p.logger.Warn("failed to remove job inputs", "op", op, "dir", workDir, "error", err)
		}
	}
	if p.transcriber != nil {
		p.transcriber.ReleaseMemory()
	}
}

func summarize(artifacts []Artifact, multi bool) string {
	var total time.Duration
	for _, a := range artifacts {
		total += a.Elapsed
	}

	var b strings.Builder
	if !multi && len(artifacts) == 1 {
		fmt.Fprintf(&b, "Done in %s! Subtitle file is in the outputs folder.\n\n%s", FormatElapsed(total), artifacts[0].Content)
		return b.String()
	}
	fmt.Fprintf(&b, "Done in %s! Subtitle is in the outputs folder.\n\n", FormatElapsed(total))
	for _, a := range artifacts {
		b.WriteString(separator + "\n")
		b.WriteString(a.Name + "\n\n")
		b.WriteString(a.Content)
	}
	return b.String()
}

// FormatElapsed renders d as "H hours M minutes S seconds", omitting zero
// hour and minute parts.
func FormatElapsed(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	h, rem := secs/3600, secs%3600
	m, s := rem/60, rem%60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", m))
	}
	parts = append(parts, fmt.Sprintf("%d seconds", s))
	return strings.Join(parts, " ")
}
