package translate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"subforge/internal/progress"
	"subforge/internal/subtitle"
)

type fakeTranslator struct {
	prefix string
	err    error
	calls  int
}

func (f *fakeTranslator) Translate(_ context.Context, texts []string, _, _ string, sink progress.Sink) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = f.prefix + t
	}
	progress.OrDiscard(sink).Report(1, "done")
	return out, nil
}

const sampleVTT = "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02.500\nHello\n\n2\n00:00:03.000 --> 00:00:04.000\nWorld\n"

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranslateFileKeepsFormatAndTiming(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "translations")
	fake := &fakeTranslator{prefix: "DE:"}
	var gotKey string
	var gotPro bool
	d := NewDispatcher(DispatcherConfig{
		OutputDir: outDir,
		NewDeepL: func(apiKey string, pro bool) Translator {
			gotKey, gotPro = apiKey, pro
			return fake
		},
	})

	in := writeInput(t, "talk.vtt", sampleVTT)
	var last float64
	out, err := d.TranslateFile(context.Background(), in, Request{
		Provider: ProviderDeepL,
		APIKey:   "k",
		Pro:      true,
		Source:   AutoDetect,
		Target:   "German",
	}, progress.Func(func(f float64, _ string) { last = f }))
	if err != nil {
		t.Fatalf("TranslateFile() error = %v", err)
	}
	if gotKey != "k" || !gotPro {
		t.Errorf("deepl built with key=%q pro=%v", gotKey, gotPro)
	}
	if out.Format != subtitle.FormatVTT || out.Path != filepath.Join(outDir, "talk.vtt") {
		t.Errorf("output = %+v", out)
	}
	if last != 1 {
		t.Errorf("final progress = %v", last)
	}

	segs, format, err := subtitle.ParseFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if format != subtitle.FormatVTT || len(segs) != 2 {
		t.Fatalf("parsed %s with %d cues", format, len(segs))
	}
	if segs[0].Text != "DE:Hello" || segs[1].Text != "DE:World" {
		t.Errorf("texts = %q, %q", segs[0].Text, segs[1].Text)
	}
	if segs[0].Start != subtitle.Seconds(1) || segs[0].End != subtitle.Seconds(2.5) {
		t.Errorf("timing changed: %v-%v", segs[0].Start, segs[0].End)
	}
}

func TestTranslateFileRejectsBadRequests(t *testing.T) {
	fake := &fakeTranslator{}
	d := NewDispatcher(DispatcherConfig{
		OutputDir: t.TempDir(),
		NewDeepL:  func(string, bool) Translator { return fake },
	})
	srt := writeInput(t, "a.srt", "1\n00:00:00,000 --> 00:00:01,000\nHi\n")
	txt := writeInput(t, "a.txt", "just words\n")

	tests := []struct {
		name string
		path string
		req  Request
	}{
		{"missing key", srt, Request{Provider: ProviderDeepL, Target: "German"}},
		{"bad target", srt, Request{Provider: ProviderDeepL, APIKey: "k", Target: "Elvish"}},
		{"local disabled", srt, Request{Provider: ProviderLocal, Model: "m", Target: "German"}},
		{"unknown provider", srt, Request{Provider: "babel", Target: "German"}},
		{"not a subtitle", txt, Request{Provider: ProviderDeepL, APIKey: "k", Target: "German"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.TranslateFile(context.Background(), tt.path, tt.req, nil)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if fake.calls != 0 {
		t.Errorf("translator called %d times", fake.calls)
	}
}

func TestTranslateFileProviderError(t *testing.T) {
	boom := &StatusError{Provider: "deepl", StatusCode: 403, Body: "forbidden"}
	d := NewDispatcher(DispatcherConfig{
		OutputDir: t.TempDir(),
		NewDeepL:  func(string, bool) Translator { return &fakeTranslator{err: boom} },
	})
	in := writeInput(t, "a.srt", "1\n00:00:00,000 --> 00:00:01,000\nHi\n")
	_, err := d.TranslateFile(context.Background(), in, Request{Provider: ProviderDeepL, APIKey: "k", Target: "German"}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v", err)
	}
}

func TestDispatcherLocalModelCache(t *testing.T) {
	fake := &fakeOllama{}
	srv := fake.server(t)
	defer srv.Close()

	d := NewDispatcher(DispatcherConfig{
		OutputDir: t.TempDir(),
		Local:     NewOllamaBackend(srv.URL, nil),
	})
	in := writeInput(t, "a.srt", "1\n00:00:00,000 --> 00:00:01,000\nHi\n")
	req := Request{Provider: ProviderLocal, Model: "nllb", Target: "French"}

	for i := 0; i < 2; i++ {
		out, err := d.TranslateFile(context.Background(), in, req, nil)
		if err != nil {
			t.Fatalf("TranslateFile() error = %v", err)
		}
		if !strings.Contains(out.Content, "[Hi]") {
			t.Errorf("content = %q", out.Content)
		}
	}
	entry, ok := d.LoadedModel()
	if !ok || entry.ID != "nllb" {
		t.Fatalf("LoadedModel() = %+v, %v", entry, ok)
	}

	loads := 0
	for _, r := range fake.requests {
		if r.Prompt == "" && r.KeepAlive == "30m" {
			loads++
		}
	}
	if loads != 1 {
		t.Errorf("model loaded %d times", loads)
	}

	d.Close()
	if _, ok := d.LoadedModel(); ok {
		t.Error("model still resident after Close")
	}
	if got := fake.last(); got.KeepAlive != "0" {
		t.Errorf("last request = %+v, want unload", got)
	}

	req.Model = "missing"
	if _, err := d.TranslateFile(context.Background(), in, req, nil); !errors.Is(err, ErrModelLoad) {
		t.Errorf("error = %v, want ErrModelLoad", err)
	}
}
