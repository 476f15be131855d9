package asr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveTask(t *testing.T) {
	tests := []struct {
		model          string
		translate      bool
		wantTask       Task
		wantDowngraded bool
	}{
		{"large-v3", true, TaskTranslate, false},
		{"large", true, TaskTranslate, false},
		{"large-v1", true, TaskTranslate, false},
		{"medium", true, TaskTranscribe, true},
		{"turbo", true, TaskTranscribe, true},
		{"medium", false, TaskTranscribe, false},
		{"large-v2", false, TaskTranscribe, false},
	}
	for _, tt := range tests {
		task, downgraded := ResolveTask(tt.model, tt.translate)
		if task != tt.wantTask || downgraded != tt.wantDowngraded {
			t.Errorf("ResolveTask(%q, %v) = %s, %v; want %s, %v",
				tt.model, tt.translate, task, downgraded, tt.wantTask, tt.wantDowngraded)
		}
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"auto", "", false},
		{"Automatic Detection", "", false},
		{"", "", false},
		{"Japanese", "ja", false},
		{"en", "en", false},
		{"Haitian Creole", "ht", false},
		{"YUE", "yue", false},
		{"elvish", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeLanguage(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("NormalizeLanguage(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestLanguagesSorted(t *testing.T) {
	langs := Languages()
	if len(langs) != len(languageNames) {
		t.Fatalf("got %d languages", len(langs))
	}
	for i := 1; i < len(langs); i++ {
		if langs[i-1] > langs[i] {
			t.Fatalf("not sorted at %d: %s > %s", i, langs[i-1], langs[i])
		}
	}
	if LanguageName("de") != "german" || LanguageName("xx") != "xx" {
		t.Error("LanguageName lookup")
	}
}

func TestNewBackend(t *testing.T) {
	for _, name := range []string{"", "sherpa", "whispercpp"} {
		if _, err := NewBackend(name, "models", 2); err != nil {
			t.Errorf("NewBackend(%q) error = %v", name, err)
		}
	}
	if _, err := NewBackend("faster-whisper", "models", 2); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestResolveWhisperFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"tiny-encoder.int8.onnx", "tiny-encoder.onnx",
		"tiny-decoder.int8.onnx", "tiny-tokens.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := resolveWhisperFiles(dir, "tiny", "float32")
	if err != nil {
		t.Fatalf("resolveWhisperFiles() error = %v", err)
	}
	if filepath.Base(files.encoder) != "tiny-encoder.onnx" {
		t.Errorf("encoder = %s", files.encoder)
	}
	// only the int8 decoder exists
	if filepath.Base(files.decoder) != "tiny-decoder.int8.onnx" {
		t.Errorf("decoder = %s", files.decoder)
	}

	files, _ = resolveWhisperFiles(dir, "tiny", "int8")
	if filepath.Base(files.encoder) != "tiny-encoder.int8.onnx" {
		t.Errorf("int8 encoder = %s", files.encoder)
	}

	if _, err := resolveWhisperFiles(t.TempDir(), "tiny", "int8"); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestSherpaLoadMissingModel(t *testing.T) {
	b := NewSherpaBackend(t.TempDir(), 1)
	if _, err := b.Load(context.Background(), "large-v3", "int8"); err == nil {
		t.Error("expected error for missing model directory")
	}
}

func TestDisplayLanguages(t *testing.T) {
	got := DisplayLanguages()
	if len(got) != len(Languages())+1 || got[0] != AutoLanguage {
		t.Fatalf("DisplayLanguages()[0] = %q, len %d", got[0], len(got))
	}
	want := map[string]bool{"English": true, "Haitian Creole": true, "Japanese": true}
	for _, name := range got {
		delete(want, name)
	}
	if len(want) != 0 {
		t.Errorf("missing display names: %v", want)
	}
	for _, name := range got[1:] {
		if _, err := NormalizeLanguage(name); err != nil {
			t.Errorf("display name %q does not normalize: %v", name, err)
		}
	}
}
