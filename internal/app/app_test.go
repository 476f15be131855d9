package app

import (
	"os"
	"path/filepath"
	"testing"

	"subforge/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Outputs = filepath.Join(root, "outputs")
	cfg.Paths.Models = filepath.Join(root, "models")
	cfg.Paths.Data = filepath.Join(root, "data")
	cfg.Paths.Database = filepath.Join(root, "data", "subforge.db")
	return cfg
}

func TestNewPipelineCreatesDirs(t *testing.T) {
	cfg := testConfig(t)

	p, err := NewPipeline(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	defer p.Close()

	for _, dir := range []string{
		cfg.Paths.Outputs,
		cfg.TranslationsDir(),
		cfg.Paths.Data,
		filepath.Join(cfg.Paths.Data, "scratch"),
	} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
	if p.Backend.Name() != "sherpa-onnx" {
		t.Errorf("backend = %s", p.Backend.Name())
	}
}

func TestNewPipelineUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.ASR.Backend = "vosk"
	if _, err := NewPipeline(cfg, nil, nil); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestJobDefaultsAndLocalModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.ASR.Model = "medium"
	cfg.ASR.BeamSize = 5

	d := JobDefaults(cfg)
	if d.ModelID != "medium" || d.BeamSize != 5 || d.NoSpeechThreshold != cfg.ASR.NoSpeechThreshold {
		t.Errorf("JobDefaults() = %+v", d)
	}

	cfg.Translation.Local.Enabled = false
	cfg.Translation.Local.Model = "aya"
	if got := LocalModel(cfg); got != "" {
		t.Errorf("LocalModel(disabled) = %q", got)
	}
	cfg.Translation.Local.Enabled = true
	if got := LocalModel(cfg); got != "aya" {
		t.Errorf("LocalModel(enabled) = %q", got)
	}
}
