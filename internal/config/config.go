// Package config loads server configuration from defaults, an optional YAML
// or TOML file, a .env file and SUBFORGE_* environment variables, in that
// order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Share    bool   `yaml:"share" toml:"share"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	Theme    string `yaml:"theme" toml:"theme"`
	// MaxUploadMB bounds request bodies for uploads and recordings.
	MaxUploadMB int `yaml:"max_upload_mb" toml:"max_upload_mb"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text, json
}

type PathsConfig struct {
	Outputs  string `yaml:"outputs" toml:"outputs"`
	Models   string `yaml:"models" toml:"models"`
	Data     string `yaml:"data" toml:"data"`
	Database string `yaml:"database" toml:"database"`
}

type ASRConfig struct {
	Backend           string  `yaml:"backend" toml:"backend"` // sherpa, whispercpp
	Threads           int     `yaml:"threads" toml:"threads"`
	Model             string  `yaml:"model" toml:"model"`
	Language          string  `yaml:"language" toml:"language"`
	BeamSize          int     `yaml:"beam_size" toml:"beam_size"`
	LogProbThreshold  float64 `yaml:"log_prob_threshold" toml:"log_prob_threshold"`
	NoSpeechThreshold float64 `yaml:"no_speech_threshold" toml:"no_speech_threshold"`
	Precision         string  `yaml:"precision" toml:"precision"`
}

type DeepLConfig struct {
	MaxRetries   int `yaml:"max_retries" toml:"max_retries"`
	RetryDelayMS int `yaml:"retry_delay_ms" toml:"retry_delay_ms"`
	TimeoutSec   int `yaml:"timeout_sec" toml:"timeout_sec"`
}

type LocalTranslationConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Model    string `yaml:"model" toml:"model"`
}

type TranslationConfig struct {
	DeepL DeepLConfig            `yaml:"deepl" toml:"deepl"`
	Local LocalTranslationConfig `yaml:"local" toml:"local"`
}

type WorkerConfig struct {
	PollIntervalMS int `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	// RetentionDays removes finished jobs older than this; 0 keeps them.
	RetentionDays int `yaml:"retention_days" toml:"retention_days"`
}

type MirrorConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	AccessKey string `yaml:"access_key" toml:"access_key"`
	SecretKey string `yaml:"secret_key" toml:"secret_key"`
	Bucket    string `yaml:"bucket" toml:"bucket"`
	Prefix    string `yaml:"prefix" toml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl" toml:"use_ssl"`
}

type TelemetryConfig struct {
	Metrics bool `yaml:"metrics" toml:"metrics"`
	// OTLPEndpoint enables span export over gRPC (host:port).
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" toml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces" toml:"stdout_traces"`
}

type EventsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	NATSURL string `yaml:"nats_url" toml:"nats_url"`
	Subject string `yaml:"subject" toml:"subject"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Log         LogConfig         `yaml:"log" toml:"log"`
	Paths       PathsConfig       `yaml:"paths" toml:"paths"`
	ASR         ASRConfig         `yaml:"asr" toml:"asr"`
	Translation TranslationConfig `yaml:"translation" toml:"translation"`
	Worker      WorkerConfig      `yaml:"worker" toml:"worker"`
	Mirror      MirrorConfig      `yaml:"mirror" toml:"mirror"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" toml:"telemetry"`
	Events      EventsConfig      `yaml:"events" toml:"events"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        7860,
			Theme:       "light",
			MaxUploadMB: 2048,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Paths: PathsConfig{
			Outputs:  "outputs",
			Models:   filepath.Join("models", "Whisper"),
			Data:     "data",
			Database: filepath.Join("data", "subforge.db"),
		},
		ASR: ASRConfig{
			Backend:           "sherpa",
			Threads:           4,
			Model:             "large-v3",
			Language:          "Automatic Detection",
			BeamSize:          1,
			LogProbThreshold:  -1.0,
			NoSpeechThreshold: 0.6,
		},
		Translation: TranslationConfig{
			DeepL: DeepLConfig{
				MaxRetries:   3,
				RetryDelayMS: 1000,
				TimeoutSec:   60,
			},
			Local: LocalTranslationConfig{
				Endpoint: "http://localhost:11434",
				Model:    "nllb-200-distilled-600M",
			},
		},
		Worker: WorkerConfig{
			PollIntervalMS: 1000,
		},
		Mirror: MirrorConfig{
			UseSSL: true,
			Prefix: "subtitles",
		},
		Telemetry: TelemetryConfig{
			Metrics: true,
		},
		Events: EventsConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "subforge",
		},
	}
}

// Load builds the configuration. A missing .env file is ignored; a missing
// config file is an error only when path was given explicitly. Files ending
// in .toml are parsed as TOML, anything else as YAML.
func Load(path string) (Config, error) {
	_ = godotenv.Load()
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	overrideInt(&cfg.Server.Port, "PORT")
	overrideString(&cfg.Server.Host, "SUBFORGE_HOST")
	overrideInt(&cfg.Server.Port, "SUBFORGE_PORT")
	overrideBool(&cfg.Server.Share, "SUBFORGE_SHARE")
	overrideString(&cfg.Server.Username, "SUBFORGE_USERNAME")
	overrideString(&cfg.Server.Password, "SUBFORGE_PASSWORD")
	overrideString(&cfg.Server.Theme, "SUBFORGE_THEME")
	overrideInt(&cfg.Server.MaxUploadMB, "SUBFORGE_MAX_UPLOAD_MB")
	overrideString(&cfg.Log.Level, "SUBFORGE_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "SUBFORGE_LOG_FORMAT")
	overrideString(&cfg.Paths.Outputs, "SUBFORGE_OUTPUTS_DIR")
	overrideString(&cfg.Paths.Models, "SUBFORGE_MODELS_DIR")
	overrideString(&cfg.Paths.Data, "SUBFORGE_DATA_DIR")
	overrideString(&cfg.Paths.Database, "SUBFORGE_DB_PATH")
	overrideString(&cfg.ASR.Backend, "SUBFORGE_ASR_BACKEND")
	overrideInt(&cfg.ASR.Threads, "SUBFORGE_ASR_THREADS")
	overrideString(&cfg.ASR.Model, "SUBFORGE_ASR_MODEL")
	overrideString(&cfg.ASR.Language, "SUBFORGE_ASR_LANGUAGE")
	overrideInt(&cfg.ASR.BeamSize, "SUBFORGE_ASR_BEAM_SIZE")
	overrideFloat(&cfg.ASR.LogProbThreshold, "SUBFORGE_ASR_LOG_PROB_THRESHOLD")
	overrideFloat(&cfg.ASR.NoSpeechThreshold, "SUBFORGE_ASR_NO_SPEECH_THRESHOLD")
	overrideString(&cfg.ASR.Precision, "SUBFORGE_ASR_PRECISION")
	overrideInt(&cfg.Translation.DeepL.MaxRetries, "SUBFORGE_DEEPL_MAX_RETRIES")
	overrideInt(&cfg.Translation.DeepL.RetryDelayMS, "SUBFORGE_DEEPL_RETRY_DELAY_MS")
	overrideInt(&cfg.Translation.DeepL.TimeoutSec, "SUBFORGE_DEEPL_TIMEOUT_SEC")
	overrideBool(&cfg.Translation.Local.Enabled, "SUBFORGE_LOCAL_TRANSLATION_ENABLED")
	overrideString(&cfg.Translation.Local.Endpoint, "SUBFORGE_LOCAL_TRANSLATION_ENDPOINT")
	overrideString(&cfg.Translation.Local.Model, "SUBFORGE_LOCAL_TRANSLATION_MODEL")
	overrideInt(&cfg.Worker.PollIntervalMS, "SUBFORGE_WORKER_POLL_INTERVAL_MS")
	overrideInt(&cfg.Worker.RetentionDays, "SUBFORGE_WORKER_RETENTION_DAYS")
	overrideBool(&cfg.Mirror.Enabled, "SUBFORGE_MIRROR_ENABLED")
	overrideString(&cfg.Mirror.Endpoint, "SUBFORGE_MIRROR_ENDPOINT")
	overrideString(&cfg.Mirror.AccessKey, "SUBFORGE_MIRROR_ACCESS_KEY")
	overrideString(&cfg.Mirror.SecretKey, "SUBFORGE_MIRROR_SECRET_KEY")
	overrideString(&cfg.Mirror.Bucket, "SUBFORGE_MIRROR_BUCKET")
	overrideString(&cfg.Mirror.Prefix, "SUBFORGE_MIRROR_PREFIX")
	overrideBool(&cfg.Mirror.UseSSL, "SUBFORGE_MIRROR_USE_SSL")
	overrideBool(&cfg.Telemetry.Metrics, "SUBFORGE_METRICS")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SUBFORGE_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SUBFORGE_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "SUBFORGE_STDOUT_TRACES")
	overrideBool(&cfg.Events.Enabled, "SUBFORGE_EVENTS_ENABLED")
	overrideString(&cfg.Events.NATSURL, "SUBFORGE_NATS_URL")
	overrideString(&cfg.Events.Subject, "SUBFORGE_EVENTS_SUBJECT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if (c.Server.Username == "") != (c.Server.Password == "") {
		return errors.New("server.username and server.password must be set together")
	}
	switch c.Server.Theme {
	case "light", "dark":
	default:
		return fmt.Errorf("server.theme must be light or dark, got %q", c.Server.Theme)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch strings.ToLower(c.ASR.Backend) {
	case "", "sherpa", "sherpa-onnx", "whispercpp", "whisper.cpp":
	default:
		return fmt.Errorf("asr.backend %q is not supported", c.ASR.Backend)
	}
	if c.ASR.BeamSize < 1 {
		return errors.New("asr.beam_size must be at least 1")
	}
	if c.Paths.Outputs == "" || c.Paths.Data == "" || c.Paths.Database == "" {
		return errors.New("paths.outputs, paths.data and paths.database must not be empty")
	}
	if c.Worker.PollIntervalMS <= 0 {
		return errors.New("worker.poll_interval_ms must be positive")
	}
	if c.Translation.Local.Enabled && c.Translation.Local.Endpoint == "" {
		return errors.New("translation.local.endpoint is required when local translation is enabled")
	}
	if c.Mirror.Enabled && (c.Mirror.Endpoint == "" || c.Mirror.Bucket == "") {
		return errors.New("mirror.endpoint and mirror.bucket are required when the mirror is enabled")
	}
	if c.Events.Enabled && (c.Events.NATSURL == "" || c.Events.Subject == "") {
		return errors.New("events.nats_url and events.subject are required when events are enabled")
	}
	return nil
}

// Addr returns the listen address. Share binds every interface.
func (c Config) Addr() string {
	host := c.Server.Host
	if c.Server.Share {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Server.Port)
}

// AuthEnabled reports whether basic auth credentials are configured.
func (c Config) AuthEnabled() bool {
	return c.Server.Username != "" && c.Server.Password != ""
}

// PollInterval returns the worker polling interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMS) * time.Millisecond
}

// InputsDir is where uploads are kept until their job finishes.
func (c Config) InputsDir() string {
	return filepath.Join(c.Paths.Data, "inputs")
}

// TranslationsDir receives translated subtitles.
func (c Config) TranslationsDir() string {
	return filepath.Join(c.Paths.Outputs, "translations")
}
