package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"subforge/internal/progress"
)

// OllamaBackend loads and unloads translation models on a local Ollama
// server. Loading is a prompt-less generate request, unloading the same with
// keep_alive set to zero.
type OllamaBackend struct {
	endpoint   string
	httpClient *http.Client
	keepAlive  string
}

// NewOllamaBackend creates a backend for the server at endpoint.
func NewOllamaBackend(endpoint string, httpClient *http.Client) *OllamaBackend {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &OllamaBackend{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: httpClient,
		keepAlive:  "30m",
	}
}

type ollamaRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt,omitempty"`
	System    string         `json:"system,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Load makes the server load id into memory. The precision argument is
// accepted for cache compatibility; Ollama picks the quantization from the tag.
func (b *OllamaBackend) Load(ctx context.Context, id, _ string) (*LocalModel, error) {
	if _, err := b.generate(ctx, ollamaRequest{Model: id, KeepAlive: b.keepAlive}); err != nil {
		return nil, fmt.Errorf("failed to load translation model %s: %w", id, err)
	}
	return &LocalModel{backend: b, id: id}, nil
}

// Unload asks the server to evict m.
func (b *OllamaBackend) Unload(m *LocalModel) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := b.generate(ctx, ollamaRequest{Model: m.id, KeepAlive: "0"})
	return err
}

func (b *OllamaBackend) generate(ctx context.Context, payload ollamaRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", &StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama: %s", parsed.Error)
	}
	return parsed.Response, nil
}

// LocalModel is a translation model resident on the Ollama server.
type LocalModel struct {
	backend *OllamaBackend
	id      string
}

// ID returns the model tag.
func (m *LocalModel) ID() string { return m.id }

const systemPrompt = "You translate subtitle lines. Reply with the translation only, " +
	"keep line breaks, and do not add quotes or commentary."

// Translate translates one subtitle line per request so cue boundaries are
// preserved exactly.
func (m *LocalModel) Translate(ctx context.Context, texts []string, source, target string, sink progress.Sink) ([]string, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("target language is required")
	}
	from := source
	if from == "" || strings.EqualFold(from, AutoDetect) {
		from = "the source language"
	}

	sink = progress.OrDiscard(sink)
	out := make([]string, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		prompt := fmt.Sprintf("Translate from %s to %s:\n\n%s", from, target, text)
		resp, err := m.backend.generate(ctx, ollamaRequest{
			Model:     m.id,
			Prompt:    prompt,
			System:    systemPrompt,
			KeepAlive: m.backend.keepAlive,
			Options:   &ollamaOptions{Temperature: 0},
		})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		out[i] = strings.TrimSpace(resp)
		sink.Report(float64(i+1)/float64(len(texts)), fmt.Sprintf("translated %d/%d", i+1, len(texts)))
	}
	return out, nil
}
