package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"subforge/internal/progress"
)

const (
	deeplFreeURL = "https://api-free.deepl.com"
	deeplProURL  = "https://api.deepl.com"

	// DeepL accepts at most 50 texts and 128 KiB of request body per call.
	maxTextsPerRequest = 50
	maxBytesPerRequest = 120 * 1024
)

// StatusError is a non-2xx response from a translation provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// DeepLClient calls the DeepL v2 translate endpoint.
type DeepLClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	batchTexts int
	batchBytes int
	logger     *slog.Logger
}

// Option configures a DeepLClient.
type Option func(*DeepLClient)

// WithBaseURL overrides the endpoint chosen from the pro flag.
func WithBaseURL(u string) Option {
	return func(c *DeepLClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *DeepLClient) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRetry sets how often throttled or failed requests are retried and the
// initial backoff, which doubles per attempt.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *DeepLClient) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithBatchLimits overrides the per-request text count and byte limits.
func WithBatchLimits(texts, bytes int) Option {
	return func(c *DeepLClient) {
		c.batchTexts = texts
		c.batchBytes = bytes
	}
}

// WithDeepLLogger sets the logger.
func WithDeepLLogger(l *slog.Logger) Option {
	return func(c *DeepLClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewDeepLClient creates a client for the free or pro API tier.
func NewDeepLClient(apiKey string, pro bool, opts ...Option) *DeepLClient {
	c := &DeepLClient{
		apiKey:     apiKey,
		baseURL:    deeplFreeURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		retryDelay: time.Second,
		batchTexts: maxTextsPerRequest,
		batchBytes: maxBytesPerRequest,
		logger:     slog.Default(),
	}
	if pro {
		c.baseURL = deeplProURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// Translate translates texts in order, splitting them into requests that fit
// the provider limits. An empty source lets DeepL detect the language.
func (c *DeepLClient) Translate(ctx context.Context, texts []string, source, target string, sink progress.Sink) ([]string, error) {
	if c.apiKey == "" {
		return nil, errors.New("deepl: api key is required")
	}
	sourceCode, err := DeepLSourceCode(source)
	if err != nil {
		return nil, err
	}
	targetCode, err := DeepLTargetCode(target)
	if err != nil {
		return nil, err
	}

	sink = progress.OrDiscard(sink)
	batches := chunkTexts(texts, c.batchTexts, c.batchBytes)
	out := make([]string, 0, len(texts))
	for i, batch := range batches {
		translated, err := c.translateBatch(ctx, batch, sourceCode, targetCode)
		if err != nil {
			return nil, fmt.Errorf("deepl batch %d/%d: %w", i+1, len(batches), err)
		}
		out = append(out, translated...)
		sink.Report(float64(i+1)/float64(len(batches)), fmt.Sprintf("translated batch %d/%d", i+1, len(batches)))
	}
	return out, nil
}

func (c *DeepLClient) translateBatch(ctx context.Context, texts []string, source, target string) ([]string, error) {
	form := url.Values{}
	for _, t := range texts {
		form.Add("text", t)
	}
	form.Set("target_lang", target)
	if source != "" {
		form.Set("source_lang", source)
	}
	form.Set("split_sentences", "nonewlines")
	body := form.Encode()

	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying deepl request", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		translated, err := c.do(ctx, body)
		if err == nil {
			if len(translated) != len(texts) {
				return nil, fmt.Errorf("deepl returned %d translations for %d texts", len(translated), len(texts))
			}
			return translated, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *DeepLClient) do(ctx context.Context, body string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/translate", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: "deepl", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var parsed deeplResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	out := make([]string, len(parsed.Translations))
	for i, t := range parsed.Translations {
		out[i] = t.Text
	}
	return out, nil
}

// chunkTexts groups texts in order so that no group exceeds maxTexts entries
// or roughly maxBytes of form-encoded payload. A single oversized text gets
// a group of its own.
func chunkTexts(texts []string, maxTexts, maxBytes int) [][]string {
	var batches [][]string
	var current []string
	size := 0
	for _, t := range texts {
		n := len(url.QueryEscape(t)) + len("&text=")
		if len(current) > 0 && (len(current) >= maxTexts || size+n > maxBytes) {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, t)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
