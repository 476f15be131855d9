// Package modelcache holds at most one loaded model per family and reloads
// it when a different model identifier is requested.
package modelcache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loader loads the model named id at the given compute precision.
type Loader[H any] func(ctx context.Context, id, precision string) (H, error)

// Releaser frees a handle that is being replaced or evicted.
type Releaser[H any] func(H) error

// LoadObserver is notified after every load attempt.
type LoadObserver func(id, precision string, took time.Duration, err error)

// Entry describes the resident model.
type Entry struct {
	ID        string
	Precision string
	LoadedAt  time.Time
}

// Cache is a single-slot lazy loader. The zero value is not usable; call New.
//
// A request for the resident id with a different precision only updates the
// recorded precision, which callers apply at inference time. A request for a
// different id releases the resident handle first and then loads the new one,
// so two models of the same family are never held together.
type Cache[H any] struct {
	mu       sync.Mutex
	family   string
	load     Loader[H]
	release  Releaser[H]
	observer LoadObserver
	logger   *slog.Logger

	handle H
	entry  *Entry
}

// Option configures a Cache.
type Option[H any] func(*Cache[H])

// WithReleaser sets the function used to dispose of replaced handles.
func WithReleaser[H any](r func(H) error) Option[H] {
	return func(c *Cache[H]) { c.release = r }
}

// WithObserver registers a callback invoked after each load attempt.
func WithObserver[H any](o LoadObserver) Option[H] {
	return func(c *Cache[H]) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger[H any](l *slog.Logger) Option[H] {
	return func(c *Cache[H]) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty cache for the named model family ("asr", "translation").
func New[H any](family string, load func(ctx context.Context, id, precision string) (H, error), opts ...Option[H]) *Cache[H] {
	c := &Cache[H]{
		family: family,
		load:   load,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a handle for id, loading it when nothing is cached or the
// resident model has a different id. Load errors are returned unchanged.
func (c *Cache[H]) Get(ctx context.Context, id, precision string) (H, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry != nil && c.entry.ID == id {
		if c.entry.Precision != precision {
			c.logger.Debug("model precision changed", "family", c.family, "model", id,
				"from", c.entry.Precision, "to", precision)
			c.entry.Precision = precision
		}
		return c.handle, nil
	}

	c.evictLocked()

	c.logger.Info("loading model", "family", c.family, "model", id, "precision", precision)
	start := time.Now()
	h, err := c.load(ctx, id, precision)
	took := time.Since(start)
	if c.observer != nil {
		c.observer(id, precision, took, err)
	}
	if err != nil {
		var zero H
		return zero, err
	}

	c.handle = h
	c.entry = &Entry{ID: id, Precision: precision, LoadedAt: time.Now()}
	c.logger.Info("model loaded", "family", c.family, "model", id, "took", took.Round(time.Millisecond))
	return h, nil
}

// Current reports the resident entry, if any.
func (c *Cache[H]) Current() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return Entry{}, false
	}
	return *c.entry, true
}

// Peek returns the resident handle without loading.
func (c *Cache[H]) Peek() (H, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle, c.entry != nil
}

// Evict releases the resident model, if any.
func (c *Cache[H]) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
}

func (c *Cache[H]) evictLocked() {
	if c.entry == nil {
		return
	}
	if c.release != nil {
		if err := c.release(c.handle); err != nil {
			c.logger.Warn("failed to release model", "family", c.family, "model", c.entry.ID, "error", err)
		}
	}
	var zero H
	c.handle = zero
	c.entry = nil
}
