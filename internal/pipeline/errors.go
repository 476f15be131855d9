package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"

	"subforge/internal/asr"
	"subforge/internal/audio"
	"subforge/internal/translate"
)

// Kind classifies a failed job.
type Kind string

const (
	KindInput     Kind = "input"
	KindModelLoad Kind = "model_load"
	KindInference Kind = "inference"
	KindIO        Kind = "io"
	KindNetwork   Kind = "network"
	KindCanceled  Kind = "canceled"
)

// Retryable reports whether resubmitting the same job may succeed.
func (k Kind) Retryable() bool {
	return k == KindNetwork
}

// Error is a failure of one pipeline step.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Errors that were never classified are
// reported as inference failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return classify(err, KindInference)
}

// wrap classifies err for op. fallback is used when nothing more specific
// is recognized.
func wrap(op string, err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: classify(err, fallback), Op: op, Err: err}
}

func classify(err error, fallback Kind) Kind {
	var (
		statusErr *translate.StatusError
		urlErr    *url.Error
		netErr    net.Error
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, asr.ErrModelLoad), errors.Is(err, translate.ErrModelLoad):
		return KindModelLoad
	case errors.Is(err, asr.ErrUnsupportedLanguage), errors.Is(err, audio.ErrDecode):
		return KindInference
	case errors.Is(err, translate.ErrInvalidRequest), errors.Is(err, fs.ErrNotExist):
		return KindInput
	case errors.Is(err, translate.ErrWriteOutput), errors.Is(err, audio.ErrScratch):
		return KindIO
	case errors.As(err, &statusErr):
		// a rejected key or an exhausted quota fails the same way again
		if !statusErr.Retryable() {
			return KindInput
		}
		return KindNetwork
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		return KindNetwork
	}
	return fallback
}
