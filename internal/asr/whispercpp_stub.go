//go:build !whispercpp

package asr

import (
	"context"
	"errors"
)

var errWhisperCppUnavailable = errors.New("whisper.cpp backend not compiled in; rebuild with -tags whispercpp")

type whisperCppStub struct{}

// NewWhisperCppBackend returns a backend whose loads fail until the binary is
// built with the whispercpp tag and libwhisper is available to cgo.
func NewWhisperCppBackend(modelDir string, threads int) Backend {
	return whisperCppStub{}
}

func (whisperCppStub) Name() string             { return "whisper.cpp" }
func (whisperCppStub) Models() []string         { return nil }
func (whisperCppStub) Precisions() []string     { return []string{"float16"} }
func (whisperCppStub) DefaultPrecision() string { return "float16" }

func (whisperCppStub) Load(context.Context, string, string) (Model, error) {
	return nil, errWhisperCppUnavailable
}
