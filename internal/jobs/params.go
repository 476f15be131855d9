package jobs

import (
	"subforge/internal/pipeline"
	"subforge/internal/translate"
)

// FileParams is stored with transcribe:file jobs.
type FileParams struct {
	pipeline.TranscribeRequest
	Files []string `json:"files"`
}

// YouTubeParams is stored with transcribe:youtube jobs.
type YouTubeParams struct {
	pipeline.TranscribeRequest
	URL string `json:"url"`
}

// MicParams is stored with transcribe:mic jobs.
type MicParams struct {
	pipeline.TranscribeRequest
	File string `json:"file"`
}

// TranslateParams is stored with translate jobs. The API key is held in
// memory only and never reaches the database.
type TranslateParams struct {
	translate.Request
	Files []string `json:"files"`
}
