package models

import "time"

// Artifact はジョブが書き出した字幕ファイル
type Artifact struct {
	ID        string        `json:"id"`
	JobID     string        `json:"job_id"`
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	Format    string        `json:"format"`
	Elapsed   time.Duration `json:"elapsed"`
	RemoteURL string        `json:"remote_url,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
