package models

import (
	"encoding/json"
	"time"
)

// Job は非同期の文字起こし・翻訳タスク
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Params      json.RawMessage `json:"params,omitempty"`
	WorkDir     string          `json:"-"`
	Progress    float64         `json:"progress"`
	Step        string          `json:"step,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Finished はジョブが終了状態かどうか
func (j *Job) Finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Duration は開始から終了（または現在）までの時間
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// DecodeParams はパラメータJSONをvにデコードする
func (j *Job) DecodeParams(v any) error {
	if len(j.Params) == 0 {
		return nil
	}
	return json.Unmarshal(j.Params, v)
}

// ジョブ種別
const (
	JobKindTranscribeFile    = "transcribe:file"
	JobKindTranscribeYouTube = "transcribe:youtube"
	JobKindTranscribeMic     = "transcribe:mic"
	JobKindTranslate         = "translate"
)

// JobKinds は登録可能なジョブ種別の一覧
var JobKinds = []string{JobKindTranscribeFile, JobKindTranscribeYouTube, JobKindTranscribeMic, JobKindTranslate}

// ジョブステータス
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)
