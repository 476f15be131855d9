package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"subforge/internal/asr"
	"subforge/internal/jobs"
	"subforge/internal/pipeline"
	"subforge/internal/subtitle"
	"subforge/internal/translate"
	"subforge/internal/youtube"

	"github.com/labstack/echo/v4"
)

// VideoLookup fetches video metadata for the YouTube preview.
type VideoLookup interface {
	GetVideo(ctx context.Context, url string) (*youtube.VideoInfo, error)
}

// TranscribeHandler は文字起こし・翻訳ジョブの受付ハンドラー
type TranscribeHandler struct {
	svc      *jobs.Service
	videos   VideoLookup
	defaults asr.JobConfig
}

// NewTranscribeHandler は新しいTranscribeHandlerを作成
func NewTranscribeHandler(svc *jobs.Service, videos VideoLookup, defaults asr.JobConfig) *TranscribeHandler {
	return &TranscribeHandler{svc: svc, videos: videos, defaults: defaults}
}

// File はアップロードされた音声・動画ファイルの文字起こしを受け付ける
// POST /api/transcribe/file
func (h *TranscribeHandler) File(c echo.Context) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return badRequest(c, err)
	}
	uploads, closeAll, err := formUploads(c, "files")
	if err != nil {
		return badRequest(c, err)
	}
	defer closeAll()

	job, err := h.svc.SubmitTranscribeFiles(c.Request().Context(), uploads, req)
	if err != nil {
		return jsonError(c, err)
	}
	return accepted(c, job.ID, "Transcription queued")
}

// YouTube はYouTube動画の文字起こしを受け付ける
// POST /api/transcribe/youtube
func (h *TranscribeHandler) YouTube(c echo.Context) error {
	req, err := h.bindRequest(c)
	if err != nil {
		return badRequest(c, err)
	}
	job, err := h.svc.SubmitTranscribeYouTube(c.Request().Context(), c.FormValue("url"), req)
	if err != nil {
		return jsonError(c, err)
	}
	return accepted(c, job.ID, "YouTube transcription queued")
}

// Mic はマイク録音の文字起こしを受け付ける。multipart の audio フィールド、
// または sample_rate / channels クエリ付きの生の16bit PCM ボディ
// POST /api/transcribe/mic
func (h *TranscribeHandler) Mic(c echo.Context) error {
	ctx := c.Request().Context()

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		req, err := h.bindRequest(c)
		if err != nil {
			return badRequest(c, err)
		}
		uploads, closeAll, err := formUploads(c, "audio")
		if err != nil {
			return badRequest(c, err)
		}
		defer closeAll()
		job, err := h.svc.SubmitTranscribeMic(ctx, uploads[0], req)
		if err != nil {
			return jsonError(c, err)
		}
		return accepted(c, job.ID, "Recording queued")
	}

	// read the body before any form parsing touches it
	pcm, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest(c, fmt.Errorf("failed to read recording: %w", err))
	}
	rate, err := strconv.Atoi(c.QueryParam("sample_rate"))
	if err != nil {
		return badRequest(c, errors.New("sample_rate is required for raw PCM"))
	}
	channels := 1
	if ch := c.QueryParam("channels"); ch != "" {
		if channels, err = strconv.Atoi(ch); err != nil {
			return badRequest(c, fmt.Errorf("invalid channels: %q", ch))
		}
	}
	req, err := h.bindRequest(c)
	if err != nil {
		return badRequest(c, err)
	}
	job, err := h.svc.SubmitTranscribePCM(ctx, pcm, rate, channels, req)
	if err != nil {
		return jsonError(c, err)
	}
	return accepted(c, job.ID, "Recording queued")
}

// YouTubeMeta は動画のプレビュー情報を返す
// GET /api/youtube/meta?url=
func (h *TranscribeHandler) YouTubeMeta(c echo.Context) error {
	url := strings.TrimSpace(c.QueryParam("url"))
	if url == "" {
		return badRequest(c, errors.New("url is required"))
	}
	info, err := h.videos.GetVideo(c.Request().Context(), url)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, info)
}

// Translate は字幕ファイルの翻訳を受け付ける
// POST /api/translate
func (h *TranscribeHandler) Translate(c echo.Context) error {
	req := translate.Request{
		Provider:     translate.Provider(c.FormValue("provider")),
		Model:        c.FormValue("model"),
		APIKey:       strings.TrimSpace(c.FormValue("api_key")),
		Pro:          formBool(c, "pro"),
		Source:       c.FormValue("source"),
		Target:       c.FormValue("target"),
		AddTimestamp: formBool(c, "add_timestamp"),
	}
	if req.Provider == "" {
		req.Provider = translate.ProviderDeepL
	}
	if req.Source == "" {
		req.Source = translate.AutoDetect
	}

	uploads, closeAll, err := formUploads(c, "files")
	if err != nil {
		return badRequest(c, err)
	}
	defer closeAll()

	job, err := h.svc.SubmitTranslate(c.Request().Context(), uploads, req)
	if err != nil {
		return jsonError(c, err)
	}
	return accepted(c, job.ID, "Translation queued")
}

// bindRequest reads the recognition options, falling back to the server
// defaults for anything missing.
func (h *TranscribeHandler) bindRequest(c echo.Context) (pipeline.TranscribeRequest, error) {
	req := pipeline.TranscribeRequest{JobConfig: h.defaults}

	if v := c.FormValue("model"); v != "" {
		req.ModelID = v
	}
	if v := c.FormValue("language"); v != "" {
		req.Language = v
	}
	if v := c.FormValue("precision"); v != "" {
		req.Precision = v
	}
	req.Translate = formBool(c, "translate")
	req.AddTimestamp = formBool(c, "add_timestamp")

	format, err := subtitle.ParseFormat(c.FormValue("format"))
	if err != nil {
		return req, err
	}
	req.Format = format

	if v := c.FormValue("beam_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, fmt.Errorf("invalid beam_size: %q", v)
		}
		req.BeamSize = n
	}
	if err := formFloat(c, "log_prob_threshold", &req.LogProbThreshold); err != nil {
		return req, err
	}
	if err := formFloat(c, "no_speech_threshold", &req.NoSpeechThreshold); err != nil {
		return req, err
	}
	return req, nil
}

func formBool(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(c.FormValue(name))
	return v
}

func formFloat(c echo.Context, name string, dst *float64) error {
	v := c.FormValue(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", name, v)
	}
	*dst = f
	return nil
}

// formUploads opens every file of the multipart field. The returned
// function closes them.
func formUploads(c echo.Context, field string) ([]jobs.Upload, func(), error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, func() {}, errors.New("failed to parse form")
	}
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, func() {}, errors.New("no files uploaded")
	}

	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	uploads := make([]jobs.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("failed to open %s", fh.Filename)
		}
		opened = append(opened, f)
		uploads = append(uploads, jobs.Upload{Name: fh.Filename, Reader: f})
	}
	return uploads, closeAll, nil
}

func accepted(c echo.Context, id, message string) error {
	return c.JSON(http.StatusAccepted, map[string]string{
		"id":      id,
		"message": message,
	})
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
}
