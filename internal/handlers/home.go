package handlers

import (
	"net/http"

	"subforge/internal/asr"
	"subforge/internal/subtitle"
	"subforge/internal/translate"
	"subforge/web/components"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
)

// HomeHandler はトップページとモデル情報のハンドラー
type HomeHandler struct {
	backend    asr.Backend
	defaults   asr.JobConfig
	theme      string
	localModel string
}

// NewHomeHandler は新しいHomeHandlerを作成。localModel が空ならローカル翻訳は表示しない
func NewHomeHandler(backend asr.Backend, defaults asr.JobConfig, theme, localModel string) *HomeHandler {
	return &HomeHandler{backend: backend, defaults: defaults, theme: theme, localModel: localModel}
}

// Home はトップページを表示
func (h *HomeHandler) Home(c echo.Context) error {
	models := make([]components.ModelOption, 0, len(h.backend.Models()))
	for _, id := range h.backend.Models() {
		models = append(models, components.ModelOption{ID: id, Translatable: asr.IsTranslatable(id)})
	}
	formats := make([]string, 0, len(subtitle.Formats))
	for _, f := range subtitle.Formats {
		formats = append(formats, string(f))
	}
	precision := h.defaults.Precision
	if precision == "" {
		precision = h.backend.DefaultPrecision()
	}

	return render(c, components.Home(components.HomeData{
		Theme:             h.theme,
		Backend:           h.backend.Name(),
		Models:            models,
		DefaultModel:      h.defaults.ModelID,
		Precisions:        h.backend.Precisions(),
		DefaultPrecision:  precision,
		Languages:         asr.DisplayLanguages(),
		Formats:           formats,
		BeamSize:          h.defaults.BeamSize,
		LogProbThreshold:  h.defaults.LogProbThreshold,
		NoSpeechThreshold: h.defaults.NoSpeechThreshold,
		SourceLanguages:   translate.DeepLSourceLanguages(),
		TargetLanguages:   translate.DeepLTargetLanguages(),
		LocalTranslation:  h.localModel != "",
		LocalModel:        h.localModel,
	}))
}

type modelInfo struct {
	ID           string `json:"id"`
	Translatable bool   `json:"translatable"`
}

// Models はバックエンドのモデル一覧を返す
// GET /api/models
func (h *HomeHandler) Models(c echo.Context) error {
	list := make([]modelInfo, 0, len(h.backend.Models()))
	for _, id := range h.backend.Models() {
		list = append(list, modelInfo{ID: id, Translatable: asr.IsTranslatable(id)})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"backend":           h.backend.Name(),
		"models":            list,
		"precisions":        h.backend.Precisions(),
		"default_precision": h.backend.DefaultPrecision(),
		"languages":         asr.DisplayLanguages(),
		"formats":           subtitle.Formats,
	})
}

func render(c echo.Context, component templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	return component.Render(c.Request().Context(), c.Response())
}
