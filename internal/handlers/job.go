package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"subforge/internal/jobs"
	"subforge/internal/models"
	"subforge/internal/progress"
	"subforge/web/components"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// JobHandler はジョブAPIのハンドラー
type JobHandler struct {
	svc    *jobs.Service
	theme  string
	logger *slog.Logger
}

// NewJobHandler は新しいJobHandlerを作成
func NewJobHandler(svc *jobs.Service, theme string, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{svc: svc, theme: theme, logger: logger}
}

// List はジョブ一覧を取得
// GET /api/jobs?status=&limit=
func (h *JobHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	list, err := h.svc.List(ctx, c.QueryParam("status"), limit)
	if err != nil {
		return jsonError(c, err)
	}
	if list == nil {
		list = []models.Job{}
	}
	return c.JSON(http.StatusOK, list)
}

// Get はジョブを取得
// GET /api/jobs/:id
func (h *JobHandler) Get(c echo.Context) error {
	job, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// Stats はジョブ統計を取得
// GET /api/jobs/stats
func (h *JobHandler) Stats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// Delete は実行中ならキャンセル、キュー済みなら取り消し、終了済みなら削除
// DELETE /api/jobs/:id
func (h *JobHandler) Delete(c echo.Context) error {
	if err := h.svc.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return jsonError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Artifact は字幕ファイルをダウンロードさせる
// GET /api/artifacts/:id
func (h *JobHandler) Artifact(c echo.Context) error {
	a, err := h.svc.Artifact(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.Attachment(a.Path, a.Name+filepath.Ext(a.Path))
}

// ListPage はジョブ一覧ページを表示
func (h *JobHandler) ListPage(c echo.Context) error {
	list, err := h.svc.List(c.Request().Context(), "", 50)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return render(c, components.JobList(h.theme, list))
}

// DetailPage はジョブ詳細ページを表示
func (h *JobHandler) DetailPage(c echo.Context) error {
	job, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		return c.String(http.StatusNotFound, "job not found")
	}
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return render(c, components.JobDetail(h.theme, job))
}

// Stream はジョブの進捗をWebSocketで配信する。最初に現在の状態を送り、
// 終了状態を送ったら接続を閉じる
// GET /ws/jobs/:id
func (h *JobHandler) Stream(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if _, err := h.svc.Get(ctx, id); err != nil {
		return jsonError(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already replied
		h.logger.Debug("websocket upgrade failed", "job", id, "error", err)
		return nil
	}
	defer conn.Close()

	// subscribe before reading the snapshot so no update falls in between
	updates, unsubscribe := h.svc.Hub().Subscribe(id)
	defer unsubscribe()

	job, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil
	}
	snapshot := snapshotOf(job)
	if err := writeUpdate(conn, snapshot); err != nil || snapshot.Final() {
		closeNormal(conn)
		return nil
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeUpdate(conn, u); err != nil {
				return nil
			}
			if u.Final() {
				closeNormal(conn)
				return nil
			}
		}
	}
}

func snapshotOf(job *models.Job) progress.Update {
	u := progress.Update{
		JobID:    job.ID,
		Fraction: job.Progress,
		Label:    job.Step,
		Status:   job.Status,
		Time:     time.Now(),
	}
	switch job.Status {
	case models.JobStatusCompleted:
		u.Fraction, u.Label, u.Message = 1, "done", job.Summary
	case models.JobStatusFailed:
		u.Message = job.Error
	}
	return u
}

func writeUpdate(conn *websocket.Conn, u progress.Update) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(u)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}

// jsonError maps service errors to HTTP status codes.
func jsonError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, jobs.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound):
		status = http.StatusNotFound
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
