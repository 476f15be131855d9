package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"subforge/internal/models"
)

// JobRepository はジョブのデータアクセス層
type JobRepository struct {
	db *DB
}

// NewJobRepository は新しいJobRepositoryを作成
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, kind, status, params, work_dir, progress, current_step, summary,
	error, error_kind, created_at, started_at, completed_at`

// Create は新しいジョブを作成
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = time.Now()
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	params := job.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, status, params, work_dir, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Kind, job.Status, string(params), job.WorkDir, toMillis(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID はIDでジョブを取得。存在しない場合は nil を返す
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetNextQueued は最も古いキュー済みジョブを取得
func (r *JobRepository) GetNextQueued(ctx context.Context) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT 1`, models.JobStatusQueued)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Start はキュー済みジョブを開始状態にする。キャンセル等で既にキュー済みでなければ false
func (r *JobRepository) Start(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, progress = 0
		WHERE id = ? AND status = ?`,
		models.JobStatusRunning, toMillis(time.Now()), id, models.JobStatusQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateProgress はジョブの進捗とステップを更新
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress float64, step string) error {
	return r.exec(ctx, `UPDATE jobs SET progress = ?, current_step = ? WHERE id = ?`, progress, step, id)
}

// Complete はジョブを完了状態にする
func (r *JobRepository) Complete(ctx context.Context, id, summary string) error {
	return r.exec(ctx, `
		UPDATE jobs SET status = ?, progress = 1, current_step = '', summary = ?, completed_at = ?
		WHERE id = ?`,
		models.JobStatusCompleted, summary, toMillis(time.Now()), id)
}

// Fail はジョブを失敗状態にする
func (r *JobRepository) Fail(ctx context.Context, id, errorMsg, errorKind string) error {
	return r.exec(ctx, `
		UPDATE jobs SET status = ?, error = ?, error_kind = ?, completed_at = ?
		WHERE id = ?`,
		models.JobStatusFailed, errorMsg, errorKind, toMillis(time.Now()), id)
}

// CancelQueued はキュー済みジョブを失敗扱いにする。既に開始していれば false
func (r *JobRepository) CancelQueued(ctx context.Context, id, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, error_kind = 'canceled', completed_at = ?
		WHERE id = ? AND status = ?`,
		models.JobStatusFailed, reason, toMillis(time.Now()), id, models.JobStatusQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FailInterrupted は再起動で中断された実行中ジョブを失敗扱いにする
func (r *JobRepository) FailInterrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = 'interrupted by restart', error_kind = 'canceled', completed_at = ?
		WHERE status = ?`,
		models.JobStatusFailed, toMillis(time.Now()), models.JobStatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByStatus はステータスでジョブ一覧を取得
func (r *JobRepository) ListByStatus(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, status, limit)
}

// ListRecent は最近のジョブ一覧を取得
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
}

// Delete はジョブを削除（アーティファクトはカスケード削除）
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM jobs WHERE id = ?`, id)
}

// CleanupCompleted は終了済みジョブを削除（指定期間より古いもの）
func (r *JobRepository) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status IN (?, ?) AND completed_at < ?`,
		models.JobStatusCompleted, models.JobStatusFailed, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByStatus はステータスごとのジョブ数を取得
func (r *JobRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *JobRepository) exec(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *JobRepository) list(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.Job, error) {
	var job models.Job
	var params string
	var created int64
	var started, completed sql.NullInt64
	err := s.Scan(
		&job.ID, &job.Kind, &job.Status, &params, &job.WorkDir, &job.Progress, &job.Step,
		&job.Summary, &job.Error, &job.ErrorKind, &created, &started, &completed,
	)
	if err != nil {
		return nil, err
	}
	job.Params = json.RawMessage(params)
	job.CreatedAt = fromMillis(created)
	job.StartedAt = fromNullMillis(started)
	job.CompletedAt = fromNullMillis(completed)
	return &job, nil
}
