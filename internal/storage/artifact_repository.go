package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"subforge/internal/models"
)

// ArtifactRepository は字幕ファイルのデータアクセス層
type ArtifactRepository struct {
	db *DB
}

// NewArtifactRepository は新しいArtifactRepositoryを作成
func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

const artifactColumns = `id, job_id, name, path, format, elapsed_ms, remote_url, created_at`

// Create は新しいアーティファクトを登録
func (r *ArtifactRepository) Create(ctx context.Context, a *models.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.JobID, a.Name, a.Path, a.Format, a.Elapsed.Milliseconds(), a.RemoteURL, toMillis(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	return nil
}

// GetByID はIDでアーティファクトを取得。存在しない場合は nil を返す
func (r *ArtifactRepository) GetByID(ctx context.Context, id string) (*models.Artifact, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListByJob はジョブのアーティファクトを作成順に取得
func (r *ArtifactRepository) ListByJob(ctx context.Context, jobID string) ([]models.Artifact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE job_id = ? ORDER BY created_at ASC, rowid ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SetRemoteURL はミラー先のURLを記録
func (r *ArtifactRepository) SetRemoteURL(ctx context.Context, id, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE artifacts SET remote_url = ? WHERE id = ?`, url, id)
	return err
}

func scanArtifact(s scanner) (*models.Artifact, error) {
	var a models.Artifact
	var elapsed, created int64
	if err := s.Scan(&a.ID, &a.JobID, &a.Name, &a.Path, &a.Format, &elapsed, &a.RemoteURL, &created); err != nil {
		return nil, err
	}
	a.Elapsed = time.Duration(elapsed) * time.Millisecond
	a.CreatedAt = fromMillis(created)
	return &a, nil
}
