package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/openbare/internal/model"
)

// PostgresWatermarkRepo はPostgreSQLを使用したウォーターマークリポジトリ。
// command_stateテーブルにコレクタごとの最終成功時刻を保持する。
type PostgresWatermarkRepo struct {
	db *sql.DB
}

// NewPostgresWatermarkRepo はPostgresWatermarkRepoを生成する。
func NewPostgresWatermarkRepo(db *sql.DB) *PostgresWatermarkRepo {
	return &PostgresWatermarkRepo{db: db}
}

// GetOrCreate は指定名のウォーターマークを取得し、存在しなければ作成する。
// ON CONFLICT DO NOTHINGで並行実行に対して安全に初期化する。
func (r *PostgresWatermarkRepo) GetOrCreate(ctx context.Context, name string) (*model.Watermark, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_state (name, last_success, updated_at)
		 VALUES ($1, NULL, now())
		 ON CONFLICT (name) DO NOTHING`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("ウォーターマークの初期化に失敗しました: %w", err)
	}

	wm := &model.Watermark{}
	var lastSuccess sql.NullTime
	err = r.db.QueryRowContext(ctx,
		`SELECT name, last_success, updated_at FROM command_state WHERE name = $1`,
		name,
	).Scan(&wm.Name, &lastSuccess, &wm.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ウォーターマークの取得に失敗しました: %w", err)
	}

	if lastSuccess.Valid {
		t := lastSuccess.Time
		wm.LastSuccess = &t
	}
	return wm, nil
}

// SetLastSuccess は最終成功時刻を更新する。
// ウォーターマークは単調非減少とするため、過去方向への更新は行わない。
func (r *PostgresWatermarkRepo) SetLastSuccess(ctx context.Context, name string, t time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE command_state SET last_success = $2, updated_at = now()
		 WHERE name = $1
		   AND (last_success IS NULL OR last_success <= $2)`,
		name, t,
	)
	if err != nil {
		return fmt.Errorf("ウォーターマークの更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ WatermarkRepository = (*PostgresWatermarkRepo)(nil)
