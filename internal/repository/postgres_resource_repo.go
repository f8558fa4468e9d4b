package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/openbare/internal/model"
)

// PostgresResourceRepo はPostgreSQLを使用したリソース台帳リポジトリ。
type PostgresResourceRepo struct {
	db *sql.DB
}

// NewPostgresResourceRepo はPostgresResourceRepoを生成する。
func NewPostgresResourceRepo(db *sql.DB) *PostgresResourceRepo {
	return &PostgresResourceRepo{db: db}
}

const resourceColumns = `id, kind, lendable_id, resource_id, scope,
	acquired, preserve, released, reaped, created_at, updated_at`

func scanResource(row interface {
	Scan(dest ...interface{}) error
}) (*model.Resource, error) {
	res := &model.Resource{}
	var lendableID sql.NullString
	var acquired, preserve, released sql.NullTime

	err := row.Scan(
		&res.ID, &res.Kind, &lendableID, &res.ResourceID, &res.Scope,
		&acquired, &preserve, &released, &res.Reaped, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lendableID.Valid {
		s := lendableID.String
		res.LendableID = &s
	}
	res.Acquired = timePtr(acquired)
	res.Preserve = timePtr(preserve)
	res.Released = timePtr(released)
	return res, nil
}

// FindByNaturalKey は(resource_id, scope)の自然キーでリソースを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresResourceRepo) FindByNaturalKey(ctx context.Context, resourceID, scope string) (*model.Resource, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+`
		 FROM resources
		 WHERE resource_id = $1 AND scope = $2`,
		resourceID, scope,
	)

	res, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リソースの検索に失敗しました: %w", err)
	}
	return res, nil
}

// Create はリソースを作成する。IDが空の場合は新規に採番する。
func (r *PostgresResourceRepo) Create(ctx context.Context, res *model.Resource) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	now := time.Now()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	if res.UpdatedAt.IsZero() {
		res.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO resources (id, kind, lendable_id, resource_id, scope,
		                        acquired, preserve, released, reaped,
		                        created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		res.ID, res.Kind, nullStringPtr(res.LendableID), res.ResourceID, res.Scope,
		nullTime(res.Acquired), nullTime(res.Preserve), nullTime(res.Released),
		res.Reaped, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("リソースの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はacquired、preserve、released、reaped、kindを更新する。
func (r *PostgresResourceRepo) Update(ctx context.Context, res *model.Resource) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE resources SET
		    kind = $2,
		    acquired = $3,
		    preserve = $4,
		    released = $5,
		    reaped = $6,
		    updated_at = now()
		 WHERE id = $1`,
		res.ID, res.Kind,
		nullTime(res.Acquired), nullTime(res.Preserve), nullTime(res.Released),
		res.Reaped,
	)
	if err != nil {
		return fmt.Errorf("リソースの更新に失敗しました: %w", err)
	}
	return nil
}

// ListByLendable は貸出に紐づくリソース一覧を返す。
func (r *PostgresResourceRepo) ListByLendable(ctx context.Context, lendableID string) ([]*model.Resource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+resourceColumns+`
		 FROM resources
		 WHERE lendable_id = $1
		 ORDER BY scope ASC, created_at ASC`,
		lendableID,
	)
	if err != nil {
		return nil, fmt.Errorf("リソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var resources []*model.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("リソースの読み取りに失敗しました: %w", err)
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リソースの走査に失敗しました: %w", err)
	}
	return resources, nil
}

// Detach はリソースを貸出から切り離す（lendable_idをNULLにする）。
func (r *PostgresResourceRepo) Detach(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE resources SET lendable_id = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("リソースの切り離しに失敗しました: %w", err)
	}
	return nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// compile-time interface check
var _ ResourceRepository = (*PostgresResourceRepo)(nil)
