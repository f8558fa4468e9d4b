package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/openbare/internal/model"
)

// ErrDuplicateActiveLoan は同一ユーザー・同一種別のアクティブな貸出が
// 既に存在する場合にCreateが返すエラー。
// idx_lendables_active_user_kindの部分ユニークインデックス違反に対応する。
var ErrDuplicateActiveLoan = errors.New("同一種別のアクティブな貸出が既に存在します")

// PostgresLendableRepo はPostgreSQLを使用した貸出リポジトリ。
type PostgresLendableRepo struct {
	db *sql.DB
}

// NewPostgresLendableRepo はPostgresLendableRepoを生成する。
func NewPostgresLendableRepo(db *sql.DB) *PostgresLendableRepo {
	return &PostgresLendableRepo{db: db}
}

const lendableColumns = `id, kind, user_id, username, checked_out_on, checked_in_on,
	due_on, renewals_remaining, notify_timer, created_at, updated_at`

func scanLendable(row interface {
	Scan(dest ...interface{}) error
}) (*model.Lendable, error) {
	l := &model.Lendable{}
	var checkedIn sql.NullTime
	var notifyTimer sql.NullFloat64

	err := row.Scan(
		&l.ID, &l.Kind, &l.UserID, &l.Username, &l.CheckedOutOn, &checkedIn,
		&l.DueOn, &l.RenewalsRemaining, &notifyTimer, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if checkedIn.Valid {
		t := checkedIn.Time
		l.CheckedInOn = &t
	}
	if notifyTimer.Valid {
		v := notifyTimer.Float64
		l.NotifyTimer = &v
	}
	return l, nil
}

// FindActiveByIDAndUser は指定IDかつ指定ユーザーが所有するアクティブな貸出を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresLendableRepo) FindActiveByIDAndUser(ctx context.Context, id, userID string) (*model.Lendable, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+lendableColumns+`
		 FROM lendables
		 WHERE id = $1 AND user_id = $2 AND checked_in_on IS NULL`,
		id, userID,
	)

	l, err := scanLendable(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}
	return l, nil
}

// FindLatestByUsername はプロビジョニング済みユーザー名で貸出を検索する。
// 返却済みも含め、最新のチェックアウトを1件返す。見つからない場合はnilを返す。
func (r *PostgresLendableRepo) FindLatestByUsername(ctx context.Context, username string) (*model.Lendable, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+lendableColumns+`
		 FROM lendables
		 WHERE username = $1
		 ORDER BY checked_out_on DESC
		 LIMIT 1`,
		username,
	)

	l, err := scanLendable(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザー名による貸出の検索に失敗しました: %w", err)
	}
	return l, nil
}

// CountActiveByKind は種別ごとのアクティブな貸出数を返す。
func (r *PostgresLendableRepo) CountActiveByKind(ctx context.Context, kind string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lendables WHERE kind = $1 AND checked_in_on IS NULL`,
		kind,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("アクティブな貸出数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// CountActiveByKindAndUser はユーザーが保持する指定種別のアクティブな貸出数を返す。
func (r *PostgresLendableRepo) CountActiveByKindAndUser(ctx context.Context, kind, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lendables
		 WHERE kind = $1 AND user_id = $2 AND checked_in_on IS NULL`,
		kind, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ユーザーのアクティブな貸出数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// ListActiveByUser はユーザーのアクティブな貸出一覧をチェックアウト日時昇順で返す。
func (r *PostgresLendableRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.Lendable, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+lendableColumns+`
		 FROM lendables
		 WHERE user_id = $1 AND checked_in_on IS NULL
		 ORDER BY checked_out_on ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("貸出一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectLendables(rows)
}

// ListOverdue は期限切れ（due_on <= now）のアクティブな貸出を返す。
func (r *PostgresLendableRepo) ListOverdue(ctx context.Context, now time.Time) ([]*model.Lendable, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+lendableColumns+`
		 FROM lendables
		 WHERE checked_in_on IS NULL AND due_on <= $1
		 ORDER BY due_on ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("期限切れ貸出の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectLendables(rows)
}

// ListNeedingNotice は期限がdeadline以前に迫っており、かつこの閾値で
// まだ通知していない貸出を返す。
func (r *PostgresLendableRepo) ListNeedingNotice(ctx context.Context, deadline time.Time, thresholdDays float64) ([]*model.Lendable, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+lendableColumns+`
		 FROM lendables
		 WHERE checked_in_on IS NULL
		   AND due_on <= $1
		   AND (notify_timer IS NULL OR notify_timer > $2)
		 ORDER BY due_on ASC`,
		deadline, thresholdDays,
	)
	if err != nil {
		return nil, fmt.Errorf("通知対象貸出の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectLendables(rows)
}

// EarliestActiveDueOn は種別のアクティブな貸出のうち最も早いdue_onを返す。
// アクティブな貸出が存在しない場合はnilを返す。
func (r *PostgresLendableRepo) EarliestActiveDueOn(ctx context.Context, kind string) (*time.Time, error) {
	var due time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT due_on FROM lendables
		 WHERE kind = $1 AND checked_in_on IS NULL
		 ORDER BY due_on ASC
		 LIMIT 1`,
		kind,
	).Scan(&due)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最短返却期限の取得に失敗しました: %w", err)
	}
	return &due, nil
}

// Create は貸出を作成する。
// 部分ユニークインデックス違反の場合はErrDuplicateActiveLoanを返す。
func (r *PostgresLendableRepo) Create(ctx context.Context, l *model.Lendable) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lendables (id, kind, user_id, username, checked_out_on,
		                        checked_in_on, due_on, renewals_remaining,
		                        notify_timer, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.Kind, l.UserID, l.Username, l.CheckedOutOn,
		nullTime(l.CheckedInOn), l.DueOn, l.RenewalsRemaining,
		nullFloat(l.NotifyTimer), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActiveLoan
		}
		return fmt.Errorf("貸出の作成に失敗しました: %w", err)
	}
	return nil
}

// Update はdue_on、renewals_remaining、notify_timerを更新する。
func (r *PostgresLendableRepo) Update(ctx context.Context, l *model.Lendable) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE lendables SET
		    due_on = $2,
		    renewals_remaining = $3,
		    notify_timer = $4,
		    updated_at = now()
		 WHERE id = $1`,
		l.ID, l.DueOn, l.RenewalsRemaining, nullFloat(l.NotifyTimer),
	)
	if err != nil {
		return fmt.Errorf("貸出の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateNotifyTimer は通知タイマー（残日数の小数値）を更新する。
func (r *PostgresLendableRepo) UpdateNotifyTimer(ctx context.Context, id string, days float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE lendables SET notify_timer = $2, updated_at = now() WHERE id = $1`,
		id, days,
	)
	if err != nil {
		return fmt.Errorf("通知タイマーの更新に失敗しました: %w", err)
	}
	return nil
}

// CheckIn は貸出を返却済みにする。レコードは削除せずchecked_in_onを記録する。
func (r *PostgresLendableRepo) CheckIn(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE lendables SET checked_in_on = $2, updated_at = now()
		 WHERE id = $1 AND checked_in_on IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("貸出の返却記録に失敗しました: %w", err)
	}
	return nil
}

func collectLendables(rows *sql.Rows) ([]*model.Lendable, error) {
	var lendables []*model.Lendable
	for rows.Next() {
		l, err := scanLendable(rows)
		if err != nil {
			return nil, fmt.Errorf("貸出の読み取りに失敗しました: %w", err)
		}
		lendables = append(lendables, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("貸出の走査に失敗しました: %w", err)
	}
	return lendables, nil
}

// isUniqueViolation はPostgreSQLの一意制約違反（23505）かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// compile-time interface check
var _ LendableRepository = (*PostgresLendableRepo)(nil)
