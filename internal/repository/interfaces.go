// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/openbare/internal/model"
)

// LendableRepository は貸出データの永続化インターフェース。
// 「アクティブ」とはchecked_in_onがNULLの貸出を指す。
type LendableRepository interface {
	// FindActiveByIDAndUser は指定IDかつ指定ユーザーが所有するアクティブな貸出を取得する。
	// 見つからない場合はnilを返す。
	FindActiveByIDAndUser(ctx context.Context, id, userID string) (*model.Lendable, error)

	// FindLatestByUsername はプロビジョニング済みユーザー名で貸出を検索する。
	// 返却済みも含め、最新のチェックアウトを1件返す。見つからない場合はnilを返す。
	FindLatestByUsername(ctx context.Context, username string) (*model.Lendable, error)

	// CountActiveByKind は種別ごとのアクティブな貸出数を返す。
	CountActiveByKind(ctx context.Context, kind string) (int, error)

	// CountActiveByKindAndUser はユーザーが保持する指定種別のアクティブな貸出数を返す。
	CountActiveByKindAndUser(ctx context.Context, kind, userID string) (int, error)

	// ListActiveByUser はユーザーのアクティブな貸出一覧をチェックアウト日時昇順で返す。
	ListActiveByUser(ctx context.Context, userID string) ([]*model.Lendable, error)

	// ListOverdue は期限切れ（due_on <= now）のアクティブな貸出を返す。
	ListOverdue(ctx context.Context, now time.Time) ([]*model.Lendable, error)

	// ListNeedingNotice は期限がdeadline以前に迫っており、かつ
	// この閾値（またはより近い閾値）でまだ通知していない貸出を返す。
	// notify_timerがNULLまたはthresholdDaysより大きいものが対象。
	ListNeedingNotice(ctx context.Context, deadline time.Time, thresholdDays float64) ([]*model.Lendable, error)

	// EarliestActiveDueOn は種別のアクティブな貸出のうち最も早いdue_onを返す。
	// アクティブな貸出が存在しない場合はnilを返す。
	EarliestActiveDueOn(ctx context.Context, kind string) (*time.Time, error)

	// Create は貸出を作成する。
	// (user_id, kind, アクティブ)の一意制約に違反した場合はErrDuplicateActiveLoanを返す。
	Create(ctx context.Context, lendable *model.Lendable) error

	// Update はdue_on、renewals_remaining、notify_timerを更新する。
	Update(ctx context.Context, lendable *model.Lendable) error

	// UpdateNotifyTimer は通知タイマー（残日数の小数値）を更新する。
	UpdateNotifyTimer(ctx context.Context, id string, days float64) error

	// CheckIn は貸出を返却済みにする。レコードは削除せずchecked_in_onを記録する。
	CheckIn(ctx context.Context, id string, at time.Time) error
}

// ResourceRepository はリソース台帳の永続化インターフェース。
// 台帳エントリは履歴として保持され、通常経路では削除されない。
type ResourceRepository interface {
	// FindByNaturalKey は(resource_id, scope)の自然キーでリソースを検索する。
	// 見つからない場合はnilを返す。
	FindByNaturalKey(ctx context.Context, resourceID, scope string) (*model.Resource, error)

	// Create はリソースを作成する。IDが空の場合は新規に採番する。
	Create(ctx context.Context, resource *model.Resource) error

	// Update はacquired、preserve、released、reaped、kindを更新する。
	Update(ctx context.Context, resource *model.Resource) error

	// ListByLendable は貸出に紐づくリソース一覧を返す。
	ListByLendable(ctx context.Context, lendableID string) ([]*model.Resource, error)

	// Detach はリソースを貸出から切り離す（lendable_idをNULLにする）。
	Detach(ctx context.Context, id string) error
}

// WatermarkRepository はコレクタの最終成功時刻の永続化インターフェース。
type WatermarkRepository interface {
	// GetOrCreate は指定名のウォーターマークを取得し、存在しなければ作成する。
	GetOrCreate(ctx context.Context, name string) (*model.Watermark, error)

	// SetLastSuccess は最終成功時刻を更新する。
	SetLastSuccess(ctx context.Context, name string, t time.Time) error
}
