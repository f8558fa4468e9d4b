// Package library は貸出ライフサイクルのドメインロジックを提供する。
// チェックアウト → 延長 → 返却/期限切れの状態遷移を管理する。
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/openbare/internal/metrics"
	"github.com/hitoshi/openbare/internal/model"
	"github.com/hitoshi/openbare/internal/repository"
)

// AccountProvisioner はクラウドアカウントのプロビジョニングインターフェース。
type AccountProvisioner interface {
	// DeriveUsername は貸出種別のルールに従いユーザー名を導出する。
	DeriveUsername(ctx context.Context, kind *model.LendableKind, candidate string) (string, error)
	// CreateAccount はアカウントを作成し認証情報を返す。
	CreateAccount(ctx context.Context, username string, groups []string) (*model.Credentials, error)
	// DestroyAccount はアカウントをクリーンアップして削除する。
	// 存在しない場合は(false, nil)を返す。
	DestroyAccount(ctx context.Context, username string) (found bool, err error)
}

// ResourceReaper は貸出に紐づくクラウドリソースの後始末インターフェース。
type ResourceReaper interface {
	// CleanupResources は貸出に紐づくリソースを回収する。
	CleanupResources(ctx context.Context, lendable *model.Lendable) error
}

// Service は貸出の状態遷移を司るサービス層。
type Service struct {
	repo        repository.LendableRepository
	provisioner AccountProvisioner
	reaper      ResourceReaper
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	// forceReturn はクラウド側クリーンアップが失敗しても返却を成立させるか。
	forceReturn bool
	// cloudTimeout はプロビジョニング・破棄のリモート呼び出し全体の上限。
	cloudTimeout time.Duration
	now          func() time.Time
}

// ServiceConfig はServiceの動作設定。
type ServiceConfig struct {
	// CheckinForceReturn はクリーンアップ失敗時にも貸出を返却済みとするか。
	// trueの場合、失敗はTEARDOWN_FAILEDの警告として呼び出し元へ返される。
	CheckinForceReturn bool
	// CloudTimeout はクラウド呼び出しを伴う操作のタイムアウト。
	// 0の場合は呼び出し元のcontextに従う。
	CloudTimeout time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.LendableRepository,
	provisioner AccountProvisioner,
	reaper ResourceReaper,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg ServiceConfig,
) *Service {
	return &Service{
		repo:         repo,
		provisioner:  provisioner,
		reaper:       reaper,
		metrics:      collector,
		logger:       logger,
		forceReturn:  cfg.CheckinForceReturn,
		cloudTimeout: cfg.CloudTimeout,
		now:          time.Now,
	}
}

// cloudContext はクラウド呼び出し用にタイムアウト付きcontextを導出する。
func (s *Service) cloudContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cloudTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cloudTimeout)
}

// Checkout は指定種別の貸出を作成し、認証情報付きの貸出を返す。
// ユーザーが同種別を貸出中、または種別の同時貸出上限に達している場合は
// Unavailableを返す。プロビジョニングはDBへの書き込み前に行い、
// 書き込みが失敗した場合は作成済みアカウントを補償削除する。
func (s *Service) Checkout(ctx context.Context, userID, loginName, kindKey string) (*model.Lendable, error) {
	kind := model.KindOf(kindKey)
	if kind == nil {
		return nil, model.NewKindNotFoundError(kindKey)
	}

	available, err := s.IsAvailableForUser(ctx, userID, kindKey)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, model.NewUnavailableError(kind.Name)
	}

	cctx, cancel := s.cloudContext(ctx)
	defer cancel()

	username, err := s.provisioner.DeriveUsername(cctx, kind, loginName)
	if err != nil {
		return nil, err
	}

	// リモート呼び出しはDBトランザクションの外で行う。
	// ここでクラッシュした場合は孤児アカウントが残りうるが許容する。
	creds, err := s.provisioner.CreateAccount(cctx, username, kind.Groups)
	if err != nil {
		s.metrics.RecordProvisioningFailure()
		return nil, err
	}

	checkedOut := s.now()
	lendable := &model.Lendable{
		ID:                uuid.New().String(),
		Kind:              kind.Key,
		UserID:            userID,
		Username:          username,
		CheckedOutOn:      checkedOut,
		DueOn:             checkedOut.Add(lendingPeriod(kind)),
		RenewalsRemaining: kind.MaxRenewals,
		CreatedAt:         checkedOut,
		UpdatedAt:         checkedOut,
		Credentials:       creds,
	}

	if err := s.repo.Create(ctx, lendable); err != nil {
		// 補償: 永続化できなかった貸出のアカウントを破棄する。
		// 破棄自身の失敗はログに残すだけで元のエラーを覆い隠さない。
		if _, derr := s.provisioner.DestroyAccount(ctx, username); derr != nil {
			s.logger.Error("チェックアウト補償中のアカウント破棄に失敗しました",
				slog.String("username", username),
				slog.String("error", derr.Error()),
			)
		}
		if errors.Is(err, repository.ErrDuplicateActiveLoan) {
			return nil, model.NewUnavailableError(kind.Name)
		}
		return nil, fmt.Errorf("貸出の永続化に失敗しました: %w", err)
	}

	s.metrics.RecordCheckout(kind.Key)
	s.logger.Info("貸出をチェックアウトしました",
		slog.String("lendable_id", lendable.ID),
		slog.String("kind", kind.Key),
		slog.String("user_id", userID),
		slog.String("username", username),
		slog.Time("due_on", lendable.DueOn),
	)

	return lendable, nil
}

// Renew は貸出の返却期限を1貸出期間延長する。
// 延長回数を使い切っている場合はNoRenewalsLeftを返し、期限は変更しない。
func (s *Service) Renew(ctx context.Context, loanID, userID string) (*model.Lendable, error) {
	lendable, err := s.repo.FindActiveByIDAndUser(ctx, loanID, userID)
	if err != nil {
		return nil, fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}
	if lendable == nil {
		return nil, model.NewLoanNotFoundError(loanID)
	}

	kind := model.KindOf(lendable.Kind)
	if kind == nil {
		return nil, model.NewKindNotFoundError(lendable.Kind)
	}

	if !lendable.IsRenewable() {
		return nil, model.NewNoRenewalsLeftError()
	}

	lendable.RenewalsRemaining--
	lendable.DueOn = lendable.DueOn.Add(lendingPeriod(kind))

	if err := s.repo.Update(ctx, lendable); err != nil {
		return nil, fmt.Errorf("貸出の更新に失敗しました: %w", err)
	}

	s.metrics.RecordRenewal(kind.Key)
	s.logger.Info("貸出を延長しました",
		slog.String("lendable_id", lendable.ID),
		slog.Time("due_on", lendable.DueOn),
		slog.Int("renewals_remaining", lendable.RenewalsRemaining),
	)

	return lendable, nil
}

// Checkin は貸出を返却する。リソースの回収とアカウントの破棄を行った後、
// 貸出を返却済みとして記録する。クリーンアップが失敗した場合の挙動は
// CheckinForceReturnに従う: trueなら貸出は返却済みとした上で
// TEARDOWN_FAILEDを警告として返し、falseなら返却を中断する。
func (s *Service) Checkin(ctx context.Context, loanID, userID string) error {
	lendable, err := s.repo.FindActiveByIDAndUser(ctx, loanID, userID)
	if err != nil {
		return fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}
	if lendable == nil {
		return model.NewLoanNotFoundError(loanID)
	}

	cctx, cancel := s.cloudContext(ctx)
	defer cancel()

	var errs []error
	if err := s.reaper.CleanupResources(cctx, lendable); err != nil {
		errs = append(errs, fmt.Errorf("リソースの回収に失敗: %w", err))
	}
	if _, err := s.provisioner.DestroyAccount(cctx, lendable.Username); err != nil {
		errs = append(errs, fmt.Errorf("アカウントの破棄に失敗: %w", err))
	}
	teardownErr := errors.Join(errs...)

	if teardownErr != nil {
		s.metrics.RecordTeardownFailure()
		s.logger.Error("返却時のクリーンアップに失敗しました",
			slog.String("lendable_id", lendable.ID),
			slog.String("username", lendable.Username),
			slog.Bool("force_return", s.forceReturn),
			slog.String("error", teardownErr.Error()),
		)
		if !s.forceReturn {
			return model.NewTeardownFailedError(teardownErr)
		}
	}

	if err := s.repo.CheckIn(ctx, lendable.ID, s.now()); err != nil {
		return fmt.Errorf("貸出の返却記録に失敗しました: %w", err)
	}

	s.metrics.RecordCheckin(lendable.Kind)
	s.logger.Info("貸出を返却しました",
		slog.String("lendable_id", lendable.ID),
		slog.String("kind", lendable.Kind),
		slog.String("user_id", lendable.UserID),
	)

	if teardownErr != nil {
		return model.NewTeardownFailedError(teardownErr)
	}
	return nil
}

// IsAvailableForUser は指定ユーザーが種別をチェックアウト可能かを返す。
// 種別のアクティブ貸出数が上限未満、かつユーザーが同種別を保持していない
// 場合にtrueとなる。
func (s *Service) IsAvailableForUser(ctx context.Context, userID, kindKey string) (bool, error) {
	kind := model.KindOf(kindKey)
	if kind == nil {
		return false, model.NewKindNotFoundError(kindKey)
	}

	total, err := s.repo.CountActiveByKind(ctx, kind.Key)
	if err != nil {
		return false, fmt.Errorf("アクティブな貸出数の取得に失敗しました: %w", err)
	}
	if total >= kind.MaxCheckedOut {
		return false, nil
	}

	own, err := s.repo.CountActiveByKindAndUser(ctx, kind.Key, userID)
	if err != nil {
		return false, fmt.Errorf("ユーザーの貸出数の取得に失敗しました: %w", err)
	}
	return own == 0, nil
}

// NextAvailableDate は種別の次の空き予定日を返す。
// アクティブな貸出のうち最も早い返却期限、なければ現在時刻を返す。
// UI表示用の目安であり、厳密な予約を保証するものではない。
func (s *Service) NextAvailableDate(ctx context.Context, kindKey string) (time.Time, error) {
	kind := model.KindOf(kindKey)
	if kind == nil {
		return time.Time{}, model.NewKindNotFoundError(kindKey)
	}

	due, err := s.repo.EarliestActiveDueOn(ctx, kind.Key)
	if err != nil {
		return time.Time{}, fmt.Errorf("最短返却期限の取得に失敗しました: %w", err)
	}
	if due == nil {
		return s.now(), nil
	}
	return *due, nil
}

// ListCheckedOutBy はユーザーのアクティブな貸出一覧を返す。
func (s *Service) ListCheckedOutBy(ctx context.Context, userID string) ([]*model.Lendable, error) {
	lendables, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("貸出一覧の取得に失敗しました: %w", err)
	}
	return lendables, nil
}

// KindStatus は貸出種別の現在の貸出状況。カタログ表示に使用する。
type KindStatus struct {
	Kind          *model.LendableKind
	CheckedOut    int
	Available     bool
	NextAvailable time.Time
}

// KindStatuses は登録済みの全種別について、指定ユーザーから見た
// 貸出状況を返す。
func (s *Service) KindStatuses(ctx context.Context, userID string) ([]KindStatus, error) {
	var statuses []KindStatus
	for _, kind := range model.Kinds() {
		count, err := s.repo.CountActiveByKind(ctx, kind.Key)
		if err != nil {
			return nil, fmt.Errorf("アクティブな貸出数の取得に失敗しました: %w", err)
		}

		available, err := s.IsAvailableForUser(ctx, userID, kind.Key)
		if err != nil {
			return nil, err
		}

		next, err := s.NextAvailableDate(ctx, kind.Key)
		if err != nil {
			return nil, err
		}

		statuses = append(statuses, KindStatus{
			Kind:          kind,
			CheckedOut:    count,
			Available:     available,
			NextAvailable: next,
		})
	}
	return statuses, nil
}

// lendingPeriod は種別の1貸出期間をtime.Durationとして返す。
func lendingPeriod(kind *model.LendableKind) time.Duration {
	return time.Duration(kind.LendingPeriodDays) * 24 * time.Hour
}
