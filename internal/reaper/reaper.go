// Package reaper は貸出終了時のクラウドリソース回収を提供する。
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/openbare/internal/cloud"
	"github.com/hitoshi/openbare/internal/metrics"
	"github.com/hitoshi/openbare/internal/model"
	"github.com/hitoshi/openbare/internal/repository"
)

// Reaper は貸出に紐づく台帳上のリソースを実際のクラウドから回収する。
type Reaper struct {
	resources repository.ResourceRepository
	compute   cloud.ComputeClient
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewReaper はReaperの新しいインスタンスを生成する。
func NewReaper(
	resources repository.ResourceRepository,
	compute cloud.ComputeClient,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		resources: resources,
		compute:   compute,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}
}

// CleanupResources は貸出に紐づくリソースを台帳に従って処理する。
//   - preserve指定されたリソースは貸出から切り離し、残す。
//   - 既にプロバイダ側で終了しているリソースはそのまま。
//   - それ以外のインスタンスは終了させ、reapedを記録する。
//
// タグのみ観測された一般リソースは能動的には削除しない。
// 個々の失敗で中断せず、発生した失敗をすべて集約して返す。
func (r *Reaper) CleanupResources(ctx context.Context, lendable *model.Lendable) error {
	resources, err := r.resources.ListByLendable(ctx, lendable.ID)
	if err != nil {
		return fmt.Errorf("リソース一覧の取得に失敗しました: %w", err)
	}

	var errs []error
	for _, res := range resources {
		if err := r.cleanupResource(ctx, lendable, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reaper) cleanupResource(ctx context.Context, lendable *model.Lendable, res *model.Resource) error {
	log := r.logger.With(
		slog.String("lendable_id", lendable.ID),
		slog.String("resource_id", res.ResourceID),
		slog.String("scope", res.Scope),
	)

	if res.IsPreserved() {
		log.Info("preserve指定のリソースを貸出から切り離します")
		if err := r.resources.Detach(ctx, res.ID); err != nil {
			return fmt.Errorf("リソース %s の切り離しに失敗: %w", res.ResourceID, err)
		}
		return nil
	}

	if res.IsReleased() {
		log.Debug("リソースは既に終了しています")
		return nil
	}

	if res.Kind != model.ResourceKindInstance {
		// タグのみ観測されたリソースは実体の種別が不明なため削除しない
		log.Debug("インスタンス以外のリソースは回収対象外です")
		return nil
	}

	log.Info("インスタンスを終了します")
	if err := r.compute.TerminateInstance(ctx, res.Scope, res.ResourceID); err != nil {
		return fmt.Errorf("インスタンス %s の終了に失敗: %w", res.ResourceID, err)
	}

	released := r.now()
	res.Released = &released
	res.Reaped = true
	if err := r.resources.Update(ctx, res); err != nil {
		return fmt.Errorf("リソース %s の台帳更新に失敗: %w", res.ResourceID, err)
	}

	r.metrics.RecordInstanceReaped()
	return nil
}
