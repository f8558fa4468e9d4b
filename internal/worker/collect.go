// Package worker はバックグラウンドで動作する収集・監視ジョブを提供する。
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/openbare/internal/cloud"
	"github.com/hitoshi/openbare/internal/metrics"
	"github.com/hitoshi/openbare/internal/model"
	"github.com/hitoshi/openbare/internal/repository"
)

// preserveTagKey はリーパーの削除対象から外すためのタグキー。
const preserveTagKey = "preserve"

// Collector は監査イベントストリームを定期的に取り込み、
// リソース台帳に反映するワーカー。
// スコープ（リージョン）ごとにウォーターマークを持ち、
// 最終成功時刻から少し巻き戻した時点以降のイベントを再取得する。
// 台帳への反映は自然キーで冪等なため、重複配信は無害である。
type Collector struct {
	lendables  repository.LendableRepository
	resources  repository.ResourceRepository
	watermarks repository.WatermarkRepository
	trail      cloud.TrailClient
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	limiter    *rate.Limiter

	regions  []string
	interval time.Duration
	overlap  time.Duration
	backfill time.Duration
	pageSize int
	maxPages int

	now func() time.Time
}

// CollectorConfig はCollectorの動作設定。
type CollectorConfig struct {
	// Regions は収集対象のスコープ一覧。
	Regions []string
	// Interval は収集サイクルの実行間隔。
	Interval time.Duration
	// Overlap はウォーターマークから巻き戻す幅。
	// 取り込みの遅延したイベントを拾い直すための重複取得分。
	Overlap time.Duration
	// Backfill はウォーターマークが存在しない初回の遡り幅。
	Backfill time.Duration
	// PageSize は1回のページ取得件数。
	PageSize int
	// MaxPages は1サイクルで取得するページ数の上限。
	// 超過したサイクルは失敗扱いとし、ウォーターマークを進めない。
	MaxPages int
	// RatePerSec はストリームAPI呼び出しのレート上限。
	RatePerSec float64
}

// NewCollector はCollectorの新しいインスタンスを生成する。
func NewCollector(
	lendables repository.LendableRepository,
	resources repository.ResourceRepository,
	watermarks repository.WatermarkRepository,
	trail cloud.TrailClient,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg CollectorConfig,
) *Collector {
	return &Collector{
		lendables:  lendables,
		resources:  resources,
		watermarks: watermarks,
		trail:      trail,
		metrics:    collector,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		regions:    cfg.Regions,
		interval:   cfg.Interval,
		overlap:    cfg.Overlap,
		backfill:   cfg.Backfill,
		pageSize:   cfg.PageSize,
		maxPages:   cfg.MaxPages,
		now:        time.Now,
	}
}

// Start は収集サイクルを定期実行する。contextのキャンセルで停止する。
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info("イベントコレクタを開始します",
		slog.Any("regions", c.regions),
		slog.Duration("interval", c.interval),
	)

	// 起動直後に1回実行してから定期実行に入る
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("イベントコレクタを停止します")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce は全スコープの収集を1回実行する。
// スコープごとに独立して失敗し、失敗はログに記録して次のスコープへ進む。
func (c *Collector) RunOnce(ctx context.Context) {
	for _, region := range c.regions {
		if err := c.CollectRegion(ctx, region); err != nil {
			c.logger.Error("イベント収集に失敗しました",
				slog.String("region", region),
				slog.String("error", err.Error()),
			)
		}
	}
}

// CollectRegion は1スコープ分の監査イベントを取り込む。
// ウォーターマークはサイクル開始時刻で更新する。サイクル中に発生した
// イベントは次回のoverlap巻き戻しで拾われるため取りこぼしはない。
// 途中で失敗した場合はウォーターマークを進めず、次回に全体をやり直す。
func (c *Collector) CollectRegion(ctx context.Context, region string) error {
	pollStart := c.now()
	name := watermarkName(region)

	wm, err := c.watermarks.GetOrCreate(ctx, name)
	if err != nil {
		return fmt.Errorf("ウォーターマークの取得に失敗しました: %w", err)
	}

	var since time.Time
	if wm.LastSuccess != nil {
		since = wm.LastSuccess.Add(-c.overlap)
	} else {
		since = pollStart.Add(-c.backfill)
	}

	events, err := c.fetchEvents(ctx, region, since)
	if err != nil {
		return err
	}

	// ストリームは新しい順に返すため、時系列順に反転してから適用する。
	// 作成イベントを終了イベントより先に処理しないと台帳が矛盾する。
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	applied := 0
	for _, ev := range events {
		ok, err := c.applyEvent(ctx, region, ev)
		if err != nil {
			return fmt.Errorf("イベント %s の適用に失敗しました: %w", ev.Name, err)
		}
		if ok {
			applied++
		}
	}

	if err := c.watermarks.SetLastSuccess(ctx, name, pollStart); err != nil {
		return fmt.Errorf("ウォーターマークの更新に失敗しました: %w", err)
	}

	c.metrics.RecordEventsApplied(applied)
	c.metrics.RecordCollectLatency(c.now().Sub(pollStart))
	c.logger.Info("イベント収集が完了しました",
		slog.String("region", region),
		slog.Int("fetched", len(events)),
		slog.Int("applied", applied),
		slog.Time("since", since),
	)
	return nil
}

// fetchEvents は継続トークンが尽きるまでページングしてイベントを集める。
// ページ数が上限を超えた場合はサイクル全体を失敗として扱う。
// 部分的に取り込んでウォーターマークを進めると取りこぼしが生じるため。
func (c *Collector) fetchEvents(ctx context.Context, region string, since time.Time) ([]cloud.Event, error) {
	var events []cloud.Event
	token := ""
	for page := 0; ; page++ {
		if page >= c.maxPages {
			return nil, fmt.Errorf("ページ数が上限 %d を超えました", c.maxPages)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
		}

		batch, next, err := c.trail.LookupEvents(ctx, region, since, c.pageSize, token)
		if err != nil {
			return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
		}
		events = append(events, batch...)

		if next == "" {
			return events, nil
		}
		token = next
	}
}

// applyEvent は監査イベント1件をリソース台帳に反映する。
// 追跡対象外のイベント、失敗した操作のイベント、貸出に紐づかない
// アクターのイベントは黙ってスキップする。
func (c *Collector) applyEvent(ctx context.Context, region string, ev cloud.Event) (bool, error) {
	// 失敗した操作はリソースを生まない
	if ev.ErrorCode != "" {
		return false, nil
	}

	switch ev.Name {
	case cloud.EventRunInstances, cloud.EventTerminateInstances,
		cloud.EventCreateTags, cloud.EventDeleteTags:
	default:
		return false, nil
	}

	actor := resolveActor(ev.Identity)
	if actor == "" {
		return false, nil
	}

	lendable, err := c.lendables.FindLatestByUsername(ctx, actor)
	if err != nil {
		return false, fmt.Errorf("アクター %q の貸出検索に失敗: %w", actor, err)
	}
	if lendable == nil {
		// 本システムの管理外のアクターによる操作
		return false, nil
	}

	switch ev.Name {
	case cloud.EventRunInstances:
		return true, c.applyRunInstances(ctx, region, lendable, ev)
	case cloud.EventTerminateInstances:
		return true, c.applyTerminateInstances(ctx, region, ev)
	case cloud.EventCreateTags:
		return true, c.applyCreateTags(ctx, region, lendable, ev)
	case cloud.EventDeleteTags:
		return true, c.applyDeleteTags(ctx, region, ev)
	}
	return false, nil
}

func (c *Collector) applyRunInstances(ctx context.Context, region string, lendable *model.Lendable, ev cloud.Event) error {
	for _, id := range ev.InstanceIDs {
		res, err := c.ensureResource(ctx, region, lendable, id, model.ResourceKindInstance)
		if err != nil {
			return err
		}
		if res.Acquired == nil {
			acquired := ev.Time
			res.Acquired = &acquired
			res.Kind = model.ResourceKindInstance
			if err := c.resources.Update(ctx, res); err != nil {
				return fmt.Errorf("リソース %s の更新に失敗: %w", id, err)
			}
		}
	}
	return nil
}

func (c *Collector) applyTerminateInstances(ctx context.Context, region string, ev cloud.Event) error {
	for _, id := range ev.InstanceIDs {
		res, err := c.resources.FindByNaturalKey(ctx, id, region)
		if err != nil {
			return fmt.Errorf("リソース %s の検索に失敗: %w", id, err)
		}
		if res == nil || res.IsReleased() {
			// 台帳にない、または既に終了を記録済み
			continue
		}
		released := ev.Time
		res.Released = &released
		if err := c.resources.Update(ctx, res); err != nil {
			return fmt.Errorf("リソース %s の更新に失敗: %w", id, err)
		}
	}
	return nil
}

func (c *Collector) applyCreateTags(ctx context.Context, region string, lendable *model.Lendable, ev cloud.Event) error {
	preserve, ok := preserveTagTime(ev)
	if !ok {
		// preserveタグ以外のタグ操作でも台帳エントリだけは残す
		for _, id := range ev.ResourceIDs {
			if _, err := c.ensureResource(ctx, region, lendable, id, model.ResourceKindTagged); err != nil {
				return err
			}
		}
		return nil
	}

	for _, id := range ev.ResourceIDs {
		res, err := c.ensureResource(ctx, region, lendable, id, model.ResourceKindTagged)
		if err != nil {
			return err
		}
		res.Preserve = &preserve
		if err := c.resources.Update(ctx, res); err != nil {
			return fmt.Errorf("リソース %s の更新に失敗: %w", id, err)
		}
	}
	return nil
}

func (c *Collector) applyDeleteTags(ctx context.Context, region string, ev cloud.Event) error {
	if _, ok := preserveTag(ev); !ok {
		return nil
	}
	for _, id := range ev.ResourceIDs {
		res, err := c.resources.FindByNaturalKey(ctx, id, region)
		if err != nil {
			return fmt.Errorf("リソース %s の検索に失敗: %w", id, err)
		}
		if res == nil || res.Preserve == nil {
			continue
		}
		res.Preserve = nil
		if err := c.resources.Update(ctx, res); err != nil {
			return fmt.Errorf("リソース %s の更新に失敗: %w", id, err)
		}
	}
	return nil
}

// ensureResource は自然キーでリソースを取得し、存在しなければ作成する。
// 重複配信されたイベントが同じリソースを二重に作らないための要となる。
func (c *Collector) ensureResource(ctx context.Context, region string, lendable *model.Lendable, resourceID string, kind model.ResourceKind) (*model.Resource, error) {
	res, err := c.resources.FindByNaturalKey(ctx, resourceID, region)
	if err != nil {
		return nil, fmt.Errorf("リソース %s の検索に失敗: %w", resourceID, err)
	}
	if res != nil {
		return res, nil
	}

	lendableID := lendable.ID
	res = &model.Resource{
		Kind:       kind,
		LendableID: &lendableID,
		ResourceID: resourceID,
		Scope:      region,
	}
	if err := c.resources.Create(ctx, res); err != nil {
		return nil, fmt.Errorf("リソース %s の作成に失敗: %w", resourceID, err)
	}
	return res, nil
}

// resolveActor はイベントの操作主体をプロビジョニング済みユーザー名に
// 解決する。解決できないアクター種別は空文字を返す。
func resolveActor(id cloud.Identity) string {
	switch id.Type {
	case cloud.IdentityTypeIAMUser:
		return id.Username
	case cloud.IdentityTypeRoot:
		return id.PrincipalID
	default:
		return ""
	}
}

// preserveTag はイベントからpreserveタグを探す。
func preserveTag(ev cloud.Event) (cloud.Tag, bool) {
	for _, tag := range ev.Tags {
		if tag.Key == preserveTagKey {
			return tag, true
		}
	}
	return cloud.Tag{}, false
}

// preserveTagTime はpreserveタグの値を日時として解釈する。
// 値が日付として解析できない場合はイベント時刻を採用する。
func preserveTagTime(ev cloud.Event) (time.Time, bool) {
	tag, ok := preserveTag(ev)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006/01/02", "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, tag.Value); err == nil {
			return t, true
		}
	}
	return ev.Time, true
}

func watermarkName(region string) string {
	return "collect_" + region
}
