// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordCheckout(kind string)
	RecordCheckin(kind string)
	RecordRenewal(kind string)
	RecordProvisioningFailure()
	RecordTeardownFailure()
	RecordInstanceReaped()
	RecordEventsApplied(count int)
	RecordCollectLatency(duration time.Duration)
	RecordNotificationSent()
	RecordNotificationFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkouts         *prometheus.CounterVec
	checkins          *prometheus.CounterVec
	renewals          *prometheus.CounterVec
	provisioningFails prometheus.Counter
	teardownFails     prometheus.Counter
	instancesReaped   prometheus.Counter
	eventsApplied     prometheus.Counter
	collectLatency    prometheus.Histogram
	notificationsSent prometheus.Counter
	notificationFails prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openbare_checkout_total",
			Help: "チェックアウト成功の合計数",
		}, []string{"kind"}),
		checkins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openbare_checkin_total",
			Help: "返却の合計数",
		}, []string{"kind"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "openbare_renewal_total",
			Help: "延長成功の合計数",
		}, []string{"kind"}),
		provisioningFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openbare_provisioning_fail_total",
			Help: "アカウントプロビジョニング失敗の合計数",
		}),
		teardownFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openbare_teardown_fail_total",
			Help: "クラウド側クリーンアップ失敗の合計数",
		}),
		instancesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openbare_instance_reaped_total",
			Help: "リーパーが終了させたインスタンスの合計数",
		}),
		eventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openbare_events_applied_total",
			Help: "リソース台帳に適用された監査イベントの合計数",
		}),
		collectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "openbare_collect_latency_seconds",
			Help:    "イベント収集サイクルのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openbare_notification_sent_total",
			Help: "送信された期限通知の合計数",
		}),
		notificationFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "openbare_notification_fail_total",
			Help: "送信に失敗した期限通知の合計数",
		}),
	}

	reg.MustRegister(
		c.checkouts,
		c.checkins,
		c.renewals,
		c.provisioningFails,
		c.teardownFails,
		c.instancesReaped,
		c.eventsApplied,
		c.collectLatency,
		c.notificationsSent,
		c.notificationFails,
	)

	return c
}

// RecordCheckout はチェックアウト成功を記録する。
func (c *Collector) RecordCheckout(kind string) {
	c.checkouts.WithLabelValues(kind).Inc()
}

// RecordCheckin は返却を記録する。
func (c *Collector) RecordCheckin(kind string) {
	c.checkins.WithLabelValues(kind).Inc()
}

// RecordRenewal は延長成功を記録する。
func (c *Collector) RecordRenewal(kind string) {
	c.renewals.WithLabelValues(kind).Inc()
}

// RecordProvisioningFailure はプロビジョニング失敗を記録する。
func (c *Collector) RecordProvisioningFailure() {
	c.provisioningFails.Inc()
}

// RecordTeardownFailure はクリーンアップ失敗を記録する。
func (c *Collector) RecordTeardownFailure() {
	c.teardownFails.Inc()
}

// RecordInstanceReaped はリーパーによるインスタンス終了を記録する。
func (c *Collector) RecordInstanceReaped() {
	c.instancesReaped.Inc()
}

// RecordEventsApplied は台帳に適用されたイベント数を記録する。
func (c *Collector) RecordEventsApplied(count int) {
	c.eventsApplied.Add(float64(count))
}

// RecordCollectLatency は収集サイクルのレイテンシを記録する。
func (c *Collector) RecordCollectLatency(duration time.Duration) {
	c.collectLatency.Observe(duration.Seconds())
}

// RecordNotificationSent は通知送信成功を記録する。
func (c *Collector) RecordNotificationSent() {
	c.notificationsSent.Inc()
}

// RecordNotificationFailure は通知送信失敗を記録する。
func (c *Collector) RecordNotificationFailure() {
	c.notificationFails.Inc()
}

// Nop は何も記録しないMetricsCollector実装。テストで使用する。
type Nop struct{}

func (Nop) RecordCheckout(kind string)                 {}
func (Nop) RecordCheckin(kind string)                  {}
func (Nop) RecordRenewal(kind string)                  {}
func (Nop) RecordProvisioningFailure()                 {}
func (Nop) RecordTeardownFailure()                     {}
func (Nop) RecordInstanceReaped()                      {}
func (Nop) RecordEventsApplied(count int)              {}
func (Nop) RecordCollectLatency(duration time.Duration) {}
func (Nop) RecordNotificationSent()                    {}
func (Nop) RecordNotificationFailure()                 {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
