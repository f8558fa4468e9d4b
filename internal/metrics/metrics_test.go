package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			if len(mf.GetMetric()) != 1 {
				t.Fatalf("expected 1 metric for %s, got %d", name, len(mf.GetMetric()))
			}
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

// TestRecordCheckout_IncrementsCounter はチェックアウトカウンタが増加することを検証する。
func TestRecordCheckout_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCheckout("demo-account")
	c.RecordCheckout("demo-account")

	if val := counterValue(t, reg, "openbare_checkout_total"); val != 2 {
		t.Errorf("checkout_total = %v, want 2", val)
	}
}

// TestRecordEventsApplied_AddsCount は適用イベント数が加算されることを検証する。
func TestRecordEventsApplied_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEventsApplied(3)
	c.RecordEventsApplied(4)

	if val := counterValue(t, reg, "openbare_events_applied_total"); val != 7 {
		t.Errorf("events_applied_total = %v, want 7", val)
	}
}

// TestRecordCollectLatency_ObservesHistogram は収集レイテンシが記録されることを検証する。
func TestRecordCollectLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCollectLatency(250 * time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == "openbare_collect_latency_seconds" {
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 1 {
				t.Errorf("sample count = %d, want 1", h.GetSampleCount())
			}
			return
		}
	}
	t.Error("openbare_collect_latency_seconds metric not found")
}

// TestHandler_ServesMetrics はスクレイプエンドポイントが登録済みメトリクスを返すことを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordInstanceReaped()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "openbare_instance_reaped_total 1") {
		t.Errorf("スクレイプ出力にカウンタが含まれるべきです:\n%s", body)
	}
}
