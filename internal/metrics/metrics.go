// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/adsync/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期ジョブとGogsクライアントから利用する。
type MetricsCollector interface {
	RecordSyncRun(status model.SyncRunStatus, duration time.Duration)
	RecordSummary(summary *model.SyncSummary)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncRuns         *prometheus.CounterVec
	syncLatency      prometheus.Histogram
	lastSuccess      prometheus.Gauge
	entitiesCreated  *prometheus.CounterVec
	membershipsAdded prometheus.Counter
	mappingsSkipped  prometheus.Counter
	syncFailures     prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adsync_sync_runs_total",
			Help: "結果別の同期パス実行数",
		}, []string{"status"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "adsync_sync_duration_seconds",
			Help:    "同期パスの所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adsync_last_success_timestamp_seconds",
			Help: "最後に成功した同期パスの完了時刻（UNIX秒）",
		}),
		entitiesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adsync_entities_created_total",
			Help: "種別ごとのGogsエンティティ作成数",
		}, []string{"kind"}),
		membershipsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adsync_memberships_added_total",
			Help: "チームメンバー追加の合計数",
		}),
		mappingsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adsync_mappings_skipped_total",
			Help: "チームを解決できずスキップしたマッピングの合計数",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adsync_sync_failures_total",
			Help: "同期パス内で記録された個別操作の失敗数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adsync_gogs_http_status_total",
			Help: "Gogs APIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncLatency,
		c.lastSuccess,
		c.entitiesCreated,
		c.membershipsAdded,
		c.mappingsSkipped,
		c.syncFailures,
		c.httpStatus,
	)

	return c
}

// RecordSyncRun は同期パスの結果と所要時間を記録する。
func (c *Collector) RecordSyncRun(status model.SyncRunStatus, duration time.Duration) {
	c.syncRuns.WithLabelValues(string(status)).Inc()
	c.syncLatency.Observe(duration.Seconds())
	if status == model.SyncRunStatusSucceeded {
		c.lastSuccess.SetToCurrentTime()
	}
}

// RecordSummary は同期パスの集計をカウンタに加算する。
func (c *Collector) RecordSummary(summary *model.SyncSummary) {
	if summary == nil {
		return
	}
	c.entitiesCreated.WithLabelValues("org").Add(float64(summary.OrgsCreated))
	c.entitiesCreated.WithLabelValues("team").Add(float64(summary.TeamsCreated))
	c.entitiesCreated.WithLabelValues("user").Add(float64(summary.UsersCreated))
	c.membershipsAdded.Add(float64(summary.MembershipsAdded))
	c.mappingsSkipped.Add(float64(summary.MappingsSkipped))
	c.syncFailures.Add(float64(summary.Failures))
}

// RecordHTTPStatus はGogs APIのHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
