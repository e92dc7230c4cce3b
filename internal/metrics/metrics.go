// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/newsbrief/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインと検索バックエンドから利用する。
type MetricsCollector interface {
	RecordValidation(b model.Buckets)
	RecordSelection(sel model.Selection)
	RecordRunDuration(duration time.Duration)
	ObserveBackendCall(backend, outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	verdicts     *prometheus.CounterVec
	errorKinds   *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
	dateMethods  *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
	backendCalls *prometheus.CounterVec
	fetchLatency prometheus.Histogram
	runDuration  prometheus.Histogram
	selected     *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbrief_verdict_total",
			Help: "判定別の検証件数",
		}, []string{"verdict"}),
		errorKinds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbrief_error_total",
			Help: "エラー種別ごとの件数",
		}, []string{"kind"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbrief_resolution_total",
			Help: "ラッパーURL解決に成功した手段ごとの件数",
		}, []string{"strategy"}),
		dateMethods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbrief_date_method_total",
			Help: "公開日を確定した手段ごとの件数",
		}, []string{"method"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbrief_http_status_total",
			Help: "記事取得のHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsbrief_backend_call_total",
			Help: "検索バックエンドの呼び出し数",
		}, []string{"backend", "outcome"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsbrief_fetch_latency_seconds",
			Help:    "記事取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsbrief_run_duration_seconds",
			Help:    "パイプライン1回の実行時間（秒）",
			Buckets: []float64{10, 30, 60, 120, 180, 300, 600},
		}),
		selected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "newsbrief_selected_items",
			Help: "直近の実行でセクションに選ばれた記事数",
		}, []string{"section"}),
	}

	reg.MustRegister(
		c.verdicts,
		c.errorKinds,
		c.resolutions,
		c.dateMethods,
		c.httpStatus,
		c.backendCalls,
		c.fetchLatency,
		c.runDuration,
		c.selected,
	)

	return c
}

// RecordValidation は全検証結果の判定・エラー種別・解決手段・日付の取得手段を記録する。
func (c *Collector) RecordValidation(b model.Buckets) {
	for _, r := range b.All() {
		c.verdicts.WithLabelValues(string(r.Verdict)).Inc()
		if r.ErrorKind != model.ErrorKindNone {
			c.errorKinds.WithLabelValues(string(r.ErrorKind)).Inc()
		}
		if r.Resolution != "" {
			c.resolutions.WithLabelValues(r.Resolution).Inc()
		}
		if r.DateMethod != "" {
			c.dateMethods.WithLabelValues(r.DateMethod).Inc()
		}
		if r.HTTPStatus != 0 {
			c.httpStatus.WithLabelValues(strconv.Itoa(r.HTTPStatus)).Inc()
		}
		if r.FetchLatency > 0 {
			c.fetchLatency.Observe(r.FetchLatency.Seconds())
		}
	}
}

// RecordSelection はセクションごとの選定件数を記録する。
func (c *Collector) RecordSelection(sel model.Selection) {
	c.selected.WithLabelValues(string(model.SectionPrimary)).Set(float64(len(sel.Primary)))
	c.selected.WithLabelValues(string(model.SectionSecondary)).Set(float64(len(sel.Secondary)))
	c.selected.WithLabelValues(string(model.SectionLocal)).Set(float64(len(sel.Local)))
}

// RecordRunDuration は実行時間を記録する。
func (c *Collector) RecordRunDuration(duration time.Duration) {
	c.runDuration.Observe(duration.Seconds())
}

// ObserveBackendCall は検索バックエンドの呼び出し結果を記録する。
func (c *Collector) ObserveBackendCall(backend, outcome string) {
	c.backendCalls.WithLabelValues(backend, outcome).Inc()
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
