// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordTokenIssued()
	RecordVerification(state string)
	RecordLogin(success bool)
	RecordRosterImport(marked, skipped int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokensIssued   prometheus.Counter
	verifications  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	rosterMarked   prometheus.Counter
	rosterSkipped  prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memberproof_tokens_issued_total",
			Help: "発行した証明トークンの合計数",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberproof_verifications_total",
			Help: "検証結果別の検証リクエスト数",
		}, []string{"state"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberproof_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		rosterMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memberproof_roster_marked_total",
			Help: "名簿インポートで会員にしたユーザー数",
		}),
		rosterSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memberproof_roster_skipped_total",
			Help: "名簿インポートでスキップしたユーザー名の数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberproof_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memberproof_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.verifications,
		c.logins,
		c.rosterMarked,
		c.rosterSkipped,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordTokenIssued は証明トークンの発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordVerification は検証結果を記録する。
func (c *Collector) RecordVerification(state string) {
	c.verifications.WithLabelValues(state).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.logins.WithLabelValues(result).Inc()
}

// RecordRosterImport は名簿インポートの結果を記録する。
func (c *Collector) RecordRosterImport(marked, skipped int) {
	c.rosterMarked.Add(float64(marked))
	c.rosterSkipped.Add(float64(skipped))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
