// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// session.Metricsとtask.Metricsの両方を満たす。
type Collector struct {
	authAttempts  *prometheus.CounterVec
	taskOps       *prometheus.CounterVec
	resyncLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpad_auth_attempts_total",
			Help: "認証操作の試行数（操作種別・結果別）",
		}, []string{"operation", "outcome"}),
		taskOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpad_task_operations_total",
			Help: "タスク操作の実行数（操作種別・結果別）",
		}, []string{"operation", "outcome"}),
		resyncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskpad_resync_latency_seconds",
			Help:    "書き込み後の再取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.taskOps,
		c.resyncLatency,
	)

	return c
}

// RecordAuthAttempt は認証操作の結果を記録する。
func (c *Collector) RecordAuthAttempt(operation string, success bool) {
	c.authAttempts.WithLabelValues(operation, outcome(success)).Inc()
}

// RecordTaskOperation はタスク操作の結果を記録する。
func (c *Collector) RecordTaskOperation(operation string, success bool) {
	c.taskOps.WithLabelValues(operation, outcome(success)).Inc()
}

// RecordResyncLatency は再取得のレイテンシを記録する。
func (c *Collector) RecordResyncLatency(duration time.Duration) {
	c.resyncLatency.Observe(duration.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler は指定されたGathererの/metricsハンドラーを返す。
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
