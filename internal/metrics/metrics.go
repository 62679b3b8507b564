// ============================================================================
// Stress-Lab Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集排程器與背景工作的運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 工作計數器 (CounterVec，依 worker 標籤)：
//      - stresslab_work_enqueued_total: 排入的工作數
//      - stresslab_work_succeeded_total: 成功的執行次數
//      - stresslab_work_failed_total: 失敗的執行次數
//      - stresslab_work_cancelled_total: 取消的工作數
//
//   2. 性能指標 (Histogram)：
//      - stresslab_work_duration_seconds: 單次執行耗時
//      - stresslab_stress_level: 壓力取樣值分佈（桶 1..10）
//
//   3. 狀態指標 (Gauge)：
//      - stresslab_stress_level_last: 最近一次壓力取樣值
//      - stresslab_timer_progress_percent: 計時器進度
//      - stresslab_periodic_work_registered: 已登記的週期工作數
//
// HTTP 端點:
//   通過 /metrics 端點暴露，由 Prometheus 定期抓取
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// 工作相關指標
	workEnqueued  *prometheus.CounterVec
	workSucceeded *prometheus.CounterVec
	workFailed    *prometheus.CounterVec
	workCancelled *prometheus.CounterVec
	workDuration  *prometheus.HistogramVec

	// 任務相關指標
	stressLevel     prometheus.Histogram
	stressLevelLast prometheus.Gauge
	timerProgress   prometheus.Gauge

	// 狀態指標
	periodicRegistered prometheus.Gauge
}

// NewCollector 創建新的指標收集器並註冊到 reg；reg 為 nil 時使用預設註冊器
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		workEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stresslab_work_enqueued_total",
			Help: "Total number of work requests enqueued",
		}, []string{"worker"}),
		workSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stresslab_work_succeeded_total",
			Help: "Total number of successful work runs",
		}, []string{"worker"}),
		workFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stresslab_work_failed_total",
			Help: "Total number of failed work runs",
		}, []string{"worker"}),
		workCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stresslab_work_cancelled_total",
			Help: "Total number of cancelled work requests",
		}, []string{"worker"}),
		workDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stresslab_work_duration_seconds",
			Help:    "Work run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
		stressLevel: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stresslab_stress_level",
			Help:    "Distribution of sampled stress levels",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		stressLevelLast: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stresslab_stress_level_last",
			Help: "Most recent sampled stress level",
		}),
		timerProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stresslab_timer_progress_percent",
			Help: "Progress of the running timer in percent",
		}),
		periodicRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stresslab_periodic_work_registered",
			Help: "Number of registered unique periodic work items",
		}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.workEnqueued,
		c.workSucceeded,
		c.workFailed,
		c.workCancelled,
		c.workDuration,
		c.stressLevel,
		c.stressLevelLast,
		c.timerProgress,
		c.periodicRegistered,
	)

	return c
}

// RecordEnqueued 記錄工作排入
func (c *Collector) RecordEnqueued(worker string) {
	c.workEnqueued.WithLabelValues(worker).Inc()
}

// RecordSucceeded 記錄一次成功執行
func (c *Collector) RecordSucceeded(worker string, d time.Duration) {
	c.workSucceeded.WithLabelValues(worker).Inc()
	c.workDuration.WithLabelValues(worker).Observe(d.Seconds())
}

// RecordFailed 記錄一次失敗執行
func (c *Collector) RecordFailed(worker string, d time.Duration) {
	c.workFailed.WithLabelValues(worker).Inc()
	c.workDuration.WithLabelValues(worker).Observe(d.Seconds())
}

// RecordCancelled 記錄工作取消
func (c *Collector) RecordCancelled(worker string) {
	c.workCancelled.WithLabelValues(worker).Inc()
}

// SetPeriodicRegistered 更新已登記的週期工作數
func (c *Collector) SetPeriodicRegistered(n int) {
	c.periodicRegistered.Set(float64(n))
}

// ObserveStressLevel 記錄壓力取樣值
func (c *Collector) ObserveStressLevel(level int) {
	c.stressLevel.Observe(float64(level))
	c.stressLevelLast.Set(float64(level))
}

// SetTimerProgress 更新計時器進度
func (c *Collector) SetTimerProgress(percent int) {
	c.timerProgress.Set(float64(percent))
}

// Handler 回傳 /metrics 的 HTTP handler
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewServer 建立提供 /metrics 端點的 HTTP 伺服器
//
// 參數：
//   - port: HTTP 伺服器端口
//   - gatherer: 指標來源；nil 時使用預設註冊器
func NewServer(port int, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
