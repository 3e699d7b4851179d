// Package metrics exposes Prometheus collectors for the dev backend.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qinghe"

// Metrics 汇总后端的各项指标。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	jobs          *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	pushClients   prometheus.Gauge
	pushFrames    *prometheus.CounterVec
	diagnoses     *prometheus.CounterVec
	quotaRejected prometheus.Counter
}

// New 创建独立的 registry，避免测试之间互相污染。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Chat reply jobs by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Time from a job becoming active to its terminal state.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
		}),
		pushClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
		pushFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "frames_total",
			Help:      "Diagnosis frames by delivery result.",
		}, []string{"result"}),
		diagnoses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "diagnosis",
			Name:      "total",
			Help:      "Completed diagnoses by type.",
		}, []string{"type"}),
		quotaRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "quota_rejected_total",
			Help:      "Messages rejected by the daily quota.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.jobs, m.jobDuration,
		m.pushClients, m.pushFrames,
		m.diagnoses, m.quotaRejected,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 的处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) JobFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) PushClientAdded() {
	if m == nil {
		return
	}
	m.pushClients.Inc()
}

func (m *Metrics) PushClientRemoved() {
	if m == nil {
		return
	}
	m.pushClients.Dec()
}

// PushFrame 记录一帧的投递结果：delivered 或 dropped。
func (m *Metrics) PushFrame(result string) {
	if m == nil {
		return
	}
	m.pushFrames.WithLabelValues(result).Inc()
}

func (m *Metrics) DiagnosisCompleted(diagnosisType string) {
	if m == nil {
		return
	}
	m.diagnoses.WithLabelValues(diagnosisType).Inc()
}

func (m *Metrics) QuotaRejected() {
	if m == nil {
		return
	}
	m.quotaRejected.Inc()
}
