package common

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes recorded by MetricsCollector.RecordRefresh.
const (
	RefreshSuccess   = "success"
	RefreshFailure   = "failure"
	RefreshRejected  = "rejected"
	RefreshCancelled = "cancelled"
)

// MetricsCollector records session and refresh metrics. A nil collector is
// valid and records nothing.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	retriesTotal     *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	refreshesTotal   *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	refreshWaiters   prometheus.Gauge
}

// NewMetricsCollector registers the collectors on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry registers the collectors on reg.
func NewMetricsCollectorWithRegistry(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsession_requests_total",
				Help: "Total number of dispatched HTTP requests",
			},
			[]string{"method", "status_code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authsession_request_duration_seconds",
				Help:    "Duration of dispatched HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "authsession_requests_in_flight",
				Help: "Number of requests currently in the pipeline",
			},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsession_retries_total",
				Help: "Total number of retries by reason",
			},
			[]string{"reason"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsession_errors_total",
				Help: "Total number of failed requests by error kind",
			},
			[]string{"kind"},
		),
		refreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsession_credential_refreshes_total",
				Help: "Total number of credential refreshes by outcome",
			},
			[]string{"outcome"},
		),
		refreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authsession_credential_refresh_duration_seconds",
				Help:    "Duration of credential refreshes in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		refreshWaiters: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "authsession_refresh_waiters",
				Help: "Number of requests waiting on an in-flight refresh",
			},
		),
	}
}

func (m *MetricsCollector) RecordRequest(method string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *MetricsCollector) RequestStarted() {
	if m == nil {
		return
	}
	m.requestsInFlight.Inc()
}

func (m *MetricsCollector) RequestFinished() {
	if m == nil {
		return
	}
	m.requestsInFlight.Dec()
}

func (m *MetricsCollector) RecordRetry(reason string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(reason).Inc()
}

func (m *MetricsCollector) RecordError(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}

func (m *MetricsCollector) RecordRefresh(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.refreshesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.refreshDuration.Observe(duration.Seconds())
	}
}

func (m *MetricsCollector) SetRefreshWaiters(n int) {
	if m == nil {
		return
	}
	m.refreshWaiters.Set(float64(n))
}
