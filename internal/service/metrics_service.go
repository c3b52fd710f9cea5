package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry            *prometheus.Registry
	handler             http.Handler
	requestDuration     *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	errorTotal          *prometheus.CounterVec
	versioningTotal     *prometheus.CounterVec
	transactionTotal    *prometheus.CounterVec
	transactionDuration prometheus.Observer
	openGroups          prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	errorTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toms_http_errors_total",
		Help: "Error responses by route and error code",
	}, []string{"path", "code"})

	versioningTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toms_versioning_operations_total",
		Help: "Restriction versioning operations by outcome",
	}, []string{"operation", "outcome"})

	transactionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toms_transaction_groups_total",
		Help: "Closed transaction groups by outcome",
	}, []string{"outcome"})

	transactionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "toms_transaction_group_duration_seconds",
		Help:    "Lifetime of transaction groups from start to commit or rollback",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
	})

	openGroups := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "toms_transaction_groups_open",
		Help: "Transaction groups currently open",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, errorTotal, versioningTotal, transactionTotal, transactionDuration, openGroups, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:            registry,
		handler:             handler,
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		errorTotal:          errorTotal,
		versioningTotal:     versioningTotal,
		transactionTotal:    transactionTotal,
		transactionDuration: transactionDuration,
		openGroups:          openGroups,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveHTTPError counts an error response by its code.
func (m *MetricsService) ObserveHTTPError(path, code string) {
	if m == nil {
		return
	}
	m.errorTotal.WithLabelValues(path, code).Inc()
}

// ObserveVersioning counts engine operations.
func (m *MetricsService) ObserveVersioning(operation, outcome string) {
	if m == nil {
		return
	}
	m.versioningTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveTransactionStart tracks a newly opened group.
func (m *MetricsService) ObserveTransactionStart() {
	if m == nil {
		return
	}
	m.openGroups.Inc()
}

// ObserveTransaction records how a group ended and how long it was open.
func (m *MetricsService) ObserveTransaction(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transactionTotal.WithLabelValues(outcome).Inc()
	m.transactionDuration.Observe(duration.Seconds())
	m.openGroups.Dec()
}
