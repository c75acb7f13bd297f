package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the scheduling
// engine.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	slotsGenerated     prometheus.Counter
	conflictsDetected  *prometheus.CounterVec
	resolutionAttempts *prometheus.CounterVec
	modifications      *prometheus.CounterVec
	syncOperations     *prometheus.CounterVec
}

// NewMetricsService registers the engine's Prometheus collectors.
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

	slotsGenerated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_slots_generated_total",
		Help: "Total session slots produced by the calendar generator",
	})

	conflictsDetected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_conflicts_detected_total",
		Help: "Total conflict clusters found, by resource dimension",
	}, []string{"type"})

	resolutionAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conflict_resolutions_total",
		Help: "Conflict resolution attempts, by strategy and outcome",
	}, []string{"strategy", "outcome"})

	modifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_modifications_total",
		Help: "Schedule modification requests, by type and outcome",
	}, []string{"type", "outcome"})

	syncOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "template_sync_operations_total",
		Help: "Template sync runs, by terminal status",
	}, []string{"status"})

	registry.MustRegister(
		requestDuration,
		requestTotal,
		slotsGenerated,
		conflictsDetected,
		resolutionAttempts,
		modifications,
		syncOperations,
	)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		slotsGenerated:     slotsGenerated,
		conflictsDetected:  conflictsDetected,
		resolutionAttempts: resolutionAttempts,
		modifications:      modifications,
		syncOperations:     syncOperations,
	}
}

// Handler serves the scrape endpoint.
func (m *MetricsService) Handler() http.Handler {
	return m.handler
}

// ObserveRequest records one HTTP request.
func (m *MetricsService) ObserveRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// AddSlotsGenerated counts generator output.
func (m *MetricsService) AddSlotsGenerated(count int) {
	if count > 0 {
		m.slotsGenerated.Add(float64(count))
	}
}

// AddConflictsDetected counts detected clusters per dimension.
func (m *MetricsService) AddConflictsDetected(conflictType string, count int) {
	if count > 0 {
		m.conflictsDetected.WithLabelValues(conflictType).Add(float64(count))
	}
}

// ObserveResolution records one resolution attempt.
func (m *MetricsService) ObserveResolution(strategy string, succeeded bool) {
	m.resolutionAttempts.WithLabelValues(strategy, outcomeLabel(succeeded)).Inc()
}

// ObserveModification records one modification request.
func (m *MetricsService) ObserveModification(modificationType string, succeeded bool) {
	m.modifications.WithLabelValues(modificationType, outcomeLabel(succeeded)).Inc()
}

// ObserveSyncOperation records one sync run's terminal status.
func (m *MetricsService) ObserveSyncOperation(status string) {
	m.syncOperations.WithLabelValues(status).Inc()
}

func outcomeLabel(succeeded bool) string {
	if succeeded {
		return "success"
	}
	return "failure"
}
