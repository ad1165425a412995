package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bank"

var defaultBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// Metrics is the Prometheus implementation of the aggregate store, projection
// and HTTP instrumentation hooks.
type Metrics struct {
	loadDuration         *prometheus.HistogramVec
	saveDuration         *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	snapshotsSaved       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
	publishFailures      *prometheus.CounterVec

	projectionBatches  *prometheus.CounterVec
	projectionDuration *prometheus.HistogramVec

	httpRequests *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_load_duration_seconds",
			Help:      "Aggregate load latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type", "success"}),

		saveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_save_duration_seconds",
			Help:      "Aggregate save latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type", "success"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended to the log",
		}, []string{"aggregate_type"}),

		snapshotsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_saved_total",
			Help:      "Total number of snapshots written",
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Total number of saves rejected by the version check",
		}, []string{"aggregate_type"}),

		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Total number of saves rolled back because publishing failed",
		}, []string{"aggregate_type"}),

		projectionBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_batches_total",
			Help:      "Total number of event batches handled by the projection",
		}, []string{"result"}),

		projectionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "projection_batch_duration_seconds",
			Help:      "Projection batch handling time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"result"}),

		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.loadDuration,
		m.saveDuration,
		m.eventsAppended,
		m.snapshotsSaved,
		m.concurrencyConflicts,
		m.publishFailures,
		m.projectionBatches,
		m.projectionDuration,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) ObserveLoad(aggregateType string, d time.Duration, err error) {
	m.loadDuration.WithLabelValues(aggregateType, strconv.FormatBool(err == nil)).Observe(d.Seconds())
}

func (m *Metrics) ObserveSave(aggregateType string, d time.Duration, err error) {
	m.saveDuration.WithLabelValues(aggregateType, strconv.FormatBool(err == nil)).Observe(d.Seconds())
}

func (m *Metrics) EventsAppended(aggregateType string, n int) {
	m.eventsAppended.WithLabelValues(aggregateType).Add(float64(n))
}

func (m *Metrics) SnapshotSaved(aggregateType string) {
	m.snapshotsSaved.WithLabelValues(aggregateType).Inc()
}

func (m *Metrics) ConcurrencyConflict(aggregateType string) {
	m.concurrencyConflicts.WithLabelValues(aggregateType).Inc()
}

func (m *Metrics) PublishFailed(aggregateType string) {
	m.publishFailures.WithLabelValues(aggregateType).Inc()
}

func (m *Metrics) ObserveBatch(result string, d time.Duration) {
	m.projectionBatches.WithLabelValues(result).Inc()
	m.projectionDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
