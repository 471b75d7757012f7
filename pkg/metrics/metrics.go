package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric subsystems; a full name is <namespace>_<subsystem>_<name>
const (
	subsystemAPI       = "api"
	subsystemIngestion = "ingestion"
	subsystemDB        = "db"
)

var (
	latencyBuckets = []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0}
	queryBuckets   = []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0}
	runBuckets     = []float64{1, 5, 10, 30, 60, 120, 300, 600}
	batchBuckets   = []float64{10, 50, 100, 500, 1000, 5000, 10000}
)

// Collector holds the weather service metrics
type Collector struct {
	// API
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec
	InFlightRequests   prometheus.Gauge

	// Ingestion
	IngestionFilesTotal        prometheus.Counter
	IngestionObservationsTotal prometheus.Counter
	IngestionStatsTotal        prometheus.Counter
	IngestionSkippedTotal      *prometheus.CounterVec
	IngestionDuration          prometheus.Histogram
	IngestionErrorsTotal       *prometheus.CounterVec
	IngestionBatchSize         prometheus.Histogram

	// Database
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec
}

// NewCollector builds every metric under namespace and registers it with reg.
// A nil reg leaves the metrics unregistered, so tests can build as many
// collectors as they like.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := factory{promauto.With(reg), namespace}

	return &Collector{
		APIRequestsTotal: f.counterVec(subsystemAPI, "requests_total",
			"API requests by endpoint, method and status", "endpoint", "method", "status"),
		APIRequestDuration: f.histogramVec(subsystemAPI, "request_duration_seconds",
			"API request latency in seconds", latencyBuckets, "endpoint"),
		APIErrorsTotal: f.counterVec(subsystemAPI, "errors_total",
			"API error responses by error type", "error_type", "endpoint"),
		InFlightRequests: f.gauge(subsystemAPI, "in_flight_requests",
			"API requests currently being served"),

		IngestionFilesTotal: f.counter(subsystemIngestion, "files_processed_total",
			"Station files parsed"),
		IngestionObservationsTotal: f.counter(subsystemIngestion, "observations_inserted_total",
			"Observation rows written"),
		IngestionStatsTotal: f.counter(subsystemIngestion, "yearly_stats_inserted_total",
			"Yearly statistic rows written"),
		IngestionSkippedTotal: f.counterVec(subsystemIngestion, "records_skipped_total",
			"Input lines skipped, by reason (missing_value, invalid)", "reason"),
		IngestionDuration: f.histogram(subsystemIngestion, "duration_seconds",
			"Wall time of an ingestion run", runBuckets),
		IngestionErrorsTotal: f.counterVec(subsystemIngestion, "errors_total",
			"Ingestion failures by type", "error_type"),
		IngestionBatchSize: f.histogram(subsystemIngestion, "batch_size",
			"Rows per bulk INSERT statement", batchBuckets),

		DBQueryDuration: f.histogramVec(subsystemDB, "query_duration_seconds",
			"Database call latency by query type", queryBuckets, "query_type"),
		DBConnectionPool: f.gaugeVec(subsystemDB, "connection_pool",
			"Connection pool size by state (in_use, idle, total)", "state"),
		DBErrorsTotal: f.counterVec(subsystemDB, "errors_total",
			"Database errors by type", "error_type"),
	}
}

type factory struct {
	promauto.Factory
	namespace string
}

func (f factory) counter(subsystem, name, help string) prometheus.Counter {
	return f.NewCounter(prometheus.CounterOpts{Namespace: f.namespace, Subsystem: subsystem, Name: name, Help: help})
}

func (f factory) counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return f.NewCounterVec(prometheus.CounterOpts{Namespace: f.namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func (f factory) gauge(subsystem, name, help string) prometheus.Gauge {
	return f.NewGauge(prometheus.GaugeOpts{Namespace: f.namespace, Subsystem: subsystem, Name: name, Help: help})
}

func (f factory) gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: f.namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func (f factory) histogram(subsystem, name, help string, buckets []float64) prometheus.Histogram {
	return f.NewHistogram(prometheus.HistogramOpts{Namespace: f.namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets})
}

func (f factory) histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: f.namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
}

// Timer measures one operation into a histogram
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer starts a timer that reports into observer
func NewTimer(observer prometheus.Observer) *Timer {
	return &Timer{start: time.Now(), observer: observer}
}

// TimeQuery starts a timer for one database call of queryType
func (c *Collector) TimeQuery(queryType string) *Timer {
	return NewTimer(c.DBQueryDuration.WithLabelValues(queryType))
}

// TimeIngestion starts a timer for a whole ingestion run
func (c *Collector) TimeIngestion() *Timer {
	return NewTimer(c.IngestionDuration)
}

// ObserveDuration records and returns the time elapsed since the timer started
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(d.Seconds())
	}
	return d
}

// RecordAPIRequest counts one served request and its latency
func (c *Collector) RecordAPIRequest(endpoint, method, status string, duration time.Duration) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	c.APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAPIError counts an error response
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordIngestionError counts an ingestion failure
func (c *Collector) RecordIngestionError(errorType string) {
	c.IngestionErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordSkippedRecord counts a skipped input line
func (c *Collector) RecordSkippedRecord(reason string) {
	c.IngestionSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordDBError counts a failed database call
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool publishes a connection pool snapshot
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
