package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Source metrics
	MessagesRead *prometheus.CounterVec
	SeekSpan     *prometheus.GaugeVec

	// Materialization metrics
	RowsMaterialized  *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	BufferRecordCount *prometheus.GaugeVec
	DLQPublished      *prometheus.CounterVec

	// Job metrics
	StepDuration *prometheus.HistogramVec
	StepOutcomes *prometheus.CounterVec
	StepRetries  *prometheus.CounterVec

	// Storage metrics
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		MessagesRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafbridge_messages_read_total",
				Help: "Total number of messages read from source partitions",
			},
			[]string{"topic", "partition"},
		),
		SeekSpan: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafbridge_seek_span_offsets",
				Help: "Number of offsets covered by the last seeked range",
			},
			[]string{"topic", "partition"},
		),

		RowsMaterialized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafbridge_rows_materialized_total",
				Help: "Total number of rows written to the flat table",
			},
			[]string{"table", "partition"},
		),
		MessagesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafbridge_messages_rejected_total",
				Help: "Total number of messages rejected by the record parser",
			},
			[]string{"table", "partition"},
		),
		BufferRecordCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafbridge_buffer_record_count",
				Help: "Current number of rows buffered before a chunk is written",
			},
			[]string{"table", "partition"},
		),
		DLQPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafbridge_dlq_published_total",
				Help: "Total number of rejected payloads published to the dead letter topic",
			},
			[]string{"topic", "status"},
		),

		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafbridge_step_duration_seconds",
				Help:    "Duration of build job steps",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"step"},
		),
		StepOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafbridge_step_outcomes_total",
				Help: "Total number of finished build job steps by outcome",
			},
			[]string{"step", "outcome"},
		),
		StepRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafbridge_step_retries_total",
				Help: "Total number of step retries after retryable errors",
			},
			[]string{"step"},
		),

		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafbridge_files_written_total",
				Help: "Total number of files written to staging storage",
			},
			[]string{"table", "format", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafbridge_storage_write_duration_seconds",
				Help:    "Duration of staging writes including encoding",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"table", "partition"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafbridge_file_size_bytes",
				Help:    "Size of files written to staging storage",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"table", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafbridge_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
	}
}

// IncMessagesRead increments messages read counter.
func (m *Metrics) IncMessagesRead(topic string, partition int32) {
	m.MessagesRead.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Inc()
}

// ObserveSeekSpan records the span of a seeked partition range.
func (m *Metrics) ObserveSeekSpan(topic string, partition int32, span float64) {
	m.SeekSpan.WithLabelValues(topic, fmt.Sprintf("%d", partition)).Set(span)
}

// AddRowsMaterialized adds n materialized rows.
func (m *Metrics) AddRowsMaterialized(table string, partition int32, n int) {
	m.RowsMaterialized.WithLabelValues(table, fmt.Sprintf("%d", partition)).Add(float64(n))
}

// IncMessagesRejected increments rejected messages counter.
func (m *Metrics) IncMessagesRejected(table string, partition int32) {
	m.MessagesRejected.WithLabelValues(table, fmt.Sprintf("%d", partition)).Inc()
}

// SetBufferRecordCount sets the buffered rows gauge.
func (m *Metrics) SetBufferRecordCount(table string, partition int32, count float64) {
	m.BufferRecordCount.WithLabelValues(table, fmt.Sprintf("%d", partition)).Set(count)
}

// IncDLQPublished increments DLQ publish counter.
func (m *Metrics) IncDLQPublished(topic string, status string) {
	m.DLQPublished.WithLabelValues(topic, status).Inc()
}

// ObserveStep records the duration and outcome of a step.
func (m *Metrics) ObserveStep(step string, outcome string, duration float64) {
	m.StepDuration.WithLabelValues(step).Observe(duration)
	m.StepOutcomes.WithLabelValues(step, outcome).Inc()
}

// IncStepRetries increments step retries counter.
func (m *Metrics) IncStepRetries(step string) {
	m.StepRetries.WithLabelValues(step).Inc()
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(table string, format string, status string) {
	m.FilesWritten.WithLabelValues(table, format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(table string, format string, size float64) {
	m.FileSize.WithLabelValues(table, format).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(table string, partition int32, duration float64) {
	m.StorageWriteDuration.WithLabelValues(table, fmt.Sprintf("%d", partition)).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}
