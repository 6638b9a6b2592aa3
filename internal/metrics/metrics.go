// Package metrics exposes the relay's Prometheus collectors (SPEC_FULL.md
// §4.11), grounded on odin-ws-server's internal/metrics/metrics.go
// promauto registration style, renamed from generic websocket_* names to
// the relay's own domain vocabulary and labeled by reason/kind/role per
// the collector list SPEC_FULL.md §4.11 names explicitly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jonmccon/pocket-parrot-relay/internal/registry"
)

// Metrics holds every collector the relay registers. Call sites update
// gauges by passing current registry/batcher/stats snapshots rather than
// tracking duplicate counters, since core state already lives in those
// packages and is the single source of truth.
type Metrics struct {
	producersActive      prometheus.Gauge
	producerAdmissions   prometheus.Counter
	producerRejections   *prometheus.CounterVec
	activeSenderChanges  *prometheus.CounterVec
	dataPointsTotal      prometheus.Counter
	dataPointsPerMinute  prometheus.Gauge
	bulkBatchesTotal     prometheus.Counter
	bulkBatchSize        prometheus.Histogram
	bulkQueueDepth       prometheus.Gauge
	bulkQueueDropped     prometheus.Counter
	listenerCount        *prometheus.GaugeVec
	orientationLatency   prometheus.Histogram
	errorsTotal          *prometheus.CounterVec
	messageLatency       prometheus.Histogram

	cpuPercent  prometheus.Gauge
	memoryBytes prometheus.Gauge
	goroutines  prometheus.Gauge

	startTime time.Time
}

// New registers every collector against the default Prometheus registerer,
// as cmd/relay does exactly once at process start.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers every collector against reg instead of the
// global default — tests use a fresh prometheus.NewRegistry() per case so
// repeated Metrics construction doesn't panic on duplicate registration.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		startTime: time.Now(),

		producersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_producers_active",
			Help: "Currently registered producer connections",
		}),
		producerAdmissions: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_producer_admissions_total",
			Help: "Total producer connections admitted into the registry",
		}),
		producerRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_producer_rejections_total",
			Help: "Total rejected producer actions, by reason",
		}, []string{"reason"}),
		activeSenderChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_active_sender_changes_total",
			Help: "Total active-sender promotions, by triggering reason",
		}, []string{"reason"}),
		dataPointsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_data_points_total",
			Help: "Total accepted sensor data points, lifetime",
		}),
		dataPointsPerMinute: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_data_points_per_minute",
			Help: "Accepted sensor data points in the last completed minute",
		}),
		bulkBatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_bulk_batches_total",
			Help: "Total bulk batches flushed to bulk-listeners",
		}),
		bulkBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_bulk_batch_size",
			Help:    "Record count of each flushed bulk batch",
			Buckets: []float64{1, 2, 5, 10, 20, 40},
		}),
		bulkQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_bulk_queue_depth",
			Help: "Current number of records buffered in the bulk batcher queue",
		}),
		bulkQueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_bulk_queue_dropped_total",
			Help: "Total bulk records evicted from the batcher queue for capacity",
		}),
		listenerCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_listener_count",
			Help: "Currently connected listeners, by role",
		}, []string{"role"}),
		orientationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_orientation_latency_seconds",
			Help:    "Time from an accepted data frame to its orientation_data dispatch",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Total recoverable errors handled, by kind (spec.md §7)",
		}, []string{"kind"}),
		messageLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_inbound_message_seconds",
			Help:    "Time spent processing one inbound WebSocket frame",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		cpuPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_process_cpu_percent",
			Help: "Smoothed process CPU usage percentage",
		}),
		memoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_process_heap_alloc_bytes",
			Help: "Current heap allocation in bytes",
		}),
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_goroutines",
			Help: "Current goroutine count",
		}),
	}
}

func (m *Metrics) RecordProducerAdmission()         { m.producerAdmissions.Inc() }
func (m *Metrics) RecordProducerRejection(reason string) { m.producerRejections.WithLabelValues(reason).Inc() }
func (m *Metrics) SetProducersActive(n int)         { m.producersActive.Set(float64(n)) }
func (m *Metrics) RecordActiveSenderChange(reason string) {
	m.activeSenderChanges.WithLabelValues(reason).Inc()
}
func (m *Metrics) RecordDataPoint()              { m.dataPointsTotal.Inc() }
func (m *Metrics) SetDataPointsPerMinute(n int64) { m.dataPointsPerMinute.Set(float64(n)) }
func (m *Metrics) RecordBulkBatch(size int) {
	m.bulkBatchesTotal.Inc()
	m.bulkBatchSize.Observe(float64(size))
}
func (m *Metrics) SetBulkQueueDepth(n int)     { m.bulkQueueDepth.Set(float64(n)) }
func (m *Metrics) RecordBulkDropped(n int64)   { m.bulkQueueDropped.Add(float64(n)) }
func (m *Metrics) SetListenerCount(role registry.Role, n int) {
	m.listenerCount.WithLabelValues(string(role)).Set(float64(n))
}
func (m *Metrics) ObserveOrientationLatency(d time.Duration) { m.orientationLatency.Observe(d.Seconds()) }
func (m *Metrics) RecordError(kind string)                   { m.errorsTotal.WithLabelValues(kind).Inc() }
func (m *Metrics) RecordMessageLatency(d time.Duration)       { m.messageLatency.Observe(d.Seconds()) }

func (m *Metrics) SetCPUPercent(p float64) { m.cpuPercent.Set(p) }
func (m *Metrics) SetMemoryBytes(b uint64) { m.memoryBytes.Set(float64(b)) }
func (m *Metrics) SetGoroutines(n int)     { m.goroutines.Set(float64(n)) }
func (m *Metrics) Uptime() time.Duration   { return time.Since(m.startTime) }
