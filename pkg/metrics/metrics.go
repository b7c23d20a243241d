package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// resettableCounter is a monotonic counter backed by an atomic uint64 so the
// RESET control request can zero it without fighting prometheus.Counter's
// own "counters only go up" guarantee.
type resettableCounter struct {
	desc  *prometheus.Desc
	value uint64
}

func newResettableCounter(name, help string) *resettableCounter {
	return &resettableCounter{desc: prometheus.NewDesc(name, help, nil, nil)}
}

func (c *resettableCounter) Inc()            { atomic.AddUint64(&c.value, 1) }
func (c *resettableCounter) Add(delta uint64) { atomic.AddUint64(&c.value, delta) }
func (c *resettableCounter) Reset()           { atomic.StoreUint64(&c.value, 0) }
func (c *resettableCounter) Get() uint64      { return atomic.LoadUint64(&c.value) }

func (c *resettableCounter) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *resettableCounter) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.Get()))
}

var (
	// BackupsTotal counts finished backups by server and outcome.
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmoneta_backups_total",
			Help: "Total number of backups by server and outcome",
		},
		[]string{"server", "outcome"},
	)

	BackupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgmoneta_backup_duration_seconds",
			Help:    "Backup duration in seconds by server",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"server"},
	)

	RestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmoneta_restores_total",
			Help: "Total number of restores by server and outcome",
		},
		[]string{"server", "outcome"},
	)

	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgmoneta_workers_active",
			Help: "Number of WAL receiver workers currently registered",
		},
	)

	ServersConfigured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pgmoneta_servers_configured",
			Help: "Number of server entries in the active configuration",
		},
	)

	WalCompressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pgmoneta_wal_compressed_total",
			Help: "Total number of per-server WAL compression passes completed by the periodic sweep",
		},
	)

	RetentionSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgmoneta_retention_sweep_duration_seconds",
			Help:    "Time taken by a retention sweep cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompressionSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgmoneta_compression_sweep_duration_seconds",
			Help:    "Time taken by a WAL compression sweep cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmoneta_sweep_skipped_total",
			Help: "Total number of periodic sweeps skipped because the previous run was still in flight",
		},
		[]string{"task"},
	)

	HotStandbyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgmoneta_hot_standby_duration_seconds",
			Help:    "Time taken to mirror a finished backup into the hot-standby directory",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// control request counters, reset via the RESET control command
	controlRequestsTotal = newResettableCounter(
		"pgmoneta_control_requests_total",
		"Total number of control requests handled, reset by the RESET control command",
	)
	controlRequestsFailed = newResettableCounter(
		"pgmoneta_control_requests_failed_total",
		"Total number of control requests that failed, reset by the RESET control command",
	)
	acceptTransientTotal = newResettableCounter(
		"pgmoneta_accept_transient_total",
		"Total number of transient accept() errors observed across listener groups",
	)
	acceptFatalTotal = newResettableCounter(
		"pgmoneta_accept_fatal_total",
		"Total number of fatal accept() errors that triggered a listener group rebind",
	)
)

func init() {
	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(BackupDuration)
	prometheus.MustRegister(RestoresTotal)
	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(ServersConfigured)
	prometheus.MustRegister(WalCompressedTotal)
	prometheus.MustRegister(RetentionSweepDuration)
	prometheus.MustRegister(CompressionSweepDuration)
	prometheus.MustRegister(SweepSkippedTotal)
	prometheus.MustRegister(HotStandbyDuration)
	prometheus.MustRegister(controlRequestsTotal)
	prometheus.MustRegister(controlRequestsFailed)
	prometheus.MustRegister(acceptTransientTotal)
	prometheus.MustRegister(acceptFatalTotal)
}

// IncControlRequest records one handled control request.
func IncControlRequest() { controlRequestsTotal.Inc() }

// IncControlRequestFailed records one control request that failed.
func IncControlRequestFailed() { controlRequestsFailed.Inc() }

// IncAcceptTransient records one transient accept() error.
func IncAcceptTransient() { acceptTransientTotal.Inc() }

// IncAcceptFatal records one fatal accept() error.
func IncAcceptFatal() { acceptFatalTotal.Inc() }

// Reset zeros every atomic-backed counter: the control-request and
// accept-error tallies. This is what the control dispatcher's RESET command
// calls. It does not touch the prometheus Counter, CounterVec, Gauge or
// Histogram metrics above; those keep their values across a RESET.
func Reset() {
	controlRequestsTotal.Reset()
	controlRequestsFailed.Reset()
	acceptTransientTotal.Reset()
	acceptFatalTotal.Reset()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
