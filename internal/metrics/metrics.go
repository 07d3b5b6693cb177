package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for installer runs. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	componentsInstalled *prometheus.CounterVec
	componentsRemoved   *prometheus.CounterVec
	transactions        *prometheus.CounterVec
	downloadBytes       prometheus.Counter
	checksumFailures    prometheus.Counter
	operationDuration   *prometheus.HistogramVec
	lastSuccess         *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		componentsInstalled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alembic_components_installed_total",
				Help: "Total number of components installed",
			},
			[]string{"component"},
		),
		componentsRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alembic_components_removed_total",
				Help: "Total number of components removed",
			},
			[]string{"component"},
		),
		transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alembic_transactions_total",
				Help: "Total number of install transactions by result",
			},
			[]string{"result"},
		),
		downloadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "alembic_download_bytes_total",
				Help: "Total bytes downloaded",
			},
		),
		checksumFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "alembic_checksum_failures_total",
				Help: "Total number of downloads rejected for a hash mismatch",
			},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alembic_operation_duration_seconds",
				Help:    "Duration of update and uninstall operations",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"operation"},
		),
		lastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alembic_last_success_timestamp_seconds",
				Help: "Unix time of the last successful operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ComponentInstalled(name string) {
	if m == nil {
		return
	}
	m.componentsInstalled.WithLabelValues(name).Inc()
}

func (m *Metrics) ComponentRemoved(name string) {
	if m == nil {
		return
	}
	m.componentsRemoved.WithLabelValues(name).Inc()
}

func (m *Metrics) Transaction(committed bool) {
	if m == nil {
		return
	}
	result := "rolled_back"
	if committed {
		result = "committed"
	}
	m.transactions.WithLabelValues(result).Inc()
}

func (m *Metrics) Downloaded(bytes int64) {
	if m == nil {
		return
	}
	m.downloadBytes.Add(float64(bytes))
}

func (m *Metrics) ChecksumFailed() {
	if m == nil {
		return
	}
	m.checksumFailures.Inc()
}

// Observe records how long an operation took, and its completion time when it succeeded.
func (m *Metrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err == nil {
		m.lastSuccess.WithLabelValues(operation).SetToCurrentTime()
	}
}

// WriteTextfile writes the current values in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
