// Package metrics exposes Prometheus collectors for the drive. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/michael-freling/file-drive/internal/xerrors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "file_drive"

type Metrics struct {
	registry *prometheus.Registry

	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	nodesDeleted       prometheus.Counter
	blobRemovalsFailed prometheus.Counter
	sweepRuns          *prometheus.CounterVec
	sweepObjects       *prometheus.CounterVec
	sweepDuration      prometheus.Histogram
}

// New registers the collectors, plus the Go and process collectors, on a
// new registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Tree operations by operation and result code",
			},
			[]string{"operation", "code"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of tree operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		nodesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_deleted_total",
			Help:      "Nodes removed by recursive deletes",
		}),
		blobRemovalsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_removals_failed_total",
			Help:      "Blobs left behind after a committed delete, to be collected by the sweeper",
		}),
		sweepRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Orphan blob sweeps by status",
			},
			[]string{"status"},
		),
		sweepObjects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_objects_total",
				Help:      "Blobs seen by the sweeper by outcome",
			},
			[]string{"outcome"},
		),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of orphan blob sweeps",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation records an operation outcome, labelled with the error code.
func (m *Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, xerrors.Code(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) NodesDeleted(count int) {
	if m == nil {
		return
	}
	m.nodesDeleted.Add(float64(count))
}

func (m *Metrics) BlobRemovalFailed() {
	if m == nil {
		return
	}
	m.blobRemovalsFailed.Inc()
}

type SweepResult struct {
	Scanned  int
	Orphaned int
	Removed  int
	Failed   int
	Duration time.Duration
	Err      error
}

func (m *Metrics) ObserveSweep(result SweepResult) {
	if m == nil {
		return
	}
	status := "success"
	if result.Err != nil {
		status = "error"
	}
	m.sweepRuns.WithLabelValues(status).Inc()
	m.sweepObjects.WithLabelValues("scanned").Add(float64(result.Scanned))
	m.sweepObjects.WithLabelValues("orphaned").Add(float64(result.Orphaned))
	m.sweepObjects.WithLabelValues("removed").Add(float64(result.Removed))
	m.sweepObjects.WithLabelValues("failed").Add(float64(result.Failed))
	m.sweepDuration.Observe(result.Duration.Seconds())
}
