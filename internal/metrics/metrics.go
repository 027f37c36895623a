package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vyper"

const (
	ReasonQueueFull = "queue_full"
	ReasonStopped   = "stopped"
)

// PoolStats is the part of the compile pool exposed as gauges.
type PoolStats interface {
	QueueDepth() int
	Busy() int
}

// Metrics holds the collectors for the compile jobs.
type Metrics struct {
	Submitted prometheus.Counter
	Rejected  *prometheus.CounterVec
	Completed *prometheus.CounterVec
	Duration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

func New() *Metrics {
	const subsystem = "compile"

	m := &Metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "submitted_total",
			Help:      "Number of compile jobs accepted",
		}),

		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejected_total",
			Help:      "Number of compile jobs rejected before running",
		}, []string{"reason"}),

		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "completed_total",
			Help:      "Number of compile jobs finished, by state and http status",
		}, []string{"state", "status"}),

		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Histogram of compile job durations",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"state"}),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.PrometheusCollectors()...)
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// PrometheusCollectors returns the job collectors.
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.Submitted, m.Rejected, m.Completed, m.Duration}
}

// RegisterPool exposes the queue depth and busy workers of the pool.
func (m *Metrics) RegisterPool(pool PoolStats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Number of compile jobs waiting for a worker",
		}, func() float64 { return float64(pool.QueueDepth()) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "busy_workers",
			Help:      "Number of workers currently compiling",
		}, func() float64 { return float64(pool.Busy()) }),
	)
}

func (m *Metrics) ObserveCompletion(state string, httpStatus int, elapsed time.Duration) {
	m.Completed.WithLabelValues(state, strconv.Itoa(httpStatus)).Inc()
	m.Duration.WithLabelValues(state).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
