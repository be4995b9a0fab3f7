package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics. Each collector owns its registry
// so independent runs never collide on registration.
type Collector struct {
	registry        *prometheus.Registry
	objectsTotal    *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	probeErrors     prometheus.Counter
	retriesTotal    prometheus.Counter
	inflightWorkers prometheus.Gauge
	duration        prometheus.Histogram

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		objectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetsync_objects_total",
				Help: "Total number of files processed, by outcome",
			},
			[]string{"status"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetsync_failures_total",
				Help: "Failed files by failure kind",
			},
			[]string{"kind"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assetsync_bytes_total",
				Help: "Total bytes uploaded",
			},
		),
		probeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assetsync_probe_errors_total",
				Help: "Existence checks that failed and fell through to upload",
			},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assetsync_retries_total",
				Help: "Upload attempts beyond the first",
			},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "assetsync_inflight_tasks",
				Help: "Number of tasks currently being probed or uploaded",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assetsync_task_duration_seconds",
				Help:    "Time taken to process one file",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(
		c.objectsTotal,
		c.failuresTotal,
		c.bytesTotal,
		c.probeErrors,
		c.retriesTotal,
		c.inflightWorkers,
		c.duration,
	)

	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveOutcome records one finished task
func (c *Collector) ObserveOutcome(status string, bytes int64, duration time.Duration) {
	c.objectsTotal.WithLabelValues(status).Inc()
	if bytes > 0 {
		c.bytesTotal.Add(float64(bytes))
	}
	c.duration.Observe(duration.Seconds())
}

// IncFailure counts a failure by kind
func (c *Collector) IncFailure(kind string) {
	c.failuresTotal.WithLabelValues(kind).Inc()
}

// IncProbeErrors counts a failed existence check
func (c *Collector) IncProbeErrors() {
	c.probeErrors.Inc()
}

// AddRetries counts extra attempts
func (c *Collector) AddRetries(n int) {
	if n > 0 {
		c.retriesTotal.Add(float64(n))
	}
}

// IncInflight marks a task as started
func (c *Collector) IncInflight() {
	c.inflightWorkers.Inc()
}

// DecInflight marks a task as finished
func (c *Collector) DecInflight() {
	c.inflightWorkers.Dec()
}

// StartServer serves /metrics on addr until Shutdown is called
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.server = srv
	c.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the metrics server if it was started
func (c *Collector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	srv := c.server
	c.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
