package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector holds all Prometheus metrics for rowwatch.
type Collector struct {
	// Registry is the registry the collector's metrics live in.
	Registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	rowsServed          *prometheus.CounterVec
	tablesDetected      prometheus.Gauge
	dbHealth            prometheus.Gauge
	healthCheckDuration prometheus.Histogram
}

// New creates the metrics and registers them, along with the Go runtime and
// process collectors, on a fresh registry.
func New() *Collector {
	c := newCollector("rowwatch")
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func newCollector(namespace string) *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served, by route template and status code",
			},
			[]string{"route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of HTTP requests by route template",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"route"},
		),
		rowsServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_served_total",
				Help:      "Rows returned to dashboard clients per table",
			},
			[]string{"table"},
		),
		tablesDetected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tables_detected",
				Help:      "Tables with id, content and created_at columns at the last listing",
			},
		),
		dbHealth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_health",
				Help:      "Health status of the watched database (1=healthy, 0=unhealthy)",
			},
		),
		healthCheckDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "health_check_duration_seconds",
				Help:      "Duration of database health probes",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	c.Registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.rowsServed,
		c.tablesDetected,
		c.dbHealth,
		c.healthCheckDuration,
	)

	return c
}

// RequestServed records one HTTP request.
func (c *Collector) RequestServed(route string, code int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RowsServed adds n to the served-rows counter of table.
func (c *Collector) RowsServed(table string, n int) {
	c.rowsServed.WithLabelValues(table).Add(float64(n))
}

// SetTablesDetected records the size of the latest table listing.
func (c *Collector) SetTablesDetected(n int) {
	c.tablesDetected.Set(float64(n))
}

// SetDBHealth sets the database health gauge.
func (c *Collector) SetDBHealth(healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.dbHealth.Set(val)
}

// HealthCheckCompleted observes a probe duration.
func (c *Collector) HealthCheckCompleted(d time.Duration, healthy bool) {
	c.healthCheckDuration.Observe(d.Seconds())
}

// ForgetTable removes the per-table series of a table that no longer exists.
func (c *Collector) ForgetTable(table string) {
	c.rowsServed.DeleteLabelValues(table)
}
