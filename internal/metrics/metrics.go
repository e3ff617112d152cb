// Package metrics exposes Prometheus instrumentation for pgwire clients:
// connection lifecycle, authentication outcomes, and query latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every metric this library exports, registered against
// its own Registry rather than prometheus.DefaultRegisterer so a process
// can hold more than one (e.g. one per profile, or one per test).
type Collector struct {
	Registry *prometheus.Registry

	connectionsOpen   *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	connectionErrors  *prometheus.CounterVec
	authDuration      *prometheus.HistogramVec
	authMethodTotal   *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	queryErrorsTotal  *prometheus.CounterVec
	rowsReturnedTotal *prometheus.CounterVec
	probeDuration     *prometheus.HistogramVec
	probeResultTotal  *prometheus.CounterVec
}

// New creates and registers every metric using a fresh registry. Safe to
// call more than once — each call is independent and never touches the
// global default registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pgwire_connections_open",
				Help: "Number of currently open connections per profile",
			},
			[]string{"profile"},
		),
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_connections_opened_total",
				Help: "Total connections successfully opened per profile",
			},
			[]string{"profile"},
		),
		connectionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_connection_errors_total",
				Help: "Connection attempts that failed to reach ReadyForQuery",
			},
			[]string{"profile", "stage"},
		),
		authDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgwire_auth_duration_seconds",
				Help:    "Time spent in the startup/authentication handshake",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"profile", "method"},
		),
		authMethodTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_auth_method_total",
				Help: "Authentication methods negotiated with the backend",
			},
			[]string{"profile", "method"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgwire_query_duration_seconds",
				Help:    "Duration of a simple Query from send to ReadyForQuery",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"profile"},
		),
		queryErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_query_errors_total",
				Help: "Queries that completed with an ErrorResponse, by SQLSTATE class",
			},
			[]string{"profile", "sqlstate_class"},
		),
		rowsReturnedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_rows_returned_total",
				Help: "Total rows in successful query results per profile",
			},
			[]string{"profile"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgwire_probe_duration_seconds",
				Help:    "Duration of a liveness probe (open, SELECT 1, close)",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"profile"},
		),
		probeResultTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgwire_probe_result_total",
				Help: "Liveness probe outcomes per profile",
			},
			[]string{"profile", "result"},
		),
	}

	reg.MustRegister(
		c.connectionsOpen,
		c.connectionsTotal,
		c.connectionErrors,
		c.authDuration,
		c.authMethodTotal,
		c.queryDuration,
		c.queryErrorsTotal,
		c.rowsReturnedTotal,
		c.probeDuration,
		c.probeResultTotal,
	)

	return c
}

// ConnectionOpened records a successful Open: increments the lifetime
// counter and the currently-open gauge.
func (c *Collector) ConnectionOpened(profile string) {
	c.connectionsTotal.WithLabelValues(profile).Inc()
	c.connectionsOpen.WithLabelValues(profile).Inc()
}

// ConnectionClosed decrements the currently-open gauge.
func (c *Collector) ConnectionClosed(profile string) {
	c.connectionsOpen.WithLabelValues(profile).Dec()
}

// ConnectionFailed records a failed connection attempt, tagged with the
// stage it failed at ("dial", "startup", "auth").
func (c *Collector) ConnectionFailed(profile, stage string) {
	c.connectionErrors.WithLabelValues(profile, stage).Inc()
}

// AuthCompleted records the duration and negotiated method of a
// successful authentication handshake. method is one of "trust",
// "cleartext", "md5", "scram-sha-256".
func (c *Collector) AuthCompleted(profile, method string, d time.Duration) {
	c.authDuration.WithLabelValues(profile, method).Observe(d.Seconds())
	c.authMethodTotal.WithLabelValues(profile, method).Inc()
}

// QueryCompleted records a successful query's duration and row count.
func (c *Collector) QueryCompleted(profile string, d time.Duration, rows int) {
	c.queryDuration.WithLabelValues(profile).Observe(d.Seconds())
	c.rowsReturnedTotal.WithLabelValues(profile).Add(float64(rows))
}

// QueryFailed records a query that ended in an ErrorResponse, bucketed by
// the first two characters of its SQLSTATE code (its class); a code shorter
// than two characters is counted under "XX".
func (c *Collector) QueryFailed(profile, sqlstate string) {
	class := "XX"
	if len(sqlstate) >= 2 {
		class = sqlstate[:2]
	}
	c.queryErrorsTotal.WithLabelValues(profile, class).Inc()
}

// ProbeCompleted records the outcome and duration of a liveness probe.
func (c *Collector) ProbeCompleted(profile string, d time.Duration, healthy bool) {
	c.probeDuration.WithLabelValues(profile).Observe(d.Seconds())
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	c.probeResultTotal.WithLabelValues(profile, result).Inc()
}

// RemoveProfile removes every metric series recorded for profile, for use
// when a profile is dropped from a running config.
func (c *Collector) RemoveProfile(profile string) {
	c.connectionsOpen.DeleteLabelValues(profile)
	c.connectionsTotal.DeleteLabelValues(profile)
	c.connectionErrors.DeletePartialMatch(prometheus.Labels{"profile": profile})
	c.authDuration.DeletePartialMatch(prometheus.Labels{"profile": profile})
	c.authMethodTotal.DeletePartialMatch(prometheus.Labels{"profile": profile})
	c.queryDuration.DeleteLabelValues(profile)
	c.queryErrorsTotal.DeletePartialMatch(prometheus.Labels{"profile": profile})
	c.rowsReturnedTotal.DeleteLabelValues(profile)
	c.probeDuration.DeleteLabelValues(profile)
	c.probeResultTotal.DeletePartialMatch(prometheus.Labels{"profile": profile})
}
