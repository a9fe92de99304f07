package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brain2-connections/domain/history"
)

// Collector holds the Prometheus metrics of one process. Each collector
// owns its registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Ledger metrics
	LedgerAppends  *prometheus.CounterVec
	Rollbacks      *prometheus.CounterVec
	EntriesRemoved prometheus.Counter
}

// NewCollector creates and registers every metric under namespace
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LedgerAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_entries_appended_total",
				Help:      "History entries recorded, by change type",
			},
			[]string{"change_type"},
		),
		Rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Rollback attempts, by outcome",
			},
			[]string{"outcome"},
		),
		EntriesRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_entries_purged_total",
				Help:      "History entries removed by retention cleanup",
			},
		),
	}
	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.LedgerAppends,
		c.Rollbacks,
		c.EntriesRemoved,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// LedgerAppended counts one recorded entry
func (c *Collector) LedgerAppended(changeType history.ChangeType) {
	c.LedgerAppends.WithLabelValues(string(changeType)).Inc()
}

// RollbackCompleted counts one rollback attempt
func (c *Collector) RollbackCompleted(outcome string) {
	c.Rollbacks.WithLabelValues(outcome).Inc()
}

// EntriesPurged adds the number of entries a cleanup removed
func (c *Collector) EntriesPurged(count int) {
	if count > 0 {
		c.EntriesRemoved.Add(float64(count))
	}
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
