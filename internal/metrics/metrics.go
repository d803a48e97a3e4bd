// Package metrics wires resclient-go's ambient observability into
// Prometheus, grounded on the teacher's own prometheus/client_golang
// dependency (resgate exposes gateway-side cache/connection gauges the
// same way).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds the client's Prometheus instruments. A nil *Collector
// is valid and makes every method a no-op, so instrumentation stays
// fully optional for library consumers (SPEC_FULL.md A.3).
type Collector struct {
	cacheEntries      *prometheus.GaugeVec
	requestsTotal     *prometheus.CounterVec
	reconnectsTotal   prometheus.Counter
	requestDuration   *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its instruments with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "resclient_cache_entries",
			Help: "Number of resource cache entries by state.",
		}, []string{"state"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resclient_requests_total",
			Help: "Number of RPC requests sent, by verb and outcome.",
		}, []string{"verb", "outcome"}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resclient_reconnects_total",
			Help: "Number of reconnect attempts made.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "resclient_request_duration_seconds",
			Help: "RPC round-trip latency, by verb.",
		}, []string{"verb"}),
	}
	if reg != nil {
		reg.MustRegister(c.cacheEntries, c.requestsTotal, c.reconnectsTotal, c.requestDuration)
	}
	return c
}

// SetCacheStats updates the per-state cache entry gauges.
func (c *Collector) SetCacheStats(subscribed, stale, pending int) {
	if c == nil {
		return
	}
	c.cacheEntries.WithLabelValues("subscribed").Set(float64(subscribed))
	c.cacheEntries.WithLabelValues("stale").Set(float64(stale))
	c.cacheEntries.WithLabelValues("pending").Set(float64(pending))
}

// ObserveRequest records a completed RPC's verb, outcome ("ok"/"error"),
// and duration in seconds.
func (c *Collector) ObserveRequest(verb, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(verb, outcome).Inc()
	c.requestDuration.WithLabelValues(verb).Observe(seconds)
}

// IncReconnect records a reconnect attempt.
func (c *Collector) IncReconnect() {
	if c == nil {
		return
	}
	c.reconnectsTotal.Inc()
}
