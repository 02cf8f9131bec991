// Package metrics exposes yard activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markumedium/loading-server/internal/app"
	"github.com/markumedium/loading-server/internal/domain"
)

// Collector implements app.Metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	transitions        *prometheus.CounterVec
	rejections         *prometheus.CounterVec
	timestampFallbacks prometheus.Counter
	rollovers          *prometheus.CounterVec
	rolloverVehicles   prometheus.Histogram
	alerts             prometheus.Counter
	vehicles           *prometheus.GaugeVec
}

var _ app.Metrics = (*Collector)(nil)

// NewCollector registers every yard metric plus the Go runtime collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yard_transitions_total",
			Help: "Applied state transitions by edge.",
		}, []string{"from", "to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yard_transition_rejections_total",
			Help: "Rejected transition requests by reason.",
		}, []string{"reason"}),
		timestampFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yard_timestamp_fallbacks_total",
			Help: "Transitions whose timestamp was unreadable and replaced by the clock.",
		}),
		rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yard_rollovers_total",
			Help: "Completed rollovers by mode.",
		}, []string{"mode"}),
		rolloverVehicles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "yard_rollover_vehicles",
			Help:    "Vehicles returned to the yard per rollover.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yard_alerts_total",
			Help: "Long loading alerts emitted.",
		}),
		vehicles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "yard_vehicles",
			Help: "Registered vehicles by current status.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(
		c.transitions,
		c.rejections,
		c.timestampFallbacks,
		c.rollovers,
		c.rolloverVehicles,
		c.alerts,
		c.vehicles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) TransitionApplied(from, to domain.State) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Collector) TransitionRejected(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

func (c *Collector) TimestampFallback() {
	c.timestampFallbacks.Inc()
}

func (c *Collector) RolloverApplied(mode app.RolloverMode, vehicles int) {
	c.rollovers.WithLabelValues(string(mode)).Inc()
	c.rolloverVehicles.Observe(float64(vehicles))
}

func (c *Collector) AlertEmitted() {
	c.alerts.Inc()
}

func (c *Collector) ObserveFleet(byStatus map[domain.State]int) {
	for state, count := range byStatus {
		c.vehicles.WithLabelValues(string(state)).Set(float64(count))
	}
}
