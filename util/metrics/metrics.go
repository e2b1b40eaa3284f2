package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegisterPrometheusMetrics register all prometheus metrics with the
// global metrics handler.
func RegisterPrometheusMetrics() {
	prometheus.Register(DatomsAsserted)
	prometheus.Register(DatomsRetracted)
	prometheus.Register(EntitiesAllocated)
	prometheus.Register(TransactionsAllocated)
	prometheus.Register(ViewsRegenerated)
}

// Prometheus metric names broken out for reuse.
const (
	DatomsAssertedName        = "cumulative_datoms_asserted"
	DatomsRetractedName       = "cumulative_datoms_retracted"
	EntitiesAllocatedName     = "cumulative_entities_allocated"
	TransactionsAllocatedName = "cumulative_transactions_allocated"
	ViewsRegeneratedName      = "cumulative_views_regenerated"
)

// Initialize the prometheus objects.
var (
	DatomsAsserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: "facet",
			Name:      DatomsAssertedName,
			Help:      "Total datoms asserted by writes through this process.",
		})

	DatomsRetracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: "facet",
			Name:      DatomsRetractedName,
			Help:      "Total datoms retracted by writes through this process.",
		})

	EntitiesAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: "facet",
			Name:      EntitiesAllocatedName,
			Help:      "Total entity ids handed out by the allocator.",
		})

	TransactionsAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: "facet",
			Name:      TransactionsAllocatedName,
			Help:      "Total transactions allocated.",
		})

	ViewsRegenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: "facet",
			Name:      ViewsRegeneratedName,
			Help:      "Total derived view regenerations.",
		})
)
