package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(eventsPublishedTotal, eventsDroppedTotal, subscribersGauge) }

var (
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_published_total",
			Help: "Job events published to the hub, by kind.",
		},
		[]string{"kind"},
	)
	eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		},
	)
	subscribersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_subscribers",
			Help: "Currently connected subscribers.",
		},
	)
)

func IncEventPublished(kind string) { eventsPublishedTotal.WithLabelValues(norm(kind)).Inc() }
func IncEventDropped()              { eventsDroppedTotal.Inc() }
func SetSubscribers(n int)          { subscribersGauge.Set(float64(n)) }
