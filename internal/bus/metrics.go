package bus

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "livehub",
		Subsystem: "bus",
		Name:      "connections",
		Help:      "Open event bus connections",
	})
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livehub",
		Subsystem: "bus",
		Name:      "events_sent_total",
		Help:      "Events enqueued to observers by action",
	}, []string{"action"})
	prunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livehub",
		Subsystem: "bus",
		Name:      "pruned_connections_total",
		Help:      "Observer connections found closed during broadcast",
	})
)

func init() {
	prometheus.MustRegister(connectionsGauge, eventsTotal, prunedTotal)
}
