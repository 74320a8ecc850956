package hub

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "livehub",
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Open hub connections",
		},
	)

	pushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livehub",
			Subsystem: "hub",
			Name:      "pushes_total",
			Help:      "Module pushes by result",
		},
		[]string{"result"},
	)

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livehub",
			Subsystem: "hub",
			Name:      "messages_sent_total",
			Help:      "Messages enqueued to clients by action",
		},
		[]string{"action"},
	)

	prunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livehub",
			Subsystem: "hub",
			Name:      "pruned_connections_total",
			Help:      "Connections found closed during broadcast",
		},
	)

	clientReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livehub",
			Subsystem: "hub",
			Name:      "client_reports_total",
			Help:      "Inbound client messages by action and outcome",
		},
		[]string{"action", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(connectionsGauge, pushesTotal, messagesTotal, prunedTotal, clientReportsTotal)
}
