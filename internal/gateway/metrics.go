package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quartier_chat"

type Metrics struct {
	Connections     prometheus.Gauge
	Commands        *prometheus.CounterVec
	Broadcasts      *prometheus.CounterVec
	DroppedPeers    prometheus.Counter
	BrokerFailure   prometheus.Counter
	OutboxOverflow  prometheus.Counter
	ReceiptsDropped prometheus.Counter
}

// NewMetrics registers the gateway collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "commands_total",
			Help:      "Client commands by type and outcome.",
		}, []string{"command", "outcome"}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "events_delivered_total",
			Help:      "Events written to local connections by event type.",
		}, []string{"event"}),
		DroppedPeers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "dropped_peers_total",
			Help:      "Connections closed because their send buffer was full.",
		}),
		BrokerFailure: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "broker_publish_failures_total",
			Help:      "Envelopes that could not be published to the broker and were delivered locally only.",
		}),
		OutboxOverflow: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "outbox_overflow_total",
			Help:      "Envelopes delivered locally only because the broker outbox was full.",
		}),
		ReceiptsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "delivery_receipts_dropped_total",
			Help:      "Message deliveries that were not recorded because the receipts queue was full.",
		}),
	}
}
