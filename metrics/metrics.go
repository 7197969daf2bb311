package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggtree_operations_total",
		Help: "Operations applied to hosted nodes, by kind and result",
	}, []string{"op", "result"})

	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggtree_inbound_messages_total",
		Help: "Messages offered to hosted nodes, by result",
	}, []string{"result"})

	RelayDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggtree_relay_deliveries_total",
		Help: "Outbox deliveries attempted by the relay, by route and result",
	}, []string{"route", "result"})

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggtree_outbox_pending",
		Help: "Outbox entries read but left undelivered by the last relay pass",
	})

	HostedNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggtree_hosted_nodes",
		Help: "Nodes hosted by this process",
	})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
