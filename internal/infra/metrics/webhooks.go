package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookDeliveriesTotal) }

var webhookDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Inbound provider webhook deliveries by outcome.",
	},
	[]string{"outcome"}, // 'applied', 'duplicate', 'ignored', 'bad_signature', 'bad_payload', 'too_large', 'not_found', 'error'
)

func IncWebhookDelivery(outcome string) {
	webhookDeliveriesTotal.WithLabelValues(norm(outcome)).Inc()
}
