package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(creditsMovedTotal) }

var creditsMovedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "credits_moved_total",
		Help: "Credits moved through the ledger, by entry type.",
	},
	[]string{"type"}, // 'prehold', 'refund'
)

func AddCredits(entryType string, amount int64) {
	if amount <= 0 {
		return
	}
	creditsMovedTotal.WithLabelValues(norm(entryType)).Add(float64(amount))
}
