package metrics

import (
	"codepolish/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsRolledTotal,
		subscriptionsByPlan,
		billingEventsTotal,
	)
}

var (
	subscriptionsRolledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_rolled_total",
			Help: "Billing periods processed by the period worker.",
		},
		[]string{"outcome"}, // 'renewed', 'downgraded'
	)

	subscriptionsByPlan = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_by_plan",
			Help: "Current number of subscriptions by plan.",
		},
		[]string{"plan"},
	)

	billingEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_events_total",
			Help: "Payment provider webhook events by type and result.",
		},
		[]string{"type", "result"},
	)
)

func IncSubscriptionsRolled(outcome string, count int) {
	subscriptionsRolledTotal.WithLabelValues(norm(outcome)).Add(float64(count))
}

func SetSubscriptionsByPlan(counts map[model.PlanID]int) {
	for _, p := range model.Plans() {
		subscriptionsByPlan.WithLabelValues(string(p.ID)).Set(float64(counts[p.ID]))
	}
}

func IncBillingEvent(eventType, result string) {
	billingEventsTotal.WithLabelValues(norm(eventType), norm(result)).Inc()
}
