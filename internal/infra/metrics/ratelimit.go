package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(rateLimitRejectedTotal) }

var rateLimitRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_rejected_total",
		Help: "Requests rejected by the rate limiter, labeled by class.",
	},
	[]string{"class"},
)

func IncRateLimited(class string) {
	rateLimitRejectedTotal.WithLabelValues(norm(class)).Inc()
}
