package metrics

import (
	"time"

	"codepolish/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		polishJobsTotal,
		polishDuration,
		polishQueueRejected,
		polishSweptTotal,
		polishesByStatus,
	)
}

var (
	polishJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polish_jobs_total",
			Help: "Polish jobs reaching a terminal state, labeled by status and polisher.",
		},
		[]string{"status", "polisher"}, // 'completed', 'failed'
	)

	polishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polish_duration_seconds",
			Help:    "Wall time from claim to terminal state.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	polishQueueRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polish_queue_rejected_total",
			Help: "Submissions the worker pool refused because its queue was full.",
		},
	)

	polishSweptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polish_swept_total",
			Help: "Jobs touched by background sweepers.",
		},
		[]string{"sweeper"}, // 'dispatch', 'stuck', 'refund'
	)

	polishesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polishes_by_status",
			Help: "Current number of polish jobs by status.",
		},
		[]string{"status"},
	)
)

func IncPolishJob(status, polisher string) {
	polishJobsTotal.WithLabelValues(norm(status), norm(polisher)).Inc()
}

func ObservePolishDuration(status string, d time.Duration) {
	polishDuration.WithLabelValues(norm(status)).Observe(d.Seconds())
}

func IncQueueRejected() { polishQueueRejected.Inc() }

func AddSwept(sweeper string, n int) {
	polishSweptTotal.WithLabelValues(norm(sweeper)).Add(float64(n))
}

func SetPolishesByStatus(counts map[model.PolishStatus]int) {
	for _, st := range model.AllPolishStatuses {
		polishesByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
