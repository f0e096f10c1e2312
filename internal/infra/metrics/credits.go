package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(creditOpsTotal) }

var creditOpsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "credit_operations_total",
		Help: "Ledger operations by type and outcome.",
	},
	[]string{"op", "result"}, // op: debit|refund|grant|reset; result: ok|insufficient|error
)

func IncCreditOp(op, result string) {
	creditOpsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}
