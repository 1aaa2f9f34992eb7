package services

import "github.com/prometheus/client_golang/prometheus"

// itemOps counts list operations by classified outcome
// (ok, not_found, invalid, backend_failure).
var itemOps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "todo_item_operations_total",
		Help: "Total number of todo list operations by outcome.",
	},
	[]string{"op", "outcome"},
)

func init() {
	prometheus.MustRegister(itemOps)
}
