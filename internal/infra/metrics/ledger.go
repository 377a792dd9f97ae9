package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerReservationsTotal, ledgerRefundsTotal, ledgerCreditsSpent) }

var ledgerReservationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_reservations_total",
		Help: "Credit reservations by outcome (reserved/insufficient/error).",
	},
	[]string{"outcome"},
)

var ledgerRefundsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ledger_refunds_total",
		Help: "Compensating credits issued for non-successful jobs.",
	},
)

var ledgerCreditsSpent = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ledger_credits_spent_total",
		Help: "Credits kept by succeeded jobs.",
	},
)

func IncReservation(outcome string) { ledgerReservationsTotal.WithLabelValues(norm(outcome)).Inc() }
func IncRefund()                    { ledgerRefundsTotal.Inc() }
func AddCreditsSpent(n int64)       { ledgerCreditsSpent.Add(float64(n)) }
