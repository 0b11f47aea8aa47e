package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ContractsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvestlink_contracts_created_total",
		Help: "Contracts created, by kind.",
	}, []string{"kind"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvestlink_contract_transitions_total",
		Help: "Successful contract status transitions, by kind and action.",
	}, []string{"kind", "action"})

	TransitionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvestlink_contract_transition_failures_total",
		Help: "Rejected contract transitions, by reason.",
	}, []string{"reason"})

	AutoCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvestlink_contract_auto_cancellations_total",
		Help: "Contracts auto-cancelled by the exclusivity cascade or expiry sweep.",
	})

	LockBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvestlink_contract_lock_busy_total",
		Help: "Requests that timed out waiting for a per-farmer lock.",
	})
)
