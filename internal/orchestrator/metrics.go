package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus counters. Each engine owns its own
// registry so parallel engines (tests, embedded use) never collide.
type Metrics struct {
	registry *prometheus.Registry

	EventsConsumed    prometheus.Counter
	EventsDropped     prometheus.Counter
	TasksEnqueued     prometheus.Counter
	TasksDispatched   prometheus.Counter
	TasksCompleted    prometheus.Counter
	TasksFailed       prometheus.Counter
	TasksTimedOut     prometheus.Counter
	BudgetRejections  prometheus.Counter
	ApprovalsOpened   prometheus.Counter
	ApprovalsTimedOut prometheus.Counter
}

// NewMetrics creates and registers the engine counters.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_events_consumed_total",
			Help: "Events received from the bus.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_events_dropped_total",
			Help: "Events dropped because their project was paused.",
		}),
		TasksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_tasks_enqueued_total",
			Help: "Tasks created and enqueued from events.",
		}),
		TasksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_tasks_dispatched_total",
			Help: "Tasks handed to workers.",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_tasks_completed_total",
			Help: "Tasks reported completed by workers.",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_tasks_failed_total",
			Help: "Tasks reported failed by workers.",
		}),
		TasksTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_tasks_timed_out_total",
			Help: "RUNNING tasks failed by the timeout sweep.",
		}),
		BudgetRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_budget_rejections_total",
			Help: "Candidate tasks skipped by the budget gate.",
		}),
		ApprovalsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_approvals_opened_total",
			Help: "Approval requests opened.",
		}),
		ApprovalsTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "callboard_approvals_timed_out_total",
			Help: "Approval requests expired undecided.",
		}),
	}
}

// Registry exposes the underlying registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
