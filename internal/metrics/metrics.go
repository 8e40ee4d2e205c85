// Package metrics holds the process-wide prometheus collectors, exposed by
// the web service at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InteractionsTotal counts dispatched interactions by kind and handler.
	InteractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amethyst_interactions_total",
		Help: "Interactions that reached a registered handler.",
	}, []string{"kind", "name"})

	// DenialsTotal counts pipeline denials by reason (forbidden, cooldown).
	DenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amethyst_denials_total",
		Help: "Interactions denied before handler execution.",
	}, []string{"reason"})

	// HandlerFailuresTotal counts handler errors and recovered panics.
	HandlerFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amethyst_handler_failures_total",
		Help: "Handler executions that ended in an error or panic.",
	})

	// SaveConflictsTotal counts optimistic-concurrency save conflicts.
	SaveConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amethyst_save_conflicts_total",
		Help: "Versioned saves rejected because a concurrent writer won.",
	})

	// PromptTimeoutsTotal counts prompts that expired without a response.
	PromptTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amethyst_prompt_timeouts_total",
		Help: "Prompts that hit their deadline before an allowed response.",
	})
)
