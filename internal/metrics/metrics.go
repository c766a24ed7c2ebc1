// Package metrics exposes Prometheus counters for tool traffic and the
// payment funnel.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ToolCalls counts tool invocations by tool name and outcome. Outcomes:
	// ok, error, payment_required, free_tier_exhausted.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nostr_intel",
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	InvoicesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nostr_intel",
		Name:      "invoices_issued_total",
		Help:      "Lightning invoices issued by the paywall.",
	})

	PaymentsVerified = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nostr_intel",
		Name:      "payments_verified_total",
		Help:      "Payment hashes confirmed settled by the wallet.",
	})

	RelayQueryErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nostr_intel",
		Name:      "relay_query_errors_total",
		Help:      "Per-relay query failures.",
	})
)

// Outcome labels for ToolCalls.
const (
	OutcomeOK                = "ok"
	OutcomeError             = "error"
	OutcomePaymentRequired   = "payment_required"
	OutcomeFreeTierExhausted = "free_tier_exhausted"
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
