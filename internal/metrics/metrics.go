// Package metrics registers the Prometheus instruments for the gateway
// integration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// GatewayRequests counts outbound Saferpay API calls by endpoint and
	// outcome (ok, error, network_error).
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saferpay_api_requests_total",
		Help: "Outbound Saferpay API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// Notifications counts inbound completion callbacks by result
	// (verified, rejected, duplicate, conflict, error).
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_notifications_total",
		Help: "Inbound gateway notifications by handling result.",
	}, []string{"result"})

	// TransactionStates counts transitions into terminal transaction states.
	TransactionStates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transactions_total",
		Help: "Payment attempts reaching a terminal state.",
	}, []string{"state"})
)

// Handler exposes the default registry, mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
