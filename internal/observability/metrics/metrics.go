package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Domain counters. Registered on the default registry via promauto so the
// serve command only needs to mount Handler().
var (
	PermissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_permission_decisions_total",
		Help: "Permission resolutions by outcome and denial reason.",
	}, []string{"outcome", "reason"})

	WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_workflow_transitions_total",
		Help: "Approval request transitions by workflow kind and resulting status.",
	}, []string{"kind", "to_status"})

	InvitationsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_invitation_tokens_issued_total",
		Help: "Invitation tokens issued.",
	})

	InvitationsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_invitation_tokens_consumed_total",
		Help: "Invitation tokens successfully consumed.",
	})

	SweepExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_sweep_expired_total",
		Help: "Approval requests expired by the sweeper.",
	})
)

// RecordDecision increments the permission decision counter.
func RecordDecision(allowed bool, reason string) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	PermissionDecisions.WithLabelValues(outcome, reason).Inc()
}

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
