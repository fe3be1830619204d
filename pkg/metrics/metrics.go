package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionChecks counts permission evaluations and their outcome (allow|deny|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "larder_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"check", "result"},
	)

	// InvitationTransitions counts invitation state machine transitions by target state.
	InvitationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "larder_invitation_transitions_total",
			Help: "Total number of invitation state transitions",
		},
		[]string{"to"},
	)

	// InvitationsLinked counts email invitations rewritten to a user account.
	InvitationsLinked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "larder_invitations_linked_total",
			Help: "Email invitations linked to a newly resolved account",
		},
	)

	// UsersProvisioned counts users created lazily from verified token claims.
	UsersProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "larder_users_provisioned_total",
			Help: "Users created on first verified token",
		},
	)

	// SweepExpired records invitations expired per sweep run.
	SweepExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "larder_invitations_expired_total",
			Help: "Pending invitations transitioned to expired by the sweep",
		},
	)
)
