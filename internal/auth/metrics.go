package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ticket lifecycle metrics, labelled by ticket kind or outcome.
var (
	ticketsMinted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sso_tickets_minted_total",
		Help: "Number of tickets minted, by ticket kind.",
	}, []string{"kind"})

	validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sso_service_ticket_validations_total",
		Help: "Number of service ticket validation attempts, by outcome.",
	}, []string{"outcome"})

	sessionsDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sso_sessions_destroyed_total",
		Help: "Number of granting tickets destroyed, including cascaded descendants.",
	})

	logoutNotices = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sso_logout_notices_total",
		Help: "Number of single sign-out notices produced, by delivery status.",
	}, []string{"status"})

	// Tracks sessions this process has minted and not yet destroyed. With a
	// shared Redis registry the true cluster-wide count is the sum across
	// instances; expired-but-unswept sessions are still counted until the
	// cleaner or an explicit destroy removes them.
	liveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sso_live_sessions",
		Help: "Granting tickets minted by this instance that have not been destroyed.",
	})
)
