// Package registry provides ticket storage backends. A registry holds every
// live ticket keyed by identifier and is the single source of truth for
// ticket state; all other components hold identifiers only.
//
// Two backends are provided: an in-memory store with background cleanup for
// single-node deployments and local development, and a Redis store for
// multi-node deployments sharing one session space.
package registry

import (
	"context"
	"errors"

	"github.com/apereo/cas-sub072/internal/ticket"
)

// ErrTicketNotFound is returned when a requested ticket does not exist or
// has expired. Callers cannot distinguish the two cases; an expired ticket
// is as good as absent.
var ErrTicketNotFound = errors.New("ticket not found")

// Registry stores and retrieves tickets.
type Registry interface {
	// AddTicket stores a newly minted ticket.
	AddTicket(ctx context.Context, t ticket.Ticket) error

	// GetTicket retrieves a live ticket by identifier. Expired tickets
	// are reported as ErrTicketNotFound exactly like absent ones.
	GetTicket(ctx context.Context, id string) (ticket.Ticket, error)

	// GetRawTicket retrieves a ticket without the expiration check.
	// Session teardown uses it to reach tickets that have already
	// expired but still need their descendants cascaded.
	GetRawTicket(ctx context.Context, id string) (ticket.Ticket, error)

	// UpdateTicket persists mutated ticket state.
	UpdateTicket(ctx context.Context, t ticket.Ticket) error

	// DeleteTicket removes a ticket. Deleting an absent ticket is not an
	// error; the returned flag reports whether the ticket existed.
	DeleteTicket(ctx context.Context, id string) (bool, error)

	// GetTickets returns every stored ticket, including expired ones
	// awaiting cleanup. This walks the whole store and is meant for the
	// background cleaner and administrative statistics, not request
	// paths.
	GetTickets(ctx context.Context) ([]ticket.Ticket, error)

	// ConsumeServiceTicket atomically records a validation use on the
	// identified service ticket. Expired or absent tickets are reported
	// as ErrTicketNotFound. The returned flag is true for exactly one of
	// any number of concurrent callers: the one whose use was first.
	ConsumeServiceTicket(ctx context.Context, id string) (*ticket.ServiceTicket, bool, error)

	// Ping reports backend health.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
