// Package ticket defines the credential-handle entities at the heart of the
// SSO server: ticket-granting tickets, service tickets, and proxy-granting
// tickets, together with their expiration policies and the factory that
// mints them.
//
// Tickets are a closed set of tagged variants sharing the Ticket capability
// interface; there is no type hierarchy beyond struct composition. Tickets
// are owned by the registry that stores them and only their identifiers
// travel across process boundaries.
package ticket

import "time"

// Ticket identifier prefixes distinguishing the ticket variants.
const (
	// PrefixGranting is the identifier prefix for ticket-granting tickets.
	PrefixGranting = "TGT"
	// PrefixService is the identifier prefix for service tickets.
	PrefixService = "ST"
	// PrefixProxyGranting is the identifier prefix for proxy-granting tickets.
	PrefixProxyGranting = "PGT"
)

// MinIDLengthForMasking is the minimum identifier length before masking is applied.
const MinIDLengthForMasking = 16

// Ticket is the capability interface shared by all ticket variants.
type Ticket interface {
	// ID returns the globally unique ticket identifier.
	ID() string

	// CreationTime returns when the ticket was minted.
	CreationTime() time.Time

	// ExpirationPolicy returns the policy attached at creation time.
	// Policies are immutable for the lifetime of the ticket.
	ExpirationPolicy() ExpirationPolicy

	// IsExpired evaluates the attached expiration policy against the
	// ticket's current state at the given instant.
	IsExpired(now time.Time) bool

	// ExpirationState returns the usage snapshot the expiration policy
	// sees, for callers that need the policy's remaining lifetime.
	ExpirationState() State
}

// State is the snapshot of ticket usage data that expiration policies are
// allowed to see: creation time, last-used time, and use count. Policies
// carry no hidden clock state beyond the "now" they are handed.
type State struct {
	// Created is the ticket creation time.
	Created time.Time
	// LastUsed is the time of the most recent use; zero if never used.
	LastUsed time.Time
	// UseCount is the number of recorded uses.
	UseCount int
}

// lastActivity returns the most recent activity timestamp, falling back to
// the creation time for tickets that have never been used.
func (s State) lastActivity() time.Time {
	if s.LastUsed.IsZero() {
		return s.Created
	}
	return s.LastUsed
}

// MaskID masks a ticket identifier for logging, keeping enough of the
// prefix to correlate log lines without disclosing a usable credential.
func MaskID(id string) string {
	if len(id) <= MinIDLengthForMasking {
		return "***"
	}
	return id[:MinIDLengthForMasking] + "..."
}
