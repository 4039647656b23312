package ticket

import (
	"time"

	"github.com/apereo/cas-sub072/internal/models"
)

// ServiceTicket is the short-lived, single-use credential a user presents
// to a service, which the service then exchanges for an identity assertion
// by validating it against the server.
type ServiceTicket struct {
	// TicketID is the unique identifier, prefixed with "ST".
	TicketID string `json:"id"`
	// Created is the ticket creation time.
	Created time.Time `json:"creation_time"`
	// LastUsed is the time of the most recent validation attempt that
	// consumed the ticket.
	LastUsed time.Time `json:"last_used_time"`
	// UseCount is the number of times the ticket has been consumed.
	UseCount int `json:"use_count"`
	// Policy is the expiration policy attached at creation.
	Policy Policy `json:"expiration_policy"`
	// GrantedBy identifies the granting ticket this ticket was issued
	// from.
	GrantedBy string `json:"granted_by"`
	// Service is the service the ticket was granted for. Validation
	// succeeds only when presented for this exact service.
	Service models.Service `json:"service"`
	// FromNewLogin records whether the ticket was issued from a fresh
	// credential presentation rather than an existing session.
	FromNewLogin bool `json:"from_new_login"`
}

// NewServiceTicket mints a service ticket bound to the given service and
// granting ticket.
func NewServiceTicket(id string, grantedBy string, service models.Service, fromNewLogin bool, policy Policy, now time.Time) *ServiceTicket {
	return &ServiceTicket{
		TicketID:     id,
		Created:      now,
		Policy:       policy,
		GrantedBy:    grantedBy,
		Service:      service,
		FromNewLogin: fromNewLogin,
	}
}

// ID returns the ticket identifier.
func (t *ServiceTicket) ID() string { return t.TicketID }

// CreationTime returns when the ticket was minted.
func (t *ServiceTicket) CreationTime() time.Time { return t.Created }

// ExpirationPolicy returns the policy attached at creation.
func (t *ServiceTicket) ExpirationPolicy() ExpirationPolicy { return t.Policy.ExpirationPolicy }

// IsExpired evaluates the attached policy at the given instant.
func (t *ServiceTicket) IsExpired(now time.Time) bool {
	return t.Policy.IsExpired(t.ExpirationState(), now)
}

// IsConsumed reports whether the ticket has been used at least once.
func (t *ServiceTicket) IsConsumed() bool { return t.UseCount > 0 }

// ValidFor reports whether the ticket was granted for the given service.
// The match is exact; pattern matching applies to service registration,
// never to ticket validation.
func (t *ServiceTicket) ValidFor(service models.Service) bool {
	return t.Service == service
}

// Consume records a validation use, refreshing the activity timestamp the
// reuse window is measured against. Callers must apply it atomically with
// respect to other validators of the same ticket.
func (t *ServiceTicket) Consume(now time.Time) {
	t.UseCount++
	t.LastUsed = now
}

// ExpirationState snapshots the usage data visible to the expiration policy.
func (t *ServiceTicket) ExpirationState() State {
	return State{Created: t.Created, LastUsed: t.LastUsed, UseCount: t.UseCount}
}
