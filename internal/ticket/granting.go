package ticket

import (
	"time"

	"github.com/apereo/cas-sub072/internal/models"
)

// TicketGrantingTicket is the root credential handle for an authenticated
// single sign-on session. It records the authentication event that created
// it and tracks every service ticket and proxy-granting ticket issued from
// it so the session can be torn down as a unit.
type TicketGrantingTicket struct {
	// TicketID is the unique identifier, prefixed with "TGT" ("PGT" when
	// embedded in a ProxyGrantingTicket).
	TicketID string `json:"id"`
	// Created is the ticket creation time.
	Created time.Time `json:"creation_time"`
	// LastUsed is the time the ticket last granted a service ticket.
	LastUsed time.Time `json:"last_used_time"`
	// UseCount is the number of service tickets granted so far.
	UseCount int `json:"use_count"`
	// Policy is the expiration policy attached at creation.
	Policy Policy `json:"expiration_policy"`
	// Authentication is the authentication event this session roots in.
	Authentication *models.Authentication `json:"authentication"`
	// ChainedAuthentications lists the authentications along the proxy
	// chain, root session first. For a first-level ticket it holds only
	// the ticket's own authentication.
	ChainedAuthentications []*models.Authentication `json:"chained_authentications"`
	// Services maps issued service-ticket identifiers to the services
	// they were granted for, consulted during single sign-out.
	Services map[string]models.Service `json:"services"`
	// ProxyGrantingTicketIDs identifies the proxy-granting tickets
	// descending from this ticket, so destruction can cascade.
	ProxyGrantingTicketIDs map[string]struct{} `json:"proxy_granting_ticket_ids"`
	// ParentID identifies the granting ticket this one descends from.
	// Empty for a first-level session.
	ParentID string `json:"parent_id,omitempty"`
	// Terminated marks a ticket that has been explicitly destroyed but
	// not yet removed from storage.
	Terminated bool `json:"terminated"`
}

// NewTicketGrantingTicket mints a first-level ticket-granting ticket rooted
// in the given authentication event.
func NewTicketGrantingTicket(id string, auth *models.Authentication, policy Policy, now time.Time) *TicketGrantingTicket {
	return &TicketGrantingTicket{
		TicketID:               id,
		Created:                now,
		Policy:                 policy,
		Authentication:         auth,
		ChainedAuthentications: []*models.Authentication{auth},
		Services:               make(map[string]models.Service),
		ProxyGrantingTicketIDs: make(map[string]struct{}),
	}
}

// ID returns the ticket identifier.
func (t *TicketGrantingTicket) ID() string { return t.TicketID }

// CreationTime returns when the ticket was minted.
func (t *TicketGrantingTicket) CreationTime() time.Time { return t.Created }

// ExpirationPolicy returns the policy attached at creation.
func (t *TicketGrantingTicket) ExpirationPolicy() ExpirationPolicy { return t.Policy.ExpirationPolicy }

// IsExpired reports whether the ticket is terminated or policy-expired at
// the given instant.
func (t *TicketGrantingTicket) IsExpired(now time.Time) bool {
	if t.Terminated {
		return true
	}
	return t.Policy.IsExpired(t.ExpirationState(), now)
}

// IsRoot reports whether this ticket is a first-level session root rather
// than a proxy descendant.
func (t *TicketGrantingTicket) IsRoot() bool { return t.ParentID == "" }

// GrantService records that a service ticket was issued from this session,
// refreshing the activity window the idle timeout is measured against.
// Re-granting under the same service-ticket identifier is not expected and
// simply overwrites the entry.
func (t *TicketGrantingTicket) GrantService(serviceTicketID string, service models.Service, now time.Time) {
	if t.Services == nil {
		t.Services = make(map[string]models.Service)
	}
	t.Services[serviceTicketID] = service
	t.LastUsed = now
	t.UseCount++
}

// LinkProxyGrantingTicket records a proxy-granting ticket descending from
// this session so destruction can cascade to it.
func (t *TicketGrantingTicket) LinkProxyGrantingTicket(pgtID string) {
	if t.ProxyGrantingTicketIDs == nil {
		t.ProxyGrantingTicketIDs = make(map[string]struct{})
	}
	t.ProxyGrantingTicketIDs[pgtID] = struct{}{}
}

// MarkTerminated flags the ticket as destroyed. Terminated tickets report
// expired from every subsequent IsExpired call.
func (t *TicketGrantingTicket) MarkTerminated() { t.Terminated = true }

// ExpirationState snapshots the usage data visible to the expiration policy.
func (t *TicketGrantingTicket) ExpirationState() State {
	return State{Created: t.Created, LastUsed: t.LastUsed, UseCount: t.UseCount}
}

// ProxyGrantingTicket is a granting ticket held by an intermediary service
// so it can obtain service tickets on the user's behalf. It behaves as a
// ticket-granting ticket with a recorded provenance: the service ticket
// that authorized it and the service acting as the proxy.
type ProxyGrantingTicket struct {
	TicketGrantingTicket

	// AuthorizedBy is the identifier of the service ticket whose
	// validation authorized this proxy-granting ticket.
	AuthorizedBy string `json:"authorized_by"`
	// ProxiedBy is the intermediary service holding this ticket.
	ProxiedBy models.Service `json:"proxied_by"`
}

// NewProxyGrantingTicket mints a proxy-granting ticket descending from the
// given parent session. The proxying service's authentication is appended
// to the parent's chain so downstream validations can disclose the full
// proxy path.
func NewProxyGrantingTicket(id string, parent *TicketGrantingTicket, authorizedBy string, proxiedBy models.Service, proxyAuth *models.Authentication, policy Policy, now time.Time) *ProxyGrantingTicket {
	chain := make([]*models.Authentication, 0, len(parent.ChainedAuthentications)+1)
	chain = append(chain, parent.ChainedAuthentications...)
	chain = append(chain, proxyAuth)

	return &ProxyGrantingTicket{
		TicketGrantingTicket: TicketGrantingTicket{
			TicketID:               id,
			Created:                now,
			Policy:                 policy,
			Authentication:         proxyAuth,
			ChainedAuthentications: chain,
			Services:               make(map[string]models.Service),
			ProxyGrantingTicketIDs: make(map[string]struct{}),
			ParentID:               parent.TicketID,
		},
		AuthorizedBy: authorizedBy,
		ProxiedBy:    proxiedBy,
	}
}
