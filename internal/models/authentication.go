package models

import "time"

// Principal identifies the authenticated subject along with the attributes
// released by the upstream attribute resolver.
type Principal struct {
	// ID is the principal identifier (username or subject id).
	ID string `json:"id"`
	// Attributes are the resolved principal attributes.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Authentication is the immutable record of a successful authentication
// event produced by an upstream authentication handler. The ticket core
// never inspects credentials; it only carries this result.
type Authentication struct {
	// Principal is the authenticated subject.
	Principal *Principal `json:"principal"`
	// AuthenticatedAt is when the credential verification succeeded.
	AuthenticatedAt time.Time `json:"authenticated_at"`
	// RememberMe indicates the credential carried a remember-me flag,
	// selecting the long-lived TGT expiration policy.
	RememberMe bool `json:"remember_me,omitempty"`
	// Attributes are handler-success metadata (handler name, method, ...).
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewAuthentication creates an authentication record for the given principal
// timestamped now.
func NewAuthentication(principal *Principal, rememberMe bool, attributes map[string]any) *Authentication {
	return &Authentication{
		Principal:       principal,
		AuthenticatedAt: time.Now(),
		RememberMe:      rememberMe,
		Attributes:      attributes,
	}
}

// Assertion is the outcome of a successful service-ticket validation: the
// authentication chain backing the ticket, the service it was issued for,
// and whether the ticket resulted from fresh credential presentation.
type Assertion struct {
	// Authentications is the chain of authentications, primary first,
	// followed by one entry per proxy hop.
	Authentications []*Authentication `json:"authentications"`
	// Service is the service the validated ticket was issued for.
	Service Service `json:"service"`
	// FromNewLogin reports whether the ticket was granted from fresh
	// credential presentation rather than SSO reuse.
	FromNewLogin bool `json:"from_new_login"`
	// ProxyGrantingTicketID is set when validation minted a proxy-granting
	// ticket for the relying service.
	ProxyGrantingTicketID string `json:"proxy_granting_ticket_id,omitempty"`
}

// PrimaryAuthentication returns the root authentication of the chain, the
// one produced by primary credential verification.
func (a *Assertion) PrimaryAuthentication() *Authentication {
	if len(a.Authentications) == 0 {
		return nil
	}
	return a.Authentications[0]
}

// IsProxied reports whether the assertion passed through at least one proxy.
func (a *Assertion) IsProxied() bool {
	return len(a.Authentications) > 1
}
