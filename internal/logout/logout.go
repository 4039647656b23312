// Package logout implements single sign-out: when a session is destroyed,
// every service it issued a ticket to is notified so the service can end
// its local session too.
//
// Back-channel services receive a server-to-server POST of the logout
// message; front-channel services get a redirect instruction the caller
// relays to the browser. Notification is best-effort by contract: an
// unreachable service never blocks or fails session destruction.
package logout

import (
	"time"

	"github.com/google/uuid"

	"github.com/apereo/cas-sub072/internal/models"
)

// Status describes the outcome of one logout notice.
type Status string

const (
	// StatusNotAttempted marks notices that were never dispatched:
	// front-channel instructions awaiting the browser and services with
	// logout disabled.
	StatusNotAttempted Status = "NOT_ATTEMPTED"
	// StatusSuccess marks an acknowledged back-channel notice.
	StatusSuccess Status = "SUCCESS"
	// StatusFailure marks a back-channel notice that could not be delivered.
	StatusFailure Status = "FAILURE"
)

// Request is the record of one logout notice owed to a service for one
// destroyed service ticket.
type Request struct {
	// ID uniquely identifies the notice.
	ID string `json:"id"`
	// TicketID is the service ticket whose session is being ended.
	TicketID string `json:"ticket_id"`
	// Service is the service being notified.
	Service models.Service `json:"service"`
	// LogoutType is the delivery style of the registration.
	LogoutType models.LogoutType `json:"logout_type"`
	// Status is the delivery outcome.
	Status Status `json:"status"`
	// RedirectURL carries the browser redirect for front-channel
	// notices; empty otherwise.
	RedirectURL string `json:"redirect_url,omitempty"`

	// endpoint is the delivery target for back-channel notices.
	endpoint string
}

// NewRequest creates a logout notice record in the not-attempted state.
func NewRequest(ticketID string, service models.Service, logoutType models.LogoutType) *Request {
	return &Request{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		Service:    service,
		LogoutType: logoutType,
		Status:     StatusNotAttempted,
	}
}

// Message is the JSON body of a back-channel logout notice.
type Message struct {
	// ID identifies the notice for idempotent processing.
	ID string `json:"id"`
	// TicketID names the service ticket whose session must end.
	TicketID string `json:"ticket_id"`
	// Issued is the notice creation time.
	Issued time.Time `json:"issued"`
}
