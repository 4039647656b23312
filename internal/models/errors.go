package models

import (
	"fmt"
	"net/http"
)

// TicketError represents a typed failure of a ticket lifecycle operation.
// It implements the error interface and carries the HTTP status code used
// when the error surfaces through the REST layer.
//
// Missing, expired, and already-consumed tickets all map to the same
// "invalid_ticket" code: callers outside the core must not be able to tell
// which case applied.
type TicketError struct {
	// Code is the machine-readable error code (e.g., "invalid_ticket").
	Code string `json:"error"`
	// Description provides additional human-readable error information.
	Description string `json:"error_description,omitempty"`
	// StatusCode is the HTTP status code to return (excluded from JSON).
	StatusCode int `json:"-"`
	// Transient marks a failure the caller may retry (excluded from JSON).
	Transient bool `json:"-"`
}

// Error returns a string representation of the ticket error.
// It implements the error interface.
func (e *TicketError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// WithDescription sets the error_description field on the TicketError and
// returns a copy, leaving shared sentinel values untouched.
func (e *TicketError) WithDescription(description string) *TicketError {
	clone := *e
	clone.Description = description
	return &clone
}

// IsTransient reports whether the failure is worth retrying.
func (e *TicketError) IsTransient() bool {
	return e.Transient
}

// NewInvalidTicket creates a TicketError with the "invalid_ticket" error
// code. This covers missing, expired, and already-consumed tickets, which
// are deliberately indistinguishable to callers. Returns HTTP 404 Not Found.
func NewInvalidTicket(description string) *TicketError {
	return &TicketError{
		Code:        "invalid_ticket",
		Description: description,
		StatusCode:  http.StatusNotFound,
	}
}

// NewUnauthorizedService creates a TicketError with the
// "unauthorized_service" error code, indicating the service registry
// rejected the relying service. Returns HTTP 403 Forbidden.
func NewUnauthorizedService(description string) *TicketError {
	return &TicketError{
		Code:        "unauthorized_service",
		Description: description,
		StatusCode:  http.StatusForbidden,
	}
}

// NewTicketCreationFailure creates a TicketError with the
// "ticket_creation_failure" error code, indicating a registry write failed.
// The transient flag reflects whether the backend signalled a retryable
// fault. Returns HTTP 500 Internal Server Error.
func NewTicketCreationFailure(description string, transient bool) *TicketError {
	return &TicketError{
		Code:        "ticket_creation_failure",
		Description: description,
		StatusCode:  http.StatusInternalServerError,
		Transient:   transient,
	}
}

// NewStorageUnavailable creates a TicketError with the
// "storage_unavailable" error code. Distinct from "invalid_ticket" so that
// monitoring can tell a really-ended session from a storage tier outage.
// Returns HTTP 503 Service Unavailable.
func NewStorageUnavailable(description string) *TicketError {
	return &TicketError{
		Code:        "storage_unavailable",
		Description: description,
		StatusCode:  http.StatusServiceUnavailable,
		Transient:   true,
	}
}

var (
	// ErrInvalidTicket indicates a missing, expired, or already-consumed
	// ticket. The three cases are deliberately indistinguishable.
	ErrInvalidTicket = &TicketError{
		Code:       "invalid_ticket",
		StatusCode: http.StatusNotFound,
	}

	// ErrUnauthorizedService indicates the service registry rejected the
	// relying service.
	ErrUnauthorizedService = &TicketError{
		Code:       "unauthorized_service",
		StatusCode: http.StatusForbidden,
	}

	// ErrTicketCreationFailure indicates a registry write failed.
	ErrTicketCreationFailure = &TicketError{
		Code:       "ticket_creation_failure",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrStorageUnavailable indicates the registry backend is unreachable.
	ErrStorageUnavailable = &TicketError{
		Code:       "storage_unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Transient:  true,
	}
)
