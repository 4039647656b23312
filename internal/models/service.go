// Package models defines the domain entities shared across the SSO ticket
// service: relying services, authentication results, registered-service
// metadata, and the error taxonomy for ticket operations.
package models

import (
	"strings"
	"time"
)

// Service is the opaque, comparable identifier of a relying application,
// typically its callback URL. Only the identifier travels through the ticket
// core; access decisions against it are made by the service registry.
type Service string

// String returns the service identifier.
func (s Service) String() string {
	return string(s)
}

// LogoutType describes how session-termination notices are delivered to a
// registered service.
type LogoutType string

const (
	// LogoutTypeNone disables logout notification for the service.
	LogoutTypeNone LogoutType = "NONE"
	// LogoutTypeBackChannel delivers a server-to-server POST of the logout message.
	LogoutTypeBackChannel LogoutType = "BACK_CHANNEL"
	// LogoutTypeFrontChannel returns a redirect instruction for the browser to carry out.
	LogoutTypeFrontChannel LogoutType = "FRONT_CHANNEL"
)

// RegisteredService holds the registry metadata for a relying application:
// which service identifiers it covers, whether it participates in SSO, and
// how it is notified of session termination.
type RegisteredService struct {
	// ID is the database identifier of the registration.
	ID int64 `json:"id"`
	// Name is the human-readable service name.
	Name string `json:"name"`
	// ServiceURL is the identifier pattern the registration covers: an exact
	// service URL, or a prefix pattern ending in '*'.
	ServiceURL string `json:"service_url"`
	// Enabled gates whether tickets may be granted to the service at all.
	Enabled bool `json:"enabled"`
	// SSOEnabled allows service tickets to be granted from an existing
	// session without fresh credential presentation.
	SSOEnabled bool `json:"sso_enabled"`
	// AllowedToProxy permits the service to obtain proxy-granting tickets.
	AllowedToProxy bool `json:"allowed_to_proxy"`
	// LogoutType selects the logout notification style.
	LogoutType LogoutType `json:"logout_type"`
	// LogoutURL is the endpoint that receives logout notices. For
	// back-channel it is POSTed to; for front-channel the browser is
	// redirected to it.
	LogoutURL string `json:"logout_url"`
	// SecretHash is the bcrypt hash of the shared secret the service uses
	// to authenticate administrative callbacks. Excluded from JSON.
	SecretHash string `json:"-"`
	// CreatedAt is the registration creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last modification timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether the registration covers the given service
// identifier. A ServiceURL ending in '*' matches by prefix; anything else
// must match exactly.
func (rs *RegisteredService) Matches(service Service) bool {
	pattern := rs.ServiceURL
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(string(service), strings.TrimSuffix(pattern, "*"))
	}
	return string(service) == pattern
}

// RegisteredServiceCacheEntry is the Redis serialization form of a
// RegisteredService. The secret hash carries a JSON tag here so cached
// entries round-trip it; RegisteredService itself excludes the hash from
// its JSON form.
type RegisteredServiceCacheEntry struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	ServiceURL     string     `json:"service_url"`
	Enabled        bool       `json:"enabled"`
	SSOEnabled     bool       `json:"sso_enabled"`
	AllowedToProxy bool       `json:"allowed_to_proxy"`
	LogoutType     LogoutType `json:"logout_type"`
	LogoutURL      string     `json:"logout_url"`
	SecretHash     string     `json:"secret_hash"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ToCacheEntry converts a RegisteredService to its cache serialization form.
func (rs *RegisteredService) ToCacheEntry() *RegisteredServiceCacheEntry {
	return &RegisteredServiceCacheEntry{
		ID:             rs.ID,
		Name:           rs.Name,
		ServiceURL:     rs.ServiceURL,
		Enabled:        rs.Enabled,
		SSOEnabled:     rs.SSOEnabled,
		AllowedToProxy: rs.AllowedToProxy,
		LogoutType:     rs.LogoutType,
		LogoutURL:      rs.LogoutURL,
		SecretHash:     rs.SecretHash,
		CreatedAt:      rs.CreatedAt,
		UpdatedAt:      rs.UpdatedAt,
	}
}

// ToRegisteredService converts a cache entry back to a RegisteredService.
func (e *RegisteredServiceCacheEntry) ToRegisteredService() *RegisteredService {
	return &RegisteredService{
		ID:             e.ID,
		Name:           e.Name,
		ServiceURL:     e.ServiceURL,
		Enabled:        e.Enabled,
		SSOEnabled:     e.SSOEnabled,
		AllowedToProxy: e.AllowedToProxy,
		LogoutType:     e.LogoutType,
		LogoutURL:      e.LogoutURL,
		SecretHash:     e.SecretHash,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}
