// Package repository provides data access layers for registered-service
// metadata: a PostgreSQL primary store, a Redis cache, and a hybrid
// cache-aside composition of the two with graceful degradation.
package repository

import (
	"context"
	"errors"

	"github.com/apereo/cas-sub072/internal/models"
)

// ErrServiceNotFound is returned when a registered service does not exist.
var ErrServiceNotFound = errors.New("registered service not found")

// ErrServiceCacheMiss is returned by the cache layer when an entry is
// absent. Callers use it to distinguish a miss from a cache failure.
var ErrServiceCacheMiss = errors.New("service cache miss")

// ServiceRepository defines persistence for registered-service metadata.
// Implementations may use different storage backends. All methods accept a
// context for cancellation and timeout support.
type ServiceRepository interface {
	// CreateService stores a new service registration. Any shared secret
	// must be hashed before calling this method. On success the
	// registration's ID is populated.
	CreateService(ctx context.Context, service *models.RegisteredService) error

	// GetServiceByID retrieves a registration by its database identifier.
	// Returns ErrServiceNotFound if no such registration exists.
	GetServiceByID(ctx context.Context, id int64) (*models.RegisteredService, error)

	// ListServices returns every service registration. The registry is
	// small by design; access decisions pattern-match over the full list.
	ListServices(ctx context.Context) ([]*models.RegisteredService, error)

	// UpdateService updates an existing registration. Returns
	// ErrServiceNotFound if no such registration exists.
	UpdateService(ctx context.Context, service *models.RegisteredService) error

	// UpdateServiceSecret rotates the registration's secret to a new
	// hashed value.
	UpdateServiceSecret(ctx context.Context, id int64, newSecretHash string) error

	// DeleteService removes a registration. Returns ErrServiceNotFound
	// if no such registration exists.
	DeleteService(ctx context.Context, id int64) error
}
