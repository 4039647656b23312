package repository

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/models"
)

// HybridServiceRepository implements ServiceRepository with PostgreSQL
// primary storage and Redis caching, following the cache-aside pattern:
//   - Reads: check cache first, on miss read from PostgreSQL and populate cache
//   - Writes: write to PostgreSQL first (source of truth), then update cache
//   - Graceful degradation: falls back to Redis-only if PostgreSQL is unavailable
//
// Thread-safe for concurrent operations.
type HybridServiceRepository struct {
	postgres ServiceRepository
	cache    ServiceRepository
	logger   *logrus.Logger

	// State tracking for graceful degradation
	postgresAvailable bool
	mu                sync.RWMutex
}

// NewHybridServiceRepository creates a new hybrid service repository.
// postgres may be nil when the database is not configured; cache is
// required.
func NewHybridServiceRepository(postgres, cache ServiceRepository, logger *logrus.Logger) *HybridServiceRepository {
	return &HybridServiceRepository{
		postgres:          postgres,
		cache:             cache,
		logger:            logger,
		postgresAvailable: postgres != nil,
	}
}

// CreateService stores a registration in PostgreSQL (primary) and the cache.
func (r *HybridServiceRepository) CreateService(ctx context.Context, service *models.RegisteredService) error {
	if r.tryPostgres() {
		err := r.postgres.CreateService(ctx, service)
		if err == nil {
			r.restorePostgresAvailable()
			r.populateCache(ctx, service)
			return nil
		}
		if !isConnectionError(err) {
			return err
		}
		r.logger.WithError(err).Warn("PostgreSQL unavailable during CreateService, falling back to Redis")
		r.setPostgresUnavailable()
	}

	return r.cache.CreateService(ctx, service)
}

// GetServiceByID retrieves a registration from the cache first, then
// PostgreSQL on cache miss.
func (r *HybridServiceRepository) GetServiceByID(ctx context.Context, id int64) (*models.RegisteredService, error) {
	service, err := r.cache.GetServiceByID(ctx, id)
	if err == nil {
		return service, nil
	}
	if !errors.Is(err, ErrServiceCacheMiss) {
		r.logger.WithError(err).WithField("service_id", id).Debug("Cache error during GetServiceByID")
	}

	// Cache miss. Attempt PostgreSQL even if previously marked
	// unavailable to allow recovery.
	if r.postgres == nil {
		return nil, ErrServiceNotFound
	}

	service, err = r.postgres.GetServiceByID(ctx, id)
	if err != nil {
		if isConnectionError(err) {
			r.logger.WithError(err).WithField("service_id", id).Warn("PostgreSQL unavailable during GetServiceByID")
			r.setPostgresUnavailable()
		}
		return nil, err
	}

	r.restorePostgresAvailable()
	r.populateCache(ctx, service)
	return service, nil
}

// ListServices returns every registration from PostgreSQL, falling back to
// the cache when the database is unavailable. Listing bypasses the cache on
// the happy path so access decisions never miss a fresh registration.
func (r *HybridServiceRepository) ListServices(ctx context.Context) ([]*models.RegisteredService, error) {
	if r.postgres != nil {
		services, err := r.postgres.ListServices(ctx)
		if err == nil {
			r.restorePostgresAvailable()
			for _, service := range services {
				r.populateCache(ctx, service)
			}
			return services, nil
		}
		if !isConnectionError(err) {
			return nil, err
		}
		r.logger.WithError(err).Warn("PostgreSQL unavailable during ListServices, serving from cache")
		r.setPostgresUnavailable()
	}

	return r.cache.ListServices(ctx)
}

// UpdateService updates a registration in PostgreSQL and refreshes the cache.
func (r *HybridServiceRepository) UpdateService(ctx context.Context, service *models.RegisteredService) error {
	if r.tryPostgres() {
		err := r.postgres.UpdateService(ctx, service)
		if err == nil {
			r.restorePostgresAvailable()
			r.populateCache(ctx, service)
			return nil
		}
		if !isConnectionError(err) {
			return err
		}
		r.logger.WithError(err).Warn("PostgreSQL unavailable during UpdateService, falling back to Redis")
		r.setPostgresUnavailable()
	}

	return r.cache.UpdateService(ctx, service)
}

// UpdateServiceSecret rotates a registration's secret in PostgreSQL and
// invalidates the cached entry so the stale hash cannot be served.
func (r *HybridServiceRepository) UpdateServiceSecret(ctx context.Context, id int64, newSecretHash string) error {
	if r.tryPostgres() {
		err := r.postgres.UpdateServiceSecret(ctx, id, newSecretHash)
		if err == nil {
			r.restorePostgresAvailable()
			if cacheErr := r.cache.DeleteService(ctx, id); cacheErr != nil {
				r.logger.WithError(cacheErr).WithField("service_id", id).Warn("Failed to invalidate cached service after secret rotation")
			}
			return nil
		}
		if !isConnectionError(err) {
			return err
		}
		r.logger.WithError(err).Warn("PostgreSQL unavailable during UpdateServiceSecret, falling back to Redis")
		r.setPostgresUnavailable()
	}

	return r.cache.UpdateServiceSecret(ctx, id, newSecretHash)
}

// DeleteService removes a registration from PostgreSQL and the cache.
func (r *HybridServiceRepository) DeleteService(ctx context.Context, id int64) error {
	if r.tryPostgres() {
		err := r.postgres.DeleteService(ctx, id)
		if err != nil && !isConnectionError(err) {
			return err
		}
		if err == nil {
			r.restorePostgresAvailable()
			if cacheErr := r.cache.DeleteService(ctx, id); cacheErr != nil {
				r.logger.WithError(cacheErr).WithField("service_id", id).Warn("Failed to remove cached service after delete")
			}
			return nil
		}
		r.logger.WithError(err).Warn("PostgreSQL unavailable during DeleteService, falling back to Redis")
		r.setPostgresUnavailable()
	}

	return r.cache.DeleteService(ctx, id)
}

// tryPostgres reports whether PostgreSQL should be attempted first.
func (r *HybridServiceRepository) tryPostgres() bool {
	if r.postgres == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.postgresAvailable
}

// populateCache writes a registration into the cache, logging but not
// propagating failures; PostgreSQL remains the source of truth.
func (r *HybridServiceRepository) populateCache(ctx context.Context, service *models.RegisteredService) {
	if err := r.cache.UpdateService(ctx, service); err != nil {
		r.logger.WithError(err).WithField("service_id", service.ID).Warn("Failed to cache registered service")
	}
}

func (r *HybridServiceRepository) setPostgresUnavailable() {
	r.mu.Lock()
	r.postgresAvailable = false
	r.mu.Unlock()
}

func (r *HybridServiceRepository) restorePostgresAvailable() {
	r.mu.Lock()
	if !r.postgresAvailable {
		r.logger.Info("PostgreSQL repository available again, leaving Redis-only mode")
	}
	r.postgresAvailable = true
	r.mu.Unlock()
}

// isConnectionError reports whether an error looks like a connectivity
// failure rather than a business logic error.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "database connection not available") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "context deadline exceeded")
}
