package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/models"
)

const (
	// serviceKeyPrefix namespaces cached service registrations.
	serviceKeyPrefix = "sso:service:"
	// serviceCacheTTL bounds cache staleness after out-of-band database
	// edits.
	serviceCacheTTL = 5 * time.Minute
)

// RedisServiceRepository implements ServiceRepository on Redis. It serves
// as the cache layer of the hybrid repository and as the sole store when
// PostgreSQL is not configured.
type RedisServiceRepository struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// NewRedisServiceRepository creates a Redis-backed service repository on an
// existing client.
func NewRedisServiceRepository(rdb *redis.Client, logger *logrus.Logger) *RedisServiceRepository {
	return &RedisServiceRepository{
		rdb:    rdb,
		logger: logger,
	}
}

// serviceKey builds the Redis key for a registration identifier.
func serviceKey(id int64) string {
	return serviceKeyPrefix + strconv.FormatInt(id, 10)
}

// store writes a registration under its key with the cache TTL.
func (r *RedisServiceRepository) store(ctx context.Context, service *models.RegisteredService) error {
	data, err := json.Marshal(service.ToCacheEntry())
	if err != nil {
		return fmt.Errorf("failed to marshal registered service: %w", err)
	}
	if err := r.rdb.Set(ctx, serviceKey(service.ID), data, serviceCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to store registered service: %w", err)
	}
	return nil
}

// CreateService stores a new registration. When Redis acts as the sole
// store the caller is responsible for assigning identifiers.
func (r *RedisServiceRepository) CreateService(ctx context.Context, service *models.RegisteredService) error {
	return r.store(ctx, service)
}

// GetServiceByID retrieves a cached registration. A missing entry is
// reported as ErrServiceCacheMiss so the hybrid layer can consult the
// primary store.
func (r *RedisServiceRepository) GetServiceByID(ctx context.Context, id int64) (*models.RegisteredService, error) {
	data, err := r.rdb.Get(ctx, serviceKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrServiceCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registered service: %w", err)
	}

	var entry models.RegisteredServiceCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registered service: %w", err)
	}
	return entry.ToRegisteredService(), nil
}

// ListServices scans the cached registrations. This walks the service key
// space; the registry is small so the scan stays cheap.
func (r *RedisServiceRepository) ListServices(ctx context.Context) ([]*models.RegisteredService, error) {
	var services []*models.RegisteredService

	iter := r.rdb.Scan(ctx, 0, serviceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read registered service during scan: %w", err)
		}

		var entry models.RegisteredServiceCacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			r.logger.WithError(err).WithField("key", iter.Val()).Warn("Skipping undecodable service cache entry")
			continue
		}
		services = append(services, entry.ToRegisteredService())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan registered services: %w", err)
	}
	return services, nil
}

// UpdateService overwrites the cached registration.
func (r *RedisServiceRepository) UpdateService(ctx context.Context, service *models.RegisteredService) error {
	return r.store(ctx, service)
}

// UpdateServiceSecret rotates the secret on the cached registration.
func (r *RedisServiceRepository) UpdateServiceSecret(ctx context.Context, id int64, newSecretHash string) error {
	service, err := r.GetServiceByID(ctx, id)
	if errors.Is(err, ErrServiceCacheMiss) {
		return ErrServiceNotFound
	}
	if err != nil {
		return err
	}

	service.SecretHash = newSecretHash // pragma: allowlist secret
	return r.store(ctx, service)
}

// DeleteService removes the cached registration.
func (r *RedisServiceRepository) DeleteService(ctx context.Context, id int64) error {
	if err := r.rdb.Del(ctx, serviceKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete registered service: %w", err)
	}
	return nil
}
