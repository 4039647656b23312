package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/ticket"
)

const (
	// ticketKeyPrefix namespaces ticket keys to avoid collisions with
	// other data sharing the Redis instance.
	ticketKeyPrefix = "sso:ticket:"

	// consumeRetries bounds the optimistic-transaction retry loop when
	// concurrent validators race on the same service ticket.
	consumeRetries = 5
)

// RedisRegistry is a Registry backed by Redis, letting multiple server
// nodes share one session space. Tickets are stored as JSON under
// prefixed keys; a key's TTL is bounded by the ticket's maximum possible
// remaining lifetime, so Redis reclaims dead tickets even if the cleaner
// never reaches them.
type RedisRegistry struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

// NewRedisRegistry connects to Redis using the given configuration and
// verifies connectivity before returning.
func NewRedisRegistry(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password // pragma: allowlist secret
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConn
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout
	opts.ConnMaxIdleTime = cfg.IdleTimeout

	r := &RedisRegistry{
		rdb:    redis.NewClient(opts),
		logger: logger,
	}

	if pingErr := r.Ping(context.Background()); pingErr != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", pingErr)
	}

	logger.Info("Connected to Redis ticket registry")
	return r, nil
}

// Client exposes the underlying Redis client so other components (the
// service cache, the rate limiter) can share the connection pool.
func (r *RedisRegistry) Client() *redis.Client {
	return r.rdb
}

// ticketKey builds the Redis key for a ticket identifier.
func ticketKey(id string) string { return ticketKeyPrefix + id }

// storageTTL converts a ticket's remaining lifetime at its current state
// into a key expiration. Zero means the key never expires, which is the
// intent for never-expiring policies only; tickets are added fresh, so a
// bounded policy always yields a positive duration here.
func storageTTL(t ticket.Ticket, now time.Time) time.Duration {
	return t.ExpirationPolicy().RemainingLifetime(t.ExpirationState(), now)
}

// AddTicket stores a newly minted ticket with a bounded key TTL.
func (r *RedisRegistry) AddTicket(ctx context.Context, t ticket.Ticket) error {
	data, err := ticket.Encode(t)
	if err != nil {
		return fmt.Errorf("failed to encode ticket: %w", err)
	}

	if err := r.rdb.Set(ctx, ticketKey(t.ID()), data, storageTTL(t, time.Now())).Err(); err != nil {
		r.logger.WithError(err).WithField("ticket_id", ticket.MaskID(t.ID())).Error("Failed to store ticket in Redis")
		return fmt.Errorf("failed to store ticket: %w", err)
	}

	r.logger.WithField("ticket_id", ticket.MaskID(t.ID())).Debug("Ticket added to registry")
	return nil
}

// GetTicket retrieves a live ticket, reporting expired tickets as absent.
func (r *RedisRegistry) GetTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	t, err := r.GetRawTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsExpired(time.Now()) {
		return nil, ErrTicketNotFound
	}
	return t, nil
}

// GetRawTicket retrieves a ticket without the expiration check.
func (r *RedisRegistry) GetRawTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	data, err := r.rdb.Get(ctx, ticketKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		r.logger.WithError(err).WithField("ticket_id", ticket.MaskID(id)).Error("Failed to read ticket from Redis")
		return nil, fmt.Errorf("failed to read ticket: %w", err)
	}

	t, err := ticket.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}
	return t, nil
}

// UpdateTicket persists mutated ticket state, keeping the existing key TTL.
func (r *RedisRegistry) UpdateTicket(ctx context.Context, t ticket.Ticket) error {
	data, err := ticket.Encode(t)
	if err != nil {
		return fmt.Errorf("failed to encode ticket: %w", err)
	}

	if err := r.rdb.Set(ctx, ticketKey(t.ID()), data, redis.KeepTTL).Err(); err != nil {
		r.logger.WithError(err).WithField("ticket_id", ticket.MaskID(t.ID())).Error("Failed to update ticket in Redis")
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	return nil
}

// DeleteTicket removes a ticket, reporting whether it existed.
func (r *RedisRegistry) DeleteTicket(ctx context.Context, id string) (bool, error) {
	deleted, err := r.rdb.Del(ctx, ticketKey(id)).Result()
	if err != nil {
		r.logger.WithError(err).WithField("ticket_id", ticket.MaskID(id)).Error("Failed to delete ticket from Redis")
		return false, fmt.Errorf("failed to delete ticket: %w", err)
	}

	if deleted > 0 {
		r.logger.WithField("ticket_id", ticket.MaskID(id)).Debug("Ticket deleted from registry")
	}
	return deleted > 0, nil
}

// GetTickets scans the whole keyspace under the ticket prefix. Expensive;
// reserved for the background cleaner and administrative statistics.
func (r *RedisRegistry) GetTickets(ctx context.Context) ([]ticket.Ticket, error) {
	var all []ticket.Ticket

	iter := r.rdb.Scan(ctx, 0, ticketKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			// Key expired between scan and read.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ticket during scan: %w", err)
		}

		t, err := ticket.Decode(data)
		if err != nil {
			r.logger.WithError(err).WithField("key", iter.Val()).Warn("Skipping undecodable ticket during scan")
			continue
		}
		all = append(all, t)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan tickets: %w", err)
	}
	return all, nil
}

// ConsumeServiceTicket atomically records a validation use on a service
// ticket using an optimistic transaction: the ticket is read under WATCH,
// checked, and written back consumed; a concurrent writer aborts the
// transaction and the read repeats against the winner's state. Exactly one
// racing caller observes the first use.
func (r *RedisRegistry) ConsumeServiceTicket(ctx context.Context, id string) (*ticket.ServiceTicket, bool, error) {
	key := ticketKey(id)

	var (
		consumed *ticket.ServiceTicket
		first    bool
	)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrTicketNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read ticket: %w", err)
		}

		t, err := ticket.Decode(data)
		if err != nil {
			return fmt.Errorf("failed to decode ticket: %w", err)
		}
		st, ok := t.(*ticket.ServiceTicket)
		if !ok {
			return ErrTicketNotFound
		}

		now := time.Now()
		if st.IsExpired(now) {
			return ErrTicketNotFound
		}

		st.Consume(now)
		updated, err := ticket.Encode(st)
		if err != nil {
			return fmt.Errorf("failed to encode ticket: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}

		consumed = st
		first = st.UseCount == 1
		return nil
	}

	for attempt := 0; attempt < consumeRetries; attempt++ {
		err := r.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return consumed, first, nil
	}
	return nil, false, fmt.Errorf("failed to consume ticket after %d attempts", consumeRetries)
}

// Ping verifies connectivity to the Redis server.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisRegistry) Close() error {
	r.logger.Info("Closing Redis ticket registry connection")
	return r.rdb.Close()
}
