package integration_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/registry"
	"github.com/apereo/cas-sub072/internal/repository"
	"github.com/apereo/cas-sub072/internal/ticket"
	"github.com/apereo/cas-sub072/pkg/logger"
)

func TestRedisRegistryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	defer func() {
		if err = redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}()

	connectionString, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.RedisConfig{
		URL:          connectionString,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConn:  5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  300 * time.Second,
	}

	log := logger.New("info", "json", "stdout")
	reg, err := registry.NewRedisRegistry(cfg, log)
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.Ping(ctx))

	factory := ticket.NewFactory(&config.TicketConfig{
		TGTTimeToLive:        8 * time.Hour,
		TGTTimeToIdle:        2 * time.Hour,
		RememberMeTimeToLive: 336 * time.Hour,
		STTimeToLive:         10 * time.Second,
		IDEntropyBytes:       32,
	})

	t.Run("TicketLifecycle", func(t *testing.T) {
		testTicketLifecycle(ctx, t, reg, factory)
	})

	t.Run("ExpiredTicketsReportedAbsent", func(t *testing.T) {
		testExpiredTicketsReportedAbsent(ctx, t, reg, factory)
	})

	t.Run("ConcurrentConsumeSingleWinner", func(t *testing.T) {
		testConcurrentConsumeSingleWinner(ctx, t, reg, factory)
	})

	t.Run("ProxyTicketRoundTrip", func(t *testing.T) {
		testProxyTicketRoundTrip(ctx, t, reg, factory)
	})

	t.Run("ServiceCacheOperations", func(t *testing.T) {
		testServiceCacheOperations(ctx, t, reg, log)
	})
}

func newSession(factory *ticket.Factory, principal string) *ticket.TicketGrantingTicket {
	authn := models.NewAuthentication(&models.Principal{ID: principal}, false, nil)
	return factory.NewTicketGrantingTicket(authn)
}

func testTicketLifecycle(ctx context.Context, t *testing.T, reg *registry.RedisRegistry, factory *ticket.Factory) {
	tgt := newSession(factory, "alice")
	require.NoError(t, reg.AddTicket(ctx, tgt))

	got, err := reg.GetTicket(ctx, tgt.ID())
	require.NoError(t, err)
	stored, ok := got.(*ticket.TicketGrantingTicket)
	require.True(t, ok)
	assert.Equal(t, "alice", stored.Authentication.Principal.ID)

	// Grant and write back
	st := factory.NewServiceTicket(stored, "https://app.example.org/callback", true)
	require.NoError(t, reg.AddTicket(ctx, st))
	require.NoError(t, reg.UpdateTicket(ctx, stored))

	got, err = reg.GetTicket(ctx, tgt.ID())
	require.NoError(t, err)
	stored = got.(*ticket.TicketGrantingTicket)
	assert.Equal(t, 1, stored.UseCount)
	assert.Contains(t, stored.Services, st.ID())

	existed, err := reg.DeleteTicket(ctx, st.ID())
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = reg.DeleteTicket(ctx, tgt.ID())
	require.NoError(t, err)
	assert.True(t, existed)

	// Idempotent delete
	existed, err = reg.DeleteTicket(ctx, tgt.ID())
	require.NoError(t, err)
	assert.False(t, existed)
}

func testExpiredTicketsReportedAbsent(ctx context.Context, t *testing.T, reg *registry.RedisRegistry, factory *ticket.Factory) {
	past := time.Now().Add(-time.Hour)
	expiredFactory := factory.WithClock(func() time.Time { return past })

	tgt := newSession(expiredFactory, "bob")
	st := expiredFactory.NewServiceTicket(tgt, "https://app.example.org/callback", true)
	require.NoError(t, reg.AddTicket(ctx, st))

	_, err := reg.GetTicket(ctx, st.ID())
	assert.ErrorIs(t, err, registry.ErrTicketNotFound)

	_, _, err = reg.ConsumeServiceTicket(ctx, st.ID())
	assert.ErrorIs(t, err, registry.ErrTicketNotFound)
}

func testConcurrentConsumeSingleWinner(ctx context.Context, t *testing.T, reg *registry.RedisRegistry, factory *ticket.Factory) {
	tgt := newSession(factory, "carol")
	require.NoError(t, reg.AddTicket(ctx, tgt))
	st := factory.NewServiceTicket(tgt, "https://app.example.org/callback", true)
	require.NoError(t, reg.AddTicket(ctx, st))

	const validators = 16
	var wg sync.WaitGroup
	winners := make(chan bool, validators)

	for i := 0; i < validators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, first, err := reg.ConsumeServiceTicket(ctx, st.ID())
			if err == nil && first {
				winners <- true
			}
		}()
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent validator must win")
}

func testProxyTicketRoundTrip(ctx context.Context, t *testing.T, reg *registry.RedisRegistry, factory *ticket.Factory) {
	tgt := newSession(factory, "dave")
	require.NoError(t, reg.AddTicket(ctx, tgt))

	proxyAuth := models.NewAuthentication(&models.Principal{ID: "https://proxy.example.org/pgt"}, false, nil)
	pgt := factory.NewProxyGrantingTicket(tgt, "ST-1-authorizer", "https://proxy.example.org", proxyAuth)
	require.NoError(t, reg.AddTicket(ctx, pgt))
	require.NoError(t, reg.UpdateTicket(ctx, tgt))

	got, err := reg.GetTicket(ctx, pgt.ID())
	require.NoError(t, err)
	stored, ok := got.(*ticket.ProxyGrantingTicket)
	require.True(t, ok, "proxy-granting tickets must keep their concrete type through storage")
	assert.Equal(t, tgt.ID(), stored.ParentID)
	assert.Len(t, stored.ChainedAuthentications, 2)

	parent, err := reg.GetTicket(ctx, tgt.ID())
	require.NoError(t, err)
	assert.Contains(t, parent.(*ticket.TicketGrantingTicket).ProxyGrantingTicketIDs, pgt.ID())
}

func testServiceCacheOperations(ctx context.Context, t *testing.T, reg *registry.RedisRegistry, log *logrus.Logger) {
	repo := repository.NewRedisServiceRepository(reg.Client(), log)

	rs := &models.RegisteredService{
		ID:             42,
		Name:           "Portal",
		ServiceURL:     "https://portal.example.org/*",
		Enabled:        true,
		SSOEnabled:     true,
		AllowedToProxy: true,
		LogoutType:     models.LogoutTypeBackChannel,
		LogoutURL:      "https://portal.example.org/logout",
		SecretHash:     "$2a$12$fakehashforcacheroundtrip",
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.CreateService(ctx, rs))

	got, err := repo.GetServiceByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, rs.Name, got.Name)
	assert.Equal(t, rs.ServiceURL, got.ServiceURL)
	assert.Equal(t, rs.LogoutType, got.LogoutType)
	assert.Equal(t, rs.SecretHash, got.SecretHash, "the cache form must round-trip the secret hash")

	listed, err := repo.ListServices(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, repo.UpdateServiceSecret(ctx, 42, "$2a$12$rotatedhash"))
	got, err = repo.GetServiceByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "$2a$12$rotatedhash", got.SecretHash)

	require.NoError(t, repo.DeleteService(ctx, 42))
	_, err = repo.GetServiceByID(ctx, 42)
	assert.True(t, errors.Is(err, repository.ErrServiceCacheMiss))
}
