package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apereo/cas-sub072/internal/auth"
	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/logout"
	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/registry"
	"github.com/apereo/cas-sub072/internal/services"
	"github.com/apereo/cas-sub072/internal/ticket"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fixture wires a central service over the in-memory registry and a static
// service registry.
type fixture struct {
	central  *auth.CentralService
	registry *registry.MemoryRegistry
	logout   *recordingDispatcher
}

// recordingDispatcher captures which sessions had sign-out performed.
type recordingDispatcher struct {
	mu       sync.Mutex
	sessions []string
	requests []*logout.Request
}

func (d *recordingDispatcher) PerformLogout(_ context.Context, tgt *ticket.TicketGrantingTicket) []*logout.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append(d.sessions, tgt.ID())

	var requests []*logout.Request
	for stID, service := range tgt.Services {
		req := logout.NewRequest(stID, service, models.LogoutTypeBackChannel)
		req.Status = logout.StatusSuccess
		requests = append(requests, req)
	}
	d.requests = append(d.requests, requests...)
	return requests
}

func defaultRegistrations() []*models.RegisteredService {
	return []*models.RegisteredService{
		{ID: 1, Name: "app", ServiceURL: "https://app.example.org/*", Enabled: true, SSOEnabled: true, AllowedToProxy: true, LogoutType: models.LogoutTypeBackChannel},
		{ID: 2, Name: "strict", ServiceURL: "https://strict.example.org/*", Enabled: true, SSOEnabled: false},
		{ID: 3, Name: "disabled", ServiceURL: "https://disabled.example.org/*", Enabled: false},
		{ID: 4, Name: "noproxy", ServiceURL: "https://noproxy.example.org/*", Enabled: true, SSOEnabled: true},
	}
}

func newFixture(t *testing.T, registrations []*models.RegisteredService) *fixture {
	t.Helper()
	logger := testLogger()
	reg := registry.NewMemoryRegistry(logger)
	factory := ticket.NewFactory(&config.TicketConfig{
		TGTTimeToLive:        8 * time.Hour,
		TGTTimeToIdle:        2 * time.Hour,
		RememberMeTimeToLive: 14 * 24 * time.Hour,
		STTimeToLive:         10 * time.Second,
		IDEntropyBytes:       32,
	})
	dispatcher := &recordingDispatcher{}
	central := auth.NewCentralService(reg, services.NewStaticManager(registrations), factory, dispatcher, logger)
	return &fixture{central: central, registry: reg, logout: dispatcher}
}

func login(t *testing.T, f *fixture, principal string) *ticket.TicketGrantingTicket {
	t.Helper()
	authn := models.NewAuthentication(&models.Principal{ID: principal}, false, nil)
	tgt, err := f.central.CreateTicketGrantingTicket(context.Background(), authn)
	require.NoError(t, err)
	return tgt
}

func TestSingleSignOnRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")

	st, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/callback", true)
	require.NoError(t, err)
	assert.True(t, st.FromNewLogin)

	assertion, err := f.central.ValidateServiceTicket(ctx, st.ID(), "https://app.example.org/callback", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", assertion.PrimaryAuthentication().Principal.ID)
	assert.Equal(t, models.Service("https://app.example.org/callback"), assertion.Service)
	assert.True(t, assertion.FromNewLogin)
	assert.False(t, assertion.IsProxied())

	// Single use: the same ticket cannot validate twice.
	_, err = f.central.ValidateServiceTicket(ctx, st.ID(), "https://app.example.org/callback", "")
	var terr *models.TicketError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "invalid_ticket", terr.Code)
}

func TestGrantServiceTicketFromNewLoginSemantics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")

	// First grant from a fresh session counts as a new login even
	// without credentials on the request.
	st1, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/a", false)
	require.NoError(t, err)
	assert.True(t, st1.FromNewLogin)

	// Subsequent SSO grants are not from a new login.
	st2, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/b", false)
	require.NoError(t, err)
	assert.False(t, st2.FromNewLogin)

	// Unless credentials were presented again.
	st3, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/c", true)
	require.NoError(t, err)
	assert.True(t, st3.FromNewLogin)
}

func TestGrantServiceTicketAccessDecisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")

	tests := []struct {
		name               string
		service            models.Service
		credentialProvided bool
		wantCode           string
	}{
		{
			name:     "unregistered_service",
			service:  "https://unknown.example.org/cb",
			wantCode: "unauthorized_service",
		},
		{
			name:     "disabled_service",
			service:  "https://disabled.example.org/cb",
			wantCode: "unauthorized_service",
		},
		{
			name:     "sso_opt_out_without_credentials",
			service:  "https://strict.example.org/cb",
			wantCode: "unauthorized_service",
		},
		{
			name:               "sso_opt_out_with_credentials",
			service:            "https://strict.example.org/cb",
			credentialProvided: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.central.GrantServiceTicket(ctx, tgt.ID(), tt.service, tt.credentialProvided)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			var terr *models.TicketError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.wantCode, terr.Code)
		})
	}
}

func TestGrantServiceTicketUnknownSession(t *testing.T) {
	f := newFixture(t, defaultRegistrations())

	_, err := f.central.GrantServiceTicket(context.Background(), "TGT-99-missing", "https://app.example.org/cb", false)
	var terr *models.TicketError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "invalid_ticket", terr.Code)
}

func TestGrantServiceTicketExpiredSessionCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")
	_, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/a", false)
	require.NoError(t, err)

	tgt.MarkTerminated()
	require.NoError(t, f.registry.UpdateTicket(ctx, tgt))

	_, err = f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/b", false)
	var terr *models.TicketError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "invalid_ticket", terr.Code)

	// The expired session was fully torn down, sign-out included.
	assert.Contains(t, f.logout.sessions, tgt.ID())
	_, err = f.registry.GetRawTicket(ctx, tgt.ID())
	assert.ErrorIs(t, err, registry.ErrTicketNotFound)
}

func TestValidateServiceTicketWrongServiceBurnsTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")
	st, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/a", false)
	require.NoError(t, err)

	_, err = f.central.ValidateServiceTicket(ctx, st.ID(), "https://app.example.org/other", "")
	var terr *models.TicketError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "invalid_ticket", terr.Code)

	// The mismatch consumed the ticket; the right service loses too.
	_, err = f.central.ValidateServiceTicket(ctx, st.ID(), "https://app.example.org/a", "")
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "invalid_ticket", terr.Code)
}

func TestValidateServiceTicketConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")
	st, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/a", false)
	require.NoError(t, err)

	const validators = 16
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < validators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.central.ValidateServiceTicket(ctx, st.ID(), "https://app.example.org/a", ""); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestProxyDelegationAndChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")

	st, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/portal", false)
	require.NoError(t, err)

	assertion, err := f.central.ValidateServiceTicket(ctx, st.ID(), "https://app.example.org/portal", "https://app.example.org/pgtCallback")
	require.NoError(t, err)
	require.NotEmpty(t, assertion.ProxyGrantingTicketID)

	// The proxy session can grant tickets on the user's behalf.
	proxiedST, err := f.central.GrantServiceTicket(ctx, assertion.ProxyGrantingTicketID, "https://app.example.org/api", false)
	require.NoError(t, err)

	proxiedAssertion, err := f.central.ValidateServiceTicket(ctx, proxiedST.ID(), "https://app.example.org/api", "")
	require.NoError(t, err)
	assert.True(t, proxiedAssertion.IsProxied())
	require.Len(t, proxiedAssertion.Authentications, 2)
	assert.Equal(t, "alice", proxiedAssertion.PrimaryAuthentication().Principal.ID)
}

func TestProxyDelegationDeniedForUnauthorizedService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")

	st, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://noproxy.example.org/cb", false)
	require.NoError(t, err)

	_, err = f.central.ValidateServiceTicket(ctx, st.ID(), "https://noproxy.example.org/cb", "https://noproxy.example.org/pgtCallback")
	var terr *models.TicketError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "unauthorized_service", terr.Code)
}

func TestDelegateProxyGrantingTicketStandalone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")

	st, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/portal", false)
	require.NoError(t, err)

	// Delegation requires a prior validation of the ticket.
	_, err = f.central.DelegateProxyGrantingTicket(ctx, st.ID(), "https://app.example.org/pgtCallback")
	var terr *models.TicketError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "invalid_ticket", terr.Code)

	_, err = f.central.ValidateServiceTicket(ctx, st.ID(), "https://app.example.org/portal", "")
	require.NoError(t, err)

	// The consumed ticket is still on record, so delegation succeeds even
	// though validation itself requested no proxy callback.
	pgt, err := f.central.DelegateProxyGrantingTicket(ctx, st.ID(), "https://app.example.org/pgtCallback")
	require.NoError(t, err)
	assert.Equal(t, st.ID(), pgt.AuthorizedBy)

	_, err = f.central.GrantServiceTicket(ctx, pgt.ID(), "https://app.example.org/api", false)
	require.NoError(t, err)
}

func TestConcurrentGrantsOnOneSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")

	const granters = 8
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < granters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/a", false); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(granters), granted.Load())

	stored, err := f.central.GetTicketGrantingTicket(ctx, tgt.ID())
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Services)
}

func TestDestroySessionCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultRegistrations())
	tgt := login(t, f, "alice")

	// Build a session tree: root -> PGT -> PGT, each level with tickets.
	st1, err := f.central.GrantServiceTicket(ctx, tgt.ID(), "https://app.example.org/portal", false)
	require.NoError(t, err)
	assertion, err := f.central.ValidateServiceTicket(ctx, st1.ID(), "https://app.example.org/portal", "https://app.example.org/cb1")
	require.NoError(t, err)
	pgt1 := assertion.ProxyGrantingTicketID

	st2, err := f.central.GrantServiceTicket(ctx, pgt1, "https://app.example.org/api", false)
	require.NoError(t, err)
	assertion2, err := f.central.ValidateServiceTicket(ctx, st2.ID(), "https://app.example.org/api", "https://app.example.org/cb2")
	require.NoError(t, err)
	pgt2 := assertion2.ProxyGrantingTicketID

	liveST, err := f.central.GrantServiceTicket(ctx, pgt2, "https://app.example.org/deep", false)
	require.NoError(t, err)

	requests, err := f.central.DestroyTicketGrantingTicket(ctx, tgt.ID())
	require.NoError(t, err)
	assert.NotEmpty(t, requests)

	// Every granting ticket in the tree had sign-out performed.
	assert.ElementsMatch(t, []string{tgt.ID(), pgt1, pgt2}, f.logout.sessions)

	// Nothing of the session survives.
	for _, id := range []string{tgt.ID(), pgt1, pgt2, liveST.ID()} {
		_, err := f.registry.GetRawTicket(ctx, id)
		assert.ErrorIs(t, err, registry.ErrTicketNotFound, id)
	}

	// Destroying again is a no-op.
	requests, err = f.central.DestroyTicketGrantingTicket(ctx, tgt.ID())
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestDestroySessionWithRealLogoutManager(t *testing.T) {
	ctx := context.Background()
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := testLogger()
	registrations := []*models.RegisteredService{
		{ID: 1, ServiceURL: server.URL + "/*", Enabled: true, SSOEnabled: true, LogoutType: models.LogoutTypeBackChannel},
	}
	resolver := services.NewStaticManager(registrations)
	dispatcher := logout.NewManager(&config.LogoutConfig{Enabled: true, DispatchTimeout: 2 * time.Second, Concurrency: 4}, resolver, logger)

	reg := registry.NewMemoryRegistry(logger)
	factory := ticket.NewFactory(&config.TicketConfig{
		TGTTimeToLive:        8 * time.Hour,
		TGTTimeToIdle:        2 * time.Hour,
		RememberMeTimeToLive: 14 * 24 * time.Hour,
		STTimeToLive:         10 * time.Second,
		IDEntropyBytes:       32,
	})
	central := auth.NewCentralService(reg, resolver, factory, dispatcher, logger)

	authn := models.NewAuthentication(&models.Principal{ID: "alice"}, false, nil)
	tgt, err := central.CreateTicketGrantingTicket(ctx, authn)
	require.NoError(t, err)
	_, err = central.GrantServiceTicket(ctx, tgt.ID(), models.Service(server.URL+"/app"), false)
	require.NoError(t, err)

	requests, err := central.DestroyTicketGrantingTicket(ctx, tgt.ID())
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, logout.StatusSuccess, requests[0].Status)
	assert.Equal(t, int32(1), received.Load())
}

func TestCreateTicketGrantingTicketRequiresPrincipal(t *testing.T) {
	f := newFixture(t, defaultRegistrations())

	_, err := f.central.CreateTicketGrantingTicket(context.Background(), nil)
	var terr *models.TicketError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "ticket_creation_failure", terr.Code)
}
