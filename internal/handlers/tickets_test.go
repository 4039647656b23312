package handlers_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apereo/cas-sub072/internal/auth"
	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/cookie"
	"github.com/apereo/cas-sub072/internal/handlers"
	"github.com/apereo/cas-sub072/internal/logout"
	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/registry"
	"github.com/apereo/cas-sub072/internal/services"
	"github.com/apereo/cas-sub072/internal/ticket"
)

type ticketAPI struct {
	router   *mux.Router
	registry *registry.MemoryRegistry
}

func newTicketAPI(t *testing.T) *ticketAPI {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registrations := []*models.RegisteredService{
		{ID: 1, Name: "App", ServiceURL: "https://app.example.org/callback", Enabled: true, SSOEnabled: true, AllowedToProxy: true, LogoutType: models.LogoutTypeNone},
		{ID: 2, Name: "Plain", ServiceURL: "https://plain.example.org/*", Enabled: true, SSOEnabled: true, LogoutType: models.LogoutTypeNone},
	}
	manager := services.NewStaticManager(registrations)

	reg := registry.NewMemoryRegistry(logger)
	factory := ticket.NewFactory(&config.TicketConfig{
		TGTTimeToLive:        8 * time.Hour,
		TGTTimeToIdle:        2 * time.Hour,
		RememberMeTimeToLive: 336 * time.Hour,
		STTimeToLive:         10 * time.Second,
		IDEntropyBytes:       32,
	})

	dispatcher := logout.NewManager(&config.LogoutConfig{
		Enabled:         true,
		DispatchTimeout: time.Second,
		Concurrency:     4,
	}, manager, logger)

	central := auth.NewCentralService(reg, manager, factory, dispatcher, logger)

	cookies := cookie.NewManager(&config.CookieConfig{
		Secret: "0123456789abcdef0123456789abcdef",
		Name:   "TGC",
		Path:   "/",
		MaxAge: 8 * time.Hour,
		Issuer: "sso-service",
	}, &config.SecurityConfig{SecureCookies: true, SameSiteCookies: "strict"})

	router := mux.NewRouter()
	handlers.NewTicketHandler(central, cookies, logger).RegisterRoutes(router)

	return &ticketAPI{router: router, registry: reg}
}

func (a *ticketAPI) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *ticketAPI) createSession(t *testing.T, principal string) string {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/tickets", `{"principal":"`+principal+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp handlers.CreateSessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.TicketGrantingTicketID
}

func TestCreateSession(t *testing.T) {
	api := newTicketAPI(t)

	rec := api.do(t, http.MethodPost, "/tickets", `{"principal":"alice","remember_me":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp handlers.CreateSessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, strings.HasPrefix(resp.TicketGrantingTicketID, "TGT-"))
	assert.Equal(t, "alice", resp.Principal)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "TGC", cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestCreateSessionRejectsMissingPrincipal(t *testing.T) {
	api := newTicketAPI(t)

	rec := api.do(t, http.MethodPost, "/tickets", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "principal is required")
}

func TestGrantAndValidateServiceTicket(t *testing.T) {
	api := newTicketAPI(t)
	tgtID := api.createSession(t, "alice")

	rec := api.do(t, http.MethodPost, "/tickets/"+tgtID+"/service-tickets?service=https://app.example.org/callback", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var grant handlers.GrantServiceTicketResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&grant))
	assert.True(t, strings.HasPrefix(grant.ServiceTicketID, "ST-"))
	assert.True(t, grant.FromNewLogin)

	rec = api.do(t, http.MethodPost, "/service-tickets/"+grant.ServiceTicketID+"/validate?service=https://app.example.org/callback", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var assertion models.Assertion
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&assertion))
	require.Len(t, assertion.Authentications, 1)
	assert.Equal(t, "alice", assertion.Authentications[0].Principal.ID)
	assert.True(t, assertion.FromNewLogin)

	// Single use: a second validation of the same ticket fails
	rec = api.do(t, http.MethodPost, "/service-tickets/"+grant.ServiceTicketID+"/validate?service=https://app.example.org/callback", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_ticket")
}

func TestGrantRejectsUnregisteredService(t *testing.T) {
	api := newTicketAPI(t)
	tgtID := api.createSession(t, "alice")

	rec := api.do(t, http.MethodPost, "/tickets/"+tgtID+"/service-tickets?service=https://rogue.example.net/", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized_service")
}

func TestGrantRequiresServiceParameter(t *testing.T) {
	api := newTicketAPI(t)
	tgtID := api.createSession(t, "alice")

	rec := api.do(t, http.MethodPost, "/tickets/"+tgtID+"/service-tickets", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateWithProxyCallbackReturnsProxyGrantingTicket(t *testing.T) {
	api := newTicketAPI(t)
	tgtID := api.createSession(t, "alice")

	rec := api.do(t, http.MethodPost, "/tickets/"+tgtID+"/service-tickets?service=https://app.example.org/callback", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var grant handlers.GrantServiceTicketResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&grant))

	rec = api.do(t, http.MethodPost, "/service-tickets/"+grant.ServiceTicketID+"/validate?service=https://app.example.org/callback&pgtUrl=https://app.example.org/pgt", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var assertion models.Assertion
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&assertion))
	assert.True(t, strings.HasPrefix(assertion.ProxyGrantingTicketID, "PGT-"))

	// The proxy session can grant service tickets of its own
	rec = api.do(t, http.MethodPost, "/tickets/"+assertion.ProxyGrantingTicketID+"/service-tickets?service=https://plain.example.org/api", "")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestDelegateProxyTicketAfterValidation(t *testing.T) {
	api := newTicketAPI(t)
	tgtID := api.createSession(t, "alice")

	rec := api.do(t, http.MethodPost, "/tickets/"+tgtID+"/service-tickets?service=https://app.example.org/callback", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var grant handlers.GrantServiceTicketResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&grant))

	// Delegation before validation is refused
	rec = api.do(t, http.MethodPost, "/service-tickets/"+grant.ServiceTicketID+"/proxy?service=https://app.example.org/proxy", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/service-tickets/"+grant.ServiceTicketID+"/validate?service=https://app.example.org/callback", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/service-tickets/"+grant.ServiceTicketID+"/proxy?service=https://app.example.org/proxy", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp handlers.DelegateProxyTicketResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, strings.HasPrefix(resp.ProxyGrantingTicketID, "PGT-"))
}

func TestGetSession(t *testing.T) {
	api := newTicketAPI(t)
	tgtID := api.createSession(t, "alice")

	rec := api.do(t, http.MethodGet, "/tickets/"+tgtID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice", resp.Principal)
	assert.Equal(t, 0, resp.ServiceTicketsGranted)

	rec = api.do(t, http.MethodGet, "/tickets/TGT-0-doesnotexist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDestroySessionIsIdempotent(t *testing.T) {
	api := newTicketAPI(t)
	tgtID := api.createSession(t, "alice")

	rec := api.do(t, http.MethodPost, "/tickets/"+tgtID+"/service-tickets?service=https://app.example.org/callback", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodDelete, "/tickets/"+tgtID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.DestroySessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.LogoutRequests, 1)
	assert.Equal(t, string(logout.StatusNotAttempted), resp.LogoutRequests[0].Status)

	// The session is gone
	rec = api.do(t, http.MethodGet, "/tickets/"+tgtID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Destroying again succeeds with nothing to notify
	rec = api.do(t, http.MethodDelete, "/tickets/"+tgtID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp = handlers.DestroySessionResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.LogoutRequests)
}
