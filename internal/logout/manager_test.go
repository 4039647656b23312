package logout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/logout"
	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/services"
	"github.com/apereo/cas-sub072/internal/ticket"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func logoutConfig() *config.LogoutConfig {
	return &config.LogoutConfig{
		Enabled:         true,
		DispatchTimeout: 2 * time.Second,
		Concurrency:     4,
	}
}

func sessionWith(grants map[string]models.Service) *ticket.TicketGrantingTicket {
	auth := models.NewAuthentication(&models.Principal{ID: "alice"}, false, nil)
	tgt := ticket.NewTicketGrantingTicket("TGT-1-abc", auth, ticket.NewPolicy(ticket.NeverExpiresPolicy{}), time.Now())
	now := time.Now()
	for stID, service := range grants {
		tgt.GrantService(stID, service, now)
	}
	return tgt
}

func TestPerformLogoutBackChannel(t *testing.T) {
	var received atomic.Int32
	var lastBody logout.Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&lastBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resolver := services.NewStaticManager([]*models.RegisteredService{
		{ID: 1, ServiceURL: server.URL + "/*", Enabled: true, LogoutType: models.LogoutTypeBackChannel},
	})
	manager := logout.NewManager(logoutConfig(), resolver, testLogger())

	tgt := sessionWith(map[string]models.Service{
		"ST-1-x": models.Service(server.URL + "/app"),
	})

	requests := manager.PerformLogout(context.Background(), tgt)
	require.Len(t, requests, 1)
	assert.Equal(t, logout.StatusSuccess, requests[0].Status)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, "ST-1-x", lastBody.TicketID)
	assert.NotEmpty(t, lastBody.ID)
}

func TestPerformLogoutUnreachableServiceRecordsFailure(t *testing.T) {
	resolver := services.NewStaticManager([]*models.RegisteredService{
		{ID: 1, ServiceURL: "http://127.0.0.1:1/*", Enabled: true, LogoutType: models.LogoutTypeBackChannel},
	})
	manager := logout.NewManager(logoutConfig(), resolver, testLogger())

	tgt := sessionWith(map[string]models.Service{
		"ST-1-x": "http://127.0.0.1:1/app",
	})

	requests := manager.PerformLogout(context.Background(), tgt)
	require.Len(t, requests, 1)
	assert.Equal(t, logout.StatusFailure, requests[0].Status)
}

func TestPerformLogoutMixedOutcomes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resolver := services.NewStaticManager([]*models.RegisteredService{
		{ID: 1, ServiceURL: server.URL + "/*", Enabled: true, LogoutType: models.LogoutTypeBackChannel},
		{ID: 2, ServiceURL: "http://127.0.0.1:1/*", Enabled: true, LogoutType: models.LogoutTypeBackChannel},
		{ID: 3, ServiceURL: "https://silent.example.org/*", Enabled: true, LogoutType: models.LogoutTypeNone},
		{ID: 4, ServiceURL: "https://front.example.org/*", Enabled: true, LogoutType: models.LogoutTypeFrontChannel, LogoutURL: "https://front.example.org/logout"},
	})
	manager := logout.NewManager(logoutConfig(), resolver, testLogger())

	tgt := sessionWith(map[string]models.Service{
		"ST-1-a": models.Service(server.URL + "/app"),
		"ST-2-b": "http://127.0.0.1:1/app",
		"ST-3-c": "https://silent.example.org/app",
		"ST-4-d": "https://front.example.org/app",
	})

	requests := manager.PerformLogout(context.Background(), tgt)
	require.Len(t, requests, 4)

	byTicket := make(map[string]*logout.Request)
	for _, req := range requests {
		byTicket[req.TicketID] = req
	}

	assert.Equal(t, logout.StatusSuccess, byTicket["ST-1-a"].Status)
	assert.Equal(t, logout.StatusFailure, byTicket["ST-2-b"].Status)

	silent := byTicket["ST-3-c"]
	assert.Equal(t, logout.StatusNotAttempted, silent.Status)
	assert.Equal(t, models.LogoutTypeNone, silent.LogoutType)

	front := byTicket["ST-4-d"]
	assert.Equal(t, logout.StatusNotAttempted, front.Status)
	assert.True(t, strings.HasPrefix(front.RedirectURL, "https://front.example.org/logout?"))
	assert.Contains(t, front.RedirectURL, "ticket_id=ST-4-d")
}

func TestPerformLogoutDeduplicatesServices(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resolver := services.NewStaticManager([]*models.RegisteredService{
		{ID: 1, ServiceURL: server.URL + "/*", Enabled: true, LogoutType: models.LogoutTypeBackChannel},
	})
	manager := logout.NewManager(logoutConfig(), resolver, testLogger())

	tgt := sessionWith(map[string]models.Service{
		"ST-1-a": models.Service(server.URL + "/app"),
		"ST-2-b": models.Service(server.URL + "/app"),
	})

	requests := manager.PerformLogout(context.Background(), tgt)
	require.Len(t, requests, 1)
	assert.Equal(t, int32(1), received.Load())
}

func TestPerformLogoutUnregisteredServiceNotAttempted(t *testing.T) {
	resolver := services.NewStaticManager(nil)
	manager := logout.NewManager(logoutConfig(), resolver, testLogger())

	tgt := sessionWith(map[string]models.Service{"ST-1-a": "https://gone.example.org/app"})

	requests := manager.PerformLogout(context.Background(), tgt)
	require.Len(t, requests, 1)
	assert.Equal(t, logout.StatusNotAttempted, requests[0].Status)
	assert.Equal(t, models.LogoutTypeNone, requests[0].LogoutType)
}

func TestPerformLogoutDisabled(t *testing.T) {
	cfg := logoutConfig()
	cfg.Enabled = false
	resolver := services.NewStaticManager(nil)
	manager := logout.NewManager(cfg, resolver, testLogger())

	tgt := sessionWith(map[string]models.Service{"ST-1-a": "https://app.example.org"})
	assert.Nil(t, manager.PerformLogout(context.Background(), tgt))
}
