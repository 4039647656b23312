package handlers_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/handlers"
	"github.com/apereo/cas-sub072/internal/registry"
)

func newHealthRouter(t *testing.T) *mux.Router {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Cookie: config.CookieConfig{Secret: "0123456789abcdef0123456789abcdef"},
		Ticket: config.TicketConfig{
			TGTTimeToIdle: 2 * time.Hour,
			STTimeToLive:  10 * time.Second,
		},
	}

	router := mux.NewRouter()
	handler := handlers.NewHealthHandler(cfg, registry.NewMemoryRegistry(logger), nil, logger)
	handler.RegisterRoutes(router)
	return router
}

func TestLiveness(t *testing.T) {
	router := newHealthRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}

func TestReadinessWithHealthyRegistry(t *testing.T) {
	router := newHealthRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Ready)
	assert.Equal(t, handlers.StatusHealthy, resp.Components["registry"].Status)
}

func TestHealthReportsComponents(t *testing.T) {
	router := newHealthRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, handlers.StatusHealthy, resp.Status)
	assert.Contains(t, resp.Components, "registry")
	assert.Contains(t, resp.Components, "database")
	assert.Contains(t, resp.Components, "configuration")
}

func TestMetricsEndpoint(t *testing.T) {
	router := newHealthRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
