package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/constants"
	"github.com/apereo/cas-sub072/internal/database/postgres"
	"github.com/apereo/cas-sub072/internal/registry"
)

// HealthCheckTimeout is the default timeout for health check operations.
const HealthCheckTimeout = 5 * time.Second

// HealthHandler provides health check and monitoring endpoints.
type HealthHandler struct {
	config    *config.Config
	registry  registry.Registry
	dbMgr     *postgres.Manager
	logger    *logrus.Logger
	startTime time.Time
}

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy HealthStatus = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusDegraded indicates the component has degraded performance.
	StatusDegraded HealthStatus = "degraded"
)

// HealthResponse represents the overall health check response.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth represents the health of an individual component.
type ComponentHealth struct {
	Status       HealthStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
	LastChecked  time.Time    `json:"last_checked"`
	ResponseTime string       `json:"response_time,omitempty"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Ready      bool                       `json:"ready"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

var (
	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sso_health_checks_total",
		Help: "Health check invocations by endpoint and outcome.",
	}, []string{"endpoint", "status"})

	componentHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sso_component_health_status",
		Help: "Health of service components (1=healthy, 0=unhealthy).",
	}, []string{"component"})
)

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(cfg *config.Config, reg registry.Registry, dbMgr *postgres.Manager, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		registry:  reg,
		dbMgr:     dbMgr,
		logger:    logger,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers health check and monitoring endpoints.
func (h *HealthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Readiness).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Health provides a comprehensive health check including all components.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	components := make(map[string]ComponentHealth)
	overallStatus := StatusHealthy

	// The ticket registry is the critical dependency
	registryHealth := h.checkRegistry(ctx)
	components["registry"] = registryHealth
	if registryHealth.Status != StatusHealthy {
		overallStatus = StatusUnhealthy
	}

	// The service database is optional; losing it degrades rather than fails
	databaseHealth := h.checkDatabase(ctx)
	components["database"] = databaseHealth
	if databaseHealth.Status != StatusHealthy && overallStatus == StatusHealthy {
		overallStatus = StatusDegraded
	}

	configHealth := h.checkConfiguration()
	components["configuration"] = configHealth
	if configHealth.Status != StatusHealthy && overallStatus == StatusHealthy {
		overallStatus = StatusDegraded
	}

	healthChecksTotal.WithLabelValues("health", string(overallStatus)).Inc()
	for component, health := range components {
		value := float64(0)
		if health.Status == StatusHealthy {
			value = 1
		}
		componentHealthStatus.WithLabelValues(component).Set(value)
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	h.writeJSON(w, statusCode, HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).String(),
		Components: components,
	})
}

// Liveness provides a simple liveness check that returns 200 if the service is alive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	healthChecksTotal.WithLabelValues("liveness", "healthy").Inc()

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// Readiness checks if the service is ready to receive traffic. Only the
// ticket registry gates readiness; the service database degrades behavior
// without blocking it.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	components := make(map[string]ComponentHealth)
	ready := true

	registryHealth := h.checkRegistry(ctx)
	components["registry"] = registryHealth
	if registryHealth.Status != StatusHealthy {
		ready = false
	}

	components["database"] = h.checkDatabase(ctx)

	statusLabel := "ready"
	statusCode := http.StatusOK
	if !ready {
		statusLabel = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}
	healthChecksTotal.WithLabelValues("readiness", statusLabel).Inc()

	h.writeJSON(w, statusCode, ReadinessResponse{
		Ready:      ready,
		Timestamp:  time.Now(),
		Components: components,
	})
}

// checkRegistry checks ticket registry connectivity and latency.
func (h *HealthHandler) checkRegistry(ctx context.Context) ComponentHealth {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := h.registry.Ping(checkCtx)
	duration := time.Since(start)

	if err != nil {
		h.logger.WithError(err).Warn("Registry health check failed")
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      "ticket registry unreachable: " + err.Error(),
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	status := StatusHealthy
	message := "ticket registry is healthy"
	if duration > time.Second {
		status = StatusDegraded
		message = "ticket registry response time is slow"
	}

	return ComponentHealth{
		Status:       status,
		Message:      message,
		LastChecked:  time.Now(),
		ResponseTime: duration.String(),
	}
}

// checkDatabase checks PostgreSQL service-registry connectivity.
func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentHealth {
	if h.dbMgr == nil {
		return ComponentHealth{
			Status:      StatusHealthy,
			Message:     "service database not configured (optional)",
			LastChecked: time.Now(),
		}
	}

	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := h.dbMgr.Ping(checkCtx)
	duration := time.Since(start)

	if err != nil {
		h.logger.WithError(err).Debug("Database health check failed")
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      "PostgreSQL connection failed: " + err.Error(),
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	if !h.dbMgr.IsAvailable() {
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      "database marked as unavailable",
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	return ComponentHealth{
		Status:       StatusHealthy,
		Message:      "PostgreSQL is healthy",
		LastChecked:  time.Now(),
		ResponseTime: duration.String(),
	}
}

// checkConfiguration validates critical configuration values.
func (h *HealthHandler) checkConfiguration() ComponentHealth {
	var issues []string

	if len(h.config.Cookie.Secret) < config.MinCookieSecretLength {
		issues = append(issues, "cookie signing secret is too short")
	}
	if h.config.Ticket.STTimeToLive > h.config.Ticket.TGTTimeToIdle {
		issues = append(issues, "service ticket lifetime exceeds session idle timeout")
	}

	status := StatusHealthy
	message := "configuration is valid"
	if len(issues) > 0 {
		status = StatusDegraded
		message = "configuration issues: " + strings.Join(issues, ", ")
	}

	return ComponentHealth{
		Status:      status,
		Message:     message,
		LastChecked: time.Now(),
	}
}

func (h *HealthHandler) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to encode health response")
	}
}
