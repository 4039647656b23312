package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/registry"
	"github.com/apereo/cas-sub072/internal/ticket"
)

// AdminHandler handles administrative ticket registry endpoints.
// Routes must be registered behind the admin auth middleware.
type AdminHandler struct {
	registry registry.Registry
	cleaner  *registry.Cleaner
	logger   *logrus.Logger
}

// NewAdminHandler creates a new admin handler instance.
func NewAdminHandler(reg registry.Registry, cleaner *registry.Cleaner, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		registry: reg,
		cleaner:  cleaner,
		logger:   logger,
	}
}

// RegisterRoutes registers admin routes on the provided router.
func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tickets/stats", h.GetTicketStats).Methods(http.MethodGet)
	router.HandleFunc("/tickets/cleanup", h.CleanupTickets).Methods(http.MethodPost)
	router.HandleFunc("/tickets", h.ClearTickets).Methods(http.MethodDelete)
}

// TicketStatsResponse summarizes the registry contents by ticket kind.
type TicketStatsResponse struct {
	Total                 int       `json:"total"`
	TicketGrantingTickets int       `json:"ticket_granting_tickets"`
	ServiceTickets        int       `json:"service_tickets"`
	ProxyGrantingTickets  int       `json:"proxy_granting_tickets"`
	Expired               int       `json:"expired"`
	Timestamp             time.Time `json:"timestamp"`
}

// GetTicketStats handles GET /admin/tickets/stats
// Enumerates the registry and reports ticket counts by kind, including
// expired tickets awaiting cleanup.
//
// Responses:
//   - 200: Statistics retrieved
//   - 503: Registry unavailable
func (h *AdminHandler) GetTicketStats(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.registry.GetTickets(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to enumerate tickets")
		h.writeErrorResponse(w, "Failed to enumerate registry", http.StatusServiceUnavailable)
		return
	}

	now := time.Now()
	stats := TicketStatsResponse{Total: len(tickets), Timestamp: now}
	for _, t := range tickets {
		switch {
		case strings.HasPrefix(t.ID(), ticket.PrefixProxyGranting):
			stats.ProxyGrantingTickets++
		case strings.HasPrefix(t.ID(), ticket.PrefixGranting):
			stats.TicketGrantingTickets++
		case strings.HasPrefix(t.ID(), ticket.PrefixService):
			stats.ServiceTickets++
		}
		if t.IsExpired(now) {
			stats.Expired++
		}
	}

	h.writeJSONResponse(w, stats, http.StatusOK)
}

// CleanupResponse reports the outcome of an eager expired-ticket sweep.
type CleanupResponse struct {
	TicketsRemoved int       `json:"tickets_removed"`
	Timestamp      time.Time `json:"timestamp"`
}

// CleanupTickets handles POST /admin/tickets/cleanup
// Runs one eager sweep of the background cleaner, cascading expired
// sessions and removing expired service tickets.
//
// Responses:
//   - 200: Sweep completed
func (h *AdminHandler) CleanupTickets(w http.ResponseWriter, r *http.Request) {
	removed := h.cleaner.Sweep(r.Context())

	h.logger.WithField("removed", removed).Info("Manual ticket cleanup completed")
	h.writeJSONResponse(w, CleanupResponse{
		TicketsRemoved: removed,
		Timestamp:      time.Now(),
	}, http.StatusOK)
}

// ClearResponse reports the outcome of a registry clear.
type ClearResponse struct {
	TicketsCleared int       `json:"tickets_cleared"`
	Timestamp      time.Time `json:"timestamp"`
}

// ClearTickets handles DELETE /admin/tickets
// Removes every ticket from the registry, ending all sessions without
// dispatching sign-out notices. Operational escape hatch only.
//
// Responses:
//   - 200: Registry cleared
//   - 503: Registry unavailable
func (h *AdminHandler) ClearTickets(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("Clearing the entire ticket registry")

	tickets, err := h.registry.GetTickets(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to enumerate tickets")
		h.writeErrorResponse(w, "Failed to enumerate registry", http.StatusServiceUnavailable)
		return
	}

	cleared := 0
	for _, t := range tickets {
		existed, delErr := h.registry.DeleteTicket(r.Context(), t.ID())
		if delErr != nil {
			h.logger.WithError(delErr).WithField("ticket_id", ticket.MaskID(t.ID())).Warn("Failed to delete ticket")
			continue
		}
		if existed {
			cleared++
		}
	}

	h.writeJSONResponse(w, ClearResponse{
		TicketsCleared: cleared,
		Timestamp:      time.Now(),
	}, http.StatusOK)
}

// writeJSONResponse writes a JSON response with the given status code.
func (h *AdminHandler) writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode admin response")
	}
}

// writeErrorResponse writes a JSON error response.
func (h *AdminHandler) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSONResponse(w, map[string]string{"error": message}, statusCode)
}
