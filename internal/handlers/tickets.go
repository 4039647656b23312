// Package handlers provides the HTTP handlers for the SSO ticket service
// endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/auth"
	"github.com/apereo/cas-sub072/internal/constants"
	"github.com/apereo/cas-sub072/internal/cookie"
	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/ticket"
)

// TicketHandler exposes the ticket lifecycle over REST: session creation,
// service-ticket grant and validation, proxy delegation, and session
// destruction with single sign-out.
type TicketHandler struct {
	central *auth.CentralService
	cookies *cookie.Manager
	logger  *logrus.Logger
}

// NewTicketHandler creates a ticket lifecycle handler.
func NewTicketHandler(central *auth.CentralService, cookies *cookie.Manager, logger *logrus.Logger) *TicketHandler {
	return &TicketHandler{
		central: central,
		cookies: cookies,
		logger:  logger,
	}
}

// RegisterRoutes registers the ticket lifecycle routes on the provided router.
func (h *TicketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tickets", h.CreateSession).Methods(http.MethodPost)
	router.HandleFunc("/tickets/{ticketID}", h.GetSession).Methods(http.MethodGet)
	router.HandleFunc("/tickets/{ticketID}", h.DestroySession).Methods(http.MethodDelete)
	router.HandleFunc("/tickets/{ticketID}/service-tickets", h.GrantServiceTicket).Methods(http.MethodPost)
	router.HandleFunc("/service-tickets/{ticketID}/validate", h.ValidateServiceTicket).Methods(http.MethodPost)
	router.HandleFunc("/service-tickets/{ticketID}/proxy", h.DelegateProxyTicket).Methods(http.MethodPost)
}

// CreateSessionRequest is the body of POST /tickets: the outcome of a
// credential verification performed by the caller.
type CreateSessionRequest struct {
	// Principal is the authenticated subject identifier.
	Principal string `json:"principal"`
	// Attributes are the resolved principal attributes.
	Attributes map[string]any `json:"attributes,omitempty"`
	// RememberMe selects the long-lived session expiration policy.
	RememberMe bool `json:"remember_me,omitempty"`
}

// CreateSessionResponse is the body returned for a newly created session.
type CreateSessionResponse struct {
	TicketGrantingTicketID string    `json:"ticket_granting_ticket_id"`
	Principal              string    `json:"principal"`
	CreatedAt              time.Time `json:"created_at"`
}

// CreateSession handles POST /tickets.
// Mints a ticket-granting ticket for an authentication result and sets the
// signed session cookie.
//
// Responses:
//   - 201: Session created
//   - 400: Malformed body or missing principal
//   - 503: Registry unavailable
func (h *TicketHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, models.NewTicketCreationFailure("malformed request body", false), http.StatusBadRequest)
		return
	}
	if req.Principal == "" {
		h.writeError(w, models.NewTicketCreationFailure("principal is required", false), http.StatusBadRequest)
		return
	}

	authn := models.NewAuthentication(&models.Principal{
		ID:         req.Principal,
		Attributes: req.Attributes,
	}, req.RememberMe, nil)

	tgt, err := h.central.CreateTicketGrantingTicket(r.Context(), authn)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}

	if value, cookieErr := h.cookies.Issue(tgt.ID()); cookieErr == nil {
		h.cookies.Set(w, value)
	} else {
		h.logger.WithError(cookieErr).Error("Failed to issue session cookie")
	}

	h.writeJSON(w, http.StatusCreated, CreateSessionResponse{
		TicketGrantingTicketID: tgt.ID(),
		Principal:              req.Principal,
		CreatedAt:              tgt.CreationTime(),
	})
}

// SessionResponse is the introspection view of a live session.
type SessionResponse struct {
	TicketGrantingTicketID string    `json:"ticket_granting_ticket_id"`
	Principal              string    `json:"principal"`
	CreatedAt              time.Time `json:"created_at"`
	LastUsedAt             time.Time `json:"last_used_at,omitempty"`
	ServiceTicketsGranted  int       `json:"service_tickets_granted"`
	ProxyGrantingTickets   int       `json:"proxy_granting_tickets"`
	ProxyChainLength       int       `json:"proxy_chain_length"`
	RememberMe             bool      `json:"remember_me"`
}

// GetSession handles GET /tickets/{ticketID}.
// Returns the live session for the identifier. Expired and absent sessions
// are indistinguishable.
//
// Responses:
//   - 200: Session found
//   - 404: Unknown or expired session
func (h *TicketHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	tgtID := mux.Vars(r)["ticketID"]

	tgt, err := h.central.GetTicketGrantingTicket(r.Context(), tgtID)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, SessionResponse{
		TicketGrantingTicketID: tgt.ID(),
		Principal:              tgt.Authentication.Principal.ID,
		CreatedAt:              tgt.CreationTime(),
		LastUsedAt:             tgt.LastUsed,
		ServiceTicketsGranted:  tgt.UseCount,
		ProxyGrantingTickets:   len(tgt.ProxyGrantingTicketIDs),
		ProxyChainLength:       len(tgt.ChainedAuthentications),
		RememberMe:             tgt.Authentication.RememberMe,
	})
}

// GrantServiceTicketResponse is the body returned for a granted service ticket.
type GrantServiceTicketResponse struct {
	ServiceTicketID string         `json:"service_ticket_id"`
	Service         models.Service `json:"service"`
	FromNewLogin    bool           `json:"from_new_login"`
}

// GrantServiceTicket handles POST /tickets/{ticketID}/service-tickets.
// Issues a service ticket from the identified session. A proxy-granting
// ticket identifier is accepted in place of a session identifier. The
// "renew" query parameter marks the grant as backed by fresh credential
// presentation.
//
// Query Parameters:
//   - service: the service the ticket is for (required)
//   - renew: credentials were presented on this request (default: false)
//
// Responses:
//   - 201: Service ticket granted
//   - 400: Missing service parameter
//   - 403: Service not registered, disabled, or requires fresh credentials
//   - 404: Unknown or expired session
func (h *TicketHandler) GrantServiceTicket(w http.ResponseWriter, r *http.Request) {
	tgtID := mux.Vars(r)["ticketID"]

	service := models.Service(r.URL.Query().Get("service"))
	if service == "" {
		h.writeError(w, models.NewUnauthorizedService("service parameter is required"), http.StatusBadRequest)
		return
	}
	renew := r.URL.Query().Get("renew") == "true"

	st, err := h.central.GrantServiceTicket(r.Context(), tgtID, service, renew)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, GrantServiceTicketResponse{
		ServiceTicketID: st.ID(),
		Service:         st.Service,
		FromNewLogin:    st.FromNewLogin,
	})
}

// ValidateServiceTicket handles POST /service-tickets/{ticketID}/validate.
// Atomically consumes the service ticket and returns the identity assertion.
// A pgtUrl parameter additionally requests a proxy-granting ticket for the
// validating service.
//
// Query Parameters:
//   - service: the service presenting the ticket (required)
//   - pgtUrl: proxy callback identifying the validating service (optional)
//
// Responses:
//   - 200: Assertion returned
//   - 400: Missing service parameter
//   - 403: Proxying not authorized for the service
//   - 404: Ticket missing, expired, consumed, or issued to another service
func (h *TicketHandler) ValidateServiceTicket(w http.ResponseWriter, r *http.Request) {
	stID := mux.Vars(r)["ticketID"]

	service := models.Service(r.URL.Query().Get("service"))
	if service == "" {
		h.writeError(w, models.NewUnauthorizedService("service parameter is required"), http.StatusBadRequest)
		return
	}
	proxyCallback := models.Service(r.URL.Query().Get("pgtUrl"))

	assertion, err := h.central.ValidateServiceTicket(r.Context(), stID, service, proxyCallback)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, assertion)
}

// DelegateProxyTicketResponse is the body returned for a delegated
// proxy-granting ticket.
type DelegateProxyTicketResponse struct {
	ProxyGrantingTicketID string         `json:"proxy_granting_ticket_id"`
	ProxiedBy             models.Service `json:"proxied_by"`
}

// DelegateProxyTicket handles POST /service-tickets/{ticketID}/proxy.
// Mints a proxy-granting ticket for a service that has already validated
// the identified service ticket.
//
// Query Parameters:
//   - service: the service requesting delegation (required)
//
// Responses:
//   - 201: Proxy-granting ticket delegated
//   - 400: Missing service parameter
//   - 403: Service not allowed to proxy
//   - 404: Ticket not found or not yet validated
func (h *TicketHandler) DelegateProxyTicket(w http.ResponseWriter, r *http.Request) {
	stID := mux.Vars(r)["ticketID"]

	service := models.Service(r.URL.Query().Get("service"))
	if service == "" {
		h.writeError(w, models.NewUnauthorizedService("service parameter is required"), http.StatusBadRequest)
		return
	}

	pgt, err := h.central.DelegateProxyGrantingTicket(r.Context(), stID, service)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, DelegateProxyTicketResponse{
		ProxyGrantingTicketID: pgt.ID(),
		ProxiedBy:             pgt.ProxiedBy,
	})
}

// DestroySessionResponse is the body returned for a destroyed session,
// carrying the single sign-out notices produced for the whole session tree.
type DestroySessionResponse struct {
	TicketGrantingTicketID string         `json:"ticket_granting_ticket_id"`
	LogoutRequests         []*logoutView  `json:"logout_requests"`
	Summary                map[string]int `json:"summary"`
}

// logoutView is the JSON presentation of one logout notice.
type logoutView struct {
	ID          string            `json:"id"`
	TicketID    string            `json:"ticket_id"`
	Service     models.Service    `json:"service"`
	LogoutType  models.LogoutType `json:"logout_type"`
	Status      string            `json:"status"`
	RedirectURL string            `json:"redirect_url,omitempty"`
}

// DestroySession handles DELETE /tickets/{ticketID}.
// Destroys the session, its proxy-granting descendants, and every service
// ticket any of them issued, dispatching single sign-out along the way.
// Destruction is idempotent: an absent session yields 200 with no notices.
//
// Responses:
//   - 200: Session destroyed (or already gone)
//   - 503: Registry unavailable mid-cascade
func (h *TicketHandler) DestroySession(w http.ResponseWriter, r *http.Request) {
	tgtID := mux.Vars(r)["ticketID"]

	requests, err := h.central.DestroyTicketGrantingTicket(r.Context(), tgtID)
	if err != nil {
		h.writeTicketError(w, err)
		return
	}

	h.cookies.Clear(w)

	views := make([]*logoutView, 0, len(requests))
	summary := make(map[string]int)
	for _, req := range requests {
		views = append(views, &logoutView{
			ID:          req.ID,
			TicketID:    req.TicketID,
			Service:     req.Service,
			LogoutType:  req.LogoutType,
			Status:      string(req.Status),
			RedirectURL: req.RedirectURL,
		})
		summary[string(req.Status)]++
	}

	h.logger.WithFields(logrus.Fields{
		"ticket_id": ticket.MaskID(tgtID),
		"notices":   len(views),
	}).Info("Session destruction requested")

	h.writeJSON(w, http.StatusOK, DestroySessionResponse{
		TicketGrantingTicketID: tgtID,
		LogoutRequests:         views,
		Summary:                summary,
	})
}

// writeTicketError maps a lifecycle error onto its HTTP presentation.
func (h *TicketHandler) writeTicketError(w http.ResponseWriter, err error) {
	var terr *models.TicketError
	if errors.As(err, &terr) {
		h.writeError(w, terr, terr.StatusCode)
		return
	}

	h.logger.WithError(err).Error("Unclassified ticket operation failure")
	h.writeError(w, models.NewTicketCreationFailure("internal error", false), http.StatusInternalServerError)
}

// writeError writes a TicketError body with the given status code.
func (h *TicketHandler) writeError(w http.ResponseWriter, terr *models.TicketError, statusCode int) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(terr); err != nil {
		h.logger.WithError(err).Error("Failed to encode error response")
	}
}

// writeJSON writes a JSON response with the given status code.
func (h *TicketHandler) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
