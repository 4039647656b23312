package logout

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/constants"
	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/ticket"
)

// ServiceResolver resolves a service identifier to its registration so the
// manager can look up the logout style and endpoint.
type ServiceResolver interface {
	FindServiceBy(ctx context.Context, service models.Service) (*models.RegisteredService, error)
}

// Manager dispatches single sign-out notices for destroyed sessions.
type Manager struct {
	cfg      *config.LogoutConfig
	resolver ServiceResolver
	client   *http.Client
	logger   *logrus.Logger
}

// NewManager creates a logout manager. Per-notice timeouts come from the
// configured dispatch timeout rather than the client, so a slow service
// cannot consume another notice's budget.
func NewManager(cfg *config.LogoutConfig, resolver ServiceResolver, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		resolver: resolver,
		client:   &http.Client{},
		logger:   logger,
	}
}

// PerformLogout notifies every service the destroyed granting ticket issued
// a service ticket to, and returns the notice records. Each service is
// notified once even when it received several tickets; delivery failures
// are recorded on the returned requests, never returned as an error.
// Session destruction must not hinge on service availability.
func (m *Manager) PerformLogout(ctx context.Context, tgt *ticket.TicketGrantingTicket) []*Request {
	if !m.cfg.Enabled || len(tgt.Services) == 0 {
		return nil
	}

	requests := m.collectRequests(ctx, tgt)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, req := range requests {
		if req.LogoutType != models.LogoutTypeBackChannel {
			continue
		}
		req := req
		g.Go(func() error {
			m.dispatchBackChannel(gctx, req)
			return nil
		})
	}
	// Workers never return errors; Wait only fences completion.
	_ = g.Wait()

	m.logger.WithFields(logrus.Fields{
		"ticket_id": ticket.MaskID(tgt.ID()),
		"notices":   len(requests),
	}).Info("Single sign-out completed")
	return requests
}

// collectRequests builds one notice per distinct service with logout
// enabled, resolving each service's registration for its logout style.
func (m *Manager) collectRequests(ctx context.Context, tgt *ticket.TicketGrantingTicket) []*Request {
	var requests []*Request
	seen := make(map[models.Service]bool)

	for stID, service := range tgt.Services {
		if seen[service] {
			continue
		}
		seen[service] = true

		rs, err := m.resolver.FindServiceBy(ctx, service)
		if err != nil {
			m.logger.WithError(err).WithField("service", service).Warn("Failed to resolve service for sign-out notice")
		}

		// Every tracked service gets a notice record. Services that cannot
		// be notified (logout disabled, registration gone, resolver down)
		// stay in the not-attempted state.
		if rs == nil || rs.LogoutType == models.LogoutTypeNone || rs.LogoutType == "" {
			requests = append(requests, NewRequest(stID, service, models.LogoutTypeNone))
			continue
		}

		req := NewRequest(stID, service, rs.LogoutType)
		switch rs.LogoutType {
		case models.LogoutTypeFrontChannel:
			req.RedirectURL = frontChannelURL(rs, req)
		case models.LogoutTypeBackChannel:
			req.endpoint = backChannelEndpoint(rs, service)
		}
		requests = append(requests, req)
	}
	return requests
}

// dispatchBackChannel POSTs the logout message to the service's logout
// endpoint, recording the outcome on the request.
func (m *Manager) dispatchBackChannel(ctx context.Context, req *Request) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
	defer cancel()

	body, err := json.Marshal(Message{
		ID:       req.ID,
		TicketID: req.TicketID,
		Issued:   time.Now(),
	})
	if err != nil {
		req.Status = StatusFailure
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.endpoint, bytes.NewReader(body))
	if err != nil {
		req.Status = StatusFailure
		return
	}
	httpReq.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"service":   req.Service,
			"ticket_id": ticket.MaskID(req.TicketID),
		}).Warn("Back-channel sign-out notice failed")
		req.Status = StatusFailure
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		m.logger.WithFields(logrus.Fields{
			"service": req.Service,
			"status":  resp.StatusCode,
		}).Warn("Back-channel sign-out notice rejected")
		req.Status = StatusFailure
		return
	}

	req.Status = StatusSuccess
}

// frontChannelURL builds the browser redirect carrying the logout notice as
// a query parameter.
func frontChannelURL(rs *models.RegisteredService, req *Request) string {
	endpoint := rs.LogoutURL
	if endpoint == "" {
		endpoint = req.Service.String()
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("ticket_id", req.TicketID)
	u.RawQuery = q.Encode()
	return u.String()
}

// backChannelEndpoint returns the endpoint a back-channel notice is sent
// to: the registered logout URL when set, the service identifier otherwise.
func backChannelEndpoint(rs *models.RegisteredService, service models.Service) string {
	if rs.LogoutURL != "" {
		return rs.LogoutURL
	}
	return service.String()
}
