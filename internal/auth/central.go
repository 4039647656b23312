package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/logout"
	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/registry"
	"github.com/apereo/cas-sub072/internal/services"
	"github.com/apereo/cas-sub072/internal/ticket"
)

// LogoutDispatcher produces single sign-out notices for a destroyed session.
type LogoutDispatcher interface {
	PerformLogout(ctx context.Context, tgt *ticket.TicketGrantingTicket) []*logout.Request
}

// CentralService coordinates the ticket lifecycle: it is the only component
// that both reads and writes the registry, and every lifecycle rule lives
// here. Handlers stay thin; storage stays dumb.
type CentralService struct {
	registry registry.Registry
	services services.Manager
	factory  *ticket.Factory
	logout   LogoutDispatcher
	logger   *logrus.Logger
}

// NewCentralService wires the ticket lifecycle coordinator.
func NewCentralService(reg registry.Registry, svc services.Manager, factory *ticket.Factory, dispatcher LogoutDispatcher, logger *logrus.Logger) *CentralService {
	return &CentralService{
		registry: reg,
		services: svc,
		factory:  factory,
		logout:   dispatcher,
		logger:   logger,
	}
}

// CreateTicketGrantingTicket mints a session root for a completed
// authentication and stores it. The caller has already verified credentials;
// this operation only records the result.
func (s *CentralService) CreateTicketGrantingTicket(ctx context.Context, auth *models.Authentication) (*ticket.TicketGrantingTicket, error) {
	if auth == nil || auth.Principal == nil || auth.Principal.ID == "" {
		return nil, models.NewTicketCreationFailure("authentication with a principal is required", false)
	}

	tgt := s.factory.NewTicketGrantingTicket(auth)
	if err := s.registry.AddTicket(ctx, tgt); err != nil {
		s.logger.WithError(err).Error("Failed to store ticket-granting ticket")
		return nil, models.NewStorageUnavailable("could not persist session")
	}

	ticketsMinted.WithLabelValues("tgt").Inc()
	liveSessions.Inc()
	s.logger.WithFields(logrus.Fields{
		"ticket_id":   ticket.MaskID(tgt.ID()),
		"principal":   auth.Principal.ID,
		"remember_me": auth.RememberMe,
	}).Info("Ticket-granting ticket created")
	return tgt, nil
}

// GrantServiceTicket issues a service ticket for the given service from an
// existing session. The session may be a first-level ticket-granting ticket
// or a proxy-granting ticket. credentialProvided reports whether the user
// presented credentials on this very request, which both marks the issued
// ticket as fresh and satisfies services that opt out of SSO.
func (s *CentralService) GrantServiceTicket(ctx context.Context, tgtID string, service models.Service, credentialProvided bool) (*ticket.ServiceTicket, error) {
	rs, err := s.resolveService(ctx, service)
	if err != nil {
		return nil, err
	}

	granter, stored, err := s.grantingTicket(ctx, tgtID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if granter.IsExpired(now) {
		// The session is over. Tear it down as a whole before telling
		// the caller, so descendants and sign-out fire exactly as they
		// would have from an explicit logout.
		if _, destroyErr := s.DestroyTicketGrantingTicket(ctx, granter.ID()); destroyErr != nil {
			s.logger.WithError(destroyErr).WithField("ticket_id", ticket.MaskID(granter.ID())).Warn("Failed to destroy expired session")
		}
		return nil, models.NewInvalidTicket("session has expired")
	}

	if !rs.SSOEnabled && !credentialProvided {
		return nil, models.NewUnauthorizedService("service requires fresh credential presentation")
	}

	fromNewLogin := granter.UseCount == 0 || credentialProvided
	st := s.factory.NewServiceTicket(granter, service, fromNewLogin)

	if err := s.registry.AddTicket(ctx, st); err != nil {
		s.logger.WithError(err).Error("Failed to store service ticket")
		return nil, models.NewStorageUnavailable("could not persist service ticket")
	}
	if err := s.registry.UpdateTicket(ctx, stored); err != nil {
		s.logger.WithError(err).Error("Failed to record grant on session")
		return nil, models.NewStorageUnavailable("could not update session")
	}

	ticketsMinted.WithLabelValues("st").Inc()
	s.logger.WithFields(logrus.Fields{
		"ticket_id":      ticket.MaskID(st.ID()),
		"granted_by":     ticket.MaskID(granter.ID()),
		"service":        service,
		"from_new_login": fromNewLogin,
	}).Info("Service ticket granted")
	return st, nil
}

// ValidateServiceTicket atomically consumes a service ticket presented by a
// service and returns the identity assertion backing it. Exactly one of any
// number of concurrent validations of the same ticket succeeds. A non-empty
// proxyCallback additionally mints a proxy-granting ticket for the relying
// service, provided its registration allows proxying.
func (s *CentralService) ValidateServiceTicket(ctx context.Context, stID string, service models.Service, proxyCallback models.Service) (*models.Assertion, error) {
	st, _, err := s.registry.ConsumeServiceTicket(ctx, stID)
	if errors.Is(err, registry.ErrTicketNotFound) {
		validations.WithLabelValues("invalid_ticket").Inc()
		return nil, models.NewInvalidTicket("service ticket is missing, expired, or already consumed")
	}
	if err != nil {
		validations.WithLabelValues("storage_error").Inc()
		s.logger.WithError(err).Error("Failed to consume service ticket")
		return nil, models.NewStorageUnavailable("could not consume service ticket")
	}

	// The consumed ticket stays in the registry: it is the proof a later
	// DelegateProxyGrantingTicket call needs, and its policy TTL bounds
	// how long it lingers before the storage TTL or the cleaner removes it.

	if !st.ValidFor(service) {
		// The ticket is already burned; a retry against the right
		// service must fail too.
		validations.WithLabelValues("service_mismatch").Inc()
		s.logger.WithFields(logrus.Fields{
			"ticket_id": ticket.MaskID(st.ID()),
			"expected":  st.Service,
			"presented": service,
		}).Warn("Service ticket presented for the wrong service")
		return nil, models.NewInvalidTicket("ticket was not issued to this service")
	}

	granter, stored, err := s.grantingTicket(ctx, st.GrantedBy)
	if err != nil {
		validations.WithLabelValues("invalid_ticket").Inc()
		return nil, err
	}
	if granter.IsExpired(time.Now()) {
		validations.WithLabelValues("invalid_ticket").Inc()
		return nil, models.NewInvalidTicket("granting session has expired")
	}

	assertion := &models.Assertion{
		Authentications: granter.ChainedAuthentications,
		Service:         service,
		FromNewLogin:    st.FromNewLogin,
	}

	if proxyCallback != "" {
		pgt, pgtErr := s.mintProxyGrantingTicket(ctx, st, granter, stored, proxyCallback)
		if pgtErr != nil {
			validations.WithLabelValues("proxy_rejected").Inc()
			return nil, pgtErr
		}
		assertion.ProxyGrantingTicketID = pgt.ID()
	}

	validations.WithLabelValues("success").Inc()
	s.logger.WithFields(logrus.Fields{
		"ticket_id": ticket.MaskID(st.ID()),
		"service":   service,
		"principal": assertion.PrimaryAuthentication().Principal.ID,
	}).Info("Service ticket validated")
	return assertion, nil
}

// DelegateProxyGrantingTicket mints a proxy-granting ticket for a service
// that has just validated the given service ticket, outside the validation
// call itself. The ticket must have been consumed by a validation first.
func (s *CentralService) DelegateProxyGrantingTicket(ctx context.Context, stID string, proxiedBy models.Service) (*ticket.ProxyGrantingTicket, error) {
	raw, err := s.registry.GetRawTicket(ctx, stID)
	if errors.Is(err, registry.ErrTicketNotFound) {
		return nil, models.NewInvalidTicket("service ticket not found")
	}
	if err != nil {
		return nil, models.NewStorageUnavailable("could not read service ticket")
	}
	st, ok := raw.(*ticket.ServiceTicket)
	if !ok || !st.IsConsumed() {
		return nil, models.NewInvalidTicket("service ticket has not been validated")
	}

	granter, stored, err := s.grantingTicket(ctx, st.GrantedBy)
	if err != nil {
		return nil, err
	}
	if granter.IsExpired(time.Now()) {
		return nil, models.NewInvalidTicket("granting session has expired")
	}

	return s.mintProxyGrantingTicket(ctx, st, granter, stored, proxiedBy)
}

// mintProxyGrantingTicket checks the proxy authorization of the validated
// service's registration, mints the proxy-granting ticket, and persists it
// together with the updated parent.
func (s *CentralService) mintProxyGrantingTicket(ctx context.Context, st *ticket.ServiceTicket, granter *ticket.TicketGrantingTicket, stored ticket.Ticket, proxiedBy models.Service) (*ticket.ProxyGrantingTicket, error) {
	rs, err := s.resolveService(ctx, st.Service)
	if err != nil {
		return nil, err
	}
	if !rs.AllowedToProxy {
		return nil, models.NewUnauthorizedService("service is not allowed to proxy")
	}

	proxyAuth := models.NewAuthentication(&models.Principal{ID: proxiedBy.String()}, false, nil)
	pgt := s.factory.NewProxyGrantingTicket(granter, st.ID(), proxiedBy, proxyAuth)

	if err := s.registry.AddTicket(ctx, pgt); err != nil {
		s.logger.WithError(err).Error("Failed to store proxy-granting ticket")
		return nil, models.NewStorageUnavailable("could not persist proxy-granting ticket")
	}
	if err := s.registry.UpdateTicket(ctx, stored); err != nil {
		s.logger.WithError(err).Error("Failed to link proxy-granting ticket on parent")
		return nil, models.NewStorageUnavailable("could not update session")
	}

	ticketsMinted.WithLabelValues("pgt").Inc()
	liveSessions.Inc()
	s.logger.WithFields(logrus.Fields{
		"ticket_id":  ticket.MaskID(pgt.ID()),
		"parent":     ticket.MaskID(granter.ID()),
		"proxied_by": proxiedBy,
	}).Info("Proxy-granting ticket delegated")
	return pgt, nil
}

// DestroyTicketGrantingTicket tears down a session: the granting ticket,
// every proxy-granting ticket descending from it, and every service ticket
// any of them issued. Destruction is idempotent; destroying an absent
// session succeeds with no notices. The returned requests record the single
// sign-out notices produced for the whole subtree.
func (s *CentralService) DestroyTicketGrantingTicket(ctx context.Context, tgtID string) ([]*logout.Request, error) {
	visited := make(map[string]bool)
	return s.destroySession(ctx, tgtID, visited)
}

// destroySession removes one granting ticket and recurses into its
// descendants, depth-first. The visited set guards against malformed link
// cycles in stored data.
func (s *CentralService) destroySession(ctx context.Context, tgtID string, visited map[string]bool) ([]*logout.Request, error) {
	if visited[tgtID] {
		return nil, nil
	}
	visited[tgtID] = true

	raw, err := s.registry.GetRawTicket(ctx, tgtID)
	if errors.Is(err, registry.ErrTicketNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStorageUnavailable("could not read session")
	}

	granter := asGranting(raw)
	if granter == nil {
		return nil, models.NewInvalidTicket(fmt.Sprintf("%s does not identify a session", ticket.MaskID(tgtID)))
	}

	var requests []*logout.Request

	// Descendants first, so a failure midway never leaves an orphaned
	// proxy session behind a deleted root.
	for pgtID := range granter.ProxyGrantingTicketIDs {
		childRequests, childErr := s.destroySession(ctx, pgtID, visited)
		if childErr != nil {
			return requests, childErr
		}
		requests = append(requests, childRequests...)
	}

	granter.MarkTerminated()
	if err := s.registry.UpdateTicket(ctx, raw); err != nil {
		s.logger.WithError(err).WithField("ticket_id", ticket.MaskID(tgtID)).Warn("Failed to mark session terminated")
	}

	notices := s.logout.PerformLogout(ctx, granter)
	for _, req := range notices {
		logoutNotices.WithLabelValues(string(req.Status)).Inc()
	}
	requests = append(requests, notices...)

	for stID := range granter.Services {
		if _, delErr := s.registry.DeleteTicket(ctx, stID); delErr != nil {
			s.logger.WithError(delErr).WithField("ticket_id", ticket.MaskID(stID)).Warn("Failed to delete issued service ticket")
		}
	}

	if _, err := s.registry.DeleteTicket(ctx, tgtID); err != nil {
		return requests, models.NewStorageUnavailable("could not delete session")
	}

	sessionsDestroyed.Inc()
	liveSessions.Dec()
	s.logger.WithFields(logrus.Fields{
		"ticket_id": ticket.MaskID(tgtID),
		"notices":   len(notices),
	}).Info("Session destroyed")
	return requests, nil
}

// GetTicketGrantingTicket returns the live session for the identifier, for
// session introspection. Expired sessions are reported invalid.
func (s *CentralService) GetTicketGrantingTicket(ctx context.Context, tgtID string) (*ticket.TicketGrantingTicket, error) {
	granter, _, err := s.grantingTicket(ctx, tgtID)
	if err != nil {
		return nil, err
	}
	if granter.IsExpired(time.Now()) {
		return nil, models.NewInvalidTicket("session has expired")
	}
	return granter, nil
}

// resolveService looks up the registration for a service identifier and
// applies the enablement gate shared by every operation.
func (s *CentralService) resolveService(ctx context.Context, service models.Service) (*models.RegisteredService, error) {
	rs, err := s.services.FindServiceBy(ctx, service)
	if err != nil {
		s.logger.WithError(err).WithField("service", service).Error("Failed to resolve service registration")
		return nil, models.NewStorageUnavailable("could not resolve service registration")
	}
	if rs == nil {
		return nil, models.NewUnauthorizedService("service is not registered")
	}
	if !rs.Enabled {
		return nil, models.NewUnauthorizedService("service registration is disabled")
	}
	return rs, nil
}

// grantingTicket fetches a ticket and narrows it to its granting-ticket
// view. The returned stored value is the ticket as it must be written back,
// preserving the proxy-granting variant.
func (s *CentralService) grantingTicket(ctx context.Context, id string) (*ticket.TicketGrantingTicket, ticket.Ticket, error) {
	raw, err := s.registry.GetRawTicket(ctx, id)
	if errors.Is(err, registry.ErrTicketNotFound) {
		return nil, nil, models.NewInvalidTicket("session not found")
	}
	if err != nil {
		return nil, nil, models.NewStorageUnavailable("could not read session")
	}

	granter := asGranting(raw)
	if granter == nil {
		return nil, nil, models.NewInvalidTicket(fmt.Sprintf("%s does not identify a session", ticket.MaskID(id)))
	}
	return granter, raw, nil
}

// asGranting narrows a ticket to its granting-ticket view, or nil for
// non-granting tickets.
func asGranting(t ticket.Ticket) *ticket.TicketGrantingTicket {
	switch v := t.(type) {
	case *ticket.TicketGrantingTicket:
		return v
	case *ticket.ProxyGrantingTicket:
		return &v.TicketGrantingTicket
	default:
		return nil
	}
}
