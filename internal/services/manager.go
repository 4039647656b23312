// Package services resolves service identifiers against the registry of
// registered applications. Every ticket grant and validation consults the
// manager; an unknown or disabled service gets no ticket.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/repository"
)

// Manager resolves a presented service identifier to its registration.
type Manager interface {
	// FindServiceBy returns the registration covering the given service
	// identifier, or nil when no registration matches. Disabled
	// registrations are still returned; access decisions belong to the
	// caller.
	FindServiceBy(ctx context.Context, service models.Service) (*models.RegisteredService, error)
}

// listCacheTTL bounds how long the repository-backed manager serves match
// decisions from its last loaded registration list.
const listCacheTTL = 30 * time.Second

// RepositoryManager resolves services against a ServiceRepository, holding
// the registration list in memory for a short window so the match loop does
// not hit storage on every ticket operation.
type RepositoryManager struct {
	repo   repository.ServiceRepository
	logger *logrus.Logger

	mu       sync.RWMutex
	services []*models.RegisteredService
	loadedAt time.Time
}

// NewRepositoryManager creates a repository-backed service manager.
func NewRepositoryManager(repo repository.ServiceRepository, logger *logrus.Logger) *RepositoryManager {
	return &RepositoryManager{
		repo:   repo,
		logger: logger,
	}
}

// FindServiceBy returns the first registration matching the identifier, in
// registration order.
func (m *RepositoryManager) FindServiceBy(ctx context.Context, service models.Service) (*models.RegisteredService, error) {
	services, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	for _, rs := range services {
		if rs.Matches(service) {
			return rs, nil
		}
	}
	return nil, nil
}

// load returns the registration list, refreshing it from the repository
// when the cached copy has aged out.
func (m *RepositoryManager) load(ctx context.Context) ([]*models.RegisteredService, error) {
	m.mu.RLock()
	services, loadedAt := m.services, m.loadedAt
	m.mu.RUnlock()

	if services != nil && time.Since(loadedAt) < listCacheTTL {
		return services, nil
	}

	fresh, err := m.repo.ListServices(ctx)
	if err != nil {
		if services != nil {
			// Serve the stale list rather than failing ticket
			// operations outright.
			m.logger.WithError(err).Warn("Failed to refresh registered services, serving stale list")
			return services, nil
		}
		return nil, fmt.Errorf("failed to load registered services: %w", err)
	}

	m.mu.Lock()
	m.services = fresh
	m.loadedAt = time.Now()
	m.mu.Unlock()
	return fresh, nil
}

// Invalidate drops the cached registration list so the next lookup reloads
// it. Administrative edits call it to take effect immediately.
func (m *RepositoryManager) Invalidate() {
	m.mu.Lock()
	m.services = nil
	m.mu.Unlock()
}

// StaticManager resolves services against a fixed in-memory list. Used for
// local development and tests, where no database backs the registry.
type StaticManager struct {
	services []*models.RegisteredService
}

// NewStaticManager creates a manager over a fixed registration list.
func NewStaticManager(services []*models.RegisteredService) *StaticManager {
	return &StaticManager{services: services}
}

// FindServiceBy returns the first registration matching the identifier.
func (m *StaticManager) FindServiceBy(_ context.Context, service models.Service) (*models.RegisteredService, error) {
	for _, rs := range m.services {
		if rs.Matches(service) {
			return rs, nil
		}
	}
	return nil, nil
}
