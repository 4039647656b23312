package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/ticket"
)

// MemoryRegistry is an in-memory Registry for single-node deployments and
// local development. Tickets are stored in their encoded form, the same
// value semantics as the Redis backend: callers always receive a private
// copy and mutations only take effect through UpdateTicket, so two callers
// holding the same ticket never share state. Expired tickets linger until
// the background cleaner removes them.
type MemoryRegistry struct {
	tickets map[string][]byte
	logger  *logrus.Logger
	mu      sync.RWMutex
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry(logger *logrus.Logger) *MemoryRegistry {
	logger.Info("In-memory ticket registry initialized")
	return &MemoryRegistry{
		tickets: make(map[string][]byte),
		logger:  logger,
	}
}

// AddTicket stores a newly minted ticket.
func (m *MemoryRegistry) AddTicket(_ context.Context, t ticket.Ticket) error {
	data, err := ticket.Encode(t)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tickets[t.ID()] = data

	m.logger.WithField("ticket_id", ticket.MaskID(t.ID())).Debug("Ticket added to registry")
	return nil
}

// GetTicket retrieves a live ticket, reporting expired tickets as absent.
func (m *MemoryRegistry) GetTicket(ctx context.Context, id string) (ticket.Ticket, error) {
	t, err := m.GetRawTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsExpired(time.Now()) {
		return nil, ErrTicketNotFound
	}
	return t, nil
}

// GetRawTicket retrieves a ticket without the expiration check.
func (m *MemoryRegistry) GetRawTicket(_ context.Context, id string) (ticket.Ticket, error) {
	m.mu.RLock()
	data, ok := m.tickets[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrTicketNotFound
	}
	return ticket.Decode(data)
}

// UpdateTicket persists mutated ticket state.
func (m *MemoryRegistry) UpdateTicket(_ context.Context, t ticket.Ticket) error {
	data, err := ticket.Encode(t)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tickets[t.ID()] = data
	return nil
}

// DeleteTicket removes a ticket, reporting whether it existed.
func (m *MemoryRegistry) DeleteTicket(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.tickets[id]
	delete(m.tickets, id)

	if existed {
		m.logger.WithField("ticket_id", ticket.MaskID(id)).Debug("Ticket deleted from registry")
	}
	return existed, nil
}

// GetTickets returns every stored ticket, including expired ones.
func (m *MemoryRegistry) GetTickets(_ context.Context) ([]ticket.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]ticket.Ticket, 0, len(m.tickets))
	for _, data := range m.tickets {
		t, err := ticket.Decode(data)
		if err != nil {
			return nil, err
		}
		all = append(all, t)
	}
	return all, nil
}

// ConsumeServiceTicket atomically records a validation use on a service
// ticket. The whole read-check-increment-write runs under the write lock,
// so exactly one concurrent caller observes the first use.
func (m *MemoryRegistry) ConsumeServiceTicket(_ context.Context, id string) (*ticket.ServiceTicket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.tickets[id]
	if !ok {
		return nil, false, ErrTicketNotFound
	}
	t, err := ticket.Decode(data)
	if err != nil {
		return nil, false, err
	}
	st, ok := t.(*ticket.ServiceTicket)
	if !ok {
		return nil, false, ErrTicketNotFound
	}
	if st.IsExpired(time.Now()) {
		return nil, false, ErrTicketNotFound
	}

	st.Consume(time.Now())
	updated, err := ticket.Encode(st)
	if err != nil {
		return nil, false, err
	}
	m.tickets[id] = updated

	return st, st.UseCount == 1, nil
}

// Ping reports healthy; the in-memory backend has no failure mode.
func (m *MemoryRegistry) Ping(context.Context) error { return nil }

// Close releases nothing; provided for interface symmetry.
func (m *MemoryRegistry) Close() error { return nil }
