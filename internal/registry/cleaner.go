package registry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/ticket"
)

// DestroyFunc tears down an expired granting ticket as a session: cascading
// to descendants and notifying services, not merely deleting the key.
type DestroyFunc func(ctx context.Context, tgtID string) error

// Cleaner periodically sweeps the registry for expired tickets. Expired
// granting tickets are handed to the destroy callback so their descendants
// are cascaded and single sign-out fires; expired service tickets are
// deleted directly.
//
// Lazy expiration on read keeps the sweep a hygiene measure rather than a
// correctness requirement: an expired ticket is rejected the moment it is
// presented, swept or not.
type Cleaner struct {
	registry Registry
	destroy  DestroyFunc
	logger   *logrus.Logger
	ticker   *time.Ticker
	stop     chan struct{}
}

// NewCleaner creates a cleaner sweeping at the given interval.
func NewCleaner(registry Registry, destroy DestroyFunc, interval time.Duration, logger *logrus.Logger) *Cleaner {
	return &Cleaner{
		registry: registry,
		destroy:  destroy,
		logger:   logger,
		ticker:   time.NewTicker(interval),
		stop:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (c *Cleaner) Start() {
	go func() {
		defer c.ticker.Stop()
		for {
			select {
			case <-c.ticker.C:
				c.Sweep(context.Background())
			case <-c.stop:
				return
			}
		}
	}()
	c.logger.Info("Ticket registry cleaner started")
}

// Stop terminates the sweep loop.
func (c *Cleaner) Stop() {
	close(c.stop)
	c.logger.Info("Ticket registry cleaner stopped")
}

// Sweep performs one pass over the registry, removing expired tickets.
// It returns the number of tickets cleaned up.
func (c *Cleaner) Sweep(ctx context.Context) int {
	all, err := c.registry.GetTickets(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Failed to list tickets for cleanup")
		return 0
	}

	now := time.Now()
	cleaned := 0
	for _, t := range all {
		if !t.IsExpired(now) {
			continue
		}

		switch t.(type) {
		case *ticket.TicketGrantingTicket, *ticket.ProxyGrantingTicket:
			if err := c.destroy(ctx, t.ID()); err != nil {
				c.logger.WithError(err).WithField("ticket_id", ticket.MaskID(t.ID())).Warn("Failed to destroy expired session")
				continue
			}
		default:
			if _, err := c.registry.DeleteTicket(ctx, t.ID()); err != nil {
				c.logger.WithError(err).WithField("ticket_id", ticket.MaskID(t.ID())).Warn("Failed to delete expired ticket")
				continue
			}
		}
		cleaned++
	}

	if cleaned > 0 {
		c.logger.WithField("expired_tickets", cleaned).Debug("Cleaned up expired tickets from registry")
	}
	return cleaned
}
