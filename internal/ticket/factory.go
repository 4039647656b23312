package ticket

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/models"
)

// randomEncoding encodes the random identifier segment. Base32 keeps the
// segment free of the '-' field separator, which base64url's alphabet
// would collide with.
var randomEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// IDGenerator mints globally unique ticket identifiers. Identifiers combine
// a variant prefix, a process-local sequence number, and a random component
// from the platform CSPRNG, optionally tagged with a node suffix for
// multi-node deployments.
type IDGenerator struct {
	entropyBytes int
	suffix       string
	counter      atomic.Uint64
}

// NewIDGenerator creates an identifier generator producing the given number
// of random bytes per identifier, with an optional node suffix.
func NewIDGenerator(entropyBytes int, suffix string) *IDGenerator {
	return &IDGenerator{
		entropyBytes: entropyBytes,
		suffix:       suffix,
	}
}

// NewID mints an identifier with the given variant prefix.
func (g *IDGenerator) NewID(prefix string) string {
	buf := make([]byte, g.entropyBytes)
	if _, err := rand.Read(buf); err != nil {
		// Ticket identifiers are credentials; continuing without
		// entropy is not an option.
		panic(fmt.Sprintf("platform random source unavailable: %v", err))
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte('-')
	fmt.Fprintf(&sb, "%d", g.counter.Add(1))
	sb.WriteByte('-')
	sb.WriteString(randomEncoding.EncodeToString(buf))
	if g.suffix != "" {
		sb.WriteByte('-')
		sb.WriteString(g.suffix)
	}
	return sb.String()
}

// Factory mints tickets with identifiers and expiration policies derived
// from configuration. Policies are chosen once at creation; the factory
// never mutates a ticket it has handed out.
type Factory struct {
	ids *IDGenerator
	now func() time.Time

	standardTGT   TimeToLiveAndIdlePolicy
	rememberMeTGT TimeToLiveAndIdlePolicy
	serviceTicket ThrottledUsePolicy
}

// NewFactory creates a ticket factory from the given lifecycle settings.
func NewFactory(cfg *config.TicketConfig) *Factory {
	return &Factory{
		ids: NewIDGenerator(cfg.IDEntropyBytes, cfg.IDSuffix),
		now: time.Now,
		standardTGT: TimeToLiveAndIdlePolicy{
			TimeToLive: cfg.TGTTimeToLive,
			TimeToIdle: cfg.TGTTimeToIdle,
		},
		rememberMeTGT: TimeToLiveAndIdlePolicy{
			TimeToLive: cfg.RememberMeTimeToLive,
			TimeToIdle: cfg.TGTTimeToIdle,
		},
		serviceTicket: ThrottledUsePolicy{
			MaxUses:     1,
			TimeToLive:  cfg.STTimeToLive,
			ReuseWindow: cfg.STReuseWindow,
		},
	}
}

// WithClock overrides the factory clock. Intended for tests.
func (f *Factory) WithClock(now func() time.Time) *Factory {
	f.now = now
	return f
}

// NewTicketGrantingTicket mints a session root for the given authentication
// event. The remember-me flag on the authentication selects the long-lived
// expiration variant, frozen into the ticket's policy.
func (f *Factory) NewTicketGrantingTicket(auth *models.Authentication) *TicketGrantingTicket {
	policy := NewPolicy(RememberMeDelegatingPolicy{
		RememberMe: auth.RememberMe,
		Standard:   f.standardTGT,
		Extended:   f.rememberMeTGT,
	})
	return NewTicketGrantingTicket(f.ids.NewID(PrefixGranting), auth, policy, f.now())
}

// NewServiceTicket mints a single-use service ticket from the given
// granting ticket and records the grant on it.
func (f *Factory) NewServiceTicket(granter *TicketGrantingTicket, service models.Service, fromNewLogin bool) *ServiceTicket {
	now := f.now()
	st := NewServiceTicket(f.ids.NewID(PrefixService), granter.ID(), service, fromNewLogin, NewPolicy(f.serviceTicket), now)
	granter.GrantService(st.ID(), service, now)
	return st
}

// NewProxyGrantingTicket mints a proxy-granting ticket descending from the
// given parent session, authorized by a validated service ticket, and links
// it on the parent. Proxy sessions never extend beyond the root session, so
// they inherit the standard policy regardless of the root's remember-me
// selection.
func (f *Factory) NewProxyGrantingTicket(parent *TicketGrantingTicket, authorizedBy string, proxiedBy models.Service, proxyAuth *models.Authentication) *ProxyGrantingTicket {
	policy := NewPolicy(f.standardTGT)
	pgt := NewProxyGrantingTicket(f.ids.NewID(PrefixProxyGranting), parent, authorizedBy, proxiedBy, proxyAuth, policy, f.now())
	parent.LinkProxyGrantingTicket(pgt.ID())
	return pgt
}
