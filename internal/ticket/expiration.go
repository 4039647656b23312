package ticket

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExpirationPolicy decides whether a ticket is still valid. Policies are
// pure functions of the ticket state and the supplied instant; they are
// attached once at ticket creation and never change afterwards.
type ExpirationPolicy interface {
	// Name returns the stable policy name used for serialization.
	Name() string

	// IsExpired reports whether a ticket with the given state is expired
	// at the given instant.
	IsExpired(state State, now time.Time) bool

	// RemainingLifetime returns an upper bound on how long the ticket can
	// possibly remain valid from the given instant, regardless of future
	// use. Zero means unbounded. Storage backends use it to bound key TTLs.
	RemainingLifetime(state State, now time.Time) time.Duration
}

// Policy name constants, stable across releases because they appear in
// serialized tickets.
const (
	policyNameNever        = "never"
	policyNameTTLIdle      = "ttl_idle"
	policyNameThrottledUse = "throttled_use"
	policyNameRememberMe   = "remember_me"
)

// NeverExpiresPolicy never expires a ticket. Used in tests and for special
// long-lived tickets.
type NeverExpiresPolicy struct{}

// Name returns the policy serialization name.
func (NeverExpiresPolicy) Name() string { return policyNameNever }

// IsExpired always reports false.
func (NeverExpiresPolicy) IsExpired(State, time.Time) bool { return false }

// RemainingLifetime reports an unbounded lifetime.
func (NeverExpiresPolicy) RemainingLifetime(State, time.Time) time.Duration { return 0 }

// TimeToLiveAndIdlePolicy expires a ticket after a hard ceiling from
// creation or after a sliding window of inactivity, whichever comes first.
// The two timeouts are independently configurable: use refreshes the idle
// window but never extends the hard ceiling.
type TimeToLiveAndIdlePolicy struct {
	// TimeToLive is the hard ceiling measured from creation.
	TimeToLive time.Duration `json:"time_to_live"`
	// TimeToIdle is the sliding inactivity timeout. Zero disables the
	// idle check, leaving only the hard ceiling.
	TimeToIdle time.Duration `json:"time_to_idle"`
}

// Name returns the policy serialization name.
func (TimeToLiveAndIdlePolicy) Name() string { return policyNameTTLIdle }

// IsExpired reports whether the hard ceiling or the idle window has passed.
func (p TimeToLiveAndIdlePolicy) IsExpired(state State, now time.Time) bool {
	if now.Sub(state.Created) > p.TimeToLive {
		return true
	}
	if p.TimeToIdle > 0 && now.Sub(state.lastActivity()) > p.TimeToIdle {
		return true
	}
	return false
}

// RemainingLifetime returns the time left until the hard ceiling. The idle
// window can only shorten validity, so the ceiling is the upper bound.
func (p TimeToLiveAndIdlePolicy) RemainingLifetime(state State, now time.Time) time.Duration {
	remaining := p.TimeToLive - now.Sub(state.Created)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ThrottledUsePolicy expires a service ticket after its first successful
// use or after a short absolute lifetime, whichever comes first. A
// non-zero ReuseWindow keeps a consumed ticket valid for that long after
// consumption, tolerating network-level validation retries; a consumed
// ticket past the window is expired regardless of the absolute lifetime.
type ThrottledUsePolicy struct {
	// MaxUses is the number of successful uses before the ticket expires.
	MaxUses int `json:"max_uses"`
	// TimeToLive is the absolute lifetime measured from creation.
	TimeToLive time.Duration `json:"time_to_live"`
	// ReuseWindow optionally keeps a fully-used ticket valid for this
	// long after its last use. Zero enforces strict at-most-once use.
	ReuseWindow time.Duration `json:"reuse_window"`
}

// Name returns the policy serialization name.
func (ThrottledUsePolicy) Name() string { return policyNameThrottledUse }

// IsExpired reports whether the ticket is used up or past its lifetime.
func (p ThrottledUsePolicy) IsExpired(state State, now time.Time) bool {
	if now.Sub(state.Created) > p.TimeToLive {
		return true
	}
	if state.UseCount >= p.MaxUses {
		if p.ReuseWindow <= 0 {
			return true
		}
		return now.Sub(state.lastActivity()) > p.ReuseWindow
	}
	return false
}

// RemainingLifetime returns the time left until the absolute lifetime. For
// a fully-used ticket with a reuse window the remaining window bounds it
// further.
func (p ThrottledUsePolicy) RemainingLifetime(state State, now time.Time) time.Duration {
	remaining := p.TimeToLive - now.Sub(state.Created)
	if remaining < 0 {
		remaining = 0
	}
	if state.UseCount >= p.MaxUses && p.ReuseWindow > 0 {
		window := p.ReuseWindow - now.Sub(state.lastActivity())
		if window < 0 {
			window = 0
		}
		if window < remaining {
			remaining = window
		}
	}
	return remaining
}

// RememberMeDelegatingPolicy selects between the standard TGT policy and a
// long-lived variant at ticket-creation time, based on whether the
// credential carried a remember-me flag. The selection is frozen into the
// policy so expiration remains a pure function of ticket state.
type RememberMeDelegatingPolicy struct {
	// RememberMe records the credential-level flag captured at creation.
	RememberMe bool `json:"remember_me"`
	// Standard is the policy applied to ordinary sessions.
	Standard TimeToLiveAndIdlePolicy `json:"standard"`
	// Extended is the policy applied to remember-me sessions.
	Extended TimeToLiveAndIdlePolicy `json:"extended"`
}

// Name returns the policy serialization name.
func (RememberMeDelegatingPolicy) Name() string { return policyNameRememberMe }

// IsExpired delegates to the policy selected at creation.
func (p RememberMeDelegatingPolicy) IsExpired(state State, now time.Time) bool {
	if p.RememberMe {
		return p.Extended.IsExpired(state, now)
	}
	return p.Standard.IsExpired(state, now)
}

// RemainingLifetime delegates to the policy selected at creation.
func (p RememberMeDelegatingPolicy) RemainingLifetime(state State, now time.Time) time.Duration {
	if p.RememberMe {
		return p.Extended.RemainingLifetime(state, now)
	}
	return p.Standard.RemainingLifetime(state, now)
}

// Policy wraps an ExpirationPolicy for storage serialization. Tickets are
// serialized to JSON by registry backends, so the attached policy must
// round-trip; the wrapper encodes the policy as a tagged envelope and
// reconstructs the concrete variant on read.
type Policy struct {
	ExpirationPolicy
}

// NewPolicy wraps the given expiration policy for storage on a ticket.
func NewPolicy(p ExpirationPolicy) Policy {
	return Policy{ExpirationPolicy: p}
}

// policyEnvelope is the serialized form of a Policy.
type policyEnvelope struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MarshalJSON encodes the wrapped policy as a tagged envelope.
func (p Policy) MarshalJSON() ([]byte, error) {
	if p.ExpirationPolicy == nil {
		return nil, fmt.Errorf("cannot serialize ticket without an expiration policy")
	}

	params, err := json.Marshal(p.ExpirationPolicy)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expiration policy params: %w", err)
	}

	return json.Marshal(policyEnvelope{
		Name:   p.ExpirationPolicy.Name(),
		Params: params,
	})
}

// UnmarshalJSON reconstructs the concrete policy variant from its envelope.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var envelope policyEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal expiration policy envelope: %w", err)
	}

	var (
		policy ExpirationPolicy
		err    error
	)
	switch envelope.Name {
	case policyNameNever:
		policy = NeverExpiresPolicy{}
	case policyNameTTLIdle:
		var concrete TimeToLiveAndIdlePolicy
		err = json.Unmarshal(envelope.Params, &concrete)
		policy = concrete
	case policyNameThrottledUse:
		var concrete ThrottledUsePolicy
		err = json.Unmarshal(envelope.Params, &concrete)
		policy = concrete
	case policyNameRememberMe:
		var concrete RememberMeDelegatingPolicy
		err = json.Unmarshal(envelope.Params, &concrete)
		policy = concrete
	default:
		return fmt.Errorf("unknown expiration policy %q", envelope.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to unmarshal %q policy params: %w", envelope.Name, err)
	}

	p.ExpirationPolicy = policy
	return nil
}
