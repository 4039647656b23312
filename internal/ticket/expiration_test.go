package ticket_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/ticket"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func tgtAt(t *testing.T, policy ticket.ExpirationPolicy, created time.Time) *ticket.TicketGrantingTicket {
	t.Helper()
	auth := models.NewAuthentication(&models.Principal{ID: "alice"}, false, nil)
	return ticket.NewTicketGrantingTicket("TGT-1-abc", auth, ticket.NewPolicy(policy), created)
}

func TestNeverExpiresPolicy(t *testing.T) {
	tgt := tgtAt(t, ticket.NeverExpiresPolicy{}, epoch)

	assert.False(t, tgt.IsExpired(epoch))
	assert.False(t, tgt.IsExpired(epoch.Add(100*365*24*time.Hour)))
}

func TestTimeToLiveAndIdlePolicy(t *testing.T) {
	policy := ticket.TimeToLiveAndIdlePolicy{
		TimeToLive: 8 * time.Hour,
		TimeToIdle: 2 * time.Hour,
	}

	tests := []struct {
		name        string
		lastUsed    time.Duration // offset of last use from creation, -1 for never
		checkAt     time.Duration // offset of the expiry check from creation
		wantExpired bool
	}{
		{
			name:        "fresh_ticket",
			lastUsed:    -1,
			checkAt:     time.Hour,
			wantExpired: false,
		},
		{
			name:        "idle_window_passed_without_use",
			lastUsed:    -1,
			checkAt:     3 * time.Hour,
			wantExpired: true,
		},
		{
			name:        "use_refreshes_idle_window",
			lastUsed:    90 * time.Minute,
			checkAt:     3 * time.Hour,
			wantExpired: false,
		},
		{
			name:        "idle_window_passed_after_last_use",
			lastUsed:    time.Hour,
			checkAt:     4 * time.Hour,
			wantExpired: true,
		},
		{
			name:        "hard_ceiling_despite_constant_use",
			lastUsed:    8 * time.Hour,
			checkAt:     8*time.Hour + time.Minute,
			wantExpired: true,
		},
		{
			name:        "just_inside_both_windows",
			lastUsed:    6 * time.Hour,
			checkAt:     7 * time.Hour,
			wantExpired: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt := tgtAt(t, policy, epoch)
			if tt.lastUsed >= 0 {
				tgt.GrantService("ST-1-x", "https://app.example.org", epoch.Add(tt.lastUsed))
			}
			assert.Equal(t, tt.wantExpired, tgt.IsExpired(epoch.Add(tt.checkAt)))
		})
	}
}

func TestThrottledUsePolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      ticket.ThrottledUsePolicy
		consumeAt   time.Duration // offset of consumption from creation, -1 for never
		checkAt     time.Duration
		wantExpired bool
	}{
		{
			name:        "unconsumed_within_lifetime",
			policy:      ticket.ThrottledUsePolicy{MaxUses: 1, TimeToLive: 10 * time.Second},
			consumeAt:   -1,
			checkAt:     5 * time.Second,
			wantExpired: false,
		},
		{
			name:        "unconsumed_past_lifetime",
			policy:      ticket.ThrottledUsePolicy{MaxUses: 1, TimeToLive: 10 * time.Second},
			consumeAt:   -1,
			checkAt:     11 * time.Second,
			wantExpired: true,
		},
		{
			name:        "consumed_expires_immediately_without_reuse_window",
			policy:      ticket.ThrottledUsePolicy{MaxUses: 1, TimeToLive: 10 * time.Second},
			consumeAt:   2 * time.Second,
			checkAt:     2 * time.Second,
			wantExpired: true,
		},
		{
			name:        "consumed_inside_reuse_window",
			policy:      ticket.ThrottledUsePolicy{MaxUses: 1, TimeToLive: 10 * time.Second, ReuseWindow: 3 * time.Second},
			consumeAt:   2 * time.Second,
			checkAt:     4 * time.Second,
			wantExpired: false,
		},
		{
			name:        "consumed_past_reuse_window",
			policy:      ticket.ThrottledUsePolicy{MaxUses: 1, TimeToLive: 10 * time.Second, ReuseWindow: 3 * time.Second},
			consumeAt:   2 * time.Second,
			checkAt:     6 * time.Second,
			wantExpired: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ticket.NewServiceTicket("ST-1-x", "TGT-1-abc", "https://app.example.org", false, ticket.NewPolicy(tt.policy), epoch)
			if tt.consumeAt >= 0 {
				st.Consume(epoch.Add(tt.consumeAt))
			}
			assert.Equal(t, tt.wantExpired, st.IsExpired(epoch.Add(tt.checkAt)))
		})
	}
}

func TestRememberMeDelegatingPolicy(t *testing.T) {
	standard := ticket.TimeToLiveAndIdlePolicy{TimeToLive: 8 * time.Hour, TimeToIdle: 8 * time.Hour}
	extended := ticket.TimeToLiveAndIdlePolicy{TimeToLive: 14 * 24 * time.Hour, TimeToIdle: 14 * 24 * time.Hour}

	plain := ticket.RememberMeDelegatingPolicy{RememberMe: false, Standard: standard, Extended: extended}
	remembered := ticket.RememberMeDelegatingPolicy{RememberMe: true, Standard: standard, Extended: extended}

	checkAt := epoch.Add(24 * time.Hour)
	assert.True(t, tgtAt(t, plain, epoch).IsExpired(checkAt))
	assert.False(t, tgtAt(t, remembered, epoch).IsExpired(checkAt))
}

func TestPolicyRemainingLifetime(t *testing.T) {
	policy := ticket.TimeToLiveAndIdlePolicy{TimeToLive: 8 * time.Hour, TimeToIdle: 2 * time.Hour}
	state := ticket.State{Created: epoch}

	assert.Equal(t, 5*time.Hour, policy.RemainingLifetime(state, epoch.Add(3*time.Hour)))
	assert.Equal(t, time.Duration(0), policy.RemainingLifetime(state, epoch.Add(9*time.Hour)))
	assert.Equal(t, time.Duration(0), ticket.NeverExpiresPolicy{}.RemainingLifetime(state, epoch))
}

func TestPolicySerializationRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		policy ticket.ExpirationPolicy
	}{
		{
			name:   "never",
			policy: ticket.NeverExpiresPolicy{},
		},
		{
			name:   "ttl_idle",
			policy: ticket.TimeToLiveAndIdlePolicy{TimeToLive: 8 * time.Hour, TimeToIdle: 2 * time.Hour},
		},
		{
			name:   "throttled_use",
			policy: ticket.ThrottledUsePolicy{MaxUses: 1, TimeToLive: 10 * time.Second, ReuseWindow: 2 * time.Second},
		},
		{
			name: "remember_me",
			policy: ticket.RememberMeDelegatingPolicy{
				RememberMe: true,
				Standard:   ticket.TimeToLiveAndIdlePolicy{TimeToLive: 8 * time.Hour, TimeToIdle: 2 * time.Hour},
				Extended:   ticket.TimeToLiveAndIdlePolicy{TimeToLive: 14 * 24 * time.Hour, TimeToIdle: 14 * 24 * time.Hour},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(ticket.NewPolicy(tt.policy))
			require.NoError(t, err)

			var decoded ticket.Policy
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.policy, decoded.ExpirationPolicy)
		})
	}
}

func TestPolicyUnmarshalUnknownName(t *testing.T) {
	var decoded ticket.Policy
	err := json.Unmarshal([]byte(`{"name":"bogus"}`), &decoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown expiration policy")
}
