package offer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// baseOffer returns an offer that passes every eligibility check for
// baseCtx. Tests break exactly one thing at a time.
func baseOffer(now time.Time) *Offer {
	return &Offer{
		ID:             "off-1",
		Title:          "Ten percent off",
		Type:           TypePercentage,
		Value:          d("10"),
		MinOrderAmount: d("10"),
		UserUsageLimit: 1,
		StartDate:      now.Add(-time.Hour),
		EndDate:        now.Add(time.Hour),
		Priority:       5,
		Active:         true,
	}
}

func baseCtx(now time.Time) Context {
	return Context{
		Now:          now,
		UserID:       "user-1",
		DeviceID:     "device-1",
		Platform:     PlatformMobile,
		DeliveryType: DeliveryTypeDelivery,
		Subtotal:     d("30"),
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		mutate     func(o *Offer)
		ctx        func(c Context) Context
		wantReason Reason
	}{
		{
			name:   "all checks pass",
			mutate: func(_ *Offer) {},
			ctx:    func(c Context) Context { return c },
		},
		{
			name:       "inactive offer",
			mutate:     func(o *Offer) { o.Active = false },
			ctx:        func(c Context) Context { return c },
			wantReason: ReasonExpiredOrInactive,
		},
		{
			name:       "not yet started",
			mutate:     func(o *Offer) { o.StartDate = now.Add(time.Minute) },
			ctx:        func(c Context) Context { return c },
			wantReason: ReasonExpiredOrInactive,
		},
		{
			name:       "already ended",
			mutate:     func(o *Offer) { o.EndDate = now.Add(-time.Minute) },
			ctx:        func(c Context) Context { return c },
			wantReason: ReasonExpiredOrInactive,
		},
		{
			name: "global usage limit reached",
			mutate: func(o *Offer) {
				o.UsageLimit = 100
				o.UsageCount = 100
			},
			ctx:        func(c Context) Context { return c },
			wantReason: ReasonUsageLimitExceeded,
		},
		{
			name: "usage under limit passes",
			mutate: func(o *Offer) {
				o.UsageLimit = 100
				o.UsageCount = 99
			},
			ctx: func(c Context) Context { return c },
		},
		{
			name: "zero usage limit means unlimited",
			mutate: func(o *Offer) {
				o.UsageLimit = 0
				o.UsageCount = 9999
			},
			ctx: func(c Context) Context { return c },
		},
		{
			name: "user exhausted per-user limit",
			mutate: func(o *Offer) {
				o.UsageHistory = []Usage{{UserID: "user-1", OrderID: "ord-1"}}
			},
			ctx:        func(c Context) Context { return c },
			wantReason: ReasonUserLimitExceeded,
		},
		{
			name: "other users' history does not count",
			mutate: func(o *Offer) {
				o.UsageHistory = []Usage{
					{UserID: "user-2", OrderID: "ord-1"},
					{UserID: "user-3", OrderID: "ord-2"},
				}
			},
			ctx: func(c Context) Context { return c },
		},
		{
			name: "anonymous context skips per-user check",
			mutate: func(o *Offer) {
				o.UsageHistory = []Usage{{UserID: "user-1", OrderID: "ord-1"}}
			},
			ctx: func(c Context) Context {
				c.UserID = ""
				return c
			},
		},
		{
			name: "device already claimed one-time offer",
			mutate: func(o *Offer) {
				o.OneTimePerDevice = true
				o.ClaimedDevices = []Claim{{DeviceID: "device-1"}}
			},
			ctx:        func(c Context) Context { return c },
			wantReason: ReasonAlreadyClaimed,
		},
		{
			name: "claims ignored when offer is not one-time",
			mutate: func(o *Offer) {
				o.ClaimedDevices = []Claim{{DeviceID: "device-1"}}
			},
			ctx: func(c Context) Context { return c },
		},
		{
			name: "unknown device passes the claim check",
			mutate: func(o *Offer) {
				o.OneTimePerDevice = true
				o.ClaimedDevices = []Claim{{DeviceID: "device-9"}}
			},
			ctx: func(c Context) Context { return c },
		},
		{
			name:       "platform not allowed",
			mutate:     func(o *Offer) { o.Platforms = []Platform{PlatformWeb} },
			ctx:        func(c Context) Context { return c },
			wantReason: ReasonPlatformMismatch,
		},
		{
			name:   "platform list containing all is unrestricted",
			mutate: func(o *Offer) { o.Platforms = []Platform{PlatformAll} },
			ctx:    func(c Context) Context { return c },
		},
		{
			name:   "empty platform list is unrestricted",
			mutate: func(o *Offer) { o.Platforms = nil },
			ctx:    func(c Context) Context { return c },
		},
		{
			name:       "delivery type not allowed",
			mutate:     func(o *Offer) { o.DeliveryTypes = []DeliveryType{DeliveryTypePickup} },
			ctx:        func(c Context) Context { return c },
			wantReason: ReasonDeliveryTypeMismatch,
		},
		{
			name:   "empty delivery list is unrestricted",
			mutate: func(o *Offer) { o.DeliveryTypes = nil },
			ctx:    func(c Context) Context { return c },
		},
		{
			name:   "subtotal below minimum",
			mutate: func(_ *Offer) {},
			ctx: func(c Context) Context {
				c.Subtotal = d("9.99")
				return c
			},
			wantReason: ReasonMinOrderNotMet,
		},
		{
			name:   "subtotal exactly at minimum passes",
			mutate: func(_ *Offer) {},
			ctx: func(c Context) Context {
				c.Subtotal = d("10")
				return c
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := baseOffer(now)
			tt.mutate(o)

			got := Evaluate(o, tt.ctx(baseCtx(now)))

			if tt.wantReason != "" {
				require.False(t, got.Eligible)
				assert.Equal(t, tt.wantReason, got.Reason)
				return
			}
			require.True(t, got.Eligible, "rejected with reason %q", got.Reason)
			assert.Empty(t, got.Reason)
		})
	}
}

// The reported reason must reflect the first failing check, not an
// arbitrary one, so callers can explain rejections consistently.
func TestEvaluate_FirstFailureWins(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	o := baseOffer(now)
	o.Active = false
	o.UsageLimit = 1
	o.UsageCount = 1
	o.Platforms = []Platform{PlatformWeb}

	got := Evaluate(o, baseCtx(now))

	require.False(t, got.Eligible)
	assert.Equal(t, ReasonExpiredOrInactive, got.Reason)
}

func TestEvaluate_WindowBoundaries(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)

	o := baseOffer(start)
	o.StartDate = start
	o.EndDate = end

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "exactly at start", now: start, want: true},
		{name: "exactly at end", now: end, want: true},
		{name: "one nanosecond before start", now: start.Add(-time.Nanosecond), want: false},
		{name: "one nanosecond after end", now: end.Add(time.Nanosecond), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := baseCtx(tt.now)
			got := Evaluate(o, ctx)

			assert.Equal(t, tt.want, got.Eligible)
			if !tt.want {
				assert.Equal(t, ReasonExpiredOrInactive, got.Reason)
			}
		})
	}
}

func TestEvaluate_NeverMutates(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	o := baseOffer(now)
	o.UsageLimit = 5
	o.UsageCount = 2
	o.ClaimedDevices = []Claim{{DeviceID: "device-9"}}
	o.UsageHistory = []Usage{{UserID: "user-2", OrderID: "ord-1"}}

	before := *o
	for range 10 {
		Evaluate(o, baseCtx(now))
	}

	assert.Equal(t, before.UsageCount, o.UsageCount)
	assert.Len(t, o.ClaimedDevices, 1)
	assert.Len(t, o.UsageHistory, 1)
}
