package offer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reason classifies why an offer was rejected during evaluation.
type Reason string

const (
	ReasonExpiredOrInactive    Reason = "expired_or_inactive"
	ReasonUsageLimitExceeded   Reason = "usage_limit_exceeded"
	ReasonUserLimitExceeded    Reason = "user_limit_exceeded"
	ReasonAlreadyClaimed       Reason = "already_claimed"
	ReasonPlatformMismatch     Reason = "platform_mismatch"
	ReasonDeliveryTypeMismatch Reason = "delivery_type_mismatch"
	ReasonMinOrderNotMet       Reason = "min_order_not_met"
)

// Context is the request-side data an offer is evaluated against.
// UserID and DeviceID may be empty for anonymous traffic; the checks
// that depend on them are skipped.
type Context struct {
	Now          time.Time
	UserID       string
	DeviceID     string
	Platform     Platform
	DeliveryType DeliveryType
	Subtotal     decimal.Decimal
}

// Result reports the outcome of evaluating one offer. Reason is set
// only when Eligible is false.
type Result struct {
	Eligible bool
	Reason   Reason
}

// Evaluate checks an offer against the request context. Checks run in a
// fixed order and stop at the first failure, so Reason always reflects
// the first check that failed. Evaluate never mutates the offer.
func Evaluate(o *Offer, ctx Context) Result {
	if !o.Active || !o.InWindow(ctx.Now) {
		return rejected(ReasonExpiredOrInactive)
	}
	if o.UsageLimit > 0 && o.UsageCount >= o.UsageLimit {
		return rejected(ReasonUsageLimitExceeded)
	}
	if ctx.UserID != "" && o.UserUsageCount(ctx.UserID) >= o.UserUsageLimit {
		return rejected(ReasonUserLimitExceeded)
	}
	if o.OneTimePerDevice && ctx.DeviceID != "" && o.DeviceClaimed(ctx.DeviceID) {
		return rejected(ReasonAlreadyClaimed)
	}
	if !o.PlatformAllowed(ctx.Platform) {
		return rejected(ReasonPlatformMismatch)
	}
	if !o.DeliveryAllowed(ctx.DeliveryType) {
		return rejected(ReasonDeliveryTypeMismatch)
	}
	if ctx.Subtotal.LessThan(o.MinOrderAmount) {
		return rejected(ReasonMinOrderNotMet)
	}
	return Result{Eligible: true}
}

func rejected(r Reason) Result {
	return Result{Reason: r}
}
