// Package offer implements the promotional offer and redemption engine:
// offer definitions, eligibility evaluation, discount pricing, best-offer
// selection, and the claim/usage ledger.
package offer

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported offer discount strategies.
type Type string

const (
	// TypePercentage discounts a percentage of the order subtotal,
	// optionally capped by MaxDiscount.
	TypePercentage Type = "percentage"
	// TypeFixedAmount discounts a flat amount, never exceeding the subtotal.
	TypeFixedAmount Type = "fixed_amount"
	// TypeBuyOneGetOne gives one free unit per two purchased units of the
	// items the offer applies to.
	TypeBuyOneGetOne Type = "buy_one_get_one"
	// TypeFreeDelivery waives the delivery fee.
	TypeFreeDelivery Type = "free_delivery"
	// TypeCombo sells a fixed bundle of items at a fixed price; the
	// discount is the savings versus itemized prices.
	TypeCombo Type = "combo"
)

// Platform identifies the client surface an order originates from.
type Platform string

const (
	PlatformMobile Platform = "mobile"
	PlatformWeb    Platform = "web"
	// PlatformAll in an offer's platform list means unrestricted.
	PlatformAll Platform = "all"
)

// DeliveryType distinguishes courier delivery from customer pickup.
type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
)

var (
	// ErrNotFound is returned when no offer matches the given id or code.
	ErrNotFound = errors.New("offer not found")
	// ErrAlreadyClaimed is returned when a device attempts to claim a
	// one-time offer it has already claimed. It is an expected outcome,
	// not a fault: retried claims observe the same result and leave the
	// ledger unchanged.
	ErrAlreadyClaimed = errors.New("offer already claimed by device")
	// ErrUsageLimitExceeded is returned when recording a usage would push
	// the offer's usage count past its global limit.
	ErrUsageLimitExceeded = errors.New("offer usage limit exceeded")
)

// ValidationError reports a malformed offer definition. Offers failing
// validation are rejected on the admin write path and never reach
// evaluation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid offer: %s: %s", e.Field, e.Reason)
}

// Claim marks a device (and optionally the user driving it) as having
// consumed a one-time offer.
type Claim struct {
	DeviceID  string
	UserID    string
	ClaimedAt time.Time
}

// Usage is one confirmed redemption of an offer against an order.
type Usage struct {
	OfferID        string
	UserID         string
	OrderID        string
	DeviceID       string
	DiscountAmount decimal.Decimal
	Platform       Platform
	UsedAt         time.Time
}

// Offer is a discount rule with a validity window, scope filters, and
// usage constraints.
type Offer struct {
	ID          string
	Title       string
	Description string
	// Code is the coupon code customers type at checkout. Offers without
	// a code are auto-apply only. Codes are matched case-insensitively.
	Code string

	Type  Type
	Value decimal.Decimal
	// MaxDiscount caps percentage discounts. Zero means uncapped.
	MaxDiscount decimal.Decimal
	// MinOrderAmount is the subtotal floor the order must meet.
	MinOrderAmount decimal.Decimal

	// UsageLimit caps total redemptions across all users. Zero means
	// unlimited.
	UsageLimit int
	// UsageCount is maintained by the store; it only moves through
	// RecordUsage and never exceeds UsageLimit when that is set.
	UsageCount int
	// UserUsageLimit caps redemptions per distinct user. At least 1.
	UserUsageLimit int
	// OneTimePerDevice restricts the offer to one claim per device id,
	// independent of user identity.
	OneTimePerDevice bool

	// Platforms the offer may be used from. Empty or containing
	// PlatformAll means unrestricted.
	Platforms []Platform
	// DeliveryTypes the offer may be used with. Empty means unrestricted.
	DeliveryTypes []DeliveryType

	AppliedItems      []string
	AppliedCategories []string
	ExcludedItems     []string

	// ComboItems and ComboPrice are set together for combo offers.
	ComboItems []string
	ComboPrice decimal.Decimal

	StartDate time.Time
	EndDate   time.Time

	// Priority breaks ties between offers yielding equal discounts.
	// Range 1..10, higher wins.
	Priority int
	Featured bool
	// Active is the admin kill-switch, independent of the date window.
	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time

	// ClaimedDevices and UsageHistory are ledger state hydrated from the
	// store. They are read-only in memory: mutations go through the
	// store's atomic Claim and RecordUsage operations.
	ClaimedDevices []Claim
	UsageHistory   []Usage
}

// InWindow reports whether now falls inside the offer's validity window.
// Both endpoints are inclusive.
func (o *Offer) InWindow(now time.Time) bool {
	return !now.Before(o.StartDate) && !now.After(o.EndDate)
}

// PlatformAllowed reports whether the offer may be used from the given
// platform.
func (o *Offer) PlatformAllowed(p Platform) bool {
	if len(o.Platforms) == 0 {
		return true
	}
	for _, allowed := range o.Platforms {
		if allowed == PlatformAll || allowed == p {
			return true
		}
	}
	return false
}

// DeliveryAllowed reports whether the offer may be used with the given
// delivery type.
func (o *Offer) DeliveryAllowed(dt DeliveryType) bool {
	if len(o.DeliveryTypes) == 0 {
		return true
	}
	for _, allowed := range o.DeliveryTypes {
		if allowed == dt {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the offer's item scope covers the given line
// item. Offers with no item or category scope apply to everything except
// explicit exclusions.
func (o *Offer) AppliesTo(itemID, category string) bool {
	for _, ex := range o.ExcludedItems {
		if ex == itemID {
			return false
		}
	}
	if len(o.AppliedItems) == 0 && len(o.AppliedCategories) == 0 {
		return true
	}
	for _, id := range o.AppliedItems {
		if id == itemID {
			return true
		}
	}
	for _, c := range o.AppliedCategories {
		if c == category {
			return true
		}
	}
	return false
}

// UserUsageCount counts confirmed redemptions by the given user.
func (o *Offer) UserUsageCount(userID string) int {
	n := 0
	for _, u := range o.UsageHistory {
		if u.UserID == userID {
			n++
		}
	}
	return n
}

// DeviceClaimed reports whether the device already claimed this offer.
func (o *Offer) DeviceClaimed(deviceID string) bool {
	for _, c := range o.ClaimedDevices {
		if c.DeviceID == deviceID {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of an offer definition.
func (o *Offer) Validate() error {
	if o.Title == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	switch o.Type {
	case TypePercentage:
		if o.Value.IsNegative() {
			return &ValidationError{Field: "value", Reason: "must not be negative"}
		}
	case TypeFixedAmount:
		if !o.Value.IsPositive() {
			return &ValidationError{Field: "value", Reason: "must be positive"}
		}
	case TypeBuyOneGetOne:
		if len(o.AppliedItems) == 0 {
			return &ValidationError{Field: "appliedItems", Reason: "required for buy-one-get-one offers"}
		}
	case TypeFreeDelivery:
	case TypeCombo:
		if len(o.ComboItems) == 0 {
			return &ValidationError{Field: "comboItems", Reason: "required for combo offers"}
		}
		if !o.ComboPrice.IsPositive() {
			return &ValidationError{Field: "comboPrice", Reason: "must be positive"}
		}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown offer type %q", o.Type)}
	}
	if o.MaxDiscount.IsNegative() {
		return &ValidationError{Field: "maxDiscountAmount", Reason: "must not be negative"}
	}
	if !o.MaxDiscount.IsZero() && o.Type != TypePercentage {
		return &ValidationError{Field: "maxDiscountAmount", Reason: "only applies to percentage offers"}
	}
	if o.MinOrderAmount.IsNegative() {
		return &ValidationError{Field: "minOrderAmount", Reason: "must not be negative"}
	}
	if o.UsageLimit < 0 {
		return &ValidationError{Field: "usageLimit", Reason: "must not be negative"}
	}
	if o.UserUsageLimit < 1 {
		return &ValidationError{Field: "userUsageLimit", Reason: "must be at least 1"}
	}
	if o.StartDate.IsZero() || o.EndDate.IsZero() {
		return &ValidationError{Field: "startDate", Reason: "validity window required"}
	}
	if !o.EndDate.After(o.StartDate) {
		return &ValidationError{Field: "endDate", Reason: "must be after startDate"}
	}
	if o.Priority < 1 || o.Priority > 10 {
		return &ValidationError{Field: "priority", Reason: "must be between 1 and 10"}
	}
	for _, p := range o.Platforms {
		switch p {
		case PlatformMobile, PlatformWeb, PlatformAll:
		default:
			return &ValidationError{Field: "platforms", Reason: fmt.Sprintf("unknown platform %q", p)}
		}
	}
	for _, dt := range o.DeliveryTypes {
		switch dt {
		case DeliveryTypeDelivery, DeliveryTypePickup:
		default:
			return &ValidationError{Field: "deliveryTypes", Reason: fmt.Sprintf("unknown delivery type %q", dt)}
		}
	}
	return nil
}

// Patch is the set of offer fields an administrator may change. Ledger
// state (usage count, claimed devices, usage history) is deliberately
// absent: it moves only through Claim and RecordUsage.
type Patch struct {
	Title             *string
	Description       *string
	Code              *string
	Type              *Type
	Value             *decimal.Decimal
	MaxDiscount       *decimal.Decimal
	MinOrderAmount    *decimal.Decimal
	UsageLimit        *int
	UserUsageLimit    *int
	OneTimePerDevice  *bool
	Platforms         *[]Platform
	DeliveryTypes     *[]DeliveryType
	AppliedItems      *[]string
	AppliedCategories *[]string
	ExcludedItems     *[]string
	ComboItems        *[]string
	ComboPrice        *decimal.Decimal
	StartDate         *time.Time
	EndDate           *time.Time
	Priority          *int
	Featured          *bool
	Active            *bool
}

// Apply copies every set field of the patch onto the offer.
func (p Patch) Apply(o *Offer) {
	if p.Title != nil {
		o.Title = *p.Title
	}
	if p.Description != nil {
		o.Description = *p.Description
	}
	if p.Code != nil {
		o.Code = *p.Code
	}
	if p.Type != nil {
		o.Type = *p.Type
	}
	if p.Value != nil {
		o.Value = *p.Value
	}
	if p.MaxDiscount != nil {
		o.MaxDiscount = *p.MaxDiscount
	}
	if p.MinOrderAmount != nil {
		o.MinOrderAmount = *p.MinOrderAmount
	}
	if p.UsageLimit != nil {
		o.UsageLimit = *p.UsageLimit
	}
	if p.UserUsageLimit != nil {
		o.UserUsageLimit = *p.UserUsageLimit
	}
	if p.OneTimePerDevice != nil {
		o.OneTimePerDevice = *p.OneTimePerDevice
	}
	if p.Platforms != nil {
		o.Platforms = *p.Platforms
	}
	if p.DeliveryTypes != nil {
		o.DeliveryTypes = *p.DeliveryTypes
	}
	if p.AppliedItems != nil {
		o.AppliedItems = *p.AppliedItems
	}
	if p.AppliedCategories != nil {
		o.AppliedCategories = *p.AppliedCategories
	}
	if p.ExcludedItems != nil {
		o.ExcludedItems = *p.ExcludedItems
	}
	if p.ComboItems != nil {
		o.ComboItems = *p.ComboItems
	}
	if p.ComboPrice != nil {
		o.ComboPrice = *p.ComboPrice
	}
	if p.StartDate != nil {
		o.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		o.EndDate = *p.EndDate
	}
	if p.Priority != nil {
		o.Priority = *p.Priority
	}
	if p.Featured != nil {
		o.Featured = *p.Featured
	}
	if p.Active != nil {
		o.Active = *p.Active
	}
}
