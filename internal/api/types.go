package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/saborly/saborly-backend/internal/domain/menu"
	"github.com/saborly/saborly-backend/internal/domain/offer"
	"github.com/saborly/saborly-backend/internal/domain/order"
)

type menuItemJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Available   bool            `json:"available"`
}

func toMenuItemJSON(m menu.Item) menuItemJSON {
	return menuItemJSON{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		Category:    m.Category,
		ImageURL:    m.ImageURL,
		Available:   m.Available,
	}
}

func toMenuItemsJSON(items []menu.Item) []menuItemJSON {
	out := make([]menuItemJSON, len(items))
	for i, m := range items {
		out[i] = toMenuItemJSON(m)
	}
	return out
}

type offerJSON struct {
	ID                string               `json:"id"`
	Title             string               `json:"title"`
	Description       string               `json:"description,omitempty"`
	Code              string               `json:"code,omitempty"`
	Type              offer.Type           `json:"type"`
	Value             decimal.Decimal      `json:"value"`
	MaxDiscount       decimal.Decimal      `json:"maxDiscountAmount"`
	MinOrderAmount    decimal.Decimal      `json:"minOrderAmount"`
	UsageLimit        int                  `json:"usageLimit"`
	UsageCount        int                  `json:"usageCount"`
	UserUsageLimit    int                  `json:"userUsageLimit"`
	OneTimePerDevice  bool                 `json:"oneTimePerDevice"`
	Platforms         []offer.Platform     `json:"platforms,omitempty"`
	DeliveryTypes     []offer.DeliveryType `json:"deliveryTypes,omitempty"`
	AppliedItems      []string             `json:"appliedItems,omitempty"`
	AppliedCategories []string             `json:"appliedCategories,omitempty"`
	ExcludedItems     []string             `json:"excludedItems,omitempty"`
	ComboItems        []string             `json:"comboItems,omitempty"`
	ComboPrice        decimal.Decimal      `json:"comboPrice"`
	StartDate         time.Time            `json:"startDate"`
	EndDate           time.Time            `json:"endDate"`
	Priority          int                  `json:"priority"`
	Featured          bool                 `json:"featured"`
	Active            bool                 `json:"active"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}

func toOfferJSON(o *offer.Offer) offerJSON {
	return offerJSON{
		ID:                o.ID,
		Title:             o.Title,
		Description:       o.Description,
		Code:              o.Code,
		Type:              o.Type,
		Value:             o.Value,
		MaxDiscount:       o.MaxDiscount,
		MinOrderAmount:    o.MinOrderAmount,
		UsageLimit:        o.UsageLimit,
		UsageCount:        o.UsageCount,
		UserUsageLimit:    o.UserUsageLimit,
		OneTimePerDevice:  o.OneTimePerDevice,
		Platforms:         o.Platforms,
		DeliveryTypes:     o.DeliveryTypes,
		AppliedItems:      o.AppliedItems,
		AppliedCategories: o.AppliedCategories,
		ExcludedItems:     o.ExcludedItems,
		ComboItems:        o.ComboItems,
		ComboPrice:        o.ComboPrice,
		StartDate:         o.StartDate,
		EndDate:           o.EndDate,
		Priority:          o.Priority,
		Featured:          o.Featured,
		Active:            o.Active,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

type claimJSON struct {
	DeviceID  string    `json:"deviceId"`
	UserID    string    `json:"userId,omitempty"`
	ClaimedAt time.Time `json:"claimedAt"`
}

type usageJSON struct {
	OfferID        string          `json:"offerId"`
	UserID         string          `json:"userId,omitempty"`
	OrderID        string          `json:"orderId"`
	DeviceID       string          `json:"deviceId,omitempty"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	Platform       offer.Platform  `json:"platform,omitempty"`
	UsedAt         time.Time       `json:"usedAt"`
}

func toUsageJSON(u offer.Usage) usageJSON {
	return usageJSON{
		OfferID:        u.OfferID,
		UserID:         u.UserID,
		OrderID:        u.OrderID,
		DeviceID:       u.DeviceID,
		DiscountAmount: u.DiscountAmount,
		Platform:       u.Platform,
		UsedAt:         u.UsedAt,
	}
}

// adminOfferJSON is the admin read shape: the offer definition plus its
// hydrated ledger state.
type adminOfferJSON struct {
	offerJSON
	ClaimedDevices []claimJSON `json:"claimedDevices,omitempty"`
	UsageHistory   []usageJSON `json:"usageHistory,omitempty"`
}

func toAdminOfferJSON(o *offer.Offer) adminOfferJSON {
	out := adminOfferJSON{offerJSON: toOfferJSON(o)}
	for _, c := range o.ClaimedDevices {
		out.ClaimedDevices = append(out.ClaimedDevices, claimJSON{
			DeviceID:  c.DeviceID,
			UserID:    c.UserID,
			ClaimedAt: c.ClaimedAt,
		})
	}
	for _, u := range o.UsageHistory {
		out.UsageHistory = append(out.UsageHistory, toUsageJSON(u))
	}
	return out
}

type orderItemJSON struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type orderJSON struct {
	ID           string             `json:"id"`
	UserID       string             `json:"userId,omitempty"`
	DeviceID     string             `json:"deviceId,omitempty"`
	Platform     offer.Platform     `json:"platform,omitempty"`
	DeliveryType offer.DeliveryType `json:"deliveryType,omitempty"`
	Items        []orderItemJSON    `json:"items"`
	Subtotal     decimal.Decimal    `json:"subtotal"`
	DeliveryFee  decimal.Decimal    `json:"deliveryFee"`
	Discount     decimal.Decimal    `json:"discount"`
	Total        decimal.Decimal    `json:"total"`
	OfferID      string             `json:"offerId,omitempty"`
	OfferCode    string             `json:"offerCode,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

func toOrderJSON(o *order.Order) orderJSON {
	items := make([]orderItemJSON, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemJSON{ItemID: it.ItemID, Quantity: it.Quantity}
	}
	return orderJSON{
		ID:           o.ID,
		UserID:       o.UserID,
		DeviceID:     o.DeviceID,
		Platform:     o.Platform,
		DeliveryType: o.DeliveryType,
		Items:        items,
		Subtotal:     o.Subtotal,
		DeliveryFee:  o.DeliveryFee,
		Discount:     o.Discount,
		Total:        o.Total,
		OfferID:      o.OfferID,
		OfferCode:    o.OfferCode,
		CreatedAt:    o.CreatedAt,
	}
}

// placeOrderRequest doubles as the order placement and the quote preview
// body. couponCode or offerId request a specific offer; autoApply lets the
// engine pick.
type placeOrderRequest struct {
	Items        []orderItemJSON `json:"items"`
	UserID       string          `json:"userId"`
	DeviceID     string          `json:"deviceId"`
	Platform     string          `json:"platform"`
	DeliveryType string          `json:"deliveryType"`
	CouponCode   string          `json:"couponCode"`
	OfferID      string          `json:"offerId"`
	AutoApply    bool            `json:"autoApply"`
}

func (r placeOrderRequest) toDomain() order.PlaceOrderRequest {
	items := make([]order.Item, len(r.Items))
	for i, it := range r.Items {
		items[i] = order.Item{ItemID: it.ItemID, Quantity: it.Quantity}
	}
	return order.PlaceOrderRequest{
		Items:        items,
		UserID:       r.UserID,
		DeviceID:     r.DeviceID,
		Platform:     offer.Platform(r.Platform),
		DeliveryType: offer.DeliveryType(r.DeliveryType),
		OfferCode:    r.CouponCode,
		OfferID:      r.OfferID,
		AutoApply:    r.AutoApply,
	}
}

type placeOrderResponse struct {
	Order        orderJSON      `json:"order"`
	AppliedOffer *offerJSON     `json:"appliedOffer,omitempty"`
	Items        []menuItemJSON `json:"items"`
}

type quoteJSON struct {
	Applied     bool            `json:"applied"`
	Reason      offer.Reason    `json:"reason,omitempty"`
	Offer       *offerJSON      `json:"offer,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	Items       []menuItemJSON  `json:"items"`
}

type claimRequest struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId"`
}

type createOfferRequest struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Code              string          `json:"code"`
	Type              string          `json:"type"`
	Value             decimal.Decimal `json:"value"`
	MaxDiscount       decimal.Decimal `json:"maxDiscountAmount"`
	MinOrderAmount    decimal.Decimal `json:"minOrderAmount"`
	UsageLimit        int             `json:"usageLimit"`
	UserUsageLimit    int             `json:"userUsageLimit"`
	OneTimePerDevice  bool            `json:"oneTimePerDevice"`
	Platforms         []string        `json:"platforms"`
	DeliveryTypes     []string        `json:"deliveryTypes"`
	AppliedItems      []string        `json:"appliedItems"`
	AppliedCategories []string        `json:"appliedCategories"`
	ExcludedItems     []string        `json:"excludedItems"`
	ComboItems        []string        `json:"comboItems"`
	ComboPrice        decimal.Decimal `json:"comboPrice"`
	StartDate         time.Time       `json:"startDate"`
	EndDate           time.Time       `json:"endDate"`
	Priority          int             `json:"priority"`
	Featured          bool            `json:"featured"`
	Active            bool            `json:"active"`
}

func (r createOfferRequest) toOffer() *offer.Offer {
	return &offer.Offer{
		ID:                r.ID,
		Title:             r.Title,
		Description:       r.Description,
		Code:              r.Code,
		Type:              offer.Type(r.Type),
		Value:             r.Value,
		MaxDiscount:       r.MaxDiscount,
		MinOrderAmount:    r.MinOrderAmount,
		UsageLimit:        r.UsageLimit,
		UserUsageLimit:    r.UserUsageLimit,
		OneTimePerDevice:  r.OneTimePerDevice,
		Platforms:         toPlatforms(r.Platforms),
		DeliveryTypes:     toDeliveryTypes(r.DeliveryTypes),
		AppliedItems:      r.AppliedItems,
		AppliedCategories: r.AppliedCategories,
		ExcludedItems:     r.ExcludedItems,
		ComboItems:        r.ComboItems,
		ComboPrice:        r.ComboPrice,
		StartDate:         r.StartDate,
		EndDate:           r.EndDate,
		Priority:          r.Priority,
		Featured:          r.Featured,
		Active:            r.Active,
	}
}

// updateOfferRequest mirrors offer.Patch: absent fields stay nil and leave
// the stored value untouched.
type updateOfferRequest struct {
	Title             *string          `json:"title"`
	Description       *string          `json:"description"`
	Code              *string          `json:"code"`
	Type              *string          `json:"type"`
	Value             *decimal.Decimal `json:"value"`
	MaxDiscount       *decimal.Decimal `json:"maxDiscountAmount"`
	MinOrderAmount    *decimal.Decimal `json:"minOrderAmount"`
	UsageLimit        *int             `json:"usageLimit"`
	UserUsageLimit    *int             `json:"userUsageLimit"`
	OneTimePerDevice  *bool            `json:"oneTimePerDevice"`
	Platforms         *[]string        `json:"platforms"`
	DeliveryTypes     *[]string        `json:"deliveryTypes"`
	AppliedItems      *[]string        `json:"appliedItems"`
	AppliedCategories *[]string        `json:"appliedCategories"`
	ExcludedItems     *[]string        `json:"excludedItems"`
	ComboItems        *[]string        `json:"comboItems"`
	ComboPrice        *decimal.Decimal `json:"comboPrice"`
	StartDate         *time.Time       `json:"startDate"`
	EndDate           *time.Time       `json:"endDate"`
	Priority          *int             `json:"priority"`
	Featured          *bool            `json:"featured"`
	Active            *bool            `json:"active"`
}

func (r updateOfferRequest) toPatch() offer.Patch {
	p := offer.Patch{
		Title:             r.Title,
		Description:       r.Description,
		Code:              r.Code,
		Value:             r.Value,
		MaxDiscount:       r.MaxDiscount,
		MinOrderAmount:    r.MinOrderAmount,
		UsageLimit:        r.UsageLimit,
		UserUsageLimit:    r.UserUsageLimit,
		OneTimePerDevice:  r.OneTimePerDevice,
		AppliedItems:      r.AppliedItems,
		AppliedCategories: r.AppliedCategories,
		ExcludedItems:     r.ExcludedItems,
		ComboItems:        r.ComboItems,
		ComboPrice:        r.ComboPrice,
		StartDate:         r.StartDate,
		EndDate:           r.EndDate,
		Priority:          r.Priority,
		Featured:          r.Featured,
		Active:            r.Active,
	}
	if r.Type != nil {
		t := offer.Type(*r.Type)
		p.Type = &t
	}
	if r.Platforms != nil {
		ps := toPlatforms(*r.Platforms)
		p.Platforms = &ps
	}
	if r.DeliveryTypes != nil {
		dts := toDeliveryTypes(*r.DeliveryTypes)
		p.DeliveryTypes = &dts
	}
	return p
}

func toPlatforms(vals []string) []offer.Platform {
	if vals == nil {
		return nil
	}
	out := make([]offer.Platform, len(vals))
	for i, v := range vals {
		out[i] = offer.Platform(v)
	}
	return out
}

func toDeliveryTypes(vals []string) []offer.DeliveryType {
	if vals == nil {
		return nil
	}
	out := make([]offer.DeliveryType, len(vals))
	for i, v := range vals {
		out[i] = offer.DeliveryType(v)
	}
	return out
}
