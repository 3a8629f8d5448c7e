package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/saborly/saborly-backend/internal/domain/offer"
)

// ErrNotFound is returned when no order exists for the requested ID.
var ErrNotFound = errors.New("order not found")

// Order represents a placed customer order with its pricing breakdown.
// Discount keeps the applied amount even if the offer is later edited or
// deleted, so order history never depends on live offer records.
type Order struct {
	ID           string
	UserID       string
	DeviceID     string
	Platform     offer.Platform
	DeliveryType offer.DeliveryType
	Items        []Item
	Subtotal     decimal.Decimal
	DeliveryFee  decimal.Decimal
	Discount     decimal.Decimal
	Total        decimal.Decimal
	OfferID      string
	OfferCode    string
	CreatedAt    time.Time
}

// Item is a single order line.
type Item struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
}
