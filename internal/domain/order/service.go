package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/saborly/saborly-backend/internal/domain/menu"
	"github.com/saborly/saborly-backend/internal/domain/offer"
)

// ErrEmptyItems is returned when an order carries no line items.
var ErrEmptyItems = errors.New("items required")

// ItemNotFoundError indicates a requested menu item does not exist.
type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("menu item %s not found", e.ItemID)
}

// ItemUnavailableError indicates a menu item is currently not orderable.
type ItemUnavailableError struct {
	ItemID string
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("menu item %s is unavailable", e.ItemID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ItemID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for item %s", e.ItemID)
}

// IneligibleOfferError reports why an explicitly requested offer cannot
// apply to this order.
type IneligibleOfferError struct {
	OfferID string
	Reason  offer.Reason
}

func (e *IneligibleOfferError) Error() string {
	return fmt.Sprintf("offer %s not eligible: %s", e.OfferID, e.Reason)
}

// OfferUnavailableError reports that an offer passed evaluation but was
// exhausted before this order could confirm it, typically by losing a
// claim or usage race. The order is not persisted.
type OfferUnavailableError struct {
	OfferID string
	Err     error
}

func (e *OfferUnavailableError) Error() string {
	return fmt.Sprintf("offer %s no longer available: %v", e.OfferID, e.Err)
}

func (e *OfferUnavailableError) Unwrap() error { return e.Err }

// PlaceOrderRequest holds the input for placing an order. OfferCode or
// OfferID explicitly request one offer (code wins when both are set);
// AutoApply instead asks the engine to pick the best eligible offer.
type PlaceOrderRequest struct {
	Items        []Item
	UserID       string
	DeviceID     string
	Platform     offer.Platform
	DeliveryType offer.DeliveryType
	OfferCode    string
	OfferID      string
	AutoApply    bool
}

// PlaceOrderResult holds the output of a successfully placed order.
// Offer is nil when no discount applied.
type PlaceOrderResult struct {
	Order *Order
	Offer *offer.Offer
	Items []menu.Item
}

// Quote is a priced preview of an order. Nothing is claimed, recorded, or
// persisted on the quote path: an offer that quotes a discount can still
// be lost to a race at placement time. Offer is nil when no discount
// would apply; Reason explains an explicitly requested offer that failed
// eligibility.
type Quote struct {
	Offer       *offer.Offer
	Reason      offer.Reason
	Items       []menu.Item
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// Service encapsulates order placement: menu lookups, offer resolution,
// ledger confirmation, and persistence.
type Service struct {
	menu        menu.Repository
	offers      *offer.Engine
	orders      Repository
	deliveryFee decimal.Decimal
	now         func() time.Time
}

// NewService creates an order Service. deliveryFee is the flat fee
// charged on delivery orders; free-delivery offers waive exactly this
// amount.
func NewService(
	menuRepo menu.Repository,
	offers *offer.Engine,
	orders Repository,
	deliveryFee decimal.Decimal,
) *Service {
	return &Service{
		menu:        menuRepo,
		offers:      offers,
		orders:      orders,
		deliveryFee: deliveryFee,
		now:         time.Now,
	}
}

// WithClock overrides the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// pricedLine is the menu-resolved order data shared by quoting and
// placement.
type pricedLine struct {
	menuItems   []menu.Item
	line        offer.Line
	subtotal    decimal.Decimal
	deliveryFee decimal.Decimal
}

// buildLine validates the requested items and resolves them against the
// menu in a single batch read.
func (s *Service) buildLine(ctx context.Context, req PlaceOrderRequest) (*pricedLine, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ItemID: item.ItemID}
		}
		ids[i] = item.ItemID
	}

	fetched, err := s.menu.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get menu items")
	}
	itemsByID := make(map[string]menu.Item, len(fetched))
	for _, m := range fetched {
		itemsByID[m.ID] = m
	}

	menuItems := make([]menu.Item, 0, len(req.Items))
	lineItems := make([]offer.LineItem, len(req.Items))
	subtotal := decimal.Zero
	for i, item := range req.Items {
		m, ok := itemsByID[item.ItemID]
		if !ok {
			return nil, &ItemNotFoundError{ItemID: item.ItemID}
		}
		if !m.Available {
			return nil, &ItemUnavailableError{ItemID: item.ItemID}
		}
		menuItems = append(menuItems, m)
		lineItems[i] = offer.LineItem{
			ItemID:    m.ID,
			Category:  m.Category,
			UnitPrice: m.Price,
			Quantity:  item.Quantity,
		}
		subtotal = subtotal.Add(m.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	deliveryFee := decimal.Zero
	if req.DeliveryType == offer.DeliveryTypeDelivery {
		deliveryFee = s.deliveryFee
	}

	return &pricedLine{
		menuItems:   menuItems,
		line:        offer.Line{Subtotal: subtotal, DeliveryFee: deliveryFee, Items: lineItems},
		subtotal:    subtotal,
		deliveryFee: deliveryFee,
	}, nil
}

func (s *Service) evalContext(req PlaceOrderRequest, now time.Time, subtotal decimal.Decimal) offer.Context {
	return offer.Context{
		Now:          now,
		UserID:       req.UserID,
		DeviceID:     req.DeviceID,
		Platform:     req.Platform,
		DeliveryType: req.DeliveryType,
		Subtotal:     subtotal,
	}
}

// PriceOrder prices the order without placing it. An explicitly requested
// offer that fails eligibility comes back as a full-price quote with the
// rejection reason, not an error; unknown codes and malformed input still
// error.
func (s *Service) PriceOrder(ctx context.Context, req PlaceOrderRequest) (*Quote, error) {
	pl, err := s.buildLine(ctx, req)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Items:       pl.menuItems,
		Subtotal:    pl.subtotal.Round(2),
		DeliveryFee: pl.deliveryFee.Round(2),
		Discount:    decimal.Zero,
	}

	applied, discount, err := s.resolveOffer(ctx, req, pl.line, s.evalContext(req, s.now(), pl.subtotal))
	var ineligible *IneligibleOfferError
	switch {
	case errors.As(err, &ineligible):
		q.Reason = ineligible.Reason
	case err != nil:
		return nil, err
	case applied != nil:
		q.Offer = applied
		q.Discount = discount.Round(2)
	}

	total := pl.subtotal.Add(pl.deliveryFee).Sub(q.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	q.Total = total.Round(2)
	return q, nil
}

// PlaceOrder validates items, fetches menu data in a single batch,
// resolves and confirms the offer, and persists the order. The ledger
// confirms before the order saves so a persisted order can never carry
// a discount the offer's caps no longer allow.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	pl, err := s.buildLine(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	applied, discount, err := s.resolveOffer(ctx, req, pl.line, s.evalContext(req, now, pl.subtotal))
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()

	if applied != nil {
		switch err := s.confirmOffer(ctx, req, applied, discount, orderID); {
		case err == nil:
		case isOfferRefusal(err):
			// Losing the claim or usage race is an expected outcome. An
			// explicitly requested offer surfaces it to the caller; an
			// auto-applied one is silently dropped and the order placed
			// at full price.
			if req.OfferCode != "" || req.OfferID != "" {
				return nil, &OfferUnavailableError{OfferID: applied.ID, Err: err}
			}
			applied, discount = nil, decimal.Zero
		default:
			return nil, errors.Wrap(err, "confirm offer")
		}
	}

	total := pl.subtotal.Add(pl.deliveryFee).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		ID:           orderID,
		UserID:       req.UserID,
		DeviceID:     req.DeviceID,
		Platform:     req.Platform,
		DeliveryType: req.DeliveryType,
		Items:        req.Items,
		Subtotal:     pl.subtotal.Round(2),
		DeliveryFee:  pl.deliveryFee.Round(2),
		Discount:     discount.Round(2),
		Total:        total.Round(2),
		CreatedAt:    now,
	}
	if applied != nil {
		o.OfferID = applied.ID
		o.OfferCode = applied.Code
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	return &PlaceOrderResult{Order: o, Offer: applied, Items: pl.menuItems}, nil
}

// resolveOffer picks the offer and discount for the order, or (nil, 0)
// when nothing applies. Only positive discounts are worth applying:
// anything else would burn claims and usage quota for no benefit.
func (s *Service) resolveOffer(
	ctx context.Context,
	req PlaceOrderRequest,
	line offer.Line,
	ectx offer.Context,
) (*offer.Offer, decimal.Decimal, error) {
	switch {
	case req.OfferCode != "":
		o, err := s.offers.GetByCode(ctx, req.OfferCode)
		if err != nil {
			return nil, decimal.Zero, err
		}
		return s.priceExplicit(o, line, ectx)

	case req.OfferID != "":
		o, err := s.offers.GetByID(ctx, req.OfferID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		return s.priceExplicit(o, line, ectx)

	case req.AutoApply:
		cands, err := s.offers.ListCandidateOffers(ctx, offer.CandidateQuery{
			Now:          ectx.Now,
			Platform:     req.Platform,
			DeliveryType: req.DeliveryType,
			UserID:       req.UserID,
			DeviceID:     req.DeviceID,
		})
		if err != nil {
			return nil, decimal.Zero, errors.Wrap(err, "list candidate offers")
		}

		eligible := make([]offer.Offer, 0, len(cands))
		for i := range cands {
			// One-time offers need a device identity to claim against.
			if cands[i].OneTimePerDevice && req.DeviceID == "" {
				continue
			}
			if res := s.offers.Evaluate(&cands[i], ectx); res.Eligible {
				eligible = append(eligible, cands[i])
			}
		}

		sel, ok := s.offers.SelectBest(eligible, line)
		if !ok || !sel.Discount.IsPositive() {
			return nil, decimal.Zero, nil
		}
		winner := sel.Offer
		return &winner, sel.Discount, nil
	}

	return nil, decimal.Zero, nil
}

func (s *Service) priceExplicit(o *offer.Offer, line offer.Line, ectx offer.Context) (*offer.Offer, decimal.Decimal, error) {
	if o.OneTimePerDevice && ectx.DeviceID == "" {
		return nil, decimal.Zero, &offer.ValidationError{Field: "deviceId", Reason: "required for one-time offers"}
	}
	if res := s.offers.Evaluate(o, ectx); !res.Eligible {
		return nil, decimal.Zero, &IneligibleOfferError{OfferID: o.ID, Reason: res.Reason}
	}
	amount, err := s.offers.Price(o, line)
	if err != nil {
		return nil, decimal.Zero, errors.Wrapf(err, "price offer %s", o.ID)
	}
	if !amount.IsPositive() {
		return nil, decimal.Zero, nil
	}
	return o, amount, nil
}

// confirmOffer durably claims the device slot (for one-time offers) and
// records the usage. Both writes are atomic in the store; a refusal from
// either leaves the ledger consistent.
func (s *Service) confirmOffer(
	ctx context.Context,
	req PlaceOrderRequest,
	o *offer.Offer,
	amount decimal.Decimal,
	orderID string,
) error {
	if o.OneTimePerDevice {
		if err := s.offers.Claim(ctx, o.ID, req.DeviceID, req.UserID); err != nil {
			return err
		}
	}
	return s.offers.RecordUsage(ctx, offer.Usage{
		OfferID:        o.ID,
		UserID:         req.UserID,
		OrderID:        orderID,
		DeviceID:       req.DeviceID,
		DiscountAmount: amount,
		Platform:       req.Platform,
	})
}

// isOfferRefusal separates expected ledger refusals from infrastructure
// failures.
func isOfferRefusal(err error) bool {
	return errors.Is(err, offer.ErrAlreadyClaimed) ||
		errors.Is(err, offer.ErrUsageLimitExceeded) ||
		errors.Is(err, offer.ErrNotFound)
}
