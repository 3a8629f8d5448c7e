package offer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CandidateQuery filters the catalog scan for offers worth evaluating.
// UserID and DeviceID, when set, tell the store which identity's ledger
// state to hydrate onto the returned offers.
type CandidateQuery struct {
	Now          time.Time
	Platform     Platform
	DeliveryType DeliveryType
	UserID       string
	DeviceID     string
}

// Catalog is the read surface over stored offers. Implementations return
// offers with current usage counts and with ledger state hydrated, so a
// pure Evaluate call over the result sees the store's truth as of the
// read.
type Catalog interface {
	// GetByID returns the offer or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Offer, error)
	// GetByCode matches the coupon code case-insensitively and returns
	// the offer or ErrNotFound.
	GetByCode(ctx context.Context, code string) (*Offer, error)
	// ListCandidates returns active offers whose window contains q.Now
	// and whose platform and delivery filters admit the query, excluding
	// one-time offers the query's device already claimed. Sorted by
	// priority, featured flag, then creation time, all descending.
	ListCandidates(ctx context.Context, q CandidateQuery) ([]Offer, error)
}

// Ledger records claims and confirmed redemptions. Both operations must
// be atomic conditional writes against the backing store: at most one
// claim per (offer, device) ever succeeds, and the usage count never
// passes the offer's limit, no matter how many callers race.
type Ledger interface {
	// Claim marks the device as having consumed the offer. Returns
	// ErrAlreadyClaimed when the device holds a prior claim and
	// ErrNotFound when the offer does not exist.
	Claim(ctx context.Context, offerID, deviceID, userID string) error
	// RecordUsage appends one redemption and increments the offer's
	// usage count. Returns ErrUsageLimitExceeded when the increment
	// would pass the limit and ErrNotFound when the offer does not
	// exist.
	RecordUsage(ctx context.Context, u Usage) error
}

// Store is the full persistence surface for offers: catalog reads,
// ledger writes, and the admin lifecycle.
type Store interface {
	Catalog
	Ledger
	Create(ctx context.Context, o *Offer) error
	Update(ctx context.Context, id string, p Patch) (*Offer, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Offer, error)
	ListUsages(ctx context.Context, offerID string) ([]Usage, error)
}

// Engine bundles the catalog and ledger behind the operations the order
// pipeline and storefront consume. The pure steps (Evaluate, Price,
// SelectBest) stay side-effect free; only Claim and RecordUsage touch
// the store's write path.
type Engine struct {
	catalog Catalog
	ledger  Ledger
	now     func() time.Time
}

// NewEngine builds an Engine on the given catalog and ledger.
func NewEngine(catalog Catalog, ledger Ledger) *Engine {
	return &Engine{
		catalog: catalog,
		ledger:  ledger,
		now:     time.Now,
	}
}

// WithClock overrides the engine's time source. Tests use it to pin
// evaluation time.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ListCandidateOffers returns the offers worth showing or evaluating for
// the given context, ordered by priority.
func (e *Engine) ListCandidateOffers(ctx context.Context, q CandidateQuery) ([]Offer, error) {
	if q.Now.IsZero() {
		q.Now = e.now()
	}
	return e.catalog.ListCandidates(ctx, q)
}

// GetByID returns a single offer with ledger state hydrated.
func (e *Engine) GetByID(ctx context.Context, id string) (*Offer, error) {
	return e.catalog.GetByID(ctx, id)
}

// GetByCode resolves a coupon code to its offer.
func (e *Engine) GetByCode(ctx context.Context, code string) (*Offer, error) {
	return e.catalog.GetByCode(ctx, code)
}

// Evaluate checks one offer against the context, defaulting the
// evaluation time to the engine clock.
func (e *Engine) Evaluate(o *Offer, ectx Context) Result {
	if ectx.Now.IsZero() {
		ectx.Now = e.now()
	}
	return Evaluate(o, ectx)
}

// Price computes the discount the offer yields for the line.
func (e *Engine) Price(o *Offer, line Line) (decimal.Decimal, error) {
	return Price(o, line)
}

// SelectBest picks the one offer to apply out of independently eligible
// candidates.
func (e *Engine) SelectBest(offers []Offer, line Line) (Selection, bool) {
	return SelectBest(offers, line)
}

// Claim durably marks the device as having consumed a one-time offer.
// Exactly one call per (offer, device) ever succeeds.
func (e *Engine) Claim(ctx context.Context, offerID, deviceID, userID string) error {
	if deviceID == "" {
		return &ValidationError{Field: "deviceId", Reason: "required"}
	}
	return e.ledger.Claim(ctx, offerID, deviceID, userID)
}

// RecordUsage appends a confirmed redemption, bumping the offer's usage
// count without ever passing its limit.
func (e *Engine) RecordUsage(ctx context.Context, u Usage) error {
	if u.OfferID == "" {
		return &ValidationError{Field: "offerId", Reason: "required"}
	}
	if u.OrderID == "" {
		return &ValidationError{Field: "orderId", Reason: "required"}
	}
	if u.UsedAt.IsZero() {
		u.UsedAt = e.now()
	}
	return e.ledger.RecordUsage(ctx, u)
}
