package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saborly/saborly-backend/internal/domain/offer"
)

const offerColumns = `id, title, description, code, offer_type, value, max_discount,
	min_order_amount, usage_limit, usage_count, user_usage_limit, one_time_per_device,
	platforms, delivery_types, applied_items, applied_categories, excluded_items,
	combo_items, combo_price, start_date, end_date, priority, featured, active,
	created_at, updated_at`

const (
	getOfferByIDSQL = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	getOfferByCodeSQL = `SELECT ` + offerColumns + ` FROM offers
		WHERE code <> '' AND UPPER(code) = UPPER($1)`

	lockOfferSQL = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1 FOR UPDATE`

	listOffersSQL = `SELECT ` + offerColumns + ` FROM offers ORDER BY created_at DESC, id`

	listCandidateOffersSQL = `SELECT ` + offerColumns + ` FROM offers
		WHERE active = TRUE
		  AND start_date <= $1 AND end_date >= $1
		  AND (cardinality(platforms) = 0 OR 'all' = ANY(platforms) OR ($2 <> '' AND $2 = ANY(platforms)))
		  AND (cardinality(delivery_types) = 0 OR ($3 <> '' AND $3 = ANY(delivery_types)))
		  AND NOT (one_time_per_device AND $4 <> '' AND EXISTS (
			SELECT 1 FROM offer_claims c WHERE c.offer_id = offers.id AND c.device_id = $4))
		ORDER BY priority DESC, featured DESC, created_at DESC`

	insertOfferSQL = `INSERT INTO offers (` + offerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26)`

	upsertOfferSQL = insertOfferSQL + `
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description, code = EXCLUDED.code,
			offer_type = EXCLUDED.offer_type, value = EXCLUDED.value,
			max_discount = EXCLUDED.max_discount, min_order_amount = EXCLUDED.min_order_amount,
			usage_limit = EXCLUDED.usage_limit, user_usage_limit = EXCLUDED.user_usage_limit,
			one_time_per_device = EXCLUDED.one_time_per_device, platforms = EXCLUDED.platforms,
			delivery_types = EXCLUDED.delivery_types, applied_items = EXCLUDED.applied_items,
			applied_categories = EXCLUDED.applied_categories, excluded_items = EXCLUDED.excluded_items,
			combo_items = EXCLUDED.combo_items, combo_price = EXCLUDED.combo_price,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			priority = EXCLUDED.priority, featured = EXCLUDED.featured, active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`

	updateOfferSQL = `UPDATE offers SET
			title = $2, description = $3, code = $4, offer_type = $5, value = $6,
			max_discount = $7, min_order_amount = $8, usage_limit = $9, user_usage_limit = $10,
			one_time_per_device = $11, platforms = $12, delivery_types = $13, applied_items = $14,
			applied_categories = $15, excluded_items = $16, combo_items = $17, combo_price = $18,
			start_date = $19, end_date = $20, priority = $21, featured = $22, active = $23,
			updated_at = $24
		WHERE id = $1`

	deleteOfferSQL = `DELETE FROM offers WHERE id = $1`

	offerExistsSQL = `SELECT EXISTS (SELECT 1 FROM offers WHERE id = $1)`

	claimOfferSQL = `INSERT INTO offer_claims (offer_id, device_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (offer_id, device_id) DO NOTHING`

	incrementOfferUsageSQL = `UPDATE offers
		SET usage_count = usage_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`

	insertOfferUsageSQL = `INSERT INTO offer_usages
			(offer_id, user_id, order_id, device_id, discount_amount, platform, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	listOfferClaimsSQL = `SELECT offer_id, device_id, user_id, claimed_at
		FROM offer_claims WHERE offer_id = $1 ORDER BY claimed_at`

	claimsForDeviceSQL = `SELECT offer_id, device_id, user_id, claimed_at
		FROM offer_claims WHERE device_id = $1 AND offer_id = ANY($2)`

	listOfferUsagesSQL = `SELECT offer_id, user_id, order_id, device_id, discount_amount, platform, used_at
		FROM offer_usages WHERE offer_id = $1 ORDER BY used_at, id`

	listActiveCodesSQL = `SELECT code FROM offers WHERE code <> '' AND active = TRUE`

	usagesForUserSQL = `SELECT offer_id, user_id, order_id, device_id, discount_amount, platform, used_at
		FROM offer_usages WHERE user_id = $1 AND offer_id = ANY($2)`
)

// Postgres error codes this package maps onto domain errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var _ offer.Store = (*OfferStore)(nil)

// OfferStore implements offer.Store backed by PostgreSQL.
type OfferStore struct {
	pool *pgxpool.Pool
}

// NewOfferStore returns an OfferStore that uses the given pool.
func NewOfferStore(pool *pgxpool.Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

// GetByID returns the offer with its full claim and usage history
// hydrated. Returns offer.ErrNotFound when no such offer exists.
func (s *OfferStore) GetByID(ctx context.Context, id string) (*offer.Offer, error) {
	rows, err := s.pool.Query(ctx, getOfferByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting offer %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrNotFound
		}
		return nil, fmt.Errorf("getting offer %q: %w", id, err)
	}

	if err := s.hydrateOne(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetByCode looks up an offer by its coupon code (case-insensitive) and
// hydrates its ledger state. Returns offer.ErrNotFound when no offer
// carries the code.
func (s *OfferStore) GetByCode(ctx context.Context, code string) (*offer.Offer, error) {
	rows, err := s.pool.Query(ctx, getOfferByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("getting offer by code %q: %w", code, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrNotFound
		}
		return nil, fmt.Errorf("getting offer by code %q: %w", code, err)
	}

	if err := s.hydrateOne(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListCandidates returns active in-window offers whose platform and
// delivery filters admit the query, minus one-time offers the device
// already claimed. The query identity's claims and usage history are
// hydrated onto each offer so evaluation sees the store's truth.
func (s *OfferStore) ListCandidates(ctx context.Context, q offer.CandidateQuery) ([]offer.Offer, error) {
	rows, err := s.pool.Query(ctx, listCandidateOffersSQL,
		q.Now, string(q.Platform), string(q.DeliveryType), q.DeviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing candidate offers: %w", err)
	}

	offers, err := pgx.CollectRows(rows, scanOffer)
	if err != nil {
		return nil, fmt.Errorf("listing candidate offers: %w", err)
	}
	if len(offers) == 0 {
		return offers, nil
	}

	if err := s.hydrateMany(ctx, offers, q.UserID, q.DeviceID); err != nil {
		return nil, err
	}
	return offers, nil
}

// Claim inserts the (offer, device) claim row. The table's primary key
// makes the insert conditional: however many claims race, exactly one
// affects a row and the rest see zero and report ErrAlreadyClaimed.
func (s *OfferStore) Claim(ctx context.Context, offerID, deviceID, userID string) error {
	tag, err := s.pool.Exec(ctx, claimOfferSQL, offerID, deviceID, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return offer.ErrNotFound
		}
		return fmt.Errorf("claiming offer %q for device %q: %w", offerID, deviceID, err)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrAlreadyClaimed
	}
	return nil
}

// RecordUsage bumps the offer's usage counter under its limit guard and
// appends the usage row in one transaction. The guarded UPDATE affects
// zero rows once the limit is reached, so concurrent redemptions can
// never push usage_count past usage_limit.
func (s *OfferStore) RecordUsage(ctx context.Context, u offer.Usage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("recording usage of offer %q: %w", u.OfferID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, incrementOfferUsageSQL, u.OfferID)
	if err != nil {
		return fmt.Errorf("recording usage of offer %q: %w", u.OfferID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, offerExistsSQL, u.OfferID).Scan(&exists); err != nil {
			return fmt.Errorf("recording usage of offer %q: %w", u.OfferID, err)
		}
		if !exists {
			return offer.ErrNotFound
		}
		return offer.ErrUsageLimitExceeded
	}

	if _, err := tx.Exec(ctx, insertOfferUsageSQL,
		u.OfferID, u.UserID, u.OrderID, u.DeviceID, u.DiscountAmount, string(u.Platform), u.UsedAt,
	); err != nil {
		return fmt.Errorf("recording usage of offer %q: %w", u.OfferID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("recording usage of offer %q: %w", u.OfferID, err)
	}
	return nil
}

// Create inserts a new offer definition.
func (s *OfferStore) Create(ctx context.Context, o *offer.Offer) error {
	_, err := s.pool.Exec(ctx, insertOfferSQL, offerArgs(o)...)
	if err != nil {
		if verr := asUniqueViolation(err); verr != nil {
			return verr
		}
		return fmt.Errorf("creating offer %q: %w", o.ID, err)
	}
	return nil
}

// Upsert inserts the offer or refreshes its definition columns, leaving
// usage_count untouched on conflict. Seed and import tooling use it.
func (s *OfferStore) Upsert(ctx context.Context, o *offer.Offer) error {
	_, err := s.pool.Exec(ctx, upsertOfferSQL, offerArgs(o)...)
	if err != nil {
		if verr := asUniqueViolation(err); verr != nil {
			return verr
		}
		return fmt.Errorf("upserting offer %q: %w", o.ID, err)
	}
	return nil
}

// Update applies the patch to the stored definition under a row lock,
// re-validates the merged offer and writes it back. The returned offer
// carries the stored definition and current usage count; claim and
// usage rows are not hydrated.
func (s *OfferStore) Update(ctx context.Context, id string, p offer.Patch) (*offer.Offer, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("updating offer %q: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, lockOfferSQL, id)
	if err != nil {
		return nil, fmt.Errorf("updating offer %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrNotFound
		}
		return nil, fmt.Errorf("updating offer %q: %w", id, err)
	}

	p.Apply(&o)
	o.UpdatedAt = time.Now().UTC()
	if err := o.Validate(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, updateOfferSQL,
		o.ID, o.Title, o.Description, o.Code, string(o.Type), o.Value,
		o.MaxDiscount, o.MinOrderAmount, o.UsageLimit, o.UserUsageLimit,
		o.OneTimePerDevice, platformStrings(o.Platforms), deliveryTypeStrings(o.DeliveryTypes),
		textArray(o.AppliedItems), textArray(o.AppliedCategories), textArray(o.ExcludedItems),
		textArray(o.ComboItems), o.ComboPrice, o.StartDate, o.EndDate, o.Priority,
		o.Featured, o.Active, o.UpdatedAt,
	); err != nil {
		if verr := asUniqueViolation(err); verr != nil {
			return nil, verr
		}
		return nil, fmt.Errorf("updating offer %q: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("updating offer %q: %w", id, err)
	}
	return &o, nil
}

// Delete removes the offer; its claim and usage rows go with it through
// the foreign keys. Returns offer.ErrNotFound when no row matched.
func (s *OfferStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteOfferSQL, id)
	if err != nil {
		return fmt.Errorf("deleting offer %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return offer.ErrNotFound
	}
	return nil
}

// List returns every stored offer, newest first, without hydrating
// ledger rows.
func (s *OfferStore) List(ctx context.Context) ([]offer.Offer, error) {
	rows, err := s.pool.Query(ctx, listOffersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing offers: %w", err)
	}
	return pgx.CollectRows(rows, scanOffer)
}

// ListActiveCodes returns the coupon codes of every active offer. The
// code prefilter rebuilds from it.
func (s *OfferStore) ListActiveCodes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, listActiveCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active codes: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var code string
		err := row.Scan(&code)
		return code, err
	})
}

// ListUsages returns the offer's redemption rows in order of use.
// Returns offer.ErrNotFound when the offer does not exist.
func (s *OfferStore) ListUsages(ctx context.Context, offerID string) ([]offer.Usage, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, offerExistsSQL, offerID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("listing usages of offer %q: %w", offerID, err)
	}
	if !exists {
		return nil, offer.ErrNotFound
	}

	rows, err := s.pool.Query(ctx, listOfferUsagesSQL, offerID)
	if err != nil {
		return nil, fmt.Errorf("listing usages of offer %q: %w", offerID, err)
	}
	return pgx.CollectRows(rows, scanUsage)
}

func (s *OfferStore) hydrateOne(ctx context.Context, o *offer.Offer) error {
	rows, err := s.pool.Query(ctx, listOfferClaimsSQL, o.ID)
	if err != nil {
		return fmt.Errorf("loading claims of offer %q: %w", o.ID, err)
	}
	claims, err := pgx.CollectRows(rows, scanClaimRow)
	if err != nil {
		return fmt.Errorf("loading claims of offer %q: %w", o.ID, err)
	}
	for _, c := range claims {
		o.ClaimedDevices = append(o.ClaimedDevices, c.claim)
	}

	rows, err = s.pool.Query(ctx, listOfferUsagesSQL, o.ID)
	if err != nil {
		return fmt.Errorf("loading usages of offer %q: %w", o.ID, err)
	}
	usages, err := pgx.CollectRows(rows, scanUsage)
	if err != nil {
		return fmt.Errorf("loading usages of offer %q: %w", o.ID, err)
	}
	o.UsageHistory = usages
	return nil
}

// hydrateMany attaches the ledger rows evaluation needs: the device's
// claims and the user's usage history per offer. Aggregate activity is
// already present in the scanned usage_count.
func (s *OfferStore) hydrateMany(ctx context.Context, offers []offer.Offer, userID, deviceID string) error {
	ids := make([]string, len(offers))
	byID := make(map[string]*offer.Offer, len(offers))
	for i := range offers {
		ids[i] = offers[i].ID
		byID[offers[i].ID] = &offers[i]
	}

	if deviceID != "" {
		rows, err := s.pool.Query(ctx, claimsForDeviceSQL, deviceID, ids)
		if err != nil {
			return fmt.Errorf("loading claims of device %q: %w", deviceID, err)
		}
		claims, err := pgx.CollectRows(rows, scanClaimRow)
		if err != nil {
			return fmt.Errorf("loading claims of device %q: %w", deviceID, err)
		}
		for _, c := range claims {
			if o := byID[c.offerID]; o != nil {
				o.ClaimedDevices = append(o.ClaimedDevices, c.claim)
			}
		}
	}

	if userID != "" {
		rows, err := s.pool.Query(ctx, usagesForUserSQL, userID, ids)
		if err != nil {
			return fmt.Errorf("loading usages of user %q: %w", userID, err)
		}
		usages, err := pgx.CollectRows(rows, scanUsage)
		if err != nil {
			return fmt.Errorf("loading usages of user %q: %w", userID, err)
		}
		for _, u := range usages {
			if o := byID[u.OfferID]; o != nil {
				o.UsageHistory = append(o.UsageHistory, u)
			}
		}
	}
	return nil
}

func offerArgs(o *offer.Offer) []any {
	return []any{
		o.ID, o.Title, o.Description, o.Code, string(o.Type), o.Value, o.MaxDiscount,
		o.MinOrderAmount, o.UsageLimit, o.UsageCount, o.UserUsageLimit, o.OneTimePerDevice,
		platformStrings(o.Platforms), deliveryTypeStrings(o.DeliveryTypes),
		textArray(o.AppliedItems), textArray(o.AppliedCategories), textArray(o.ExcludedItems),
		textArray(o.ComboItems), o.ComboPrice, o.StartDate, o.EndDate, o.Priority,
		o.Featured, o.Active, o.CreatedAt, o.UpdatedAt,
	}
}

func scanOffer(row pgx.CollectableRow) (offer.Offer, error) {
	var (
		o             offer.Offer
		platforms     []string
		deliveryTypes []string
	)
	err := row.Scan(
		&o.ID, &o.Title, &o.Description, &o.Code, &o.Type, &o.Value, &o.MaxDiscount,
		&o.MinOrderAmount, &o.UsageLimit, &o.UsageCount, &o.UserUsageLimit, &o.OneTimePerDevice,
		&platforms, &deliveryTypes, &o.AppliedItems, &o.AppliedCategories, &o.ExcludedItems,
		&o.ComboItems, &o.ComboPrice, &o.StartDate, &o.EndDate, &o.Priority, &o.Featured, &o.Active,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.Platforms = toPlatforms(platforms)
	o.DeliveryTypes = toDeliveryTypes(deliveryTypes)
	return o, err
}

type claimRow struct {
	offerID string
	claim   offer.Claim
}

func scanClaimRow(row pgx.CollectableRow) (claimRow, error) {
	var c claimRow
	err := row.Scan(&c.offerID, &c.claim.DeviceID, &c.claim.UserID, &c.claim.ClaimedAt)
	return c, err
}

func scanUsage(row pgx.CollectableRow) (offer.Usage, error) {
	var u offer.Usage
	err := row.Scan(&u.OfferID, &u.UserID, &u.OrderID, &u.DeviceID, &u.DiscountAmount, &u.Platform, &u.UsedAt)
	return u, err
}

func asUniqueViolation(err error) *offer.ValidationError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	if pgErr.ConstraintName == "offers_code_unique" {
		return &offer.ValidationError{Field: "code", Reason: "already in use"}
	}
	return &offer.ValidationError{Field: "id", Reason: "already exists"}
}

// textArray keeps nil slices out of NOT NULL TEXT[] columns.
func textArray(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func platformStrings(ps []offer.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func deliveryTypeStrings(ds []offer.DeliveryType) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = string(d)
	}
	return out
}

func toPlatforms(ss []string) []offer.Platform {
	if len(ss) == 0 {
		return nil
	}
	out := make([]offer.Platform, len(ss))
	for i, s := range ss {
		out[i] = offer.Platform(s)
	}
	return out
}

func toDeliveryTypes(ss []string) []offer.DeliveryType {
	if len(ss) == 0 {
		return nil
	}
	out := make([]offer.DeliveryType, len(ss))
	for i, s := range ss {
		out[i] = offer.DeliveryType(s)
	}
	return out
}
