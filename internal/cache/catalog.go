package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/saborly/saborly-backend/internal/domain/offer"
)

const offersVersionKey = "offers:ver"

// CatalogStore decorates an offer.Store with a short-TTL cache over the
// anonymous candidate listing. Identity-scoped reads (a user or device
// in the query) always reach the store because their hydrated ledger
// state must be current, and so do single-offer lookups. Every write
// bumps a version key that orphans cached listings; a cache outage
// degrades to plain store reads.
type CatalogStore struct {
	store offer.Store
	cache Cache
	ttl   time.Duration
}

var _ offer.Store = (*CatalogStore)(nil)

// NewCatalogStore wraps the store with candidate-listing caching.
func NewCatalogStore(store offer.Store, c Cache, ttl time.Duration) *CatalogStore {
	return &CatalogStore{store: store, cache: c, ttl: ttl}
}

func (c *CatalogStore) GetByID(ctx context.Context, id string) (*offer.Offer, error) {
	return c.store.GetByID(ctx, id)
}

func (c *CatalogStore) GetByCode(ctx context.Context, code string) (*offer.Offer, error) {
	return c.store.GetByCode(ctx, code)
}

func (c *CatalogStore) ListCandidates(ctx context.Context, q offer.CandidateQuery) ([]offer.Offer, error) {
	if q.UserID != "" || q.DeviceID != "" {
		return c.store.ListCandidates(ctx, q)
	}

	key := c.candidatesKey(ctx, q)
	var cached []offer.Offer
	err := GetJSON(ctx, c.cache, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrMiss) {
		zctx.From(ctx).Debug("candidate cache read failed", zap.Error(err))
	}

	offers, err := c.store.ListCandidates(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := SetJSON(ctx, c.cache, key, offers, c.ttl); err != nil {
		zctx.From(ctx).Debug("candidate cache write failed", zap.Error(err))
	}
	return offers, nil
}

func (c *CatalogStore) Claim(ctx context.Context, offerID, deviceID, userID string) error {
	err := c.store.Claim(ctx, offerID, deviceID, userID)
	if err == nil {
		c.bump(ctx)
	}
	return err
}

func (c *CatalogStore) RecordUsage(ctx context.Context, u offer.Usage) error {
	err := c.store.RecordUsage(ctx, u)
	if err == nil {
		c.bump(ctx)
	}
	return err
}

func (c *CatalogStore) Create(ctx context.Context, o *offer.Offer) error {
	err := c.store.Create(ctx, o)
	if err == nil {
		c.bump(ctx)
	}
	return err
}

func (c *CatalogStore) Update(ctx context.Context, id string, p offer.Patch) (*offer.Offer, error) {
	updated, err := c.store.Update(ctx, id, p)
	if err == nil {
		c.bump(ctx)
	}
	return updated, err
}

func (c *CatalogStore) Delete(ctx context.Context, id string) error {
	err := c.store.Delete(ctx, id)
	if err == nil {
		c.bump(ctx)
	}
	return err
}

func (c *CatalogStore) List(ctx context.Context) ([]offer.Offer, error) {
	return c.store.List(ctx)
}

func (c *CatalogStore) ListUsages(ctx context.Context, offerID string) ([]offer.Usage, error) {
	return c.store.ListUsages(ctx, offerID)
}

// candidatesKey builds the version-scoped key for an anonymous listing.
// A missing version key reads as zero rather than failing the lookup.
func (c *CatalogStore) candidatesKey(ctx context.Context, q offer.CandidateQuery) string {
	ver := "0"
	if raw, err := c.cache.Get(ctx, offersVersionKey); err == nil {
		ver = string(raw)
	}
	return fmt.Sprintf("offers:candidates:v%s:p=%s:d=%s", ver, q.Platform, q.DeliveryType)
}

func (c *CatalogStore) bump(ctx context.Context) {
	if _, err := c.cache.Incr(ctx, offersVersionKey); err != nil {
		zctx.From(ctx).Debug("offer cache version bump failed", zap.Error(err))
	}
}
