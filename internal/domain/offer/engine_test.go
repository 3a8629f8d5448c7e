package offer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// memLedger is an in-memory Ledger with the same guarantees a real store
// provides: claim and usage writes are checked and applied under one
// lock, so concurrent calls can never double-claim or blow the cap.
type memLedger struct {
	mu     sync.Mutex
	offers map[string]*ledgerRec
}

type ledgerRec struct {
	usageLimit int
	usageCount int
	claims     map[string]Claim
	usages     []Usage
}

func newMemLedger() *memLedger {
	return &memLedger{offers: make(map[string]*ledgerRec)}
}

func (l *memLedger) add(offerID string, usageLimit int) {
	l.offers[offerID] = &ledgerRec{
		usageLimit: usageLimit,
		claims:     make(map[string]Claim),
	}
}

func (l *memLedger) Claim(_ context.Context, offerID, deviceID, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.offers[offerID]
	if !ok {
		return ErrNotFound
	}
	if _, dup := rec.claims[deviceID]; dup {
		return ErrAlreadyClaimed
	}
	rec.claims[deviceID] = Claim{DeviceID: deviceID, UserID: userID, ClaimedAt: time.Now()}
	return nil
}

func (l *memLedger) RecordUsage(_ context.Context, u Usage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.offers[u.OfferID]
	if !ok {
		return ErrNotFound
	}
	if rec.usageLimit > 0 && rec.usageCount >= rec.usageLimit {
		return ErrUsageLimitExceeded
	}
	rec.usageCount++
	rec.usages = append(rec.usages, u)
	return nil
}

type stubCatalog struct {
	offers []Offer
	lastQ  CandidateQuery
}

func (c *stubCatalog) GetByID(_ context.Context, id string) (*Offer, error) {
	for i := range c.offers {
		if c.offers[i].ID == id {
			o := c.offers[i]
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (c *stubCatalog) GetByCode(_ context.Context, code string) (*Offer, error) {
	for i := range c.offers {
		if strings.EqualFold(c.offers[i].Code, code) {
			o := c.offers[i]
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (c *stubCatalog) ListCandidates(_ context.Context, q CandidateQuery) ([]Offer, error) {
	c.lastQ = q
	return c.offers, nil
}

func TestEngine_Claim_ConcurrentSingleSuccess(t *testing.T) {
	ledger := newMemLedger()
	ledger.add("off-1", 0)
	eng := NewEngine(&stubCatalog{}, ledger)

	const workers = 32

	var successes, duplicates atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for range workers {
		g.Go(func() error {
			err := eng.Claim(ctx, "off-1", "device-1", "user-1")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrAlreadyClaimed):
				duplicates.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), successes.Load())
	assert.Equal(t, int64(workers-1), duplicates.Load())
	assert.Len(t, ledger.offers["off-1"].claims, 1)
}

func TestEngine_Claim_DistinctDevices(t *testing.T) {
	ledger := newMemLedger()
	ledger.add("off-1", 0)
	eng := NewEngine(&stubCatalog{}, ledger)
	ctx := context.Background()

	require.NoError(t, eng.Claim(ctx, "off-1", "device-1", "user-1"))
	require.NoError(t, eng.Claim(ctx, "off-1", "device-2", "user-1"))

	assert.Len(t, ledger.offers["off-1"].claims, 2)
}

func TestEngine_Claim_RetryObservesSameResult(t *testing.T) {
	ledger := newMemLedger()
	ledger.add("off-1", 0)
	eng := NewEngine(&stubCatalog{}, ledger)
	ctx := context.Background()

	require.NoError(t, eng.Claim(ctx, "off-1", "device-1", "user-1"))

	for range 3 {
		err := eng.Claim(ctx, "off-1", "device-1", "user-1")
		require.ErrorIs(t, err, ErrAlreadyClaimed)
	}
	assert.Len(t, ledger.offers["off-1"].claims, 1)
}

func TestEngine_Claim_RequiresDevice(t *testing.T) {
	eng := NewEngine(&stubCatalog{}, newMemLedger())

	err := eng.Claim(context.Background(), "off-1", "", "user-1")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "deviceId", verr.Field)
}

func TestEngine_Claim_UnknownOffer(t *testing.T) {
	eng := NewEngine(&stubCatalog{}, newMemLedger())

	err := eng.Claim(context.Background(), "missing", "device-1", "user-1")

	require.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_RecordUsage_ConcurrentCap(t *testing.T) {
	const (
		limit   = 5
		workers = 20
	)

	ledger := newMemLedger()
	ledger.add("off-1", limit)
	eng := NewEngine(&stubCatalog{}, ledger)

	var successes, exceeded atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := range workers {
		g.Go(func() error {
			err := eng.RecordUsage(ctx, Usage{
				OfferID:        "off-1",
				UserID:         "user-1",
				OrderID:        fmt.Sprintf("ord-%d", i),
				DiscountAmount: d("5"),
				Platform:       PlatformMobile,
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrUsageLimitExceeded):
				exceeded.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(limit), successes.Load())
	assert.Equal(t, int64(workers-limit), exceeded.Load())
	assert.Equal(t, limit, ledger.offers["off-1"].usageCount)
	assert.Len(t, ledger.offers["off-1"].usages, limit)
}

func TestEngine_RecordUsage_Validation(t *testing.T) {
	eng := NewEngine(&stubCatalog{}, newMemLedger())
	ctx := context.Background()

	var verr *ValidationError

	err := eng.RecordUsage(ctx, Usage{OrderID: "ord-1"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "offerId", verr.Field)

	err = eng.RecordUsage(ctx, Usage{OfferID: "off-1"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "orderId", verr.Field)
}

func TestEngine_RecordUsage_DefaultsUsedAt(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	ledger := newMemLedger()
	ledger.add("off-1", 0)
	eng := NewEngine(&stubCatalog{}, ledger).WithClock(func() time.Time { return fixedNow })

	err := eng.RecordUsage(context.Background(), Usage{
		OfferID: "off-1",
		UserID:  "user-1",
		OrderID: "ord-1",
	})
	require.NoError(t, err)

	usages := ledger.offers["off-1"].usages
	require.Len(t, usages, 1)
	assert.True(t, usages[0].UsedAt.Equal(fixedNow))
}

func TestEngine_ListCandidateOffers_DefaultsNow(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	catalog := &stubCatalog{}
	eng := NewEngine(catalog, newMemLedger()).WithClock(func() time.Time { return fixedNow })

	_, err := eng.ListCandidateOffers(context.Background(), CandidateQuery{
		Platform:     PlatformWeb,
		DeliveryType: DeliveryTypePickup,
		DeviceID:     "device-1",
	})
	require.NoError(t, err)

	assert.True(t, catalog.lastQ.Now.Equal(fixedNow))
	assert.Equal(t, PlatformWeb, catalog.lastQ.Platform)
}

func TestEngine_Evaluate_DefaultsNow(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	eng := NewEngine(&stubCatalog{}, newMemLedger()).WithClock(func() time.Time { return fixedNow })

	o := baseOffer(fixedNow)
	got := eng.Evaluate(o, Context{
		UserID:   "user-1",
		Platform: PlatformMobile,
		Subtotal: d("30"),
	})

	assert.True(t, got.Eligible, "rejected with reason %q", got.Reason)
}
