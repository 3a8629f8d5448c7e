package offer

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Manager drives the admin lifecycle of offer definitions: create,
// patch, delete, list, audit. Ledger state never flows through here;
// claims and usage counts move only through the Ledger's conditional
// writes.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager builds a Manager on the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// WithClock overrides the manager's time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Create validates and persists a new offer definition. A missing ID is
// generated, priority and the per-user limit take their defaults, and
// any ledger state on the input is discarded.
func (m *Manager) Create(ctx context.Context, o *Offer) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Priority == 0 {
		o.Priority = 1
	}
	if o.UserUsageLimit == 0 {
		o.UserUsageLimit = 1
	}
	now := m.now()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.UsageCount = 0
	o.ClaimedDevices = nil
	o.UsageHistory = nil

	if err := o.Validate(); err != nil {
		return err
	}
	return m.store.Create(ctx, o)
}

// Update applies a partial update to the offer definition and returns
// the stored result. Fields the patch leaves nil keep their values; the
// merged definition is re-validated before it is written.
func (m *Manager) Update(ctx context.Context, id string, p Patch) (*Offer, error) {
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "required"}
	}
	return m.store.Update(ctx, id, p)
}

// Delete removes the offer and its ledger entries. Returns ErrNotFound
// when no such offer exists.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// Get returns a single offer with ledger state hydrated.
func (m *Manager) Get(ctx context.Context, id string) (*Offer, error) {
	return m.store.GetByID(ctx, id)
}

// List returns every stored offer, newest first, active or not.
func (m *Manager) List(ctx context.Context) ([]Offer, error) {
	return m.store.List(ctx)
}

// ListUsages returns the offer's redemption history in order of use.
// Returns ErrNotFound when the offer does not exist.
func (m *Manager) ListUsages(ctx context.Context, offerID string) ([]Usage, error) {
	return m.store.ListUsages(ctx, offerID)
}
