package passes

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/directory"
	"gatepass.org/internal/ids"
)

const defaultSearchLimit = 50

// Registry owns the pass usage state machine:
//
//	active -> used | cancelled
//
// Used and cancelled are terminal. Archival is orthogonal and done by the
// retention sweep.
type Registry struct {
	store     Store
	directory *directory.Service
	maxActive int
	now       func() time.Time
}

// Option configures Registry behavior.
type Option func(*Registry)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithMaxActive bounds the number of active passes one owner may hold.
func WithMaxActive(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxActive = n
		}
	}
}

// NewRegistry constructs the pass registry. The directory is consulted for
// owner eligibility and actor roles.
func NewRegistry(store Store, dir *directory.Service, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		directory: dir,
		maxActive: 3,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Issue creates an active pass for an approved owner. The eligibility check
// uses the effective status, so an expired block does not stand in the way.
func (r *Registry) Issue(ctx context.Context, ownerAccountID, carNumber string) (Pass, error) {
	normalized := NormalizePlate(carNumber)
	if err := ValidatePlate(normalized); err != nil {
		return Pass{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	status, err := r.directory.EffectiveStatus(ctx, ownerAccountID)
	if err != nil {
		return Pass{}, err
	}
	if status != directory.StatusApproved {
		return Pass{}, ErrOwnerNotEligible
	}

	duplicate, err := r.store.HasActivePlateForOwner(ctx, ownerAccountID, normalized)
	if err != nil {
		return Pass{}, err
	}
	if duplicate {
		return Pass{}, ErrDuplicatePass
	}
	active, err := r.store.CountActivePassesForOwner(ctx, ownerAccountID)
	if err != nil {
		return Pass{}, err
	}
	if active >= r.maxActive {
		return Pass{}, ErrPassLimit
	}

	p := Pass{
		ID:                  ids.New(),
		OwnerAccountID:      ownerAccountID,
		CarNumber:           carNumber,
		CarNumberNormalized: normalized,
		Status:              StatusActive,
		CreatedAt:           r.now().UTC(),
	}
	evt := audit.NewEvent(ownerAccountID, audit.ActionPassCreated, audit.TargetPass, p.ID, map[string]string{
		"car_number": normalized,
	})
	created, err := r.store.CreatePass(ctx, p, evt)
	if err != nil {
		return Pass{}, err
	}
	audit.Mirror(ctx, evt)
	return created, nil
}

// MarkUsed records gate passage. The using account must hold the security or
// admin role. Exactly one of two concurrent calls succeeds; the loser gets
// ErrConflict, while a caller acting on stale terminal state gets
// ErrAlreadyTerminal.
func (r *Registry) MarkUsed(ctx context.Context, passID, usingAccountID string) (Pass, error) {
	actor, err := r.directory.Get(ctx, usingAccountID)
	if err != nil {
		return Pass{}, err
	}
	if !actor.Role.CanUsePasses() {
		return Pass{}, directory.ErrForbidden
	}

	p, err := r.store.GetPass(ctx, passID)
	if err != nil {
		return Pass{}, err
	}
	if p.Status.Terminal() {
		return Pass{}, ErrAlreadyTerminal
	}

	usedAt := r.now().UTC()
	evt := audit.NewEvent(usingAccountID, audit.ActionPassUsed, audit.TargetPass, passID, map[string]string{
		"car_number": p.CarNumberNormalized,
	})
	change := StatusChange{Status: StatusUsed, UsedAt: &usedAt, UsedBy: usingAccountID}
	updated, err := r.store.TransitionPassStatus(ctx, passID, StatusActive, change, evt)
	if err != nil {
		return Pass{}, err
	}
	audit.Mirror(ctx, evt)
	return updated, nil
}

// Cancel retires an active pass. Only the owner or an admin may cancel.
func (r *Registry) Cancel(ctx context.Context, passID, actingAccountID string) (Pass, error) {
	p, err := r.store.GetPass(ctx, passID)
	if err != nil {
		return Pass{}, err
	}

	actor, err := r.directory.Get(ctx, actingAccountID)
	if err != nil {
		return Pass{}, err
	}
	if actor.ID != p.OwnerAccountID && actor.Role != directory.RoleAdmin {
		return Pass{}, directory.ErrForbidden
	}

	if p.Status.Terminal() {
		return Pass{}, ErrAlreadyTerminal
	}

	evt := audit.NewEvent(actingAccountID, audit.ActionPassCancelled, audit.TargetPass, passID, map[string]string{
		"car_number": p.CarNumberNormalized,
	})
	updated, err := r.store.TransitionPassStatus(ctx, passID, StatusActive, StatusChange{Status: StatusCancelled}, evt)
	if err != nil {
		return Pass{}, err
	}
	audit.Mirror(ctx, evt)
	return updated, nil
}

// Get returns the stored pass.
func (r *Registry) Get(ctx context.Context, passID string) (Pass, error) {
	return r.store.GetPass(ctx, passID)
}

// FindByCarNumber matches a plate fragment, case- and homoglyph-insensitive,
// most recent first.
func (r *Registry) FindByCarNumber(ctx context.Context, fragment string, limit int) ([]Pass, error) {
	normalized := NormalizePlate(fragment)
	if normalized == "" {
		return nil, fmt.Errorf("%w: search fragment is required", ErrInvalidInput)
	}
	if limit <= 0 || limit > 200 {
		limit = defaultSearchLimit
	}
	return r.store.FindPassesByPlate(ctx, normalized, limit)
}

// ListActiveForOwner returns the owner's active passes.
func (r *Registry) ListActiveForOwner(ctx context.Context, ownerAccountID string) ([]Pass, error) {
	return r.store.ListActivePassesForOwner(ctx, ownerAccountID)
}

// ArchiveOlderThan flips Archived on terminal passes older than the
// retention window. System-initiated: the sweep event carries no actor.
func (r *Registry) ArchiveOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention window must be positive", ErrInvalidInput)
	}
	cutoff := r.now().UTC().Add(-retention)
	evt := audit.NewEvent("", audit.ActionPassArchiveSweep, audit.TargetPass, "sweep", map[string]string{
		"cutoff": cutoff.Format(time.RFC3339),
	})
	n, err := r.store.ArchivePassesBefore(ctx, cutoff, evt)
	if err != nil {
		return 0, err
	}
	evt.Metadata["archived"] = strconv.FormatInt(n, 10)
	audit.Mirror(ctx, evt)
	return n, nil
}
