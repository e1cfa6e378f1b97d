// Package lifecycle is the single entry point external handlers call. Every
// operation takes an actor, passes rate admission for its action class, runs
// the store step under a bounded timeout and publishes a domain event on
// success. Callers never reach the stores directly.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/directory"
	"gatepass.org/internal/govern"
	"gatepass.org/internal/obs"
	"gatepass.org/internal/passes"
	"gatepass.org/internal/stream"
)

// Action classes with independent rate quotas.
const (
	ClassRegister   = "register"
	ClassModerate   = "moderate"
	ClassPassIssue  = "pass_issue"
	ClassPassUse    = "pass_use"
	ClassPassCancel = "pass_cancel"
	ClassSearch     = "search"
)

var (
	// ErrRateLimited is matched by errors.Is against *RateLimitedError.
	ErrRateLimited = errors.New("rate limited")

	// ErrStorageUnavailable: the store step timed out or the store is down.
	// No partial mutation was committed; the operation is safe to retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RateLimitedError carries the time after which the actor may try again.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// Facade composes the rate governor with the directory and pass registry.
type Facade struct {
	directory *directory.Service
	registry  *passes.Registry
	trail     audit.Trail
	governor  *govern.Governor
	events    *stream.Hub

	storeTimeout time.Duration
	now          func() time.Time
}

// Option configures the facade.
type Option func(*Facade)

// WithStoreTimeout bounds every store operation.
func WithStoreTimeout(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.storeTimeout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(f *Facade) {
		if fn != nil {
			f.now = fn
		}
	}
}

// New constructs the facade.
func New(dir *directory.Service, reg *passes.Registry, trail audit.Trail, gov *govern.Governor, events *stream.Hub, opts ...Option) *Facade {
	f := &Facade{
		directory:    dir,
		registry:     reg,
		trail:        trail,
		governor:     gov,
		events:       events,
		storeTimeout: 5 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// admit consults the governor. Denials are never retried here; retry policy
// belongs to the caller.
func (f *Facade) admit(actorKey, class string) error {
	d := f.governor.Admit(actorKey, class, f.now())
	if d.Allowed {
		return nil
	}
	obs.ObserveRateDenial(class)
	return &RateLimitedError{RetryAfter: d.RetryAfter}
}

func (f *Facade) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.storeTimeout)
}

// mapStoreErr converts a deadline hit on the store step into the typed
// storage failure. Conditional updates are idempotent to retry, so the
// caller may simply try again later.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStorageUnavailable
	}
	return err
}

func (f *Facade) publish(evt stream.Event) {
	if f.events != nil {
		f.events.Publish(evt)
	}
}

func observe(action string, err error) {
	switch {
	case err == nil:
		obs.ObserveTransition(action, audit.OutcomeSuccess)
	case errors.Is(err, directory.ErrForbidden):
		obs.ObserveTransition(action, audit.OutcomeDenied)
	default:
		obs.ObserveTransition(action, audit.OutcomeFailed)
	}
}

// requireRole loads the actor and checks the given predicate.
func (f *Facade) requireRole(ctx context.Context, actorAccountID string, allowed func(directory.Role) bool) (directory.Account, error) {
	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	actor, err := f.directory.Get(tctx, actorAccountID)
	if err != nil {
		return directory.Account{}, mapStoreErr(err)
	}
	if !allowed(actor.Role) {
		return directory.Account{}, directory.ErrForbidden
	}
	return actor, nil
}

// RegisterAccount self-registers a messaging identity as a pending resident.
// The identity itself is the rate key: there is no account yet.
func (f *Facade) RegisterAccount(ctx context.Context, externalIdentity, fullName, phoneNumber, apartment string) (directory.Account, error) {
	if err := f.admit("ext:"+externalIdentity, ClassRegister); err != nil {
		return directory.Account{}, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	acc, err := f.directory.Register(tctx, externalIdentity, fullName, phoneNumber, apartment)
	err = mapStoreErr(err)
	observe(audit.ActionAccountRegistered, err)
	if err != nil {
		return directory.Account{}, err
	}

	f.publish(stream.Event{Kind: stream.AccountRegistered, AccountID: acc.ID})
	return acc, nil
}

// DecideAccount approves or rejects a pending registration. Admin only.
func (f *Facade) DecideAccount(ctx context.Context, actorAccountID, targetAccountID string, decision directory.Decision) (directory.Account, error) {
	if _, err := f.requireRole(ctx, actorAccountID, directory.Role.CanModerate); err != nil {
		return directory.Account{}, err
	}
	if err := f.admit(actorAccountID, ClassModerate); err != nil {
		return directory.Account{}, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	acc, err := f.directory.Decide(tctx, targetAccountID, decision, actorAccountID)
	err = mapStoreErr(err)
	switch decision {
	case directory.DecisionApprove:
		observe(audit.ActionAccountApproved, err)
	case directory.DecisionReject:
		observe(audit.ActionAccountRejected, err)
	}
	if err != nil {
		return directory.Account{}, err
	}

	f.publish(stream.Event{Kind: stream.AccountDecided, AccountID: acc.ID, Detail: string(decision)})
	return acc, nil
}

// BlockAccount blocks an approved account until the given time. Admin only.
func (f *Facade) BlockAccount(ctx context.Context, actorAccountID, targetAccountID, reason string, until time.Time) (directory.Account, error) {
	if _, err := f.requireRole(ctx, actorAccountID, directory.Role.CanModerate); err != nil {
		return directory.Account{}, err
	}
	if err := f.admit(actorAccountID, ClassModerate); err != nil {
		return directory.Account{}, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	acc, err := f.directory.Block(tctx, targetAccountID, reason, until, actorAccountID)
	err = mapStoreErr(err)
	observe(audit.ActionAccountBlocked, err)
	if err != nil {
		return directory.Account{}, err
	}

	f.publish(stream.Event{Kind: stream.AccountBlocked, AccountID: acc.ID, Detail: reason})
	return acc, nil
}

// UnblockAccount performs the durable blocked -> approved transition. Admin only.
func (f *Facade) UnblockAccount(ctx context.Context, actorAccountID, targetAccountID string) (directory.Account, error) {
	if _, err := f.requireRole(ctx, actorAccountID, directory.Role.CanModerate); err != nil {
		return directory.Account{}, err
	}
	if err := f.admit(actorAccountID, ClassModerate); err != nil {
		return directory.Account{}, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	acc, err := f.directory.Unblock(tctx, targetAccountID, actorAccountID)
	err = mapStoreErr(err)
	observe(audit.ActionAccountUnblocked, err)
	if err != nil {
		return directory.Account{}, err
	}

	f.publish(stream.Event{Kind: stream.AccountUnblocked, AccountID: acc.ID})
	return acc, nil
}

// ReassignRole changes an account's role. Admin only.
func (f *Facade) ReassignRole(ctx context.Context, actorAccountID, targetAccountID string, next directory.Role) (directory.Account, error) {
	if _, err := f.requireRole(ctx, actorAccountID, directory.Role.CanModerate); err != nil {
		return directory.Account{}, err
	}
	if err := f.admit(actorAccountID, ClassModerate); err != nil {
		return directory.Account{}, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	acc, err := f.directory.ReassignRole(tctx, targetAccountID, next, actorAccountID)
	err = mapStoreErr(err)
	observe(audit.ActionAccountRoleChanged, err)
	if err != nil {
		return directory.Account{}, err
	}

	f.publish(stream.Event{Kind: stream.AccountRoleChange, AccountID: acc.ID, Detail: string(next)})
	return acc, nil
}

// IssuePass creates an active pass owned by the acting resident.
func (f *Facade) IssuePass(ctx context.Context, actorAccountID, carNumber string) (passes.Pass, error) {
	if err := f.admit(actorAccountID, ClassPassIssue); err != nil {
		return passes.Pass{}, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	p, err := f.registry.Issue(tctx, actorAccountID, carNumber)
	err = mapStoreErr(err)
	observe(audit.ActionPassCreated, err)
	if err != nil {
		return passes.Pass{}, err
	}

	f.publish(stream.Event{Kind: stream.PassIssued, AccountID: p.OwnerAccountID, PassID: p.ID, CarNumber: p.CarNumberNormalized})
	return p, nil
}

// MarkPassUsed records gate passage. Security or admin only; the registry
// enforces the role.
func (f *Facade) MarkPassUsed(ctx context.Context, actorAccountID, passID string) (passes.Pass, error) {
	if err := f.admit(actorAccountID, ClassPassUse); err != nil {
		return passes.Pass{}, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	p, err := f.registry.MarkUsed(tctx, passID, actorAccountID)
	err = mapStoreErr(err)
	observe(audit.ActionPassUsed, err)
	if err != nil {
		return passes.Pass{}, err
	}

	f.publish(stream.Event{Kind: stream.PassUsed, AccountID: p.OwnerAccountID, PassID: p.ID, CarNumber: p.CarNumberNormalized})
	return p, nil
}

// CancelPass retires an active pass. Owner or admin; the registry enforces it.
func (f *Facade) CancelPass(ctx context.Context, actorAccountID, passID string) (passes.Pass, error) {
	if err := f.admit(actorAccountID, ClassPassCancel); err != nil {
		return passes.Pass{}, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	p, err := f.registry.Cancel(tctx, passID, actorAccountID)
	err = mapStoreErr(err)
	observe(audit.ActionPassCancelled, err)
	if err != nil {
		return passes.Pass{}, err
	}

	f.publish(stream.Event{Kind: stream.PassCancelled, AccountID: p.OwnerAccountID, PassID: p.ID, CarNumber: p.CarNumberNormalized})
	return p, nil
}

// SearchPasses finds passes by plate fragment. Security or admin.
func (f *Facade) SearchPasses(ctx context.Context, actorAccountID, fragment string, limit int) ([]passes.Pass, error) {
	if _, err := f.requireRole(ctx, actorAccountID, directory.Role.CanUsePasses); err != nil {
		return nil, err
	}
	if err := f.admit(actorAccountID, ClassSearch); err != nil {
		return nil, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	found, err := f.registry.FindByCarNumber(tctx, fragment, limit)
	return found, mapStoreErr(err)
}

// ListOwnerPasses returns an owner's active passes. The owner themselves,
// security and admin may ask.
func (f *Facade) ListOwnerPasses(ctx context.Context, actorAccountID, ownerAccountID string) ([]passes.Pass, error) {
	if actorAccountID != ownerAccountID {
		if _, err := f.requireRole(ctx, actorAccountID, directory.Role.CanUsePasses); err != nil {
			return nil, err
		}
	}
	if err := f.admit(actorAccountID, ClassSearch); err != nil {
		return nil, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	list, err := f.registry.ListActiveForOwner(tctx, ownerAccountID)
	return list, mapStoreErr(err)
}

// PendingAccounts returns the moderation queue. Admin only.
func (f *Facade) PendingAccounts(ctx context.Context, actorAccountID string) ([]directory.Account, error) {
	if _, err := f.requireRole(ctx, actorAccountID, directory.Role.CanModerate); err != nil {
		return nil, err
	}
	if err := f.admit(actorAccountID, ClassSearch); err != nil {
		return nil, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	list, err := f.directory.ListByStatus(tctx, directory.StatusPending)
	return list, mapStoreErr(err)
}

// AuditByTarget returns the ordered audit history of one entity. Admin only.
func (f *Facade) AuditByTarget(ctx context.Context, actorAccountID, targetType, targetID string, afterID int64, limit int) ([]audit.Event, error) {
	if _, err := f.requireRole(ctx, actorAccountID, directory.Role.CanModerate); err != nil {
		return nil, err
	}
	if err := f.admit(actorAccountID, ClassSearch); err != nil {
		return nil, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	events, err := f.trail.ByTarget(tctx, targetType, targetID, afterID, limit)
	return events, mapStoreErr(err)
}

// AuditByActor returns the ordered audit history of one actor. Admin only.
func (f *Facade) AuditByActor(ctx context.Context, actorAccountID, subjectAccountID string, since time.Time, afterID int64, limit int) ([]audit.Event, error) {
	if _, err := f.requireRole(ctx, actorAccountID, directory.Role.CanModerate); err != nil {
		return nil, err
	}
	if err := f.admit(actorAccountID, ClassSearch); err != nil {
		return nil, err
	}

	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	events, err := f.trail.ByActor(tctx, subjectAccountID, since, afterID, limit)
	return events, mapStoreErr(err)
}

// ArchivePasses runs the retention sweep. System-initiated, no admission.
func (f *Facade) ArchivePasses(ctx context.Context, retention time.Duration) (int64, error) {
	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	n, err := f.registry.ArchiveOlderThan(tctx, retention)
	return n, mapStoreErr(err)
}

// Account returns the stored account. Used by the shell to resolve actors.
func (f *Facade) Account(ctx context.Context, accountID string) (directory.Account, error) {
	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	acc, err := f.directory.Get(tctx, accountID)
	return acc, mapStoreErr(err)
}

// AccountByIdentity returns the account for a messaging identity.
func (f *Facade) AccountByIdentity(ctx context.Context, externalIdentity string) (directory.Account, error) {
	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	acc, err := f.directory.GetByIdentity(tctx, externalIdentity)
	return acc, mapStoreErr(err)
}

// Pass returns the stored pass.
func (f *Facade) Pass(ctx context.Context, passID string) (passes.Pass, error) {
	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	p, err := f.registry.Get(tctx, passID)
	return p, mapStoreErr(err)
}

// EffectiveAccountStatus applies lazy block expiry at read time.
func (f *Facade) EffectiveAccountStatus(ctx context.Context, accountID string) (directory.Status, error) {
	tctx, cancel := f.withTimeout(ctx)
	defer cancel()
	status, err := f.directory.EffectiveStatus(tctx, accountID)
	return status, mapStoreErr(err)
}
