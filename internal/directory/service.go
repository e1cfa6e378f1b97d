package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatepass.org/internal/audit"
	"gatepass.org/internal/ids"
)

// Service owns the account moderation state machine:
//
//	pending -> approved | rejected
//	approved -> blocked
//	blocked -> approved
//
// Every mutating call appends exactly one audit event, committed atomically
// with the account change by the store.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the directory service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a pending resident account for the given messaging
// identity. ErrDuplicateIdentity when the identity is already registered.
func (s *Service) Register(ctx context.Context, externalIdentity, fullName, phoneNumber, apartment string) (Account, error) {
	externalIdentity = strings.TrimSpace(externalIdentity)
	fullName = strings.TrimSpace(fullName)
	apartment = strings.TrimSpace(apartment)
	if externalIdentity == "" {
		return Account{}, fmt.Errorf("%w: external identity is required", ErrInvalidInput)
	}
	if fullName == "" {
		return Account{}, fmt.Errorf("%w: full name is required", ErrInvalidInput)
	}
	phone, err := NormalizePhone(phoneNumber)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.now().UTC()
	acc := Account{
		ID:               ids.New(),
		ExternalIdentity: externalIdentity,
		Role:             RoleResident,
		FullName:         fullName,
		PhoneNumber:      phone,
		Apartment:        apartment,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	evt := audit.NewEvent(acc.ID, audit.ActionAccountRegistered, audit.TargetAccount, acc.ID, map[string]string{
		"external_identity": externalIdentity,
	})
	created, err := s.store.CreateAccount(ctx, acc, evt)
	if err != nil {
		return Account{}, err
	}
	audit.Mirror(ctx, evt)
	return created, nil
}

// Decide approves or rejects a pending account. ErrInvalidTransition when
// the account is not pending; ErrConflict when a concurrent decision won.
func (s *Service) Decide(ctx context.Context, accountID string, decision Decision, decidedBy string) (Account, error) {
	var (
		next   Status
		action string
	)
	switch decision {
	case DecisionApprove:
		next, action = StatusApproved, audit.ActionAccountApproved
	case DecisionReject:
		next, action = StatusRejected, audit.ActionAccountRejected
	default:
		return Account{}, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, decision)
	}

	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if acc.Status != StatusPending {
		return Account{}, ErrInvalidTransition
	}

	evt := audit.NewEvent(decidedBy, action, audit.TargetAccount, accountID, map[string]string{
		"decision": string(decision),
	})
	updated, err := s.store.TransitionAccountStatus(ctx, accountID, StatusPending, StatusChange{Status: next}, evt)
	if err != nil {
		return Account{}, err
	}
	audit.Mirror(ctx, evt)
	return updated, nil
}

// Block moves an approved account to blocked until the given time.
func (s *Service) Block(ctx context.Context, accountID, reason string, until time.Time, actedBy string) (Account, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Account{}, fmt.Errorf("%w: block reason is required", ErrInvalidInput)
	}
	if !until.After(s.now()) {
		return Account{}, fmt.Errorf("%w: blocked_until must be in the future", ErrInvalidInput)
	}

	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if acc.Status != StatusApproved {
		return Account{}, ErrInvalidTransition
	}

	untilUTC := until.UTC()
	evt := audit.NewEvent(actedBy, audit.ActionAccountBlocked, audit.TargetAccount, accountID, map[string]string{
		"reason": reason,
		"until":  untilUTC.Format(time.RFC3339),
	})
	change := StatusChange{Status: StatusBlocked, BlockedUntil: &untilUTC, BlockReason: reason}
	updated, err := s.store.TransitionAccountStatus(ctx, accountID, StatusApproved, change, evt)
	if err != nil {
		return Account{}, err
	}
	audit.Mirror(ctx, evt)
	return updated, nil
}

// Unblock performs the durable blocked -> approved transition. A block whose
// deadline passed is already reported approved by EffectiveStatus, but the
// row only changes here.
func (s *Service) Unblock(ctx context.Context, accountID, actedBy string) (Account, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if acc.Status != StatusBlocked {
		return Account{}, ErrInvalidTransition
	}

	evt := audit.NewEvent(actedBy, audit.ActionAccountUnblocked, audit.TargetAccount, accountID, nil)
	updated, err := s.store.TransitionAccountStatus(ctx, accountID, StatusBlocked, StatusChange{Status: StatusApproved}, evt)
	if err != nil {
		return Account{}, err
	}
	audit.Mirror(ctx, evt)
	return updated, nil
}

// ReassignRole changes an account's role. A distinct audited transition, not
// a plain field write.
func (s *Service) ReassignRole(ctx context.Context, accountID string, next Role, actedBy string) (Account, error) {
	if !next.Valid() {
		return Account{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, next)
	}
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if acc.Role == next {
		return Account{}, ErrInvalidTransition
	}

	evt := audit.NewEvent(actedBy, audit.ActionAccountRoleChanged, audit.TargetAccount, accountID, map[string]string{
		"from": string(acc.Role),
		"to":   string(next),
	})
	updated, err := s.store.ReassignAccountRole(ctx, accountID, acc.Role, next, evt)
	if err != nil {
		return Account{}, err
	}
	audit.Mirror(ctx, evt)
	return updated, nil
}

// Get returns the stored account.
func (s *Service) Get(ctx context.Context, accountID string) (Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// GetByIdentity returns the account for a messaging identity.
func (s *Service) GetByIdentity(ctx context.Context, externalIdentity string) (Account, error) {
	return s.store.GetAccountByIdentity(ctx, strings.TrimSpace(externalIdentity))
}

// ListByStatus returns accounts in the given stored status (the moderation
// queue is ListByStatus(StatusPending)).
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Account, error) {
	return s.store.ListAccountsByStatus(ctx, status)
}

// EffectiveStatus applies lazy block expiry as a read-time projection: a
// blocked account whose deadline passed reads as approved without any write.
func (s *Service) EffectiveStatus(ctx context.Context, accountID string) (Status, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	return Effective(acc, s.now()), nil
}

// Effective is the pure projection behind EffectiveStatus.
func Effective(acc Account, now time.Time) Status {
	if acc.Status == StatusBlocked && acc.BlockedUntil != nil && !acc.BlockedUntil.After(now) {
		return StatusApproved
	}
	return acc.Status
}
