package directory

import (
	"context"
	"time"

	"gatepass.org/internal/audit"
)

// StatusChange is the target state of a guarded account transition.
type StatusChange struct {
	Status       Status
	BlockedUntil *time.Time
	BlockReason  string
}

// Store is the durable account storage. Every mutating call commits the
// supplied audit event in the same transaction as the entity change: either
// both are durable or neither is.
type Store interface {
	// CreateAccount persists a new account. ErrDuplicateIdentity when the
	// external identity already exists.
	CreateAccount(ctx context.Context, acc Account, evt audit.Event) (Account, error)

	GetAccount(ctx context.Context, id string) (Account, error)
	GetAccountByIdentity(ctx context.Context, externalIdentity string) (Account, error)
	ListAccountsByStatus(ctx context.Context, status Status) ([]Account, error)

	// TransitionAccountStatus applies change only if the stored status still
	// equals expect. Zero rows affected on an existing account is ErrConflict;
	// a missing account is ErrNotFound.
	TransitionAccountStatus(ctx context.Context, id string, expect Status, change StatusChange, evt audit.Event) (Account, error)

	// ReassignAccountRole applies the role change only if the stored role
	// still equals expect. Same failure contract as TransitionAccountStatus.
	ReassignAccountRole(ctx context.Context, id string, expect, next Role, evt audit.Event) (Account, error)
}
