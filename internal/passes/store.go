package passes

import (
	"context"
	"time"

	"gatepass.org/internal/audit"
)

// StatusChange is the target state of a guarded pass transition. UsedAt and
// UsedBy accompany only the used transition.
type StatusChange struct {
	Status Status
	UsedAt *time.Time
	UsedBy string
}

// Store is the durable pass storage. Mutating calls commit the supplied
// audit event in the same transaction as the pass change.
type Store interface {
	CreatePass(ctx context.Context, p Pass, evt audit.Event) (Pass, error)
	GetPass(ctx context.Context, id string) (Pass, error)

	// TransitionPassStatus applies change only if the stored status still
	// equals expect. Zero rows on an existing pass is ErrConflict; a missing
	// pass is ErrNotFound.
	TransitionPassStatus(ctx context.Context, id string, expect Status, change StatusChange, evt audit.Event) (Pass, error)

	// FindPassesByPlate matches the normalized fragment as a substring,
	// most recent first.
	FindPassesByPlate(ctx context.Context, normalizedFragment string, limit int) ([]Pass, error)
	ListActivePassesForOwner(ctx context.Context, ownerAccountID string) ([]Pass, error)
	CountActivePassesForOwner(ctx context.Context, ownerAccountID string) (int, error)
	HasActivePlateForOwner(ctx context.Context, ownerAccountID, normalized string) (bool, error)

	// ArchivePassesBefore flips Archived on terminal passes created before
	// cutoff and records one sweep event. Status is never touched.
	ArchivePassesBefore(ctx context.Context, cutoff time.Time, evt audit.Event) (int64, error)
}
