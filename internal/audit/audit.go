package audit

import (
	"context"
	"time"
)

// Outcome classifies how an audited action finished.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailed  = "failed"
)

// Target types referenced by audit events.
const (
	TargetAccount = "account"
	TargetPass    = "pass"
)

// Action names recorded in the trail. One action per domain transition.
const (
	ActionAccountRegistered  = "account.registered"
	ActionAccountApproved    = "account.approved"
	ActionAccountRejected    = "account.rejected"
	ActionAccountBlocked     = "account.blocked"
	ActionAccountUnblocked   = "account.unblocked"
	ActionAccountRoleChanged = "account.role_changed"
	ActionPassCreated        = "pass.created"
	ActionPassUsed           = "pass.used"
	ActionPassCancelled      = "pass.cancelled"
	ActionPassArchiveSweep   = "pass.archive_sweep"
)

// Event is one append-only record of a domain action. ID is assigned by the
// store and is monotonic per store; OccurredAt is informational only and must
// not be used for ordering.
type Event struct {
	ID             int64             `json:"id"`
	ActorAccountID string            `json:"actor_account_id,omitempty"` // empty for system-initiated events
	Action         string            `json:"action"`
	TargetType     string            `json:"target_type"`
	TargetID       string            `json:"target_id"`
	OccurredAt     time.Time         `json:"occurred_at"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Outcome        string            `json:"outcome"`
}

// Trail is the append-only audit log. There is deliberately no update or
// delete operation. Queries are ordered by ID ascending and restartable via
// the afterID cursor.
type Trail interface {
	// Record appends the event and returns the assigned ID. A store failure
	// surfaces as an error and the caller must treat the enclosing operation
	// as failed: mutating stores commit the event inside the same transaction
	// as the entity change.
	Record(ctx context.Context, evt Event) (int64, error)

	ByTarget(ctx context.Context, targetType, targetID string, afterID int64, limit int) ([]Event, error)
	ByActor(ctx context.Context, actorAccountID string, since time.Time, afterID int64, limit int) ([]Event, error)
}

// NewEvent builds an event with the informational timestamp set. The store
// assigns the ID on commit.
func NewEvent(actorAccountID, action, targetType, targetID string, metadata map[string]string) Event {
	return Event{
		ActorAccountID: actorAccountID,
		Action:         action,
		TargetType:     targetType,
		TargetID:       targetID,
		OccurredAt:     time.Now().UTC(),
		Metadata:       metadata,
		Outcome:        OutcomeSuccess,
	}
}
