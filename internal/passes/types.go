package passes

import (
	"errors"
	"time"
)

// Status is the usage state of a pass. Used and cancelled are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusUsed      Status = "used"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool { return s == StatusUsed || s == StatusCancelled }

// Pass is a single vehicle access pass. CarNumber keeps the owner's spelling;
// CarNumberNormalized is the canonical form used for matching. UsedAt and
// UsedBy are set together, exactly once, atomically with the used transition.
// Archived is flipped only by the retention sweep and never affects Status.
type Pass struct {
	ID                  string     `json:"id"`
	OwnerAccountID      string     `json:"owner_account_id"`
	CarNumber           string     `json:"car_number"`
	CarNumberNormalized string     `json:"-"`
	Status              Status     `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	UsedAt              *time.Time `json:"used_at,omitempty"`
	UsedByAccountID     string     `json:"used_by_account_id,omitempty"`
	Archived            bool       `json:"archived"`
}

var (
	ErrNotFound = errors.New("pass not found")

	// ErrAlreadyTerminal: the caller observed a pass already used or
	// cancelled before attempting the transition.
	ErrAlreadyTerminal = errors.New("pass already in a terminal status")

	// ErrConflict: the guarded active -> used/cancelled update matched zero
	// rows because a concurrent transition committed first.
	ErrConflict = errors.New("concurrent transition won the race")

	ErrOwnerNotEligible = errors.New("owner account is not approved")
	ErrPassLimit        = errors.New("active pass limit reached")
	ErrDuplicatePass    = errors.New("owner already has an active pass for this car number")
	ErrInvalidInput     = errors.New("invalid input")
)
