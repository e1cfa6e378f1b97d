package directory

import (
	"errors"
	"time"
)

// Role is fixed at creation and only changes through ReassignRole.
type Role string

const (
	RoleResident Role = "resident"
	RoleSecurity Role = "security"
	RoleAdmin    Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleResident, RoleSecurity, RoleAdmin:
		return true
	}
	return false
}

// CanModerate reports whether the role may decide registrations and
// block/unblock accounts.
func (r Role) CanModerate() bool { return r == RoleAdmin }

// CanUsePasses reports whether the role may mark passes used at the gate.
func (r Role) CanUsePasses() bool { return r == RoleSecurity || r == RoleAdmin }

// Status is the stored moderation state of an account.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusBlocked  Status = "blocked"
)

// Account is a registered identity. ExternalIdentity is the caller's
// messaging identity: unique and immutable. BlockedUntil and BlockReason are
// set iff Status is blocked.
type Account struct {
	ID               string     `json:"id"`
	ExternalIdentity string     `json:"external_identity"`
	Role             Role       `json:"role"`
	FullName         string     `json:"full_name"`
	PhoneNumber      string     `json:"phone_number"`
	Apartment        string     `json:"apartment,omitempty"` // resident-only
	Status           Status     `json:"status"`
	BlockedUntil     *time.Time `json:"blocked_until,omitempty"`
	BlockReason      string     `json:"block_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Decision is the moderation verdict on a pending account.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

var (
	ErrDuplicateIdentity = errors.New("external identity already registered")
	ErrNotFound          = errors.New("account not found")

	// ErrInvalidTransition: the request is logically impossible given the
	// current durable state (e.g. approving a non-pending account).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict: a valid transition lost a concurrent race; the guarded
	// update matched zero rows. Retrying is the caller's choice.
	ErrConflict = errors.New("concurrent transition won the race")

	ErrForbidden    = errors.New("actor role does not permit this action")
	ErrInvalidInput = errors.New("invalid input")
)
