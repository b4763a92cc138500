// Package roles manages the role catalogue: creation, renaming,
// activation state and the invariants protecting system roles.
package roles

import "time"

// State is the lifecycle state of a role.
type State string

const (
	StateActive   State = "ACTIVE"
	StateInactive State = "INACTIVE"
)

// Role is a named permission grouping referenced by policies (via Code)
// and by role assignments (via ID). The code is immutable once created;
// system roles additionally can never be deleted.
type Role struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	IsSystemRole bool      `json:"is_system_role"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
