// Package assignments binds users to roles, optionally for a bounded
// period. Expiry is evaluated lazily: an assignment past its expires_at
// simply stops being in force, no background mutation is required for
// correctness.
package assignments

import "time"

// State is the lifecycle state of an assignment.
type State string

const (
	StateActive   State = "ACTIVE"
	StateInactive State = "INACTIVE"
)

// Assignment links a user to a role. A (user, role) pair has at most one
// row; revoking deactivates it and a later re-grant reactivates the same
// row with fresh grant metadata, clearing the revocation fields.
type Assignment struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	RoleCode   string     `json:"role_code,omitempty"`
	State      State      `json:"state"`
	AssignedBy int64      `json:"assigned_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedBy  *int64     `json:"revoked_by,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// InForce reports whether the assignment currently grants its role.
func (a Assignment) InForce(now time.Time) bool {
	if a.State != StateActive {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Stats summarises the assignment table for the admin surface.
type Stats struct {
	Total                  int     `json:"total"`
	Active                 int     `json:"active"`
	Inactive               int     `json:"inactive"`
	Expired                int     `json:"expired"`
	DistinctUsersWithRoles int     `json:"distinct_users_with_roles"`
	AvgRolesPerActiveUser  float64 `json:"avg_roles_per_active_user"`
}

// BulkResult reports the outcome of a best-effort batch grant.
type BulkResult struct {
	Granted []int64          `json:"granted"`
	Failed  map[int64]string `json:"failed,omitempty"`
}
