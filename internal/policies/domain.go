// Package policies owns the durable policy store, the Redis cache-aside
// layer over it and the administrative surface that mutates both.
package policies

import "time"

// DefaultApplication is the scope tag assumed when a caller supplies none.
const DefaultApplication = "backend"

// Action enumerates the HTTP-style verbs a policy can grant.
type Action string

const (
	ActionGet    Action = "GET"
	ActionPost   Action = "POST"
	ActionPut    Action = "PUT"
	ActionPatch  Action = "PATCH"
	ActionDelete Action = "DELETE"
)

// Valid reports whether the action is one of the supported verbs.
func (a Action) Valid() bool {
	switch a {
	case ActionGet, ActionPost, ActionPut, ActionPatch, ActionDelete:
		return true
	}
	return false
}

// Policy grants a role permission to perform an action on a resource
// pattern within an application scope. A resource ending in "/*" is a
// wildcard policy covering every path under its base.
type Policy struct {
	ID          int64     `json:"id"`
	Role        string    `json:"role"`
	Resource    string    `json:"resource"`
	Action      Action    `json:"action"`
	Application string    `json:"application"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Filters narrows paginated policy listings. All present fields are ANDed;
// Resource matches by substring.
type Filters struct {
	Role        string
	Resource    string
	Action      Action
	Application string
}
