package shared

import "errors"

var (
	// ErrNotFound indicates the referenced role, policy or assignment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate row or an operation blocked by a business invariant.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable indicates the durable store is unreachable or timed out.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCacheUnavailable indicates the cache backend failed; readers degrade to the store.
	ErrCacheUnavailable = errors.New("cache unavailable")
)
