package shared

import "context"

type contextKey string

const principalKey contextKey = "principal"

// Principal identifies the already-authenticated actor behind a request.
// Resolution (JWT, session, mTLS) happens upstream; only the id travels here.
type Principal struct {
	ID int64
}

// ContextWithPrincipal stores the principal in the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
