package authz

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

// RoleResolver yields the role codes currently in force for a principal.
// Implemented by the assignment service.
type RoleResolver interface {
	ActiveRoleCodes(ctx context.Context, userID int64) ([]string, error)
}

// Guard wires the engine into HTTP handlers: it resolves the principal's
// active roles and asks the engine about the incoming path and method.
// Requests without a resolved principal are denied outright.
type Guard struct {
	Engine   *Engine
	Resolver RoleResolver
	Logger   *slog.Logger
}

// Protect returns middleware that permits the request only when the engine
// authorizes the principal's roles for the request method and path.
func (g Guard) Protect(application string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			roles, err := g.Resolver.ActiveRoleCodes(r.Context(), principal.ID)
			if err != nil {
				if g.Logger != nil {
					g.Logger.Warn("resolve active roles", slog.Int64("principal", principal.ID), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if !g.Engine.IsAuthorized(r.Context(), roles, r.URL.Path, r.Method, application) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
