package authz

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/internal/shared"
)

type fakeChecker struct {
	mu      sync.Mutex
	permits map[string]bool
	err     error
	calls   int
}

func permitKey(role, resource, action, application string) string {
	return strings.Join([]string{role, resource, action, application}, "|")
}

func (f *fakeChecker) IsPermitted(ctx context.Context, role, resource, action, application string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.permits[permitKey(role, resource, action, application)], nil
}

type recordingAudit struct {
	mu        sync.Mutex
	decisions []shared.Decision
}

func (a *recordingAudit) Record(ctx context.Context, d shared.Decision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisions = append(a.decisions, d)
	return nil
}

func TestIsAuthorizedPermitsOnFirstMatchingRole(t *testing.T) {
	checker := &fakeChecker{permits: map[string]bool{
		permitKey("ADMIN", "/api/v1/usuarios/42", "GET", "backend"): true,
	}}
	engine := NewEngine(checker, slog.Default(), nil, nil)

	require.True(t, engine.IsAuthorized(context.Background(), []string{"USER", "ADMIN"}, "/api/v1/usuarios/42", "GET", ""))
	require.False(t, engine.IsAuthorized(context.Background(), []string{"USER", "ADMIN"}, "/api/v1/usuarios/42", "DELETE", ""))
}

func TestIsAuthorizedDeniesEmptyRoles(t *testing.T) {
	checker := &fakeChecker{permits: map[string]bool{}}
	engine := NewEngine(checker, slog.Default(), nil, nil)

	require.False(t, engine.IsAuthorized(context.Background(), nil, "/api/v1/usuarios/perfil", "GET", ""))
	require.Zero(t, checker.calls)
}

func TestIsAuthorizedNormalizesResourceAndAction(t *testing.T) {
	checker := &fakeChecker{permits: map[string]bool{
		permitKey("USER", "/dashboard", "GET", "backend"): true,
	}}
	engine := NewEngine(checker, slog.Default(), nil, nil)

	require.True(t, engine.IsAuthorized(context.Background(), []string{"USER"}, "dashboard/?tab=1", "get", ""))
}

func TestIsAuthorizedFailsClosedOnError(t *testing.T) {
	checker := &fakeChecker{err: errors.New("cache and store both down")}
	engine := NewEngine(checker, slog.Default(), nil, nil)

	require.False(t, engine.IsAuthorized(context.Background(), []string{"ADMIN"}, "/anything", "GET", ""))
}

func TestIsAuthorizedStopsAtFirstPermit(t *testing.T) {
	checker := &fakeChecker{permits: map[string]bool{
		permitKey("A", "/x", "GET", "backend"): true,
	}}
	engine := NewEngine(checker, slog.Default(), nil, nil)

	require.True(t, engine.IsAuthorized(context.Background(), []string{"A", "B", "C"}, "/x", "GET", ""))
	require.Equal(t, 1, checker.calls)
}

func TestIsAuthorizedRecordsDecision(t *testing.T) {
	checker := &fakeChecker{permits: map[string]bool{
		permitKey("ADMIN", "/x", "GET", "backend"): true,
	}}
	audit := &recordingAudit{}
	engine := NewEngine(checker, slog.Default(), audit, nil)

	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{ID: 7})
	engine.IsAuthorized(ctx, []string{"ADMIN"}, "/x", "GET", "")
	engine.IsAuthorized(ctx, []string{"ADMIN"}, "/y", "GET", "")

	require.Len(t, audit.decisions, 2)
	require.True(t, audit.decisions[0].Permitted)
	require.Equal(t, int64(7), audit.decisions[0].PrincipalID)
	require.False(t, audit.decisions[1].Permitted)
}
