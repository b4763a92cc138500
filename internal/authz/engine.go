package authz

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gatehouse-io/gatehouse/internal/observability"
	"github.com/gatehouse-io/gatehouse/internal/shared"
)

const defaultApplication = "backend"

// PolicyChecker answers whether a single role permits an action on a
// normalized resource. Implemented by the policy cache.
type PolicyChecker interface {
	IsPermitted(ctx context.Context, role, resource, action, application string) (bool, error)
}

// DecisionRecorder receives every evaluated decision. Implemented by the
// audit sink; recording failures never change the outcome.
type DecisionRecorder interface {
	Record(ctx context.Context, d shared.Decision) error
}

// Engine is the single decision point of the system. It holds no state of
// its own; every call is computed from the current cache/store content and
// is safe for unbounded concurrent use.
type Engine struct {
	checker PolicyChecker
	logger  *slog.Logger
	audit   DecisionRecorder
	metrics *observability.Metrics
}

// NewEngine constructs the engine. audit and metrics may be nil.
func NewEngine(checker PolicyChecker, logger *slog.Logger, audit DecisionRecorder, metrics *observability.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{checker: checker, logger: logger, audit: audit, metrics: metrics}
}

// IsAuthorized reports whether any of the roles permits the action on the
// resource within the application scope. Roles are a logical OR; an empty
// role list denies. Every internal failure is absorbed and denies; a broken
// cache or store must never silently permit.
func (e *Engine) IsAuthorized(ctx context.Context, roles []string, resource, action, application string) bool {
	if application == "" {
		application = defaultApplication
	}
	normalized := Normalize(resource)
	action = strings.ToUpper(strings.TrimSpace(action))

	permitted := false
	reason := "no matching policy"
	for _, role := range roles {
		ok, err := e.checker.IsPermitted(ctx, role, normalized, action, application)
		if err != nil {
			// Fail closed for this role and keep evaluating the rest.
			e.logger.Warn("authorization check failed",
				slog.String("role", role),
				slog.String("resource", normalized),
				slog.String("action", action),
				slog.Any("error", err))
			reason = "evaluation error"
			continue
		}
		if ok {
			permitted = true
			reason = "policy match: " + role
			break
		}
	}

	e.observe(ctx, roles, normalized, action, application, permitted, reason)
	return permitted
}

func (e *Engine) observe(ctx context.Context, roles []string, resource, action, application string, permitted bool, reason string) {
	if e.metrics != nil {
		e.metrics.RecordDecision(permitted)
	}
	if e.audit == nil {
		return
	}
	d := shared.Decision{
		Roles:       roles,
		Resource:    resource,
		Action:      action,
		Application: application,
		Permitted:   permitted,
		Reason:      reason,
	}
	if p, ok := shared.PrincipalFromContext(ctx); ok {
		d.PrincipalID = p.ID
	}
	_ = e.audit.Record(ctx, d)
}
