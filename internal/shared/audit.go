package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Decision records the outcome of a single authorization check.
type Decision struct {
	ID          uuid.UUID
	PrincipalID int64
	Roles       []string
	Resource    string
	Action      string
	Application string
	Permitted   bool
	Reason      string
	At          time.Time
}

// DecisionLogger persists authorization decisions into authz_decisions.
// Logging failures never influence the decision itself.
type DecisionLogger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewDecisionLogger returns a new DecisionLogger.
func NewDecisionLogger(pool *pgxpool.Pool, logger *slog.Logger) *DecisionLogger {
	return &DecisionLogger{pool: pool, logger: logger}
}

// Record persists the decision entry.
func (l *DecisionLogger) Record(ctx context.Context, d Decision) error {
	if l == nil || l.pool == nil {
		return errors.New("decision logger not initialised")
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO authz_decisions (id, principal_id, roles, resource, action, application, permitted, reason, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.PrincipalID, d.Roles, d.Resource, d.Action, d.Application, d.Permitted, d.Reason, d.At)
	if err != nil && l.logger != nil {
		l.logger.Warn("record decision", slog.Any("error", err))
	}
	return err
}
