package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gatehouse-io/gatehouse/internal/jobs"
)

// AssignmentSweeper is the slice of the assignments service the sweep
// job needs.
type AssignmentSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// AssignmentSweepJob deactivates assignments whose expiry has passed.
// Authorization is already correct without it; the sweep only keeps the
// table and its stats tidy.
type AssignmentSweepJob struct {
	Assignments AssignmentSweeper
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewAssignmentSweepJob wires dependencies for the sweep handler.
func NewAssignmentSweepJob(assignments AssignmentSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *AssignmentSweepJob {
	return &AssignmentSweepJob{Assignments: assignments, Logger: logger, Metrics: metrics}
}

// Handle processes assignment sweep tasks.
func (j *AssignmentSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Assignments == nil {
		return errors.New("assignment sweep: handler not configured")
	}
	var payload AssignmentSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAssignmentSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	swept, err := j.Assignments.SweepExpired(sweepCtx)
	if err != nil {
		resultErr = err
		j.logger().Error("sweep expired assignments", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddSwept(swept)
	j.logger().Info("completed assignment sweep", slog.Int64("swept", swept))
	return resultErr
}

func (j *AssignmentSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAssignmentSweep))
	}
	return slog.Default().With(slog.String("job", TaskAssignmentSweep))
}

func (j *AssignmentSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
