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

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CacheWarmer is the slice of the policy cache the warm job needs.
type CacheWarmer interface {
	WarmAll(ctx context.Context) error
}

// CacheWarmJob pre-populates the policy cache for every role so that
// request-path lookups start hot after a deploy or a flush.
type CacheWarmJob struct {
	Cache   CacheWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheWarmJob wires dependencies for the warm handler.
func NewCacheWarmJob(cache CacheWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmJob {
	return &CacheWarmJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes cache warm tasks.
func (j *CacheWarmJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("cache warm: handler not configured")
	}
	var payload CacheWarmPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCacheWarm)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	if payload.Reason != "" {
		logger = logger.With(slog.String("reason", payload.Reason))
	}
	logger.Info("starting policy cache warm")

	warmCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	if err := j.Cache.WarmAll(warmCtx); err != nil {
		resultErr = err
		logger.Error("warm policy cache", slog.Any("error", err))
		return resultErr
	}
	logger.Info("completed policy cache warm", slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *CacheWarmJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarm))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarm))
}

func (j *CacheWarmJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
