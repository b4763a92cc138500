// Package jobs hosts the Asynq worker, task definitions and the HTTP
// surface for job observability.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheWarm rebuilds the policy cache for every role.
	TaskCacheWarm = "cache:warm"
	// TaskAssignmentSweep deactivates role assignments past their expiry.
	TaskAssignmentSweep = "assignments:sweep"
)

// CacheWarmPayload parameterises a cache warm run.
type CacheWarmPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewCacheWarmTask constructs an Asynq task.
func NewCacheWarmTask(payload CacheWarmPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarm, data), nil
}

// AssignmentSweepPayload parameterises a sweep run.
type AssignmentSweepPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewAssignmentSweepTask constructs an Asynq task.
func NewAssignmentSweepTask(payload AssignmentSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAssignmentSweep, data), nil
}
