package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/infrapanel/infrapanel/internal/permissions"
)

// StaleCleaner removes grants pointing at deleted resources.
type StaleCleaner interface {
	CleanupStale(ctx context.Context, kind permissions.ResourceKind) (int64, error)
}

// JobRecorder observes job executions.
type JobRecorder interface {
	ObserveJob(taskType string, err error)
}

// CleanupStaleJob handles TaskCleanupStaleGrants.
type CleanupStaleJob struct {
	Cleaner StaleCleaner
	Logger  *slog.Logger
	Metrics JobRecorder
}

// NewCleanupStaleJob initialises the cleanup handler.
func NewCleanupStaleJob(cleaner StaleCleaner, logger *slog.Logger, metrics JobRecorder) *CleanupStaleJob {
	return &CleanupStaleJob{Cleaner: cleaner, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup for the requested kinds.
func (j *CleanupStaleJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Cleaner == nil {
		return errors.New("cleanup stale: handler not configured")
	}
	var payload CleanupStalePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("cleanup stale: decode payload: %w", asynq.SkipRetry)
		}
	}
	kinds := permissions.Kinds()
	if payload.Kind != "" {
		kind, err := permissions.ParseKind(payload.Kind)
		if err != nil {
			return fmt.Errorf("cleanup stale: %v: %w", err, asynq.SkipRetry)
		}
		kinds = []permissions.ResourceKind{kind}
	}

	if j.Metrics != nil {
		defer func() { j.Metrics.ObserveJob(TaskCleanupStaleGrants, resultErr) }()
	}

	var total int64
	for _, kind := range kinds {
		n, err := j.Cleaner.CleanupStale(ctx, kind)
		if err != nil {
			j.logger().Error("cleanup stale grants", slog.String("kind", string(kind)), slog.Any("error", err))
			return err
		}
		total += n
	}
	j.logger().Info("stale grant cleanup finished", slog.Int64("removed", total))
	return nil
}

func (j *CleanupStaleJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
