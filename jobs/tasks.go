package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCleanupStaleGrants removes grants whose server or vm no longer exists.
	TaskCleanupStaleGrants = "permissions:cleanup_stale"
)

// CleanupStalePayload selects the resource kind to clean. Empty means every kind.
type CleanupStalePayload struct {
	Kind string `json:"kind,omitempty"`
}

// NewCleanupStaleTask constructs an Asynq task.
func NewCleanupStaleTask(kind string) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupStalePayload{Kind: kind})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCleanupStaleGrants, data, asynq.Queue(QueueDefault)), nil
}
