package shared

import (
	"context"

	"github.com/infrapanel/infrapanel/internal/audit"
)

// AuditSink accepts history events. Implementations must return write failures.
type AuditSink interface {
	Record(ctx context.Context, ev audit.Event) error
}
