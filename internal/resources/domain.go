package resources

import (
	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/permissions"
)

// Resource is a server or a vm as far as ordering is concerned.
type Resource struct {
	ID       uuid.UUID                `json:"id"`
	Kind     permissions.ResourceKind `json:"kind"`
	Name     string                   `json:"name"`
	Priority int                      `json:"priority"`
}

// SwapResult holds both resources after their priorities were exchanged.
type SwapResult struct {
	First  Resource `json:"first"`
	Second Resource `json:"second"`
}
