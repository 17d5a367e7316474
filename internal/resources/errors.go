package resources

import "github.com/infrapanel/infrapanel/internal/platform/httpx"

var (
	// ErrNotFound indicates that a swap target does not exist.
	ErrNotFound = httpx.Kind(httpx.ErrNotFound, "resources: resource not found")
	// ErrSameResource is returned when both swap targets are the same resource.
	ErrSameResource = httpx.Kind(httpx.ErrValidation, "resources: cannot swap a resource with itself")
)
