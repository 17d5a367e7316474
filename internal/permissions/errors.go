package permissions

import "github.com/infrapanel/infrapanel/internal/platform/httpx"

// UnknownErrorMessage replaces failures that carry no usable message.
const UnknownErrorMessage = "Unknown error occurred"

// MaxBatchSize bounds the number of descriptors accepted by BatchCreate.
const MaxBatchSize = 100

var (
	// ErrNotFound indicates that the grant does not exist.
	ErrNotFound = httpx.Kind(httpx.ErrNotFound, "permissions: grant not found")
	// ErrRoleNotFound indicates that the referenced role does not exist.
	ErrRoleNotFound = httpx.Kind(httpx.ErrNotFound, "permissions: role not found")
	// ErrResourceNotFound indicates that the referenced server or vm does not exist.
	ErrResourceNotFound = httpx.Kind(httpx.ErrNotFound, "permissions: resource not found")
	// ErrUnauthorized is returned when the user is unknown or holds no roles.
	ErrUnauthorized = httpx.Kind(httpx.ErrUnauthorized, "permissions: user not found or holds no roles")
	// ErrForbidden is returned when a required capability is missing.
	ErrForbidden = httpx.Kind(httpx.ErrForbidden, "permissions: missing required capability")
	// ErrInvalidKind is returned for an unknown resource kind.
	ErrInvalidKind = httpx.Kind(httpx.ErrValidation, "permissions: unknown resource kind")
	// ErrInvalidBitmask is returned for a negative bitmask.
	ErrInvalidBitmask = httpx.Kind(httpx.ErrValidation, "permissions: bitmask must not be negative")
	// ErrBatchSize is returned when a batch is empty or too large.
	ErrBatchSize = httpx.Kind(httpx.ErrValidation, "permissions: batch must contain between 1 and 100 grants")
)
