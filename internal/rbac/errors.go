package rbac

import "github.com/infrapanel/infrapanel/internal/platform/httpx"

var (
	// ErrNotFound indicates that the requested role does not exist.
	ErrNotFound = httpx.Kind(httpx.ErrNotFound, "rbac: role not found")
	// ErrUserNotFound indicates that the requested user does not exist.
	ErrUserNotFound = httpx.Kind(httpx.ErrNotFound, "rbac: user not found")
	// ErrNameRequired is returned for a blank role name.
	ErrNameRequired = httpx.Kind(httpx.ErrValidation, "rbac: role name required")
	// ErrRoleNameTaken is returned when another role already uses the name.
	ErrRoleNameTaken = httpx.Kind(httpx.ErrConflict, "rbac: role name already in use")
	// ErrCannotDeleteSystemRole guards ADMIN and GUEST.
	ErrCannotDeleteSystemRole = httpx.Kind(httpx.ErrConflict, "rbac: system roles cannot be deleted")
	// ErrCannotDeleteLastAdminRole keeps at least one admin role around.
	ErrCannotDeleteLastAdminRole = httpx.Kind(httpx.ErrConflict, "rbac: cannot delete the last admin role")
	// ErrCannotRemoveLastGuestRole is returned when GUEST is a user's only role.
	ErrCannotRemoveLastGuestRole = httpx.Kind(httpx.ErrConflict, "rbac: cannot remove the last guest role")
	// ErrAdminRoleAlreadyExists is returned when an admin role is already present.
	ErrAdminRoleAlreadyExists = httpx.Kind(httpx.ErrConflict, "rbac: an admin role already exists")
	// ErrConflictingUpdate is returned when a toggle and a full replace are combined.
	ErrConflictingUpdate = httpx.Kind(httpx.ErrConflict, "rbac: cannot toggle a role and replace the role list in one call")
)

// ErrCannotRenameSystemRole is returned when ADMIN or GUEST would lose its name.
var ErrCannotRenameSystemRole = httpx.Kind(httpx.ErrConflict, "rbac: system roles cannot be renamed")
