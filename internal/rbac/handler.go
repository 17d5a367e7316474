package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/platform/httpx"
	"github.com/infrapanel/infrapanel/internal/shared"
)

// Handler manages role and user endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoleRoutes registers role routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Post("/", h.createRole)
	r.Get("/{roleID}", h.getRole)
	r.Patch("/{roleID}", h.updateRole)
	r.Delete("/{roleID}", h.deleteRole)
}

// MountUserRoutes registers user routes.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Get("/{userID}", h.getUser)
	r.Put("/{userID}/roles", h.updateUserRoles)
}

type createRoleRequest struct {
	Name              string `json:"name"`
	IsAdmin           bool   `json:"is_admin"`
	CanCreateResource bool   `json:"can_create_resource"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "roleID"), "role id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.UserIDFromContext(r.Context())
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var (
		role Role
		err  error
	)
	if req.IsAdmin {
		role, err = h.service.CreateAdminRole(r.Context(), actor, req.Name, req.CanCreateResource)
	} else {
		role, err = h.service.CreateRole(r.Context(), actor, req.Name)
	}
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.UserIDFromContext(r.Context())
	id, err := parseID(chi.URLParam(r, "roleID"), "role id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req RoleUpdate
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), actor, id, req)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.UserIDFromContext(r.Context())
	id, err := parseID(chi.URLParam(r, "roleID"), "role id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SafelyDeleteRole(r.Context(), actor, id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "userID"), "user id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) updateUserRoles(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.UserIDFromContext(r.Context())
	id, err := parseID(chi.URLParam(r, "userID"), "user id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UserRolesUpdate
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.UpdateUserRoles(r.Context(), actor, id, req)
	if err != nil {
		h.fail(w, "update user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, httpx.Kind(httpx.ErrValidation, "invalid "+what)
	}
	return id, nil
}
