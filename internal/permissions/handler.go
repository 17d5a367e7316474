package permissions

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/platform/httpx"
	"github.com/infrapanel/infrapanel/internal/shared"
)

// Handler exposes grant management over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *Resolver
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver) *Handler {
	return &Handler{logger: logger, service: service, resolver: resolver}
}

// MountRoutes registers grant routes. Callers are expected to gate the router
// with admin middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{kind}", func(r chi.Router) {
		r.Post("/", h.create)
		r.With(httprate.LimitByIP(20, time.Minute)).Post("/batch", h.batchCreate)
		r.Get("/role/{roleID}", h.listByRole)
		r.Get("/lookup", h.lookup)
		r.Get("/{grantID}", h.get)
		r.Put("/{grantID}", h.update)
		r.Delete("/{grantID}", h.delete)
	})
}

// MountSelfRoutes registers routes describing the caller's own grants.
func (h *Handler) MountSelfRoutes(r chi.Router) {
	r.Get("/", h.effectiveForCaller)
	r.Get("/{kind}", h.effectiveKindForCaller)
}

type updateRequest struct {
	Bitmask *Bitmask `json:"bitmask"`
}

type batchRequest struct {
	Grants []CreateGrant `json:"grants"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	kind, actor, ok := h.kindAndActor(w, r)
	if !ok {
		return
	}
	var req CreateGrant
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	grant, err := h.service.Create(r.Context(), actor, kind, req)
	if err != nil {
		h.fail(w, "create grant", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grant)
}

func (h *Handler) batchCreate(w http.ResponseWriter, r *http.Request) {
	kind, actor, ok := h.kindAndActor(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.BatchCreate(r.Context(), actor, kind, req.Grants)
	if err != nil {
		h.fail(w, "batch create grants", err)
		return
	}
	status := http.StatusCreated
	if result.FailureCount > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) listByRole(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roleID, err := parseID(chi.URLParam(r, "roleID"), "role id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grants, err := h.service.ListByRole(r.Context(), kind, roleID)
	if err != nil {
		h.fail(w, "list grants by role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grants)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roleID, err := parseID(r.URL.Query().Get("role_id"), "role id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var resourceID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("resource_id")); raw != "" {
		id, err := parseID(raw, "resource id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		resourceID = &id
	}
	grant, err := h.service.GetByResourceAndRole(r.Context(), kind, resourceID, roleID)
	if err != nil {
		h.fail(w, "lookup grant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := parseID(chi.URLParam(r, "grantID"), "grant id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grant, err := h.service.Get(r.Context(), kind, id)
	if err != nil {
		h.fail(w, "get grant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	kind, actor, ok := h.kindAndActor(w, r)
	if !ok {
		return
	}
	id, err := parseID(chi.URLParam(r, "grantID"), "grant id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Bitmask == nil {
		httpx.RespondError(w, httpx.Kind(httpx.ErrValidation, "bitmask is required"))
		return
	}
	grant, err := h.service.Update(r.Context(), actor, kind, id, *req.Bitmask)
	if err != nil {
		h.fail(w, "update grant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	kind, actor, ok := h.kindAndActor(w, r)
	if !ok {
		return
	}
	id, err := parseID(chi.URLParam(r, "grantID"), "grant id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), actor, kind, id); err != nil {
		h.fail(w, "delete grant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) effectiveForCaller(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, ErrUnauthorized)
		return
	}
	all, err := h.resolver.EffectiveAll(r.Context(), userID)
	if err != nil {
		h.fail(w, "resolve effective grants", err)
		return
	}
	httpx.JSON(w, http.StatusOK, all)
}

func (h *Handler) effectiveKindForCaller(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, ErrUnauthorized)
		return
	}
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grants, err := h.resolver.Effective(r.Context(), userID, kind)
	if err != nil {
		h.fail(w, "resolve effective grants", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grants)
}

func (h *Handler) kindAndActor(w http.ResponseWriter, r *http.Request) (ResourceKind, uuid.UUID, bool) {
	actor, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, ErrUnauthorized)
		return "", uuid.Nil, false
	}
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return "", uuid.Nil, false
	}
	return kind, actor, true
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
