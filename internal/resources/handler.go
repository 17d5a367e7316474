package resources

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/permissions"
	"github.com/infrapanel/infrapanel/internal/platform/httpx"
	"github.com/infrapanel/infrapanel/internal/shared"
)

// Handler exposes the priority swap.
type Handler struct {
	logger  *slog.Logger
	service *SwapService
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *SwapService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers resource routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/{kind}/swap", h.swap)
}

type swapRequest struct {
	FirstID  uuid.UUID `json:"first_id"`
	SecondID uuid.UUID `json:"second_id"`
}

func (h *Handler) swap(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, permissions.ErrUnauthorized)
		return
	}
	kind, err := permissions.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req swapRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.FirstID == uuid.Nil || req.SecondID == uuid.Nil {
		httpx.RespondError(w, httpx.Kind(httpx.ErrValidation, "first_id and second_id are required"))
		return
	}
	result, err := h.service.Swap(r.Context(), actor, kind, req.FirstID, req.SecondID)
	if err != nil {
		h.logger.Warn("swap priorities failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
