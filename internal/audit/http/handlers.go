package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/audit"
	"github.com/infrapanel/infrapanel/internal/platform/httpx"
)

// TimelineService adalah kontrak service yang dibutuhkan handler.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler melayani endpoint audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler membuat handler audit.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	filters := audit.TimelineFilters{
		Entity:   strings.TrimSpace(q.Get("entity")),
		EntityID: strings.TrimSpace(q.Get("entity_id")),
		Action:   strings.TrimSpace(q.Get("action")),
	}
	if raw := strings.TrimSpace(q.Get("actor")); raw != "" {
		actor, err := uuid.Parse(raw)
		if err != nil {
			return filters, httpx.Kind(httpx.ErrValidation, "audit: invalid actor id")
		}
		filters.Actor = &actor
	}
	for name, dest := range map[string]*time.Time{"from": &filters.From, "to": &filters.To} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, httpx.Kind(httpx.ErrValidation, "audit: invalid "+name+" timestamp")
		}
		*dest = ts
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	return filters, nil
}
