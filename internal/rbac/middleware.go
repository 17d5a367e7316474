package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/infrapanel/infrapanel/internal/platform/httpx"
	"github.com/infrapanel/infrapanel/internal/shared"
)

// AdminChecker answers whether a user holds an admin-flagged role.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Middleware wires authentication and admin gating for HTTP handlers.
type Middleware struct {
	Tokens *Tokens
	Admins AdminChecker
	Logger *slog.Logger
}

var (
	errMissingToken = httpx.Kind(httpx.ErrUnauthorized, "missing bearer token")
	errBadToken     = httpx.Kind(httpx.ErrUnauthorized, "invalid bearer token")
	errNotAdmin     = httpx.Kind(httpx.ErrForbidden, "admin role required")
)

// Principal authenticates the bearer token and stores the user id in context.
func (m Middleware) Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			httpx.RespondError(w, errMissingToken)
			return
		}
		userID, err := m.Tokens.Parse(raw)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Debug("rbac reject token", slog.Any("error", err))
			}
			httpx.RespondError(w, errBadToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), userID)))
	})
}

// RequireAdmin lets the request through only when the caller holds an admin role.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := shared.UserIDFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, errMissingToken)
			return
		}
		admin, err := m.Admins.IsAdmin(r.Context(), userID)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("rbac require admin", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		if !admin {
			httpx.RespondError(w, errNotAdmin)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
