package rbac

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrapanel/infrapanel/internal/shared"
)

func newTestRouter(f fixture) http.Handler {
	h := NewHandler(slog.Default(), f.svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithUserID(req.Context(), f.actor)))
		})
	})
	r.Route("/roles", h.MountRoleRoutes)
	r.Route("/users", h.MountUserRoutes)
	return r
}

func TestHandlerDeleteSystemRoleConflict(t *testing.T) {
	f := newFixture()
	guest := f.store.addRole(RoleGuest, false)
	router := newTestRouter(f)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/roles/"+guest.ID.String(), nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandlerCreateRole(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/roles", strings.NewReader(`{"name":"DEVELOPER"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var role Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	assert.Equal(t, "DEVELOPER", role.Name)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/roles", strings.NewReader(`{"name":"X","bogus":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerUpdateUserRolesConflict(t *testing.T) {
	f := newFixture()
	dev := f.store.addRole("DEVELOPER", false)
	user := f.store.addUser("u@example.com", dev)
	router := newTestRouter(f)

	body := `{"add_role_id":"` + dev.ID.String() + `","role_ids":["` + dev.ID.String() + `"]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/users/"+user.String()+"/roles", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
