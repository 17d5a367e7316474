package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{Kind(ErrNotFound, "role not found"), http.StatusNotFound},
		{fmt.Errorf("delete: %w", Kind(ErrConflict, "system role")), http.StatusConflict},
		{Kind(ErrValidation, "bad"), http.StatusBadRequest},
		{Kind(ErrForbidden, "no write"), http.StatusForbidden},
		{Kind(ErrUnauthorized, "no user"), http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.status, body.Status)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection refused"))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Detail)
}

func TestKindKeepsMessage(t *testing.T) {
	err := Kind(ErrConflict, "cannot delete system role")
	assert.Equal(t, "cannot delete system role", err.Error())
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
}
