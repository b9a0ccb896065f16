package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequireIdentity(t *testing.T) {
	mw := NewMiddleware(zap.NewNop())

	var captured *Identity
	handler := mw.RequireIdentity(func(w http.ResponseWriter, r *http.Request) {
		id, err := ExtractIdentity(r.Context())
		require.NoError(t, err)
		captured = id
		w.WriteHeader(http.StatusOK)
	})

	t.Run("attaches the identity from gateway headers", func(t *testing.T) {
		org := uuid.New()
		req := httptest.NewRequest(http.MethodGet, "/api/datasources", nil)
		req.Header.Set("X-Org-ID", org.String())
		req.Header.Set("X-User-ID", "u-1")
		req.Header.Set("X-User-Role", "Analyst")

		rec := httptest.NewRecorder()
		handler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, captured)
		assert.Equal(t, org, captured.Organization)
		assert.Equal(t, "u-1", captured.UserID)
		assert.Equal(t, RoleAnalyst, captured.Role)
	})

	t.Run("missing role defaults to readonly", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/datasources", nil)
		req.Header.Set("X-Org-ID", uuid.NewString())

		rec := httptest.NewRecorder()
		handler(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, RoleReadonly, captured.Role)
	})

	t.Run("missing org header is 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/datasources", nil)
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed org header is 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/datasources", nil)
		req.Header.Set("X-Org-ID", "not-a-uuid")
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown role is 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/datasources", nil)
		req.Header.Set("X-Org-ID", uuid.NewString())
		req.Header.Set("X-User-Role", "superuser")
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
