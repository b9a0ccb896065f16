package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
	"github.com/uplift-analytics/warehouse-engine/pkg/services"
)

func newDataSourcesMux(svc *mockDataSourceService) *http.ServeMux {
	mux := http.NewServeMux()
	NewDataSourcesHandler(svc, zap.NewNop()).RegisterRoutes(mux, newTestMiddleware())
	return mux
}

func TestDataSourcesCreate(t *testing.T) {
	org := uuid.New()

	t.Run("returns 201 without echoing params", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{})

		rec := doRequest(t, mux, http.MethodPost, "/api/datasources", org, CreateDataSourceRequest{
			Name:   "Main",
			Type:   models.DataSourceTypePostgres,
			Params: map[string]any{"host": "db.internal", "password": "s3cret"},
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.NotContains(t, rec.Body.String(), "s3cret")
	})

	t.Run("maps validation failures to 400", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{
			err: fmt.Errorf("%w: data source name is required", apperrors.ErrValidation),
		})

		rec := doRequest(t, mux, http.MethodPost, "/api/datasources", org, CreateDataSourceRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps permission failures to 403", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{
			err: fmt.Errorf("%w: create data source", apperrors.ErrPermissionDenied),
		})

		rec := doRequest(t, mux, http.MethodPost, "/api/datasources", org, CreateDataSourceRequest{Name: "Main"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestDataSourcesGet(t *testing.T) {
	org := uuid.New()
	dsID := uuid.New()

	t.Run("returns the view", func(t *testing.T) {
		view := &services.DataSourceView{
			DataSource: &models.DataSource{ID: dsID, Organization: org, Name: "Main", Type: models.DataSourceTypePostgres},
		}
		mux := newDataSourcesMux(&mockDataSourceService{view: view})

		rec := doRequest(t, mux, http.MethodGet, "/api/datasources/"+dsID.String(), org, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		got := decodeBody[map[string]any](t, rec)
		assert.Equal(t, "Main", got["name"])
	})

	t.Run("invalid id is 400", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{})

		rec := doRequest(t, mux, http.MethodGet, "/api/datasources/not-a-uuid", org, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{
			err: fmt.Errorf("%w: data source", apperrors.ErrNotFound),
		})

		rec := doRequest(t, mux, http.MethodGet, "/api/datasources/"+uuid.NewString(), org, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDataSourcesDelete(t *testing.T) {
	org := uuid.New()

	t.Run("delete guard conflicts map to 409", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{
			err: fmt.Errorf("%w: data source is in use", apperrors.ErrConflict),
		})

		rec := doRequest(t, mux, http.MethodDelete, "/api/datasources/"+uuid.NewString(), org, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("success returns a status envelope", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{})

		rec := doRequest(t, mux, http.MethodDelete, "/api/datasources/"+uuid.NewString(), org, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		got := decodeBody[StatusResponse](t, rec)
		assert.True(t, got.Success)
	})
}

func TestDataSourcesListDatasets(t *testing.T) {
	org := uuid.New()

	t.Run("returns the dataset names", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{datasets: []string{"analytics", "staging"}})

		rec := doRequest(t, mux, http.MethodGet, "/api/datasources/"+uuid.NewString()+"/datasets", org, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		got := decodeBody[map[string][]string](t, rec)
		assert.Equal(t, []string{"analytics", "staging"}, got["datasets"])
	})

	t.Run("unsupported kinds map to 400", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{
			err: fmt.Errorf("%w: data source type postgres does not organize tables into datasets", apperrors.ErrUnsupported),
		})

		rec := doRequest(t, mux, http.MethodGet, "/api/datasources/"+uuid.NewString()+"/datasets", org, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDataSourcesTestConnection(t *testing.T) {
	org := uuid.New()

	t.Run("failure is a 200 with success false", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{
			testErr: fmt.Errorf("%w: ping failed", apperrors.ErrConnection),
		})

		rec := doRequest(t, mux, http.MethodPost, "/api/datasources/test", org, TestConnectionRequest{
			Type:   models.DataSourceTypePostgres,
			Params: map[string]any{"host": "db.internal"},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		got := decodeBody[StatusResponse](t, rec)
		assert.False(t, got.Success)
		assert.Contains(t, got.Message, "ping failed")
	})

	t.Run("success is a 200 with success true", func(t *testing.T) {
		mux := newDataSourcesMux(&mockDataSourceService{})

		rec := doRequest(t, mux, http.MethodPost, "/api/datasources/test", org, TestConnectionRequest{
			Type: models.DataSourceTypePostgres,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		got := decodeBody[StatusResponse](t, rec)
		assert.True(t, got.Success)
	})
}

func TestDataSourcesAuth(t *testing.T) {
	mux := newDataSourcesMux(&mockDataSourceService{})

	t.Run("missing org header is 401", func(t *testing.T) {
		req := newRawRequest(t, http.MethodGet, "/api/datasources")
		rec := serve(mux, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown role is 401", func(t *testing.T) {
		req := newRawRequest(t, http.MethodGet, "/api/datasources")
		req.Header.Set("X-Org-ID", uuid.NewString())
		req.Header.Set("X-User-Role", "superuser")
		rec := serve(mux, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
