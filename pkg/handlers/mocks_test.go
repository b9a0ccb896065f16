package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
	"github.com/uplift-analytics/warehouse-engine/pkg/services"
	enginesql "github.com/uplift-analytics/warehouse-engine/pkg/sql"
)

// doRequest sends a request through the mux with trusted gateway headers set.
func doRequest(t *testing.T, mux *http.ServeMux, method, path string, org uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Org-ID", org.String())
	req.Header.Set("X-User-ID", "test-user")
	req.Header.Set("X-User-Role", "admin")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// newRawRequest builds a request with no identity headers set.
func newRawRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// mockDataSourceService is a configurable services.DataSourceService.
type mockDataSourceService struct {
	ds       *models.DataSource
	view     *services.DataSourceView
	query    *models.ExposureQuery
	datasets []string
	err      error
	testErr  error
}

func (m *mockDataSourceService) Create(ctx context.Context, ds *models.DataSource) (*models.DataSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	ds.ID = uuid.New()
	return ds, nil
}

func (m *mockDataSourceService) CreateManaged(ctx context.Context, org uuid.UUID, name string) (*models.DataSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.ds, nil
}

func (m *mockDataSourceService) Get(ctx context.Context, org, id uuid.UUID) (*services.DataSourceView, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.view, nil
}

func (m *mockDataSourceService) List(ctx context.Context, org uuid.UUID) ([]*services.DataSourceView, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.view == nil {
		return nil, nil
	}
	return []*services.DataSourceView{m.view}, nil
}

func (m *mockDataSourceService) Update(ctx context.Context, org, id uuid.UUID, update services.DataSourceUpdate) (*services.DataSourceView, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.view, nil
}

func (m *mockDataSourceService) UpdateExposureQuery(ctx context.Context, org, dsID uuid.UUID, queryID string, update models.ExposureQueryUpdate) (*models.ExposureQuery, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.query, nil
}

func (m *mockDataSourceService) ListDatasets(ctx context.Context, org, id uuid.UUID) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.datasets, nil
}

func (m *mockDataSourceService) Delete(ctx context.Context, org, id uuid.UUID) error {
	return m.err
}

func (m *mockDataSourceService) TestConnection(ctx context.Context, dsType models.DataSourceType, params map[string]any) error {
	return m.testErr
}

var _ services.DataSourceService = (*mockDataSourceService)(nil)

// mockQueryService is a configurable services.QueryService.
type mockQueryService struct {
	execution *services.QueryExecution
	runs      []*models.QueryRun
	err       error

	capturedSQL   string
	capturedLimit int
}

func (m *mockQueryService) TestQuery(ctx context.Context, org, dsID uuid.UUID, sqlTemplate string, vars enginesql.TemplateVariables) (*services.QueryExecution, error) {
	m.capturedSQL = sqlTemplate
	if m.err != nil {
		return nil, m.err
	}
	return m.execution, nil
}

func (m *mockQueryService) RunQuery(ctx context.Context, org, dsID uuid.UUID, sqlQuery string, limit int) (*services.QueryExecution, error) {
	m.capturedSQL = sqlQuery
	m.capturedLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.execution, nil
}

func (m *mockQueryService) History(ctx context.Context, org, dsID uuid.UUID, limit int) ([]*models.QueryRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.runs, nil
}

var _ services.QueryService = (*mockQueryService)(nil)

// mockDimensionSlicesService is a configurable services.DimensionSlicesService.
type mockDimensionSlicesService struct {
	run *models.DimensionSlicesRun
	err error
}

func (m *mockDimensionSlicesService) Start(ctx context.Context, org, dsID uuid.UUID, exposureQueryID string, lookbackDays int) (*models.DimensionSlicesRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.run, nil
}

func (m *mockDimensionSlicesService) Get(ctx context.Context, org, runID uuid.UUID) (*models.DimensionSlicesRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.run, nil
}

func (m *mockDimensionSlicesService) Latest(ctx context.Context, org, dsID uuid.UUID, exposureQueryID string) (*models.DimensionSlicesRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.run, nil
}

func (m *mockDimensionSlicesService) Cancel(ctx context.Context, org, runID uuid.UUID) (*models.DimensionSlicesRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.run, nil
}

var _ services.DimensionSlicesService = (*mockDimensionSlicesService)(nil)

// mockMaterializedColumnService is a configurable services.MaterializedColumnService.
type mockMaterializedColumnService struct {
	column *models.MaterializedColumn
	drift  *services.ColumnDrift
	err    error

	capturedOriginal string
}

func (m *mockMaterializedColumnService) Add(ctx context.Context, org, dsID uuid.UUID, column models.MaterializedColumn) (*models.MaterializedColumn, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.column, nil
}

func (m *mockMaterializedColumnService) Update(ctx context.Context, org, dsID uuid.UUID, originalName string, column models.MaterializedColumn) (*models.MaterializedColumn, error) {
	m.capturedOriginal = originalName
	if m.err != nil {
		return nil, m.err
	}
	return m.column, nil
}

func (m *mockMaterializedColumnService) Delete(ctx context.Context, org, dsID uuid.UUID, columnName string) error {
	m.capturedOriginal = columnName
	return m.err
}

func (m *mockMaterializedColumnService) Reconcile(ctx context.Context, org, dsID uuid.UUID) (*services.ColumnDrift, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.drift, nil
}

var _ services.MaterializedColumnService = (*mockMaterializedColumnService)(nil)

func newTestMiddleware() *auth.Middleware {
	return auth.NewMiddleware(zap.NewNop())
}
