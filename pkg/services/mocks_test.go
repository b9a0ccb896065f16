package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
	"github.com/uplift-analytics/warehouse-engine/pkg/repositories"
)

// adminContext returns a context authenticated as an organization admin.
func adminContext(org uuid.UUID) context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{
		Organization: org,
		UserID:       "test-user",
		Role:         auth.RoleAdmin,
	})
}

// readonlyContext returns a context authenticated with the readonly role.
func readonlyContext(org uuid.UUID) context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{
		Organization: org,
		UserID:       "test-user",
		Role:         auth.RoleReadonly,
	})
}

// mockDataSourceRepository is a configurable in-memory repository.
type mockDataSourceRepository struct {
	mu sync.Mutex

	ds        *models.DataSource
	encrypted string

	createErr         error
	getErr            error
	listErr           error
	updateErr         error
	updateSettingsErr error
	deleteErr         error

	// Capture inputs for verification
	capturedCreate    *models.DataSource
	capturedEncrypted string
	savedSettings     *models.DataSourceSettings
	deleted           bool
}

func (m *mockDataSourceRepository) Create(ctx context.Context, ds *models.DataSource, encryptedParams string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capturedCreate = ds
	m.capturedEncrypted = encryptedParams
	if m.createErr != nil {
		return m.createErr
	}
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	return nil
}

func (m *mockDataSourceRepository) GetByID(ctx context.Context, org, id uuid.UUID) (*models.DataSource, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, "", m.getErr
	}
	// Copy so callers mutating settings do not affect the stored record.
	cp := *m.ds
	return &cp, m.encrypted, nil
}

func (m *mockDataSourceRepository) List(ctx context.Context, org uuid.UUID) ([]*models.DataSource, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, nil, m.listErr
	}
	if m.ds == nil {
		return nil, nil, nil
	}
	cp := *m.ds
	return []*models.DataSource{&cp}, []string{m.encrypted}, nil
}

func (m *mockDataSourceRepository) Update(ctx context.Context, ds *models.DataSource, encryptedParams string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.capturedEncrypted = encryptedParams
	cp := *ds
	m.ds = &cp
	m.encrypted = encryptedParams
	return nil
}

func (m *mockDataSourceRepository) UpdateSettings(ctx context.Context, org, id uuid.UUID, settings models.DataSourceSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateSettingsErr != nil {
		return m.updateSettingsErr
	}
	m.savedSettings = &settings
	m.ds.Settings = settings
	return nil
}

func (m *mockDataSourceRepository) Delete(ctx context.Context, org, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = true
	return nil
}

var _ repositories.DataSourceRepository = (*mockDataSourceRepository)(nil)

// mockOrganizationRepository serves deletion-guard lookups.
type mockOrganizationRepository struct {
	defaultDataSourceID uuid.UUID
	counts              repositories.DependentCounts
	defaultErr          error
	countsErr           error
	schemaDeleted       bool
}

func (m *mockOrganizationRepository) GetDefaultDataSourceID(ctx context.Context, org uuid.UUID) (uuid.UUID, error) {
	return m.defaultDataSourceID, m.defaultErr
}

func (m *mockOrganizationRepository) CountDependents(ctx context.Context, org, datasourceID uuid.UUID) (repositories.DependentCounts, error) {
	return m.counts, m.countsErr
}

func (m *mockOrganizationRepository) DeleteInformationSchema(ctx context.Context, org, datasourceID uuid.UUID) error {
	m.schemaDeleted = true
	return nil
}

var _ repositories.OrganizationRepository = (*mockOrganizationRepository)(nil)

// mockFactTableRepository records column cache refreshes.
type mockFactTableRepository struct {
	mu             sync.Mutex
	tables         []*models.FactTable
	listErr        error
	updatedColumns map[uuid.UUID][]models.FactTableColumn
}

func (m *mockFactTableRepository) Create(ctx context.Context, ft *models.FactTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = append(m.tables, ft)
	return nil
}

func (m *mockFactTableRepository) ListByDatasource(ctx context.Context, org, datasourceID uuid.UUID) ([]*models.FactTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.tables, nil
}

func (m *mockFactTableRepository) UpdateColumns(ctx context.Context, org, id uuid.UUID, columns []models.FactTableColumn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updatedColumns == nil {
		m.updatedColumns = make(map[uuid.UUID][]models.FactTableColumn)
	}
	m.updatedColumns[id] = columns
	return nil
}

var _ repositories.FactTableRepository = (*mockFactTableRepository)(nil)

// mockDimensionSlicesRepository is an in-memory run store that signals every
// applied status write, so tests can wait for the background analysis to
// finish. Like the real repository, terminal states are sticky.
type mockDimensionSlicesRepository struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*models.DimensionSlicesRun
	statusCh chan models.AnalysisStatus

	// succeedGate, when set, holds a transition to succeeded until the gate
	// closes; succeedReached signals that a writer is waiting on it. Lets
	// tests interleave a cancel with the worker's final persist.
	succeedGate    chan struct{}
	succeedReached chan struct{}
}

func newMockDimensionSlicesRepository() *mockDimensionSlicesRepository {
	return &mockDimensionSlicesRepository{
		runs:     make(map[uuid.UUID]*models.DimensionSlicesRun),
		statusCh: make(chan models.AnalysisStatus, 16),
	}
}

func (m *mockDimensionSlicesRepository) Create(ctx context.Context, run *models.DimensionSlicesRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockDimensionSlicesRepository) GetByID(ctx context.Context, org, id uuid.UUID) (*models.DimensionSlicesRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, errNotFoundForTest(id)
	}
	cp := *run
	return &cp, nil
}

func (m *mockDimensionSlicesRepository) GetLatest(ctx context.Context, org, datasourceID uuid.UUID, exposureQueryID string) (*models.DimensionSlicesRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.DimensionSlicesRun
	for _, run := range m.runs {
		if run.DatasourceID == datasourceID && run.ExposureQueryID == exposureQueryID {
			if latest == nil || run.DateCreated.After(latest.DateCreated) {
				latest = run
			}
		}
	}
	if latest == nil {
		return nil, errNotFoundForTest(datasourceID)
	}
	cp := *latest
	return &cp, nil
}

func (m *mockDimensionSlicesRepository) TransitionStatus(ctx context.Context, run *models.DimensionSlicesRun) (bool, error) {
	if run.Status == models.AnalysisStatusSucceeded && m.succeedGate != nil {
		if m.succeedReached != nil {
			m.succeedReached <- struct{}{}
		}
		<-m.succeedGate
	}

	m.mu.Lock()
	stored, ok := m.runs[run.ID]
	if !ok || stored.Status.Terminal() {
		m.mu.Unlock()
		return false, nil
	}
	cp := *run
	m.runs[run.ID] = &cp
	m.mu.Unlock()
	m.statusCh <- run.Status
	return true, nil
}

var _ repositories.DimensionSlicesRepository = (*mockDimensionSlicesRepository)(nil)

func errNotFoundForTest(id uuid.UUID) error {
	return fmt.Errorf("%w: record %s", apperrors.ErrNotFound, id)
}

// mockQueryHistoryRepository captures inserted runs.
type mockQueryHistoryRepository struct {
	mu        sync.Mutex
	inserted  []*models.QueryRun
	insertErr error
}

func (m *mockQueryHistoryRepository) Insert(ctx context.Context, run *models.QueryRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, run)
	return nil
}

func (m *mockQueryHistoryRepository) ListByDatasource(ctx context.Context, org, datasourceID uuid.UUID, limit int) ([]*models.QueryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserted, nil
}

var _ repositories.QueryHistoryRepository = (*mockQueryHistoryRepository)(nil)

// fakeIntegration implements warehouse.Integration without editor capabilities.
type fakeIntegration struct {
	mu sync.Mutex

	dsType     models.DataSourceType
	params     map[string]any
	runResult  *warehouse.QueryResult
	runErr     error
	listCols   []warehouse.ColumnMetadata
	listErr    error
	testErr    error
	decryptMsg string

	ranQueries []string
	ranLimits  []int
	closed     bool

	// runGate, when set, blocks RunQuery until the gate closes or the
	// context ends. Lets tests hold an analysis mid-flight.
	runGate chan struct{}
}

func (f *fakeIntegration) Type() models.DataSourceType { return f.dsType }

func (f *fakeIntegration) TestConnection(ctx context.Context) error { return f.testErr }

func (f *fakeIntegration) RunQuery(ctx context.Context, sqlQuery string, opts warehouse.QueryOptions) (*warehouse.QueryResult, error) {
	f.mu.Lock()
	f.ranQueries = append(f.ranQueries, sqlQuery)
	f.ranLimits = append(f.ranLimits, opts.Limit)
	gate := f.runGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	if f.runResult != nil {
		return f.runResult, nil
	}
	return &warehouse.QueryResult{Columns: []warehouse.ColumnInfo{}, Rows: []map[string]any{}}, nil
}

func (f *fakeIntegration) ListColumns(ctx context.Context, table string) ([]warehouse.ColumnMetadata, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listCols, nil
}

func (f *fakeIntegration) MergeParams(partial map[string]any) {
	if f.params == nil {
		f.params = make(map[string]any)
	}
	for k, v := range partial {
		f.params[k] = v
	}
}

func (f *fakeIntegration) Params() map[string]any { return f.params }

func (f *fakeIntegration) NonSensitiveParams() map[string]any {
	return warehouse.RedactParams(f.params, "password")
}

func (f *fakeIntegration) DecryptionError() string { return f.decryptMsg }

func (f *fakeIntegration) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ warehouse.Integration = (*fakeIntegration)(nil)

// fakeManagedIntegration adds materialized-column DDL recording.
type fakeManagedIntegration struct {
	fakeIntegration

	addErr    error
	renameErr error
	dropErr   error

	ddl []string
}

func (f *fakeManagedIntegration) AddColumn(ctx context.Context, column models.MaterializedColumn) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.ddl = append(f.ddl, "ADD "+column.ColumnName)
	return nil
}

func (f *fakeManagedIntegration) RenameColumn(ctx context.Context, from, to string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	f.ddl = append(f.ddl, "RENAME "+from+" TO "+to)
	return nil
}

func (f *fakeManagedIntegration) DropColumn(ctx context.Context, columnName string) error {
	if f.dropErr != nil {
		return f.dropErr
	}
	f.ddl = append(f.ddl, "DROP "+columnName)
	return nil
}

var (
	_ warehouse.Integration              = (*fakeManagedIntegration)(nil)
	_ warehouse.MaterializedColumnEditor = (*fakeManagedIntegration)(nil)
)

// fakeDatasetIntegration adds dataset listing.
type fakeDatasetIntegration struct {
	fakeIntegration

	datasets    []string
	datasetsErr error
}

func (f *fakeDatasetIntegration) ListDatasets(ctx context.Context) ([]string, error) {
	if f.datasetsErr != nil {
		return nil, f.datasetsErr
	}
	return f.datasets, nil
}

var (
	_ warehouse.Integration   = (*fakeDatasetIntegration)(nil)
	_ warehouse.DatasetLister = (*fakeDatasetIntegration)(nil)
)

// fakeFactory hands out a fixed integration.
type fakeFactory struct {
	integration warehouse.Integration
	err         error
}

func (f *fakeFactory) FromDataSource(ds *models.DataSource, encryptedParams string) (warehouse.Integration, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.integration, nil
}

func (f *fakeFactory) FromParams(dsType models.DataSourceType, params map[string]any) (warehouse.Integration, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.integration, nil
}

func (f *fakeFactory) ListTypes() []warehouse.IntegrationInfo { return nil }

var _ warehouse.Factory = (*fakeFactory)(nil)
