package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
	"github.com/uplift-analytics/warehouse-engine/pkg/repositories"
	enginesql "github.com/uplift-analytics/warehouse-engine/pkg/sql"
)

const (
	// testQueryLimit caps rows returned by a preview execution. Previews
	// exist to validate SQL, not to fetch data.
	testQueryLimit = 5

	// defaultRunLimit applies when a free-form query names no limit.
	defaultRunLimit = 100
)

// QueryExecution is the uniform result of running SQL against a warehouse.
// A failed execution is not an error to the caller: the warehouse's message is
// captured in Error alongside whatever SQL was generated, so the user can see
// exactly what ran and why it failed.
type QueryExecution struct {
	Results    *warehouse.QueryResult `json:"results,omitempty"`
	SQL        string                 `json:"sql"`
	DurationMs int64                  `json:"duration_ms"`
	Error      string                 `json:"error,omitempty"`
}

// QueryService executes SQL against a data source's warehouse.
type QueryService interface {
	// TestQuery substitutes template variables into a stored SQL template and
	// runs it with the preview ceiling. Template resolution failures are
	// returned as errors (nothing ran); warehouse failures are captured in
	// the execution result.
	TestQuery(ctx context.Context, org, dsID uuid.UUID, sqlTemplate string, vars enginesql.TemplateVariables) (*QueryExecution, error)

	// RunQuery executes free-form SQL with a caller-supplied row limit,
	// defaulted and capped. Failures are captured in the execution result.
	RunQuery(ctx context.Context, org, dsID uuid.UUID, sqlQuery string, limit int) (*QueryExecution, error)

	// History returns recent query runs for a data source, newest first.
	History(ctx context.Context, org, dsID uuid.UUID, limit int) ([]*models.QueryRun, error)
}

type queryService struct {
	repo        repositories.DataSourceRepository
	history     repositories.QueryHistoryRepository
	factory     warehouse.Factory
	policy      auth.Policy
	testTimeout time.Duration
	runTimeout  time.Duration
	logger      *zap.Logger
}

// NewQueryService creates a new query service. Zero timeouts fall back to
// 30s for previews and 120s for free-form queries.
func NewQueryService(
	repo repositories.DataSourceRepository,
	history repositories.QueryHistoryRepository,
	factory warehouse.Factory,
	policy auth.Policy,
	testTimeout, runTimeout time.Duration,
	logger *zap.Logger,
) QueryService {
	if testTimeout <= 0 {
		testTimeout = 30 * time.Second
	}
	if runTimeout <= 0 {
		runTimeout = 120 * time.Second
	}
	return &queryService{
		repo:        repo,
		history:     history,
		factory:     factory,
		policy:      policy,
		testTimeout: testTimeout,
		runTimeout:  runTimeout,
		logger:      logger,
	}
}

func (s *queryService) TestQuery(ctx context.Context, org, dsID uuid.UUID, sqlTemplate string, vars enginesql.TemplateVariables) (*QueryExecution, error) {
	ds, integration, err := s.integrationFor(ctx, org, dsID)
	if err != nil {
		return nil, err
	}
	defer integration.Close()

	if vars.StartDate == "" || vars.EndDate == "" {
		// Preview over the trailing month when the caller names no window.
		now := time.Now()
		vars.EndDate = now.Format("2006-01-02 15:04:05")
		vars.StartDate = now.AddDate(0, 0, -30).Format("2006-01-02 15:04:05")
	}

	sqlQuery, err := enginesql.SubstituteTemplateVariables(sqlTemplate, vars)
	if err != nil {
		return nil, err
	}

	execution := s.execute(ctx, integration, sqlQuery, testQueryLimit, s.testTimeout)
	s.record(ctx, ds, execution)
	return execution, nil
}

func (s *queryService) RunQuery(ctx context.Context, org, dsID uuid.UUID, sqlQuery string, limit int) (*QueryExecution, error) {
	ds, integration, err := s.integrationFor(ctx, org, dsID)
	if err != nil {
		return nil, err
	}
	defer integration.Close()

	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > warehouse.MaxQueryLimit {
		limit = warehouse.MaxQueryLimit
	}

	execution := s.execute(ctx, integration, sqlQuery, limit, s.runTimeout)
	s.record(ctx, ds, execution)
	return execution, nil
}

func (s *queryService) History(ctx context.Context, org, dsID uuid.UUID, limit int) ([]*models.QueryRun, error) {
	// Existence check so an unknown data source reads as 404, not empty history.
	if _, _, err := s.repo.GetByID(ctx, org, dsID); err != nil {
		return nil, err
	}
	return s.history.ListByDatasource(ctx, org, dsID, limit)
}

func (s *queryService) integrationFor(ctx context.Context, org, dsID uuid.UUID) (*models.DataSource, warehouse.Integration, error) {
	ds, encryptedParams, err := s.repo.GetByID(ctx, org, dsID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.policy.CanRunQueries(ctx, ds.Projects); err != nil {
		return nil, nil, err
	}

	integration, err := s.factory.FromDataSource(ds, encryptedParams)
	if err != nil {
		return nil, nil, err
	}
	return ds, integration, nil
}

// execute runs the query and folds any warehouse failure into the result.
func (s *queryService) execute(ctx context.Context, integration warehouse.Integration, sqlQuery string, limit int, timeout time.Duration) *QueryExecution {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	results, err := integration.RunQuery(ctx, sqlQuery, warehouse.QueryOptions{Limit: limit})
	execution := &QueryExecution{
		SQL:        sqlQuery,
		DurationMs: time.Since(start).Milliseconds(),
		Results:    results,
	}
	if err != nil {
		execution.Error = err.Error()
	}
	return execution
}

// record appends the execution to the data source's run history. History is
// best-effort; a write failure never fails the query itself.
func (s *queryService) record(ctx context.Context, ds *models.DataSource, execution *QueryExecution) {
	run := &models.QueryRun{
		Organization: ds.Organization,
		DatasourceID: ds.ID,
		SQL:          execution.SQL,
		DurationMs:   execution.DurationMs,
		Error:        execution.Error,
	}
	if err := s.history.Insert(ctx, run); err != nil {
		s.logger.Warn("Failed to record query run",
			zap.String("datasource_id", ds.ID.String()),
			zap.Error(err))
	}
}

// Ensure queryService implements QueryService at compile time.
var _ QueryService = (*queryService)(nil)
