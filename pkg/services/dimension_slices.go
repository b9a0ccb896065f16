package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
	"github.com/uplift-analytics/warehouse-engine/pkg/repositories"
	enginesql "github.com/uplift-analytics/warehouse-engine/pkg/sql"
)

const (
	// defaultLookbackDays is used when the caller supplies no positive lookback.
	defaultLookbackDays = 30

	// maxSlicesPerDimension bounds how many distinct values are kept per dimension.
	maxSlicesPerDimension = 20
)

// DimensionSlicesService discovers the distinct values of each exposure-query
// dimension and their share of traffic. Each call to Start creates a fresh
// persisted run record; the analysis itself runs in the background and can be
// canceled cooperatively between dimensions.
type DimensionSlicesService interface {
	// Start creates a run record and launches the analysis. The record is
	// returned immediately in the created state.
	Start(ctx context.Context, org, dsID uuid.UUID, exposureQueryID string, lookbackDays int) (*models.DimensionSlicesRun, error)

	// Get returns a run record by ID.
	Get(ctx context.Context, org, runID uuid.UUID) (*models.DimensionSlicesRun, error)

	// Latest returns the newest run for a data source + exposure query pair.
	Latest(ctx context.Context, org, dsID uuid.UUID, exposureQueryID string) (*models.DimensionSlicesRun, error)

	// Cancel stops an in-flight run. Canceling a terminal run is a no-op.
	Cancel(ctx context.Context, org, runID uuid.UUID) (*models.DimensionSlicesRun, error)
}

type dimensionSlicesService struct {
	runs    repositories.DimensionSlicesRepository
	sources repositories.DataSourceRepository
	factory warehouse.Factory
	policy  auth.Policy
	logger  *zap.Logger

	// inflight maps run ID to its cancel function while the analysis runs.
	mu       sync.Mutex
	inflight map[uuid.UUID]context.CancelFunc
}

// NewDimensionSlicesService creates a new dimension slices service.
func NewDimensionSlicesService(
	runs repositories.DimensionSlicesRepository,
	sources repositories.DataSourceRepository,
	factory warehouse.Factory,
	policy auth.Policy,
	logger *zap.Logger,
) DimensionSlicesService {
	return &dimensionSlicesService{
		runs:     runs,
		sources:  sources,
		factory:  factory,
		policy:   policy,
		logger:   logger,
		inflight: make(map[uuid.UUID]context.CancelFunc),
	}
}

func (s *dimensionSlicesService) Start(ctx context.Context, org, dsID uuid.UUID, exposureQueryID string, lookbackDays int) (*models.DimensionSlicesRun, error) {
	ds, encryptedParams, err := s.sources.GetByID(ctx, org, dsID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanRunQueries(ctx, ds.Projects); err != nil {
		return nil, err
	}

	idx := ds.Settings.FindExposureQuery(exposureQueryID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: exposure query %s", apperrors.ErrNotFound, exposureQueryID)
	}
	exposureQuery := ds.Settings.ExposureQueries[idx]

	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}

	integration, err := s.factory.FromDataSource(ds, encryptedParams)
	if err != nil {
		return nil, err
	}
	if msg := integration.DecryptionError(); msg != "" {
		integration.Close()
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, msg)
	}

	run := &models.DimensionSlicesRun{
		Organization:    org,
		DatasourceID:    dsID,
		ExposureQueryID: exposureQueryID,
		LookbackDays:    lookbackDays,
		Status:          models.AnalysisStatusCreated,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		integration.Close()
		return nil, err
	}

	// The analysis outlives the request; detach from its context.
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.inflight[run.ID] = cancel
	s.mu.Unlock()

	go s.analyze(runCtx, run, exposureQuery, integration)

	return run, nil
}

// analyze runs slice discovery for each dimension of the exposure query,
// checking for cancellation between dimensions. It owns the run record and
// the integration for the duration.
func (s *dimensionSlicesService) analyze(ctx context.Context, run *models.DimensionSlicesRun, exposureQuery models.ExposureQuery, integration warehouse.Integration) {
	defer integration.Close()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, run.ID)
		s.mu.Unlock()
	}()

	now := time.Now()
	run.Status = models.AnalysisStatusRunning
	run.RunStarted = &now
	applied, err := s.runs.TransitionStatus(ctx, run)
	if err != nil {
		s.logger.Error("Failed to mark dimension slices run as running",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
		return
	}
	if !applied {
		// Canceled before the analysis began.
		s.logger.Info("Dimension slices run canceled before start",
			zap.String("run_id", run.ID.String()))
		return
	}

	var results []models.DimensionSliceResult
	var runErr error
	for _, dimension := range exposureQuery.Dimensions {
		// Cooperative cancel point. Cancel already persisted the canceled
		// status; just stop working.
		if ctx.Err() != nil {
			s.logger.Info("Dimension slices run canceled",
				zap.String("run_id", run.ID.String()))
			return
		}

		result, err := s.discoverSlices(ctx, integration, exposureQuery, dimension, run.LookbackDays)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			runErr = err
			break
		}
		results = append(results, *result)
	}

	finished := time.Now()
	run.RunFinished = &finished
	if runErr != nil {
		run.Status = models.AnalysisStatusFailed
		run.Error = runErr.Error()
	} else {
		run.Status = models.AnalysisStatusSucceeded
		run.Results = results
	}

	// Persist with a fresh context: the run context may have been canceled.
	// The guarded transition refuses the write if a cancel already landed.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	applied, err = s.runs.TransitionStatus(persistCtx, run)
	if err != nil {
		s.logger.Error("Failed to persist dimension slices run result",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
	} else if !applied {
		s.logger.Info("Dimension slices run already terminal, result discarded",
			zap.String("run_id", run.ID.String()))
	}
}

// discoverSlices runs a GROUP BY over one dimension of the exposure query
// within the lookback window and converts the counts to traffic shares.
func (s *dimensionSlicesService) discoverSlices(ctx context.Context, integration warehouse.Integration, exposureQuery models.ExposureQuery, dimension string, lookbackDays int) (*models.DimensionSliceResult, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -lookbackDays)

	exposures, err := enginesql.SubstituteTemplateVariables(exposureQuery.Query, enginesql.TemplateVariables{
		StartDate: start.Format("2006-01-02 15:04:05"),
		EndDate:   end.Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		return nil, err
	}

	sqlQuery := fmt.Sprintf(
		"SELECT %s AS dimension_value, COUNT(DISTINCT %s) AS units FROM (%s) AS exposures GROUP BY %s ORDER BY units DESC",
		dimension, exposureQuery.UserIDType, exposures, dimension,
	)

	result, err := integration.RunQuery(ctx, sqlQuery, warehouse.QueryOptions{Limit: maxSlicesPerDimension})
	if err != nil {
		return nil, err
	}

	var total int64
	type rawSlice struct {
		name  string
		units int64
	}
	slices := make([]rawSlice, 0, len(result.Rows))
	for _, row := range result.Rows {
		name := fmt.Sprintf("%v", row["dimension_value"])
		units := toInt64(row["units"])
		total += units
		slices = append(slices, rawSlice{name: name, units: units})
	}

	out := &models.DimensionSliceResult{
		Dimension:  dimension,
		TotalUnits: total,
		Slices:     make([]models.DimensionSlice, 0, len(slices)),
	}
	for _, sl := range slices {
		percent := 0.0
		if total > 0 {
			percent = float64(sl.units) / float64(total) * 100
		}
		out.Slices = append(out.Slices, models.DimensionSlice{Name: sl.name, Percent: percent})
	}
	return out, nil
}

func (s *dimensionSlicesService) Get(ctx context.Context, org, runID uuid.UUID) (*models.DimensionSlicesRun, error) {
	return s.runs.GetByID(ctx, org, runID)
}

func (s *dimensionSlicesService) Latest(ctx context.Context, org, dsID uuid.UUID, exposureQueryID string) (*models.DimensionSlicesRun, error) {
	return s.runs.GetLatest(ctx, org, dsID, exposureQueryID)
}

func (s *dimensionSlicesService) Cancel(ctx context.Context, org, runID uuid.UUID) (*models.DimensionSlicesRun, error) {
	run, err := s.runs.GetByID(ctx, org, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	// Persist the terminal state before signaling the worker so the record
	// never reads as running after Cancel returns.
	finished := time.Now()
	run.Status = models.AnalysisStatusCanceled
	run.RunFinished = &finished
	applied, err := s.runs.TransitionStatus(ctx, run)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cancel, ok := s.inflight[runID]
	if ok {
		delete(s.inflight, runID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}

	if !applied {
		// The worker finished between our read and the transition; return
		// whichever terminal state won.
		return s.runs.GetByID(ctx, org, runID)
	}

	s.logger.Info("Canceled dimension slices run", zap.String("run_id", runID.String()))
	return run, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	}
	return 0
}

// Ensure dimensionSlicesService implements DimensionSlicesService at compile time.
var _ DimensionSlicesService = (*dimensionSlicesService)(nil)
