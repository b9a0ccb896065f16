package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/database"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// DimensionSlicesRepository persists dimension-slice analysis run records.
type DimensionSlicesRepository interface {
	Create(ctx context.Context, run *models.DimensionSlicesRun) error
	GetByID(ctx context.Context, org, id uuid.UUID) (*models.DimensionSlicesRun, error)

	// GetLatest returns the newest run for a data source + exposure query pair.
	GetLatest(ctx context.Context, org, datasourceID uuid.UUID, exposureQueryID string) (*models.DimensionSlicesRun, error)

	// TransitionStatus persists a status transition together with the run's
	// error, results and timestamps. A record already in a terminal state is
	// left untouched; the boolean reports whether the write was applied.
	TransitionStatus(ctx context.Context, run *models.DimensionSlicesRun) (bool, error)
}

type dimensionSlicesRepository struct {
	db *database.DB
}

// NewDimensionSlicesRepository creates a new dimension slices repository.
func NewDimensionSlicesRepository(db *database.DB) DimensionSlicesRepository {
	return &dimensionSlicesRepository{db: db}
}

const dimensionSlicesColumns = `id, organization, datasource_id, exposure_query_id, lookback_days, status, error, results, run_started, run_finished, date_created, date_updated`

func (r *dimensionSlicesRepository) Create(ctx context.Context, run *models.DimensionSlicesRun) error {
	now := time.Now()
	run.DateCreated = now
	run.DateUpdated = now
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = models.AnalysisStatusCreated
	}

	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	query := `
		INSERT INTO dimension_slices_runs (id, organization, datasource_id, exposure_query_id, lookback_days, status, error, results, run_started, run_finished, date_created, date_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.Exec(ctx, query,
		run.ID, run.Organization, run.DatasourceID, run.ExposureQueryID, run.LookbackDays,
		run.Status, run.Error, resultsJSON, run.RunStarted, run.RunFinished, run.DateCreated, run.DateUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to create dimension slices run: %w", err)
	}
	return nil
}

func (r *dimensionSlicesRepository) GetByID(ctx context.Context, org, id uuid.UUID) (*models.DimensionSlicesRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM dimension_slices_runs WHERE organization = $1 AND id = $2`, dimensionSlicesColumns)

	run, err := scanDimensionSlicesRun(r.db.QueryRow(ctx, query, org, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: dimension slices run %s", apperrors.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get dimension slices run: %w", err)
	}
	return run, nil
}

func (r *dimensionSlicesRepository) GetLatest(ctx context.Context, org, datasourceID uuid.UUID, exposureQueryID string) (*models.DimensionSlicesRun, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM dimension_slices_runs
		WHERE organization = $1 AND datasource_id = $2 AND exposure_query_id = $3
		ORDER BY date_created DESC
		LIMIT 1`, dimensionSlicesColumns)

	run, err := scanDimensionSlicesRun(r.db.QueryRow(ctx, query, org, datasourceID, exposureQueryID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%w: no dimension slices run for exposure query %s", apperrors.ErrNotFound, exposureQueryID)
		}
		return nil, fmt.Errorf("failed to get latest dimension slices run: %w", err)
	}
	return run, nil
}

func (r *dimensionSlicesRepository) TransitionStatus(ctx context.Context, run *models.DimensionSlicesRun) (bool, error) {
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return false, fmt.Errorf("failed to marshal results: %w", err)
	}

	// The status guard makes terminal states sticky: a late worker write can
	// never overwrite a concurrent cancel, and vice versa.
	query := `
		UPDATE dimension_slices_runs
		SET status = $3, error = $4, results = $5, run_started = $6, run_finished = $7, date_updated = $8
		WHERE organization = $1 AND id = $2
		  AND status NOT IN ('succeeded', 'failed', 'canceled')`

	result, err := r.db.Exec(ctx, query,
		run.Organization, run.ID, run.Status, run.Error, resultsJSON, run.RunStarted, run.RunFinished, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update dimension slices run: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func scanDimensionSlicesRun(row pgx.Row) (*models.DimensionSlicesRun, error) {
	var run models.DimensionSlicesRun
	var resultsJSON []byte
	err := row.Scan(
		&run.ID, &run.Organization, &run.DatasourceID, &run.ExposureQueryID, &run.LookbackDays,
		&run.Status, &run.Error, &resultsJSON, &run.RunStarted, &run.RunFinished, &run.DateCreated, &run.DateUpdated,
	)
	if err != nil {
		return nil, err
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}
	return &run, nil
}

var _ DimensionSlicesRepository = (*dimensionSlicesRepository)(nil)
