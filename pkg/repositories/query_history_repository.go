package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uplift-analytics/warehouse-engine/pkg/database"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// QueryHistoryRepository records executed warehouse queries for audit and the
// data source's run history view.
type QueryHistoryRepository interface {
	Insert(ctx context.Context, run *models.QueryRun) error
	ListByDatasource(ctx context.Context, org, datasourceID uuid.UUID, limit int) ([]*models.QueryRun, error)
}

type queryHistoryRepository struct {
	db *database.DB
}

// NewQueryHistoryRepository creates a new query history repository.
func NewQueryHistoryRepository(db *database.DB) QueryHistoryRepository {
	return &queryHistoryRepository{db: db}
}

func (r *queryHistoryRepository) Insert(ctx context.Context, run *models.QueryRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.CreatedAt = time.Now()

	query := `
		INSERT INTO query_runs (id, organization, datasource_id, sql, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		run.ID, run.Organization, run.DatasourceID, run.SQL, run.DurationMs, run.Error, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert query run: %w", err)
	}
	return nil
}

func (r *queryHistoryRepository) ListByDatasource(ctx context.Context, org, datasourceID uuid.UUID, limit int) ([]*models.QueryRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, organization, datasource_id, sql, duration_ms, error, created_at
		FROM query_runs
		WHERE organization = $1 AND datasource_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, org, datasourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.QueryRun
	for rows.Next() {
		var run models.QueryRun
		err := rows.Scan(
			&run.ID, &run.Organization, &run.DatasourceID, &run.SQL, &run.DurationMs, &run.Error, &run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan query run: %w", err)
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query runs: %w", err)
	}
	return runs, nil
}

var _ QueryHistoryRepository = (*queryHistoryRepository)(nil)
