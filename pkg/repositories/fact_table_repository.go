package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/database"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// FactTableRepository stores fact tables and their cached column metadata.
type FactTableRepository interface {
	Create(ctx context.Context, ft *models.FactTable) error

	// ListByDatasource returns every fact table attached to a data source.
	ListByDatasource(ctx context.Context, org, datasourceID uuid.UUID) ([]*models.FactTable, error)

	// UpdateColumns replaces the cached column list for one fact table.
	UpdateColumns(ctx context.Context, org, id uuid.UUID, columns []models.FactTableColumn) error
}

type factTableRepository struct {
	db *database.DB
}

// NewFactTableRepository creates a new fact table repository.
func NewFactTableRepository(db *database.DB) FactTableRepository {
	return &factTableRepository{db: db}
}

func (r *factTableRepository) Create(ctx context.Context, ft *models.FactTable) error {
	now := time.Now()
	ft.DateCreated = now
	ft.DateUpdated = now
	if ft.ID == uuid.Nil {
		ft.ID = uuid.New()
	}

	columnsJSON, err := json.Marshal(ft.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}

	query := `
		INSERT INTO fact_tables (id, organization, datasource_id, name, sql, columns, date_created, date_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		ft.ID, ft.Organization, ft.DatasourceID, ft.Name, ft.SQL, columnsJSON, ft.DateCreated, ft.DateUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to create fact table: %w", err)
	}
	return nil
}

func (r *factTableRepository) ListByDatasource(ctx context.Context, org, datasourceID uuid.UUID) ([]*models.FactTable, error) {
	query := `
		SELECT id, organization, datasource_id, name, sql, columns, date_created, date_updated
		FROM fact_tables
		WHERE organization = $1 AND datasource_id = $2
		ORDER BY date_created`

	rows, err := r.db.Query(ctx, query, org, datasourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fact tables: %w", err)
	}
	defer rows.Close()

	var tables []*models.FactTable
	for rows.Next() {
		var ft models.FactTable
		var columnsJSON []byte
		err := rows.Scan(
			&ft.ID, &ft.Organization, &ft.DatasourceID, &ft.Name, &ft.SQL, &columnsJSON, &ft.DateCreated, &ft.DateUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact table: %w", err)
		}
		if len(columnsJSON) > 0 {
			if err := json.Unmarshal(columnsJSON, &ft.Columns); err != nil {
				return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
			}
		}
		tables = append(tables, &ft)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fact tables: %w", err)
	}
	return tables, nil
}

func (r *factTableRepository) UpdateColumns(ctx context.Context, org, id uuid.UUID, columns []models.FactTableColumn) error {
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}

	query := `UPDATE fact_tables SET columns = $3, date_updated = $4 WHERE organization = $1 AND id = $2`

	result, err := r.db.Exec(ctx, query, org, id, columnsJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update fact table columns: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: fact table %s", apperrors.ErrNotFound, id)
	}
	return nil
}

var _ FactTableRepository = (*factTableRepository)(nil)
