// Package repositories provides PostgreSQL data access for warehouse-engine.
// Connection params are stored as encrypted TEXT; encryption and decryption
// happen in the service layer, never here.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/database"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// DataSourceRepository defines the interface for data source records.
type DataSourceRepository interface {
	// Create inserts a new data source with pre-encrypted params.
	Create(ctx context.Context, ds *models.DataSource, encryptedParams string) error

	// GetByID retrieves a data source by ID within an organization.
	// Returns the model (Params unset) and the encrypted params blob.
	GetByID(ctx context.Context, org, id uuid.UUID) (*models.DataSource, string, error)

	// List retrieves all data sources for an organization, newest first.
	List(ctx context.Context, org uuid.UUID) ([]*models.DataSource, []string, error)

	// Update persists name, description, settings, projects and the encrypted
	// params blob. Type is never written after creation.
	Update(ctx context.Context, ds *models.DataSource, encryptedParams string) error

	// UpdateSettings persists only the settings document.
	UpdateSettings(ctx context.Context, org, id uuid.UUID, settings models.DataSourceSettings) error

	// Delete removes a data source by ID.
	Delete(ctx context.Context, org, id uuid.UUID) error
}

// datasourceRepository implements DataSourceRepository using PostgreSQL.
type datasourceRepository struct {
	db *database.DB
}

// NewDataSourceRepository creates a new data source repository.
func NewDataSourceRepository(db *database.DB) DataSourceRepository {
	return &datasourceRepository{db: db}
}

const datasourceColumns = `id, organization, name, description, type, params_encrypted, settings, projects, date_created, date_updated`

func (r *datasourceRepository) Create(ctx context.Context, ds *models.DataSource, encryptedParams string) error {
	now := time.Now()
	ds.DateCreated = now
	ds.DateUpdated = now
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}

	settingsJSON, err := json.Marshal(ds.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO datasources (id, organization, name, description, type, params_encrypted, settings, projects, date_created, date_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.Exec(ctx, query,
		ds.ID,
		ds.Organization,
		ds.Name,
		ds.Description,
		ds.Type,
		encryptedParams,
		settingsJSON,
		ds.Projects,
		ds.DateCreated,
		ds.DateUpdated,
	)
	if err != nil {
		// Unique constraint violation (PostgreSQL error code 23505)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: data source already exists", apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create data source: %w", err)
	}

	return nil
}

func (r *datasourceRepository) GetByID(ctx context.Context, org, id uuid.UUID) (*models.DataSource, string, error) {
	query := fmt.Sprintf(`SELECT %s FROM datasources WHERE organization = $1 AND id = $2`, datasourceColumns)

	row := r.db.QueryRow(ctx, query, org, id)
	ds, encryptedParams, err := scanDataSource(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, "", fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, id)
		}
		return nil, "", fmt.Errorf("failed to get data source: %w", err)
	}

	return ds, encryptedParams, nil
}

func (r *datasourceRepository) List(ctx context.Context, org uuid.UUID) ([]*models.DataSource, []string, error) {
	query := fmt.Sprintf(`SELECT %s FROM datasources WHERE organization = $1 ORDER BY date_created DESC`, datasourceColumns)

	rows, err := r.db.Query(ctx, query, org)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var datasources []*models.DataSource
	var encryptedParams []string
	for rows.Next() {
		ds, encrypted, err := scanDataSource(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		datasources = append(datasources, ds)
		encryptedParams = append(encryptedParams, encrypted)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating data sources: %w", err)
	}

	return datasources, encryptedParams, nil
}

func (r *datasourceRepository) Update(ctx context.Context, ds *models.DataSource, encryptedParams string) error {
	settingsJSON, err := json.Marshal(ds.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		UPDATE datasources
		SET name = $3, description = $4, params_encrypted = $5, settings = $6, projects = $7, date_updated = $8
		WHERE organization = $1 AND id = $2`

	result, err := r.db.Exec(ctx, query,
		ds.Organization,
		ds.ID,
		ds.Name,
		ds.Description,
		encryptedParams,
		settingsJSON,
		ds.Projects,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update data source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, ds.ID)
	}

	return nil
}

func (r *datasourceRepository) UpdateSettings(ctx context.Context, org, id uuid.UUID, settings models.DataSourceSettings) error {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `UPDATE datasources SET settings = $3, date_updated = $4 WHERE organization = $1 AND id = $2`

	result, err := r.db.Exec(ctx, query, org, id, settingsJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update data source settings: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, id)
	}

	return nil
}

func (r *datasourceRepository) Delete(ctx context.Context, org, id uuid.UUID) error {
	query := `DELETE FROM datasources WHERE organization = $1 AND id = $2`

	result, err := r.db.Exec(ctx, query, org, id)
	if err != nil {
		return fmt.Errorf("failed to delete data source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: data source %s", apperrors.ErrNotFound, id)
	}

	return nil
}

// scanDataSource reads one data source row; works for both QueryRow and rows.
func scanDataSource(row pgx.Row) (*models.DataSource, string, error) {
	var ds models.DataSource
	var encryptedParams string
	var settingsJSON []byte
	err := row.Scan(
		&ds.ID,
		&ds.Organization,
		&ds.Name,
		&ds.Description,
		&ds.Type,
		&encryptedParams,
		&settingsJSON,
		&ds.Projects,
		&ds.DateCreated,
		&ds.DateUpdated,
	)
	if err != nil {
		return nil, "", err
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &ds.Settings); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return &ds, encryptedParams, nil
}

// Ensure datasourceRepository implements DataSourceRepository at compile time.
var _ DataSourceRepository = (*datasourceRepository)(nil)
