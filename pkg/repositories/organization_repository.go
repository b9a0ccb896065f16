package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/database"
)

// DependentCounts holds per-entity counts of records that reference a data
// source. A data source may only be deleted when every count is zero.
type DependentCounts struct {
	Metrics    int `json:"metrics"`
	Segments   int `json:"segments"`
	Dimensions int `json:"dimensions"`
}

// Empty reports whether nothing depends on the data source.
func (c DependentCounts) Empty() bool {
	return c.Metrics == 0 && c.Segments == 0 && c.Dimensions == 0
}

// OrganizationRepository reads organization-level settings and dependency
// information used by deletion guards.
type OrganizationRepository interface {
	// GetDefaultDataSourceID returns the organization's default data source,
	// or uuid.Nil if none is configured.
	GetDefaultDataSourceID(ctx context.Context, org uuid.UUID) (uuid.UUID, error)

	// CountDependents counts metrics, segments and dimensions that reference
	// the data source.
	CountDependents(ctx context.Context, org, datasourceID uuid.UUID) (DependentCounts, error)

	// DeleteInformationSchema removes cached schema rows for a data source.
	DeleteInformationSchema(ctx context.Context, org, datasourceID uuid.UUID) error
}

type organizationRepository struct {
	db *database.DB
}

// NewOrganizationRepository creates a new organization repository.
func NewOrganizationRepository(db *database.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

func (r *organizationRepository) GetDefaultDataSourceID(ctx context.Context, org uuid.UUID) (uuid.UUID, error) {
	var settingsJSON []byte
	err := r.db.QueryRow(ctx, `SELECT settings FROM organizations WHERE id = $1`, org).Scan(&settingsJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, fmt.Errorf("%w: organization %s", apperrors.ErrNotFound, org)
		}
		return uuid.Nil, fmt.Errorf("failed to get organization settings: %w", err)
	}

	var settings struct {
		DefaultDataSource string `json:"default_data_source"`
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &settings); err != nil {
			return uuid.Nil, fmt.Errorf("failed to unmarshal organization settings: %w", err)
		}
	}
	if settings.DefaultDataSource == "" {
		return uuid.Nil, nil
	}

	id, err := uuid.Parse(settings.DefaultDataSource)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid default data source id: %w", err)
	}
	return id, nil
}

func (r *organizationRepository) CountDependents(ctx context.Context, org, datasourceID uuid.UUID) (DependentCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM metrics WHERE organization = $1 AND datasource_id = $2),
			(SELECT COUNT(*) FROM segments WHERE organization = $1 AND datasource_id = $2),
			(SELECT COUNT(*) FROM dimensions WHERE organization = $1 AND datasource_id = $2)`

	var counts DependentCounts
	err := r.db.QueryRow(ctx, query, org, datasourceID).Scan(&counts.Metrics, &counts.Segments, &counts.Dimensions)
	if err != nil {
		return DependentCounts{}, fmt.Errorf("failed to count dependents: %w", err)
	}
	return counts, nil
}

func (r *organizationRepository) DeleteInformationSchema(ctx context.Context, org, datasourceID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM information_schemas WHERE organization = $1 AND datasource_id = $2`,
		org, datasourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete information schema: %w", err)
	}
	return nil
}

var _ OrganizationRepository = (*organizationRepository)(nil)
