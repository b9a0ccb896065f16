// Package services implements the business operations of warehouse-engine:
// data source lifecycle, materialized column management, query execution and
// dimension slice analysis.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/crypto"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
	"github.com/uplift-analytics/warehouse-engine/pkg/repositories"
	enginesql "github.com/uplift-analytics/warehouse-engine/pkg/sql"
)

// DataSourceView is a data source prepared for display: params redacted,
// decryption problems surfaced as a field instead of an error.
type DataSourceView struct {
	*models.DataSource
	DecryptionError string `json:"decryption_error,omitempty"`
}

// DataSourceService defines the interface for data source lifecycle operations.
type DataSourceService interface {
	// Create validates, tests and stores a new data source. Params are
	// verified against the live warehouse before being encrypted.
	Create(ctx context.Context, ds *models.DataSource) (*models.DataSource, error)

	// CreateManaged provisions a dedicated readonly user on the managed
	// warehouse and creates a data source wired to it, seeded with default
	// exposure queries.
	CreateManaged(ctx context.Context, org uuid.UUID, name string) (*models.DataSource, error)

	// Get retrieves a data source for display.
	Get(ctx context.Context, org, id uuid.UUID) (*DataSourceView, error)

	// List retrieves all data sources for an organization, for display.
	List(ctx context.Context, org uuid.UUID) ([]*DataSourceView, error)

	// Update applies a partial update. Type changes are rejected. A params
	// change is merged onto the decrypted params, tested against the live
	// warehouse and re-encrypted before anything is persisted.
	Update(ctx context.Context, org, id uuid.UUID, update DataSourceUpdate) (*DataSourceView, error)

	// UpdateExposureQuery merges a partial edit onto one exposure query.
	UpdateExposureQuery(ctx context.Context, org, dsID uuid.UUID, queryID string, update models.ExposureQueryUpdate) (*models.ExposureQuery, error)

	// ListDatasets enumerates the datasets visible to a data source's
	// credentials. Kinds that do not organize tables into datasets are
	// rejected with ErrUnsupported.
	ListDatasets(ctx context.Context, org, id uuid.UUID) ([]string, error)

	// Delete removes a data source after the deletion guards pass: it must
	// not be the organization default and nothing may depend on it.
	Delete(ctx context.Context, org, id uuid.UUID) error

	// TestConnection tests connectivity without saving anything.
	TestConnection(ctx context.Context, dsType models.DataSourceType, params map[string]any) error
}

// DataSourceUpdate carries a partial data source edit. Nil fields are left
// untouched. Type is deliberately absent: it is immutable.
type DataSourceUpdate struct {
	Name        *string                    `json:"name,omitempty"`
	Description *string                    `json:"description,omitempty"`
	Params      map[string]any             `json:"params,omitempty"`
	Settings    *models.DataSourceSettings `json:"settings,omitempty"`
	Projects    *[]string                  `json:"projects,omitempty"`

	// Type is decoded so an attempted change can be rejected explicitly
	// rather than silently ignored.
	Type *models.DataSourceType `json:"type,omitempty"`
}

// datasourceService implements DataSourceService.
type datasourceService struct {
	repo         repositories.DataSourceRepository
	orgRepo      repositories.OrganizationRepository
	encryptor    *crypto.CredentialEncryptor
	factory      warehouse.Factory
	policy       auth.Policy
	managedAdmin warehouse.UserProvisioner // nil when no managed warehouse is configured
	logger       *zap.Logger
}

// NewDataSourceService creates a new data source service with dependencies.
// managedAdmin may be nil when the deployment has no managed warehouse.
func NewDataSourceService(
	repo repositories.DataSourceRepository,
	orgRepo repositories.OrganizationRepository,
	encryptor *crypto.CredentialEncryptor,
	factory warehouse.Factory,
	policy auth.Policy,
	managedAdmin warehouse.UserProvisioner,
	logger *zap.Logger,
) DataSourceService {
	return &datasourceService{
		repo:         repo,
		orgRepo:      orgRepo,
		encryptor:    encryptor,
		factory:      factory,
		policy:       policy,
		managedAdmin: managedAdmin,
		logger:       logger,
	}
}

func (s *datasourceService) Create(ctx context.Context, ds *models.DataSource) (*models.DataSource, error) {
	if err := s.policy.CanCreateDataSource(ctx, ds.Projects); err != nil {
		return nil, err
	}

	if strings.TrimSpace(ds.Name) == "" {
		return nil, fmt.Errorf("%w: data source name is required", apperrors.ErrValidation)
	}
	if !models.ValidDataSourceType(ds.Type) {
		return nil, fmt.Errorf("%w: unknown data source type %q", apperrors.ErrValidation, ds.Type)
	}
	if ds.Params == nil {
		ds.Params = make(map[string]any)
	}

	if err := s.TestConnection(ctx, ds.Type, ds.Params); err != nil {
		return nil, err
	}

	ds.Settings.Events = models.DefaultEventSettings(ds.Settings.Events)

	encryptedParams, err := s.encryptor.EncryptParams(ds.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt params: %w", err)
	}

	if err := s.repo.Create(ctx, ds, encryptedParams); err != nil {
		return nil, err
	}

	s.logger.Info("Created data source",
		zap.String("id", ds.ID.String()),
		zap.String("organization", ds.Organization.String()),
		zap.String("type", string(ds.Type)),
	)

	return ds, nil
}

func (s *datasourceService) CreateManaged(ctx context.Context, org uuid.UUID, name string) (*models.DataSource, error) {
	if err := s.policy.CanCreateDataSource(ctx, nil); err != nil {
		return nil, err
	}
	if s.managedAdmin == nil {
		return nil, fmt.Errorf("%w: managed warehouse is not configured", apperrors.ErrUnsupported)
	}
	if strings.TrimSpace(name) == "" {
		name = "Managed Warehouse"
	}

	id := uuid.New()
	params, err := s.managedAdmin.ProvisionUser(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to provision warehouse user: %w", err)
	}

	ds := &models.DataSource{
		ID:           id,
		Organization: org,
		Name:         name,
		Type:         models.DataSourceTypeManaged,
		Params:       params,
		Settings: models.DataSourceSettings{
			ExposureQueries: defaultExposureQueries(),
			Events:          models.DefaultEventSettings(models.EventSettings{}),
		},
	}

	encryptedParams, err := s.encryptor.EncryptParams(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt params: %w", err)
	}

	if err := s.repo.Create(ctx, ds, encryptedParams); err != nil {
		return nil, err
	}

	s.logger.Info("Created managed data source",
		zap.String("id", ds.ID.String()),
		zap.String("organization", org.String()),
	)

	return ds, nil
}

// defaultExposureQueries seeds a managed data source with exposure queries
// keyed on the two identifier types every installation tracks.
func defaultExposureQueries() []models.ExposureQuery {
	query := func(idColumn string) string {
		return fmt.Sprintf(`SELECT
  %s,
  timestamp,
  experiment_id,
  variation_id,
  geo_country,
  ua_browser,
  ua_os,
  ua_device_type
FROM events
WHERE event_name = '$experiment_started'
  AND timestamp BETWEEN '{{startDate}}' AND '{{endDate}}'`, idColumn)
	}
	dims := []string{"geo_country", "ua_browser", "ua_os", "ua_device_type"}
	return []models.ExposureQuery{
		{
			ID:         uuid.NewString(),
			Name:       "Logged-in Users",
			UserIDType: "user_id",
			Dimensions: dims,
			Query:      query("user_id"),
		},
		{
			ID:         uuid.NewString(),
			Name:       "Anonymous Visitors",
			UserIDType: "device_id",
			Dimensions: dims,
			Query:      query("device_id"),
		},
	}
}

func (s *datasourceService) Get(ctx context.Context, org, id uuid.UUID) (*DataSourceView, error) {
	ds, encryptedParams, err := s.repo.GetByID(ctx, org, id)
	if err != nil {
		return nil, err
	}
	return s.toView(ds, encryptedParams)
}

func (s *datasourceService) List(ctx context.Context, org uuid.UUID) ([]*DataSourceView, error) {
	datasources, encryptedParams, err := s.repo.List(ctx, org)
	if err != nil {
		return nil, err
	}

	views := make([]*DataSourceView, 0, len(datasources))
	for i, ds := range datasources {
		view, err := s.toView(ds, encryptedParams[i])
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// toView builds the display form: redacted params, decryption failure as data.
func (s *datasourceService) toView(ds *models.DataSource, encryptedParams string) (*DataSourceView, error) {
	integration, err := s.factory.FromDataSource(ds, encryptedParams)
	if err != nil {
		return nil, err
	}
	defer integration.Close()

	ds.Params = integration.NonSensitiveParams()
	return &DataSourceView{
		DataSource:      ds,
		DecryptionError: integration.DecryptionError(),
	}, nil
}

func (s *datasourceService) Update(ctx context.Context, org, id uuid.UUID, update DataSourceUpdate) (*DataSourceView, error) {
	ds, encryptedParams, err := s.repo.GetByID(ctx, org, id)
	if err != nil {
		return nil, err
	}

	if update.Type != nil && *update.Type != ds.Type {
		return nil, fmt.Errorf("%w: data source type cannot be changed", apperrors.ErrValidation)
	}

	if update.Params != nil {
		if err := s.policy.CanUpdateDataSourceParams(ctx, ds.Projects); err != nil {
			return nil, err
		}
	} else {
		if err := s.policy.CanUpdateDataSourceSettings(ctx, ds.Projects); err != nil {
			return nil, err
		}
	}

	if update.Name != nil {
		if strings.TrimSpace(*update.Name) == "" {
			return nil, fmt.Errorf("%w: data source name is required", apperrors.ErrValidation)
		}
		ds.Name = *update.Name
	}
	if update.Description != nil {
		ds.Description = *update.Description
	}
	if update.Settings != nil {
		ds.Settings = *update.Settings
		ds.Settings.Events = models.DefaultEventSettings(ds.Settings.Events)
	}
	if update.Projects != nil {
		ds.Projects = *update.Projects
	}

	if update.Params != nil {
		integration, err := s.factory.FromDataSource(ds, encryptedParams)
		if err != nil {
			return nil, err
		}
		defer integration.Close()

		if msg := integration.DecryptionError(); msg != "" {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, msg)
		}

		integration.MergeParams(update.Params)
		if err := integration.TestConnection(ctx); err != nil {
			return nil, err
		}

		encryptedParams, err = s.encryptor.EncryptParams(integration.Params())
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt params: %w", err)
		}
	}

	if err := s.repo.Update(ctx, ds, encryptedParams); err != nil {
		return nil, err
	}

	s.logger.Info("Updated data source",
		zap.String("id", id.String()),
		zap.Bool("params_changed", update.Params != nil),
	)

	return s.toView(ds, encryptedParams)
}

func (s *datasourceService) UpdateExposureQuery(ctx context.Context, org, dsID uuid.UUID, queryID string, update models.ExposureQueryUpdate) (*models.ExposureQuery, error) {
	ds, _, err := s.repo.GetByID(ctx, org, dsID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanUpdateDataSourceSettings(ctx, ds.Projects); err != nil {
		return nil, err
	}

	idx := ds.Settings.FindExposureQuery(queryID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: exposure query %s", apperrors.ErrNotFound, queryID)
	}

	q := &ds.Settings.ExposureQueries[idx]
	if update.Name != nil {
		q.Name = *update.Name
	}
	// UserIDType and dimension names end up interpolated into analysis SQL,
	// so they must be plain column identifiers.
	if update.UserIDType != nil {
		if _, err := enginesql.SanitizeColumnName(*update.UserIDType, nil); err != nil {
			return nil, err
		}
		q.UserIDType = *update.UserIDType
	}
	if update.Dimensions != nil {
		for _, dimension := range *update.Dimensions {
			if _, err := enginesql.SanitizeColumnName(dimension, nil); err != nil {
				return nil, err
			}
		}
		q.Dimensions = *update.Dimensions
	}
	if update.Query != nil {
		q.Query = *update.Query
	}

	if err := s.repo.UpdateSettings(ctx, org, dsID, ds.Settings); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *datasourceService) ListDatasets(ctx context.Context, org, id uuid.UUID) ([]string, error) {
	ds, encryptedParams, err := s.repo.GetByID(ctx, org, id)
	if err != nil {
		return nil, err
	}
	// Listing datasets runs against the warehouse with the stored
	// credentials, so it carries the same privilege as running queries.
	if err := s.policy.CanRunQueries(ctx, ds.Projects); err != nil {
		return nil, err
	}

	integration, err := s.factory.FromDataSource(ds, encryptedParams)
	if err != nil {
		return nil, err
	}
	defer integration.Close()

	if msg := integration.DecryptionError(); msg != "" {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, msg)
	}

	lister, ok := integration.(warehouse.DatasetLister)
	if !ok {
		return nil, fmt.Errorf("%w: data source type %s does not organize tables into datasets", apperrors.ErrUnsupported, ds.Type)
	}
	return lister.ListDatasets(ctx)
}

func (s *datasourceService) Delete(ctx context.Context, org, id uuid.UUID) error {
	ds, _, err := s.repo.GetByID(ctx, org, id)
	if err != nil {
		return err
	}
	if err := s.policy.CanDeleteDataSource(ctx, ds.Projects); err != nil {
		return err
	}

	defaultID, err := s.orgRepo.GetDefaultDataSourceID(ctx, org)
	if err != nil {
		return err
	}
	if defaultID == id {
		return fmt.Errorf("%w: cannot delete the organization's default data source", apperrors.ErrConflict)
	}

	counts, err := s.orgRepo.CountDependents(ctx, org, id)
	if err != nil {
		return err
	}
	if !counts.Empty() {
		return fmt.Errorf("%w: data source is in use by %d metrics, %d segments and %d dimensions",
			apperrors.ErrConflict, counts.Metrics, counts.Segments, counts.Dimensions)
	}

	if err := s.repo.Delete(ctx, org, id); err != nil {
		return err
	}

	// Cached schema rows are cleanup, not a guard: log and continue on failure.
	if err := s.orgRepo.DeleteInformationSchema(ctx, org, id); err != nil {
		s.logger.Warn("Failed to delete cached information schema",
			zap.String("datasource_id", id.String()),
			zap.Error(err))
	}

	s.logger.Info("Deleted data source", zap.String("id", id.String()))
	return nil
}

func (s *datasourceService) TestConnection(ctx context.Context, dsType models.DataSourceType, params map[string]any) error {
	integration, err := s.factory.FromParams(dsType, params)
	if err != nil {
		return err
	}
	defer integration.Close()

	return integration.TestConnection(ctx)
}

// Ensure datasourceService implements DataSourceService at compile time.
var _ DataSourceService = (*datasourceService)(nil)
