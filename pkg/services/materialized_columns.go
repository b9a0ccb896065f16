package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
	"github.com/uplift-analytics/warehouse-engine/pkg/repositories"
	enginesql "github.com/uplift-analytics/warehouse-engine/pkg/sql"
)

// ColumnDrift reports a divergence between declared materialized columns and
// the physical events table.
type ColumnDrift struct {
	// Missing are declared columns with no physical counterpart.
	Missing []string `json:"missing,omitempty"`
	// Unexpected are physical columns no declaration accounts for, ignoring
	// the built-in event columns.
	Unexpected []string `json:"unexpected,omitempty"`
}

// InSync reports whether declarations and physical schema agree.
func (d ColumnDrift) InSync() bool {
	return len(d.Missing) == 0 && len(d.Unexpected) == 0
}

// MaterializedColumnService manages materialized columns on the managed
// warehouse's events table. All mutations run DDL first and persist settings
// second, so a DDL failure leaves the declarations untouched.
type MaterializedColumnService interface {
	// Add creates a new materialized column: sanitize, reject duplicates,
	// issue DDL, persist the declaration, refresh fact-table column caches.
	Add(ctx context.Context, org, dsID uuid.UUID, column models.MaterializedColumn) (*models.MaterializedColumn, error)

	// Update modifies the column declared under originalName. A pure rename
	// issues RENAME DDL; a datatype or source-field change issues drop-then-add.
	// Renaming a column to its current name is rejected.
	Update(ctx context.Context, org, dsID uuid.UUID, originalName string, column models.MaterializedColumn) (*models.MaterializedColumn, error)

	// Delete drops the named column and removes its declaration.
	Delete(ctx context.Context, org, dsID uuid.UUID, columnName string) error

	// Reconcile re-introspects the warehouse and reports drift between the
	// declarations and the physical events table.
	Reconcile(ctx context.Context, org, dsID uuid.UUID) (*ColumnDrift, error)
}

type materializedColumnService struct {
	repo         repositories.DataSourceRepository
	factTables   repositories.FactTableRepository
	factory      warehouse.Factory
	policy       auth.Policy
	reservedCols enginesql.ReservedColumnProvider
	logger       *zap.Logger

	// locks serializes mutations per data source. Two concurrent edits of the
	// same data source would otherwise interleave DDL and clobber settings.
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewMaterializedColumnService creates a new materialized column service.
func NewMaterializedColumnService(
	repo repositories.DataSourceRepository,
	factTables repositories.FactTableRepository,
	factory warehouse.Factory,
	policy auth.Policy,
	reservedCols enginesql.ReservedColumnProvider,
	logger *zap.Logger,
) MaterializedColumnService {
	if reservedCols == nil {
		reservedCols = enginesql.DefaultReservedColumns
	}
	return &materializedColumnService{
		repo:         repo,
		factTables:   factTables,
		factory:      factory,
		policy:       policy,
		reservedCols: reservedCols,
		logger:       logger,
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockFor returns the mutation lock for one data source, creating it on first use.
func (s *materializedColumnService) lockFor(dsID uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if lock, ok := s.locks[dsID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[dsID] = lock
	return lock
}

// editorFor loads the data source and asserts its integration supports
// materialized column DDL. Must be called with the data source lock held for
// mutations.
func (s *materializedColumnService) editorFor(ctx context.Context, org, dsID uuid.UUID) (*models.DataSource, warehouse.Integration, warehouse.MaterializedColumnEditor, error) {
	ds, encryptedParams, err := s.repo.GetByID(ctx, org, dsID)
	if err != nil {
		return nil, nil, nil, err
	}

	integration, err := s.factory.FromDataSource(ds, encryptedParams)
	if err != nil {
		return nil, nil, nil, err
	}

	editor, ok := integration.(warehouse.MaterializedColumnEditor)
	if !ok {
		integration.Close()
		return nil, nil, nil, fmt.Errorf("%w: data source type %q does not support materialized columns",
			apperrors.ErrUnsupported, ds.Type)
	}

	return ds, integration, editor, nil
}

func (s *materializedColumnService) Add(ctx context.Context, org, dsID uuid.UUID, column models.MaterializedColumn) (*models.MaterializedColumn, error) {
	lock := s.lockFor(dsID)
	lock.Lock()
	defer lock.Unlock()

	ds, integration, editor, err := s.editorFor(ctx, org, dsID)
	if err != nil {
		return nil, err
	}
	defer integration.Close()

	if err := s.policy.CanUpdateDataSourceSettings(ctx, ds.Projects); err != nil {
		return nil, err
	}

	sanitized, err := enginesql.SanitizeMaterializedColumn(column, s.reservedCols())
	if err != nil {
		return nil, err
	}

	if ds.Settings.FindMaterializedColumn(sanitized.ColumnName) >= 0 {
		return nil, fmt.Errorf("%w: materialized column %q already exists", apperrors.ErrConflict, sanitized.ColumnName)
	}

	if err := editor.AddColumn(ctx, sanitized); err != nil {
		return nil, err
	}

	ds.Settings.MaterializedColumns = append(ds.Settings.MaterializedColumns, sanitized)
	if err := s.repo.UpdateSettings(ctx, org, dsID, ds.Settings); err != nil {
		return nil, err
	}

	s.refreshFactTables(ctx, org, dsID, integration)

	s.logger.Info("Added materialized column",
		zap.String("datasource_id", dsID.String()),
		zap.String("column", sanitized.ColumnName),
	)
	return &sanitized, nil
}

func (s *materializedColumnService) Update(ctx context.Context, org, dsID uuid.UUID, originalName string, column models.MaterializedColumn) (*models.MaterializedColumn, error) {
	lock := s.lockFor(dsID)
	lock.Lock()
	defer lock.Unlock()

	ds, integration, editor, err := s.editorFor(ctx, org, dsID)
	if err != nil {
		return nil, err
	}
	defer integration.Close()

	if err := s.policy.CanUpdateDataSourceSettings(ctx, ds.Projects); err != nil {
		return nil, err
	}

	sanitized, err := enginesql.SanitizeMaterializedColumn(column, s.reservedCols())
	if err != nil {
		return nil, err
	}

	idx := ds.Settings.FindMaterializedColumn(originalName)
	if idx < 0 {
		return nil, fmt.Errorf("%w: materialized column %q", apperrors.ErrNotFound, originalName)
	}
	existing := ds.Settings.MaterializedColumns[idx]

	redefined := sanitized.Datatype != existing.Datatype || sanitized.SourceField != existing.SourceField

	if !redefined && sanitized.ColumnName == originalName {
		return nil, fmt.Errorf("%w: column is already named %q", apperrors.ErrConflict, originalName)
	}
	if sanitized.ColumnName != originalName && ds.Settings.FindMaterializedColumn(sanitized.ColumnName) >= 0 {
		return nil, fmt.Errorf("%w: materialized column %q already exists", apperrors.ErrConflict, sanitized.ColumnName)
	}

	if redefined {
		// The extraction changed: the generated column must be rebuilt.
		// A failure after the drop leaves the physical column missing while
		// the declaration is unchanged; Reconcile surfaces that drift.
		if err := editor.DropColumn(ctx, originalName); err != nil {
			return nil, err
		}
		if err := editor.AddColumn(ctx, sanitized); err != nil {
			return nil, err
		}
	} else {
		if err := editor.RenameColumn(ctx, originalName, sanitized.ColumnName); err != nil {
			return nil, err
		}
	}

	// Replace in place so declaration ordering is stable.
	ds.Settings.MaterializedColumns[idx] = sanitized
	if err := s.repo.UpdateSettings(ctx, org, dsID, ds.Settings); err != nil {
		return nil, err
	}

	s.refreshFactTables(ctx, org, dsID, integration)

	s.logger.Info("Updated materialized column",
		zap.String("datasource_id", dsID.String()),
		zap.String("from", originalName),
		zap.String("to", sanitized.ColumnName),
		zap.Bool("redefined", redefined),
	)
	return &sanitized, nil
}

func (s *materializedColumnService) Delete(ctx context.Context, org, dsID uuid.UUID, columnName string) error {
	lock := s.lockFor(dsID)
	lock.Lock()
	defer lock.Unlock()

	ds, integration, editor, err := s.editorFor(ctx, org, dsID)
	if err != nil {
		return err
	}
	defer integration.Close()

	if err := s.policy.CanUpdateDataSourceSettings(ctx, ds.Projects); err != nil {
		return err
	}

	idx := ds.Settings.FindMaterializedColumn(columnName)
	if idx < 0 {
		return fmt.Errorf("%w: materialized column %q", apperrors.ErrNotFound, columnName)
	}

	if err := editor.DropColumn(ctx, columnName); err != nil {
		return err
	}

	ds.Settings.MaterializedColumns = append(
		ds.Settings.MaterializedColumns[:idx],
		ds.Settings.MaterializedColumns[idx+1:]...,
	)
	if err := s.repo.UpdateSettings(ctx, org, dsID, ds.Settings); err != nil {
		return err
	}

	s.refreshFactTables(ctx, org, dsID, integration)

	s.logger.Info("Deleted materialized column",
		zap.String("datasource_id", dsID.String()),
		zap.String("column", columnName),
	)
	return nil
}

func (s *materializedColumnService) Reconcile(ctx context.Context, org, dsID uuid.UUID) (*ColumnDrift, error) {
	ds, integration, _, err := s.editorFor(ctx, org, dsID)
	if err != nil {
		return nil, err
	}
	defer integration.Close()

	eventsTable := eventsTableName(integration)
	physical, err := integration.ListColumns(ctx, eventsTable)
	if err != nil {
		return nil, err
	}

	physicalNames := make(map[string]struct{}, len(physical))
	for _, col := range physical {
		physicalNames[col.Name] = struct{}{}
	}

	var drift ColumnDrift
	declared := make(map[string]struct{}, len(ds.Settings.MaterializedColumns))
	for _, col := range ds.Settings.MaterializedColumns {
		declared[col.ColumnName] = struct{}{}
		if _, ok := physicalNames[col.ColumnName]; !ok {
			drift.Missing = append(drift.Missing, col.ColumnName)
		}
	}

	builtin := s.reservedCols()
	for _, col := range physical {
		if _, ok := declared[col.Name]; ok {
			continue
		}
		if _, ok := builtin[col.Name]; ok {
			continue
		}
		drift.Unexpected = append(drift.Unexpected, col.Name)
	}

	return &drift, nil
}

// refreshFactTables re-introspects the warehouse and replaces the cached
// column list on every fact table attached to the data source. Refresh
// failures are logged, not returned: the mutation itself already succeeded.
func (s *materializedColumnService) refreshFactTables(ctx context.Context, org, dsID uuid.UUID, integration warehouse.Integration) {
	tables, err := s.factTables.ListByDatasource(ctx, org, dsID)
	if err != nil {
		s.logger.Warn("Failed to list fact tables for refresh",
			zap.String("datasource_id", dsID.String()),
			zap.Error(err))
		return
	}

	for _, ft := range tables {
		tableName := ft.Name
		if tableName == "" {
			tableName = eventsTableName(integration)
		}

		columns, err := integration.ListColumns(ctx, tableName)
		if err != nil {
			s.logger.Warn("Failed to introspect fact table",
				zap.String("fact_table_id", ft.ID.String()),
				zap.String("table", tableName),
				zap.Error(err))
			continue
		}

		updated := make([]models.FactTableColumn, 0, len(columns))
		for _, col := range columns {
			updated = append(updated, models.FactTableColumn{Name: col.Name, Datatype: col.Datatype})
		}

		if err := s.factTables.UpdateColumns(ctx, org, ft.ID, updated); err != nil {
			s.logger.Warn("Failed to update fact table columns",
				zap.String("fact_table_id", ft.ID.String()),
				zap.Error(err))
		}
	}
}

// eventsTableName reads the managed events table from the integration params,
// falling back to the default.
func eventsTableName(integration warehouse.Integration) string {
	if params := integration.Params(); params != nil {
		if table, ok := params["events_table"].(string); ok && table != "" {
			return table
		}
	}
	return "events"
}

// Ensure materializedColumnService implements MaterializedColumnService at compile time.
var _ MaterializedColumnService = (*materializedColumnService)(nil)
