package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// ManagedAdapter is the product-managed PostgreSQL event warehouse. On top of
// plain PostgreSQL connectivity it supports materialized-column DDL on the
// events table and per-data-source user provisioning.
type ManagedAdapter struct {
	*Adapter
}

// NewManagedAdapter creates the managed-warehouse adapter from decrypted params.
func NewManagedAdapter(params map[string]any) (*ManagedAdapter, error) {
	base, err := NewAdapter(params, models.DataSourceTypeManaged)
	if err != nil {
		return nil, err
	}
	return &ManagedAdapter{Adapter: base}, nil
}

// AddColumn issues the ADD COLUMN DDL for exactly one new materialized column.
// The column is a stored generated column extracting the source field from the
// event's properties document.
func (m *ManagedAdapter) AddColumn(ctx context.Context, column models.MaterializedColumn) error {
	pool, err := m.getPool(ctx)
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(
		"ALTER TABLE %s ADD COLUMN %s %s GENERATED ALWAYS AS (%s) STORED",
		quoteIdentifier(m.config.EventsTable),
		quoteIdentifier(column.ColumnName),
		materializedColumnType(column.Datatype),
		extractionExpression(column),
	)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}
	return nil
}

// RenameColumn issues the RENAME COLUMN DDL. Used only when datatype and
// source field are unchanged; a definition change goes through drop-then-add.
func (m *ManagedAdapter) RenameColumn(ctx context.Context, from, to string) error {
	pool, err := m.getPool(ctx)
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(
		"ALTER TABLE %s RENAME COLUMN %s TO %s",
		quoteIdentifier(m.config.EventsTable),
		quoteIdentifier(from),
		quoteIdentifier(to),
	)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}
	return nil
}

// DropColumn issues the DROP COLUMN DDL.
func (m *ManagedAdapter) DropColumn(ctx context.Context, columnName string) error {
	pool, err := m.getPool(ctx)
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(
		"ALTER TABLE %s DROP COLUMN IF EXISTS %s",
		quoteIdentifier(m.config.EventsTable),
		quoteIdentifier(columnName),
	)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}
	return nil
}

// ProvisionUser creates a dedicated read-only warehouse role for one data
// source and returns connection params for it. Called with admin credentials
// at data source creation time.
func (m *ManagedAdapter) ProvisionUser(ctx context.Context, datasourceID string) (map[string]any, error) {
	pool, err := m.getPool(ctx)
	if err != nil {
		return nil, err
	}

	roleName := "ds_" + strings.ReplaceAll(datasourceID, "-", "")
	password, err := generatePassword()
	if err != nil {
		return nil, err
	}

	// Role names cannot be parameterized; both values are engine-generated,
	// never user input. The password is escaped as a literal.
	stmts := []string{
		fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s'", quoteIdentifier(roleName), strings.ReplaceAll(password, "'", "''")),
		fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s", quoteIdentifier(m.config.Database), quoteIdentifier(roleName)),
		fmt.Sprintf("GRANT SELECT ON %s TO %s", quoteIdentifier(m.config.EventsTable), quoteIdentifier(roleName)),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
		}
	}

	return map[string]any{
		"host":         m.config.Host,
		"port":         m.config.Port,
		"database":     m.config.Database,
		"user":         roleName,
		"password":     password,
		"ssl_mode":     m.config.SSLMode,
		"events_table": m.config.EventsTable,
	}, nil
}

func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// materializedColumnType maps a fact-table column type to the physical
// PostgreSQL type of the generated column.
func materializedColumnType(t models.FactTableColumnType) string {
	switch t {
	case models.ColumnTypeNumber:
		return "DOUBLE PRECISION"
	case models.ColumnTypeDate:
		return "TIMESTAMPTZ"
	case models.ColumnTypeBoolean:
		return "BOOLEAN"
	case models.ColumnTypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// extractionExpression builds the generated-column expression pulling the
// source field out of the properties document. The source field is sanitized
// upstream but is still escaped as a literal here.
func extractionExpression(column models.MaterializedColumn) string {
	field := strings.ReplaceAll(column.SourceField, "'", "''")
	switch column.Datatype {
	case models.ColumnTypeNumber:
		return fmt.Sprintf("(properties ->> '%s')::double precision", field)
	case models.ColumnTypeDate:
		return fmt.Sprintf("(properties ->> '%s')::timestamptz", field)
	case models.ColumnTypeBoolean:
		return fmt.Sprintf("(properties ->> '%s')::boolean", field)
	case models.ColumnTypeJSON:
		return fmt.Sprintf("(properties -> '%s')", field)
	default:
		return fmt.Sprintf("(properties ->> '%s')", field)
	}
}

// Ensure ManagedAdapter implements the managed capabilities at compile time.
var (
	_ warehouse.Integration              = (*ManagedAdapter)(nil)
	_ warehouse.MaterializedColumnEditor = (*ManagedAdapter)(nil)
	_ warehouse.UserProvisioner          = (*ManagedAdapter)(nil)
)
