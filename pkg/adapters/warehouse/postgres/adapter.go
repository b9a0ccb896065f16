package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// Adapter provides PostgreSQL warehouse connectivity.
// The connection pool is dialed lazily on first warehouse call so that
// display-only paths (params redaction, listing) never open a connection.
type Adapter struct {
	config *Config
	params map[string]any
	dsType models.DataSourceType

	poolOnce sync.Once
	pool     *pgxpool.Pool
	poolErr  error
}

// NewAdapter creates a PostgreSQL adapter from decrypted params.
func NewAdapter(params map[string]any, dsType models.DataSourceType) (*Adapter, error) {
	cfg, err := FromMap(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}
	return &Adapter{config: cfg, params: params, dsType: dsType}, nil
}

func (a *Adapter) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	a.poolOnce.Do(func() {
		pool, err := pgxpool.New(ctx, buildConnectionString(a.config))
		if err != nil {
			a.poolErr = fmt.Errorf("%w: %s", apperrors.ErrConnection, err.Error())
			return
		}
		a.pool = pool
	})
	return a.pool, a.poolErr
}

// Type returns the warehouse kind this adapter serves.
func (a *Adapter) Type() models.DataSourceType { return a.dsType }

// TestConnection verifies the warehouse is reachable with valid credentials.
// It checks server connectivity, database access, and that we landed on the
// expected database.
func (a *Adapter) TestConnection(ctx context.Context) error {
	pool, err := a.getPool(ctx)
	if err != nil {
		return err
	}

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping failed: %s", apperrors.ErrConnection, err.Error())
	}

	var currentDB string
	if err := pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("%w: test query failed: %s", apperrors.ErrConnection, err.Error())
	}

	if !strings.EqualFold(currentDB, a.config.Database) {
		return fmt.Errorf("%w: connected to wrong database: expected %q but connected to %q",
			apperrors.ErrConnection, a.config.Database, currentDB)
	}

	return nil
}

// RunQuery executes SQL and returns the results. A positive limit wraps the
// query in a bounding subselect.
func (a *Adapter) RunQuery(ctx context.Context, sqlQuery string, opts warehouse.QueryOptions) (*warehouse.QueryResult, error) {
	pool, err := a.getPool(ctx)
	if err != nil {
		return nil, err
	}

	queryToRun := sqlQuery
	if opts.Limit > 0 {
		queryToRun = fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, opts.Limit)
	}

	rows, err := pool.Query(ctx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]warehouse.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = warehouse.ColumnInfo{
			Name: string(fd.Name),
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read row values: %s", apperrors.ErrQuery, err.Error())
		}

		rowMap := make(map[string]any)
		for i, col := range columns {
			rowMap[col.Name] = values[i]
		}
		resultRows = append(resultRows, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}

	return &warehouse.QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// ListColumns introspects the physical columns of a table.
func (a *Adapter) ListColumns(ctx context.Context, table string) ([]warehouse.ColumnMetadata, error) {
	pool, err := a.getPool(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position`

	rows, err := pool.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}
	defer rows.Close()

	var columns []warehouse.ColumnMetadata
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("%w: failed to scan column: %s", apperrors.ErrQuery, err.Error())
		}
		columns = append(columns, warehouse.ColumnMetadata{
			Name:     name,
			Datatype: columnTypeFromPgType(dataType),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}

	return columns, nil
}

// MergeParams shallow-merges caller-supplied fields onto the existing params.
func (a *Adapter) MergeParams(partial map[string]any) {
	for k, v := range partial {
		a.params[k] = v
	}
	if cfg, err := FromMap(a.params); err == nil {
		a.config = cfg
	}
}

// Params returns the current decrypted params for re-encryption.
func (a *Adapter) Params() map[string]any { return a.params }

// NonSensitiveParams returns the params with secrets removed.
func (a *Adapter) NonSensitiveParams() map[string]any {
	return warehouse.RedactParams(a.params, "password")
}

// DecryptionError is always empty for a successfully constructed adapter.
func (a *Adapter) DecryptionError() string { return "" }

// Close releases the connection pool if one was dialed.
func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// quoteIdentifier safely quotes a SQL identifier using PostgreSQL's standard
// double-quote quoting.
func quoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// pgTypeNameFromOID maps common PostgreSQL type OIDs to readable type names.
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	default:
		return "UNKNOWN"
	}
}

// columnTypeFromPgType maps an information_schema data_type to the closed
// fact-table column type set.
func columnTypeFromPgType(dataType string) models.FactTableColumnType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint", "real", "double precision", "numeric", "decimal", "money":
		return models.ColumnTypeNumber
	case "text", "character varying", "character", "uuid":
		return models.ColumnTypeString
	case "date", "timestamp without time zone", "timestamp with time zone":
		return models.ColumnTypeDate
	case "boolean":
		return models.ColumnTypeBoolean
	case "json", "jsonb":
		return models.ColumnTypeJSON
	default:
		return models.ColumnTypeOther
	}
}

// Ensure Adapter implements Integration at compile time.
var _ warehouse.Integration = (*Adapter)(nil)
