package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/microsoft/go-mssqldb" // register the sqlserver driver

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// Adapter provides SQL Server warehouse connectivity via database/sql.
// The connection is dialed lazily on first warehouse call.
type Adapter struct {
	config *Config
	params map[string]any

	dbOnce sync.Once
	db     *sql.DB
	dbErr  error
}

// NewAdapter creates a SQL Server adapter from decrypted params.
func NewAdapter(params map[string]any) (*Adapter, error) {
	cfg, err := FromMap(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}
	return &Adapter{config: cfg, params: params}, nil
}

// newAdapterWithDB wires an existing database handle, for tests.
func newAdapterWithDB(cfg *Config, db *sql.DB) *Adapter {
	a := &Adapter{config: cfg, params: map[string]any{}}
	a.dbOnce.Do(func() { a.db = db })
	return a
}

func (a *Adapter) getDB() (*sql.DB, error) {
	a.dbOnce.Do(func() {
		db, err := sql.Open("sqlserver", buildConnectionString(a.config))
		if err != nil {
			a.dbErr = fmt.Errorf("%w: %s", apperrors.ErrConnection, err.Error())
			return
		}
		a.db = db
	})
	return a.db, a.dbErr
}

// Type returns the warehouse kind this adapter serves.
func (a *Adapter) Type() models.DataSourceType { return models.DataSourceTypeSQLServer }

// TestConnection verifies the server is reachable and we are on the expected
// database.
func (a *Adapter) TestConnection(ctx context.Context) error {
	db, err := a.getDB()
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping failed: %s", apperrors.ErrConnection, err.Error())
	}

	var currentDB string
	if err := db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return fmt.Errorf("%w: test query failed: %s", apperrors.ErrConnection, err.Error())
	}

	if !strings.EqualFold(currentDB, a.config.Database) {
		return fmt.Errorf("%w: connected to wrong database: expected %q but connected to %q",
			apperrors.ErrConnection, a.config.Database, currentDB)
	}

	return nil
}

// RunQuery executes SQL and returns the results. A positive limit wraps the
// query with SELECT TOP.
func (a *Adapter) RunQuery(ctx context.Context, sqlQuery string, opts warehouse.QueryOptions) (*warehouse.QueryResult, error) {
	db, err := a.getDB()
	if err != nil {
		return nil, err
	}

	queryToRun := sqlQuery
	if opts.Limit > 0 {
		queryToRun = fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", opts.Limit, sqlQuery)
	}

	rows, err := db.QueryContext(ctx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}

	columns := make([]warehouse.ColumnInfo, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = warehouse.ColumnInfo{
			Name: ct.Name(),
			Type: ct.DatabaseTypeName(),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %s", apperrors.ErrQuery, err.Error())
		}

		rowMap := make(map[string]any)
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				rowMap[col.Name] = string(b)
			} else {
				rowMap[col.Name] = values[i]
			}
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
	db, err := a.getDB()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT COLUMN_NAME, DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_NAME = @p1
		ORDER BY ORDINAL_POSITION`

	rows, err := db.QueryContext(ctx, query, table)
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
			Datatype: columnTypeFromSQLServerType(dataType),
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

// Close releases the database handle if one was dialed.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// columnTypeFromSQLServerType maps an INFORMATION_SCHEMA data type to the
// closed fact-table column type set.
func columnTypeFromSQLServerType(dataType string) models.FactTableColumnType {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "int", "bigint", "decimal", "numeric", "float", "real", "money", "smallmoney":
		return models.ColumnTypeNumber
	case "char", "varchar", "text", "nchar", "nvarchar", "ntext", "uniqueidentifier":
		return models.ColumnTypeString
	case "date", "datetime", "datetime2", "smalldatetime", "datetimeoffset":
		return models.ColumnTypeDate
	case "bit":
		return models.ColumnTypeBoolean
	default:
		return models.ColumnTypeOther
	}
}

// Ensure Adapter implements Integration at compile time.
var _ warehouse.Integration = (*Adapter)(nil)
