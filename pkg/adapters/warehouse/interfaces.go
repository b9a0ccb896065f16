// Package warehouse defines the uniform integration contract over the
// external warehouse kinds the engine can query.
package warehouse

import (
	"context"

	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// MaxQueryLimit is the hard cap on rows returned by RunQuery.
// This protects against unbounded queries that could crash the server.
const MaxQueryLimit = 1000

// QueryOptions bound a single query execution.
type QueryOptions struct {
	// Limit caps returned rows. <= 0 means no wrapping is applied by the
	// adapter; callers are expected to pass a bound for interactive paths.
	Limit int
}

// ColumnInfo describes a result column with warehouse-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult contains the rows and column metadata from one query execution.
type QueryResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ColumnMetadata is one physically observed column, used to refresh fact-table
// column caches after schema mutations.
type ColumnMetadata struct {
	Name     string                     `json:"name"`
	Datatype models.FactTableColumnType `json:"datatype"`
}

// Integration is the uniform façade over one warehouse kind, built from a
// DataSource record with params decrypted via the credential encryptor.
// Each integration owns its connection and must be closed when done.
type Integration interface {
	// Type returns the warehouse kind this integration serves.
	Type() models.DataSourceType

	// TestConnection verifies the warehouse is reachable with valid
	// credentials. Failures wrap apperrors.ErrConnection. Success has no
	// side effect beyond validating reachability.
	TestConnection(ctx context.Context) error

	// RunQuery executes SQL and returns rows plus column metadata. Failures
	// wrap apperrors.ErrQuery carrying the warehouse's raw error text;
	// credentials must never appear in error messages.
	RunQuery(ctx context.Context, sqlQuery string, opts QueryOptions) (*QueryResult, error)

	// ListColumns introspects the physical columns of a table.
	ListColumns(ctx context.Context, table string) ([]ColumnMetadata, error)

	// MergeParams shallow-merges caller-supplied fields onto the existing
	// decrypted params, for partial connection-setting updates. The merged
	// map (via Params) is ready for re-encryption.
	MergeParams(partial map[string]any)

	// Params returns the current decrypted params for re-encryption.
	Params() map[string]any

	// NonSensitiveParams returns a redacted view of the params for display.
	NonSensitiveParams() map[string]any

	// DecryptionError returns a non-empty message if the stored params could
	// not be decrypted (e.g. key rotation). Read paths degrade gracefully
	// instead of failing entirely.
	DecryptionError() string

	// Close releases any resources held by the integration.
	Close() error
}

// MaterializedColumnEditor is implemented by warehouse kinds that support
// managed materialized columns. The manager type-asserts an Integration to
// this interface; kinds that do not implement it reject the whole operation.
// Each method issues dialect-specific DDL against the managed events table.
type MaterializedColumnEditor interface {
	AddColumn(ctx context.Context, column models.MaterializedColumn) error
	RenameColumn(ctx context.Context, from, to string) error
	DropColumn(ctx context.Context, columnName string) error
}

// DatasetLister is implemented by warehouse kinds that organize tables into
// datasets. The setup flow lists them so a user can pick one.
type DatasetLister interface {
	ListDatasets(ctx context.Context) ([]string, error)
}

// UserProvisioner is implemented by the managed warehouse kind: it creates a
// dedicated warehouse user scoped to one data source at creation time and
// returns the connection params for that user.
type UserProvisioner interface {
	ProvisionUser(ctx context.Context, datasourceID string) (map[string]any, error)
}

// RedactParams returns a copy of params with the named sensitive keys removed.
// Adapters use it to implement NonSensitiveParams.
func RedactParams(params map[string]any, sensitiveKeys ...string) map[string]any {
	redacted := make(map[string]any, len(params))
	for k, v := range params {
		redacted[k] = v
	}
	for _, key := range sensitiveKeys {
		delete(redacted, key)
	}
	return redacted
}
