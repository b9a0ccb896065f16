package bigquery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

// Adapter provides BigQuery warehouse connectivity. The client is created
// lazily on first warehouse call.
type Adapter struct {
	config *Config
	params map[string]any

	clientOnce sync.Once
	client     *bq.Client
	clientErr  error
}

// NewAdapter creates a BigQuery adapter from decrypted params.
func NewAdapter(params map[string]any) (*Adapter, error) {
	cfg, err := FromMap(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}
	return &Adapter{config: cfg, params: params}, nil
}

func (a *Adapter) getClient(ctx context.Context) (*bq.Client, error) {
	a.clientOnce.Do(func() {
		creds, err := credentialsJSON(a.config)
		if err != nil {
			a.clientErr = fmt.Errorf("%w: %s", apperrors.ErrConnection, err.Error())
			return
		}
		client, err := bq.NewClient(ctx, a.config.ProjectID, option.WithCredentialsJSON(creds))
		if err != nil {
			a.clientErr = fmt.Errorf("%w: %s", apperrors.ErrConnection, err.Error())
			return
		}
		a.client = client
	})
	return a.client, a.clientErr
}

// Type returns the warehouse kind this adapter serves.
func (a *Adapter) Type() models.DataSourceType { return models.DataSourceTypeBigQuery }

// TestConnection verifies the credentials by running a trivial query.
func (a *Adapter) TestConnection(ctx context.Context) error {
	client, err := a.getClient(ctx)
	if err != nil {
		return err
	}

	it, err := client.Query("SELECT 1").Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrConnection, err.Error())
	}
	var row []bq.Value
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return fmt.Errorf("%w: %s", apperrors.ErrConnection, err.Error())
	}
	return nil
}

// RunQuery executes SQL and returns the results. A positive limit wraps the
// query in a bounding subselect.
func (a *Adapter) RunQuery(ctx context.Context, sqlQuery string, opts warehouse.QueryOptions) (*warehouse.QueryResult, error) {
	client, err := a.getClient(ctx)
	if err != nil {
		return nil, err
	}

	queryToRun := sqlQuery
	if opts.Limit > 0 {
		queryToRun = fmt.Sprintf("SELECT * FROM (%s) LIMIT %d", sqlQuery, opts.Limit)
	}

	q := client.Query(queryToRun)
	if a.config.Dataset != "" {
		q.DefaultDatasetID = a.config.Dataset
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}

	var columns []warehouse.ColumnInfo
	resultRows := make([]map[string]any, 0)
	for {
		var values []bq.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
		}

		if columns == nil {
			columns = make([]warehouse.ColumnInfo, len(it.Schema))
			for i, field := range it.Schema {
				columns[i] = warehouse.ColumnInfo{
					Name: field.Name,
					Type: string(field.Type),
				}
			}
		}

		rowMap := make(map[string]any)
		for i, col := range columns {
			if i < len(values) {
				rowMap[col.Name] = values[i]
			}
		}
		resultRows = append(resultRows, rowMap)
	}

	if columns == nil {
		columns = []warehouse.ColumnInfo{}
	}

	return &warehouse.QueryResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// ListColumns introspects the physical columns of a table in the configured
// dataset.
func (a *Adapter) ListColumns(ctx context.Context, table string) ([]warehouse.ColumnMetadata, error) {
	client, err := a.getClient(ctx)
	if err != nil {
		return nil, err
	}
	if a.config.Dataset == "" {
		return nil, fmt.Errorf("%w: no dataset configured", apperrors.ErrValidation)
	}

	q := client.Query(fmt.Sprintf(
		"SELECT column_name, data_type FROM `%s`.INFORMATION_SCHEMA.COLUMNS WHERE table_name = @table ORDER BY ordinal_position",
		a.config.Dataset,
	))
	q.Parameters = []bq.QueryParameter{{Name: "table", Value: table}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
	}

	var columns []warehouse.ColumnMetadata
	for {
		var values []bq.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
		}
		if len(values) < 2 {
			continue
		}
		name, _ := values[0].(string)
		dataType, _ := values[1].(string)
		columns = append(columns, warehouse.ColumnMetadata{
			Name:     name,
			Datatype: columnTypeFromBigQueryType(dataType),
		})
	}

	return columns, nil
}

// ListDatasets returns the dataset IDs visible to the configured service
// account, used by the setup UI to pick a dataset.
func (a *Adapter) ListDatasets(ctx context.Context) ([]string, error) {
	client, err := a.getClient(ctx)
	if err != nil {
		return nil, err
	}

	var datasets []string
	it := client.Datasets(ctx)
	for {
		ds, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrQuery, err.Error())
		}
		datasets = append(datasets, ds.DatasetID)
	}
	return datasets, nil
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
	return warehouse.RedactParams(a.params, "private_key")
}

// DecryptionError is always empty for a successfully constructed adapter.
func (a *Adapter) DecryptionError() string { return "" }

// Close releases the client if one was created.
func (a *Adapter) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// columnTypeFromBigQueryType maps a BigQuery standard SQL type to the closed
// fact-table column type set.
func columnTypeFromBigQueryType(dataType string) models.FactTableColumnType {
	switch strings.ToUpper(dataType) {
	case "INT64", "FLOAT64", "NUMERIC", "BIGNUMERIC":
		return models.ColumnTypeNumber
	case "STRING":
		return models.ColumnTypeString
	case "DATE", "DATETIME", "TIMESTAMP":
		return models.ColumnTypeDate
	case "BOOL":
		return models.ColumnTypeBoolean
	case "JSON":
		return models.ColumnTypeJSON
	default:
		return models.ColumnTypeOther
	}
}

// Ensure Adapter implements Integration at compile time.
var (
	_ warehouse.Integration   = (*Adapter)(nil)
	_ warehouse.DatasetLister = (*Adapter)(nil)
)
