package bigquery

import (
	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

func init() {
	warehouse.Register(warehouse.Registration{
		Info: warehouse.IntegrationInfo{
			Type:        models.DataSourceTypeBigQuery,
			DisplayName: "Google BigQuery",
			Description: "Connect to a BigQuery project with a service account",
		},
		Factory: func(params map[string]any) (warehouse.Integration, error) {
			return NewAdapter(params)
		},
	})
}
