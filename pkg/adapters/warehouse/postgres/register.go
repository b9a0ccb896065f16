package postgres

import (
	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

func init() {
	warehouse.Register(warehouse.Registration{
		Info: warehouse.IntegrationInfo{
			Type:        models.DataSourceTypePostgres,
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+",
		},
		Factory: func(params map[string]any) (warehouse.Integration, error) {
			return NewAdapter(params, models.DataSourceTypePostgres)
		},
	})

	warehouse.Register(warehouse.Registration{
		Info: warehouse.IntegrationInfo{
			Type:        models.DataSourceTypeManaged,
			DisplayName: "Managed Warehouse",
			Description: "Product-managed PostgreSQL event warehouse with materialized columns",
		},
		Factory: func(params map[string]any) (warehouse.Integration, error) {
			return NewManagedAdapter(params)
		},
	})
}
