package mssql

import (
	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

func init() {
	warehouse.Register(warehouse.Registration{
		Info: warehouse.IntegrationInfo{
			Type:        models.DataSourceTypeSQLServer,
			DisplayName: "Microsoft SQL Server",
			Description: "Connect to SQL Server 2016+ or Azure SQL",
		},
		Factory: func(params map[string]any) (warehouse.Integration, error) {
			return NewAdapter(params)
		},
	})
}
