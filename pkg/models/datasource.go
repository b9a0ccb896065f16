package models

import (
	"time"

	"github.com/google/uuid"
)

// DataSourceType identifies a supported warehouse kind.
type DataSourceType string

const (
	// DataSourceTypeManaged is the product-managed PostgreSQL event warehouse.
	// It is the only kind that supports materialized columns and user provisioning.
	DataSourceTypeManaged DataSourceType = "managed_postgres"

	DataSourceTypePostgres  DataSourceType = "postgres"
	DataSourceTypeSQLServer DataSourceType = "sqlserver"
	DataSourceTypeBigQuery  DataSourceType = "bigquery"
)

// ValidDataSourceType reports whether t names a warehouse kind the engine knows.
func ValidDataSourceType(t DataSourceType) bool {
	switch t {
	case DataSourceTypeManaged, DataSourceTypePostgres, DataSourceTypeSQLServer, DataSourceTypeBigQuery:
		return true
	}
	return false
}

// DataSource represents an external warehouse connection owned by an organization.
// Params holds connection details (credentials, host, etc.) which are encrypted
// at rest by the service layer and decrypted only in memory.
// Type is immutable after creation.
type DataSource struct {
	ID           uuid.UUID          `json:"id"`
	Organization uuid.UUID          `json:"organization"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Type         DataSourceType     `json:"type"`
	Params       map[string]any     `json:"params,omitempty"` // Decrypted params, structure varies by type
	Settings     DataSourceSettings `json:"settings"`
	Projects     []string           `json:"projects,omitempty"`
	DateCreated  time.Time          `json:"date_created"`
	DateUpdated  time.Time          `json:"date_updated"`
}

// DataSourceSettings holds the query and schema configuration stored alongside
// a data source record.
type DataSourceSettings struct {
	ExposureQueries     []ExposureQuery      `json:"exposure_queries,omitempty"`
	MaterializedColumns []MaterializedColumn `json:"materialized_columns,omitempty"`
	InformationSchemaID string               `json:"information_schema_id,omitempty"`
	Events              EventSettings        `json:"events"`
}

// EventSettings names the event and properties the exposure queries key on.
type EventSettings struct {
	ExperimentEvent      string `json:"experiment_event"`
	ExperimentIDProperty string `json:"experiment_id_property"`
	VariationIDProperty  string `json:"variation_id_property"`
}

// DefaultEventSettings fills unset event fields with product defaults.
func DefaultEventSettings(e EventSettings) EventSettings {
	if e.ExperimentEvent == "" {
		e.ExperimentEvent = "$experiment_started"
	}
	if e.ExperimentIDProperty == "" {
		e.ExperimentIDProperty = "Experiment name"
	}
	if e.VariationIDProperty == "" {
		e.VariationIDProperty = "Variant name"
	}
	return e
}

// ExposureQuery is a stored SQL template identifying which units were exposed
// to an experiment. The template uses {{startDate}} and {{endDate}} placeholders.
type ExposureQuery struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	UserIDType string   `json:"user_id_type"`
	Dimensions []string `json:"dimensions,omitempty"`
	Query      string   `json:"query"`
}

// ExposureQueryUpdate carries a partial edit of an exposure query.
// Nil fields are left untouched; updates merge, never replace wholesale.
type ExposureQueryUpdate struct {
	Name       *string   `json:"name,omitempty"`
	UserIDType *string   `json:"user_id_type,omitempty"`
	Dimensions *[]string `json:"dimensions,omitempty"`
	Query      *string   `json:"query,omitempty"`
}

// FindExposureQuery returns the index of the exposure query with the given id,
// or -1 if absent.
func (s *DataSourceSettings) FindExposureQuery(id string) int {
	for i, q := range s.ExposureQueries {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// MaterializedColumn declares a physical column derived from a raw event
// property, added to the managed warehouse's events table to speed up querying.
type MaterializedColumn struct {
	SourceField string              `json:"source_field"`
	ColumnName  string              `json:"column_name"`
	Datatype    FactTableColumnType `json:"datatype"`
}

// FindMaterializedColumn returns the index of the declared column with the
// given name, or -1 if absent.
func (s *DataSourceSettings) FindMaterializedColumn(columnName string) int {
	for i, c := range s.MaterializedColumns {
		if c.ColumnName == columnName {
			return i
		}
	}
	return -1
}
