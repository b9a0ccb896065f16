package models

import (
	"time"

	"github.com/google/uuid"
)

// FactTableColumnType is the closed set of column types a fact table can declare.
type FactTableColumnType string

const (
	ColumnTypeNumber  FactTableColumnType = "number"
	ColumnTypeString  FactTableColumnType = "string"
	ColumnTypeDate    FactTableColumnType = "date"
	ColumnTypeBoolean FactTableColumnType = "boolean"
	ColumnTypeJSON    FactTableColumnType = "json"
	ColumnTypeOther   FactTableColumnType = "other"
)

// FactTableColumnTypes lists every valid column type.
var FactTableColumnTypes = []FactTableColumnType{
	ColumnTypeNumber,
	ColumnTypeString,
	ColumnTypeDate,
	ColumnTypeBoolean,
	ColumnTypeJSON,
	ColumnTypeOther,
}

// ValidFactTableColumnType reports whether t is in the closed set.
func ValidFactTableColumnType(t FactTableColumnType) bool {
	for _, valid := range FactTableColumnTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// FactTableColumn is one physically observed column on a fact table.
type FactTableColumn struct {
	Name     string              `json:"name"`
	Datatype FactTableColumnType `json:"datatype"`
}

// FactTable describes a queryable physical table in a warehouse. The Columns
// list is a cache of physically observed columns; it must be refreshed after
// any materialized-column mutation so it never silently drifts from the
// warehouse.
type FactTable struct {
	ID           uuid.UUID         `json:"id"`
	Organization uuid.UUID         `json:"organization"`
	DatasourceID uuid.UUID         `json:"datasource_id"`
	Name         string            `json:"name"`
	SQL          string            `json:"sql"`
	Columns      []FactTableColumn `json:"columns"`
	DateCreated  time.Time         `json:"date_created"`
	DateUpdated  time.Time         `json:"date_updated"`
}
