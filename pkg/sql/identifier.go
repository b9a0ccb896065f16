// Package sql provides identifier sanitization and template substitution for
// SQL sent to customer warehouses.
package sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

var (
	columnNamePattern  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	sourceFieldPattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]*$`)
	hasLetterPattern   = regexp.MustCompile(`[a-zA-Z]`)
)

// sqlKeywords are rejected as column names. Most of these technically work as
// column names when quoted, but they would be confusing when writing and
// viewing SQL. Comparison is case-insensitive.
var sqlKeywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "order": {}, "having": {},
	"limit": {}, "offset": {}, "join": {}, "on": {}, "using": {}, "as": {},
	"distinct": {}, "union": {}, "if": {}, "then": {}, "else": {}, "end": {},
	"case": {}, "when": {}, "and": {}, "or": {}, "not": {}, "true": {},
	"false": {}, "null": {}, "is": {}, "in": {}, "between": {}, "exists": {},
	"like": {}, "array": {}, "tuple": {}, "map": {}, "cast": {}, "inf": {},
	"infinity": {}, "nan": {}, "default": {}, "current_date": {},
	"current_timestamp": {}, "sysdate": {},
}

// ReservedColumnProvider returns the lowercase set of column names the product
// itself defines on the managed events table. Materialized columns must not
// overwrite them.
type ReservedColumnProvider func() map[string]struct{}

// DefaultReservedColumns is the built-in reserved set for the managed warehouse.
func DefaultReservedColumns() map[string]struct{} {
	return map[string]struct{}{
		"timestamp": {}, "event_name": {}, "properties": {},
		"experiment_id": {}, "variation_id": {},
		"user_id": {}, "device_id": {}, "session_id": {}, "page_url": {},
		"geo_country": {}, "ua_browser": {}, "ua_os": {}, "ua_device_type": {},
		"utm_source": {}, "utm_medium": {}, "utm_campaign": {},
		"environment": {}, "sdk_version": {},
	}
}

// SanitizeColumnName validates a materialized-column destination identifier.
// Returns the name unchanged on success, or an error wrapping
// apperrors.ErrValidation naming the violated rule.
func SanitizeColumnName(name string, reserved map[string]struct{}) (string, error) {
	if !columnNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: column names must start with a letter or underscore and only use alphanumeric characters or '_'", apperrors.ErrValidation)
	}

	cmp := strings.ToLower(name)

	if _, ok := reserved[cmp]; ok {
		return "", fmt.Errorf("%w: column name %q is reserved and cannot be used", apperrors.ErrValidation, name)
	}

	if _, ok := sqlKeywords[cmp]; ok {
		return "", fmt.Errorf("%w: column name %q is a SQL keyword and cannot be used", apperrors.ErrValidation, name)
	}

	return name, nil
}

// SanitizeSourceField validates the raw event-property name a materialized
// column extracts from.
func SanitizeSourceField(field string) (string, error) {
	if !sourceFieldPattern.MatchString(field) {
		return "", fmt.Errorf("%w: source field must only use alphanumeric characters, ' ', '_', or '-'", apperrors.ErrValidation)
	}
	if !hasLetterPattern.MatchString(field) {
		return "", fmt.Errorf("%w: source field must contain at least one letter", apperrors.ErrValidation)
	}
	if strings.HasPrefix(field, " ") || strings.HasSuffix(field, " ") {
		return "", fmt.Errorf("%w: source field must not have leading or trailing spaces", apperrors.ErrValidation)
	}
	return field, nil
}

// SanitizeMaterializedColumn validates all fields of a materialized-column
// input. Either every field passes or the whole input is rejected; no partial
// sanitization occurs.
func SanitizeMaterializedColumn(input models.MaterializedColumn, reserved map[string]struct{}) (models.MaterializedColumn, error) {
	if !models.ValidFactTableColumnType(input.Datatype) {
		return models.MaterializedColumn{}, fmt.Errorf("%w: invalid datatype %q", apperrors.ErrValidation, input.Datatype)
	}

	sourceField, err := SanitizeSourceField(input.SourceField)
	if err != nil {
		return models.MaterializedColumn{}, err
	}

	columnName, err := SanitizeColumnName(input.ColumnName, reserved)
	if err != nil {
		return models.MaterializedColumn{}, err
	}

	return models.MaterializedColumn{
		SourceField: sourceField,
		ColumnName:  columnName,
		Datatype:    input.Datatype,
	}, nil
}
