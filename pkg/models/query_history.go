package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryRun records a single warehouse query executed on behalf of a user,
// kept for the data source's run history.
type QueryRun struct {
	ID           uuid.UUID `json:"id"`
	Organization uuid.UUID `json:"organization"`
	DatasourceID uuid.UUID `json:"datasource_id"`
	SQL          string    `json:"sql"`
	DurationMs   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
