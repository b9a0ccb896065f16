package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisStatus tracks the lifecycle of a background analysis run.
type AnalysisStatus string

const (
	AnalysisStatusCreated   AnalysisStatus = "created"
	AnalysisStatusRunning   AnalysisStatus = "running"
	AnalysisStatusSucceeded AnalysisStatus = "succeeded"
	AnalysisStatusFailed    AnalysisStatus = "failed"
	AnalysisStatusCanceled  AnalysisStatus = "canceled"
)

// Terminal reports whether the status is final. Terminal records are never
// transitioned again; canceling a terminal run is a no-op.
func (s AnalysisStatus) Terminal() bool {
	switch s {
	case AnalysisStatusSucceeded, AnalysisStatusFailed, AnalysisStatusCanceled:
		return true
	}
	return false
}

// DimensionSlice is one discovered distinct value of a dimension with its
// share of exposure units.
type DimensionSlice struct {
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
}

// DimensionSliceResult holds the discovered slices for a single dimension.
type DimensionSliceResult struct {
	Dimension  string           `json:"dimension"`
	Slices     []DimensionSlice `json:"slices"`
	TotalUnits int64            `json:"total_units"`
}

// DimensionSlicesRun is the persisted record of a dimension-slice discovery
// analysis. Created when the analysis starts; mutated only by the owning
// runner; never deleted implicitly (cancel leaves the record for audit).
type DimensionSlicesRun struct {
	ID              uuid.UUID              `json:"id"`
	Organization    uuid.UUID              `json:"organization"`
	DatasourceID    uuid.UUID              `json:"datasource_id"`
	ExposureQueryID string                 `json:"exposure_query_id"`
	LookbackDays    int                    `json:"lookback_days"`
	Status          AnalysisStatus         `json:"status"`
	Error           string                 `json:"error,omitempty"`
	Results         []DimensionSliceResult `json:"results,omitempty"`
	RunStarted      *time.Time             `json:"run_started,omitempty"`
	RunFinished     *time.Time             `json:"run_finished,omitempty"`
	DateCreated     time.Time              `json:"date_created"`
	DateUpdated     time.Time              `json:"date_updated"`
}
