package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/adapters/warehouse"
	"github.com/uplift-analytics/warehouse-engine/pkg/apperrors"
	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
)

type dimensionSlicesFixture struct {
	ds          *models.DataSource
	runs        *mockDimensionSlicesRepository
	integration *fakeIntegration
	svc         DimensionSlicesService
}

func newDimensionSlicesFixture(org uuid.UUID, dimensions ...string) *dimensionSlicesFixture {
	if len(dimensions) == 0 {
		dimensions = []string{"geo_country"}
	}
	ds := &models.DataSource{
		ID: uuid.New(), Organization: org, Name: "Managed", Type: models.DataSourceTypeManaged,
		Settings: models.DataSourceSettings{
			ExposureQueries: []models.ExposureQuery{{
				ID:         "q1",
				Name:       "Logged-in Users",
				UserIDType: "user_id",
				Dimensions: dimensions,
				Query:      "SELECT user_id, geo_country FROM events WHERE timestamp BETWEEN '{{startDate}}' AND '{{endDate}}'",
			}},
		},
	}
	runs := newMockDimensionSlicesRepository()
	integration := &fakeIntegration{dsType: ds.Type}
	svc := NewDimensionSlicesService(
		runs,
		&mockDataSourceRepository{ds: ds, encrypted: "enc"},
		&fakeFactory{integration: integration},
		auth.NewRolePolicy(),
		zap.NewNop(),
	)
	return &dimensionSlicesFixture{ds: ds, runs: runs, integration: integration, svc: svc}
}

// waitForStatus drains status updates until the wanted one arrives.
func waitForStatus(t *testing.T, runs *mockDimensionSlicesRepository, want models.AnalysisStatus) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case status := <-runs.statusCh:
			if status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for run status %q", want)
		}
	}
}

func TestDimensionSlicesStart(t *testing.T) {
	org := uuid.New()
	ctx := adminContext(org)

	t.Run("returns the run immediately in the created state", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)

		run, err := f.svc.Start(ctx, org, f.ds.ID, "q1", 14)
		require.NoError(t, err)
		assert.Equal(t, models.AnalysisStatusCreated, run.Status)
		assert.Equal(t, 14, run.LookbackDays)

		waitForStatus(t, f.runs, models.AnalysisStatusSucceeded)
	})

	t.Run("coerces a non-positive lookback to the default", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)

		run, err := f.svc.Start(ctx, org, f.ds.ID, "q1", 0)
		require.NoError(t, err)
		assert.Equal(t, defaultLookbackDays, run.LookbackDays)

		waitForStatus(t, f.runs, models.AnalysisStatusSucceeded)
	})

	t.Run("unknown exposure query is not found", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)

		_, err := f.svc.Start(ctx, org, f.ds.ID, "missing", 30)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("undecryptable credentials are rejected up front", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)
		f.integration.decryptMsg = "credentials could not be decrypted with the configured key"

		_, err := f.svc.Start(ctx, org, f.ds.ID, "q1", 30)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("computes traffic shares per dimension", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)
		f.integration.runResult = &warehouse.QueryResult{
			Columns: []warehouse.ColumnInfo{
				{Name: "dimension_value"}, {Name: "units"},
			},
			Rows: []map[string]any{
				{"dimension_value": "US", "units": int64(75)},
				{"dimension_value": "DE", "units": int64(25)},
			},
			RowCount: 2,
		}

		run, err := f.svc.Start(ctx, org, f.ds.ID, "q1", 30)
		require.NoError(t, err)
		waitForStatus(t, f.runs, models.AnalysisStatusSucceeded)

		stored, err := f.runs.GetByID(ctx, org, run.ID)
		require.NoError(t, err)
		require.Len(t, stored.Results, 1)

		result := stored.Results[0]
		assert.Equal(t, "geo_country", result.Dimension)
		assert.Equal(t, int64(100), result.TotalUnits)
		require.Len(t, result.Slices, 2)
		assert.Equal(t, "US", result.Slices[0].Name)
		assert.InDelta(t, 75.0, result.Slices[0].Percent, 0.001)
		assert.InDelta(t, 25.0, result.Slices[1].Percent, 0.001)
		assert.NotNil(t, stored.RunStarted)
		assert.NotNil(t, stored.RunFinished)
	})

	t.Run("warehouse failure marks the run failed", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)
		f.integration.runErr = errors.New("relation \"events\" does not exist")

		run, err := f.svc.Start(ctx, org, f.ds.ID, "q1", 30)
		require.NoError(t, err)
		waitForStatus(t, f.runs, models.AnalysisStatusFailed)

		stored, err := f.runs.GetByID(ctx, org, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AnalysisStatusFailed, stored.Status)
		assert.Contains(t, stored.Error, "does not exist")
	})
}

func TestDimensionSlicesCancel(t *testing.T) {
	org := uuid.New()
	ctx := adminContext(org)

	t.Run("cancels an in-flight run", func(t *testing.T) {
		f := newDimensionSlicesFixture(org, "geo_country", "ua_browser")
		gate := make(chan struct{})
		f.integration.runGate = gate

		run, err := f.svc.Start(ctx, org, f.ds.ID, "q1", 30)
		require.NoError(t, err)
		waitForStatus(t, f.runs, models.AnalysisStatusRunning)

		canceled, err := f.svc.Cancel(ctx, org, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AnalysisStatusCanceled, canceled.Status)
		assert.NotNil(t, canceled.RunFinished)

		// The worker must observe the cancel and leave the record alone.
		close(gate)
		time.Sleep(50 * time.Millisecond)

		stored, err := f.runs.GetByID(ctx, org, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AnalysisStatusCanceled, stored.Status)
	})

	t.Run("cancel is not overwritten by a finishing worker", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)
		gate := make(chan struct{})
		reached := make(chan struct{}, 1)
		f.runs.succeedGate = gate
		f.runs.succeedReached = reached

		run, err := f.svc.Start(ctx, org, f.ds.ID, "q1", 30)
		require.NoError(t, err)

		// Hold the worker right before its final persist, after every
		// warehouse query has already returned.
		select {
		case <-reached:
		case <-time.After(5 * time.Second):
			t.Fatal("worker never reached its final persist")
		}

		canceled, err := f.svc.Cancel(ctx, org, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AnalysisStatusCanceled, canceled.Status)

		// Release the worker; its late result write must not land.
		close(gate)
		time.Sleep(50 * time.Millisecond)

		stored, err := f.runs.GetByID(ctx, org, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AnalysisStatusCanceled, stored.Status)
	})

	t.Run("canceling a terminal run is a no-op", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)
		finished := time.Now()
		run := &models.DimensionSlicesRun{
			Organization: org, DatasourceID: f.ds.ID, ExposureQueryID: "q1",
			Status: models.AnalysisStatusSucceeded, RunFinished: &finished,
		}
		require.NoError(t, f.runs.Create(ctx, run))

		got, err := f.svc.Cancel(ctx, org, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AnalysisStatusSucceeded, got.Status)
	})

	t.Run("unknown run is not found", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)

		_, err := f.svc.Cancel(ctx, org, uuid.New())
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestDimensionSlicesLatest(t *testing.T) {
	org := uuid.New()
	ctx := adminContext(org)

	t.Run("returns the newest run for the pair", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)

		older := &models.DimensionSlicesRun{
			Organization: org, DatasourceID: f.ds.ID, ExposureQueryID: "q1",
			Status: models.AnalysisStatusSucceeded, DateCreated: time.Now().Add(-time.Hour),
		}
		newer := &models.DimensionSlicesRun{
			Organization: org, DatasourceID: f.ds.ID, ExposureQueryID: "q1",
			Status: models.AnalysisStatusFailed, DateCreated: time.Now(),
		}
		require.NoError(t, f.runs.Create(ctx, older))
		require.NoError(t, f.runs.Create(ctx, newer))

		got, err := f.svc.Latest(ctx, org, f.ds.ID, "q1")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)
	})

	t.Run("no runs yet is not found", func(t *testing.T) {
		f := newDimensionSlicesFixture(org)

		_, err := f.svc.Latest(ctx, org, f.ds.ID, "q1")
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
