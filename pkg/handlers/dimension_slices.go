package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/services"
)

// StartDimensionSlicesRequest is the POST body starting an analysis.
type StartDimensionSlicesRequest struct {
	ExposureQueryID string `json:"exposure_query_id"`
	LookbackDays    int    `json:"lookback_days,omitempty"`
}

// DimensionSlicesHandler handles dimension slice analysis HTTP requests.
type DimensionSlicesHandler struct {
	service services.DimensionSlicesService
	logger  *zap.Logger
}

// NewDimensionSlicesHandler creates a new dimension slices handler.
func NewDimensionSlicesHandler(service services.DimensionSlicesService, logger *zap.Logger) *DimensionSlicesHandler {
	return &DimensionSlicesHandler{service: service, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *DimensionSlicesHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("POST /api/datasources/{id}/dimension-slices", mw.RequireIdentity(h.Start))
	mux.HandleFunc("GET /api/datasources/{id}/dimension-slices/latest", mw.RequireIdentity(h.Latest))
	mux.HandleFunc("GET /api/dimension-slices/{runId}", mw.RequireIdentity(h.Get))
	mux.HandleFunc("POST /api/dimension-slices/{runId}/cancel", mw.RequireIdentity(h.Cancel))
}

// Start handles POST /api/datasources/{id}/dimension-slices.
func (h *DimensionSlicesHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, err := auth.ExtractIdentity(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	dsID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_datasource_id", "Invalid data source ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req StartDimensionSlicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.ExposureQueryID == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_exposure_query", "Exposure query ID is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	run, err := h.service.Start(r.Context(), id.Organization, dsID, req.ExposureQueryID, req.LookbackDays)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, run); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Latest handles GET /api/datasources/{id}/dimension-slices/latest.
func (h *DimensionSlicesHandler) Latest(w http.ResponseWriter, r *http.Request) {
	id, err := auth.ExtractIdentity(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	dsID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_datasource_id", "Invalid data source ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	exposureQueryID := r.URL.Query().Get("exposure_query_id")
	if exposureQueryID == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_exposure_query", "exposure_query_id query parameter is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	run, err := h.service.Latest(r.Context(), id.Organization, dsID, exposureQueryID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, run); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/dimension-slices/{runId}.
func (h *DimensionSlicesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, runID, ok := h.identityAndRunID(w, r)
	if !ok {
		return
	}

	run, err := h.service.Get(r.Context(), id.Organization, runID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, run); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Cancel handles POST /api/dimension-slices/{runId}/cancel.
func (h *DimensionSlicesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, runID, ok := h.identityAndRunID(w, r)
	if !ok {
		return
	}

	run, err := h.service.Cancel(r.Context(), id.Organization, runID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, run); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *DimensionSlicesHandler) identityAndRunID(w http.ResponseWriter, r *http.Request) (*auth.Identity, uuid.UUID, bool) {
	id, err := auth.ExtractIdentity(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return nil, uuid.Nil, false
	}

	runID, err := uuid.Parse(r.PathValue("runId"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_run_id", "Invalid run ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, uuid.Nil, false
	}

	return id, runID, true
}
