package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/models"
	"github.com/uplift-analytics/warehouse-engine/pkg/services"
)

// MaterializedColumnRequest is the POST/PUT body declaring a column.
type MaterializedColumnRequest struct {
	SourceField string                     `json:"source_field"`
	ColumnName  string                     `json:"column_name"`
	Datatype    models.FactTableColumnType `json:"datatype"`
}

// MaterializedColumnsHandler handles materialized column HTTP requests.
type MaterializedColumnsHandler struct {
	service services.MaterializedColumnService
	logger  *zap.Logger
}

// NewMaterializedColumnsHandler creates a new materialized columns handler.
func NewMaterializedColumnsHandler(service services.MaterializedColumnService, logger *zap.Logger) *MaterializedColumnsHandler {
	return &MaterializedColumnsHandler{service: service, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *MaterializedColumnsHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("POST /api/datasources/{id}/materialized-columns", mw.RequireIdentity(h.Add))
	mux.HandleFunc("PUT /api/datasources/{id}/materialized-columns/{column}", mw.RequireIdentity(h.Update))
	mux.HandleFunc("DELETE /api/datasources/{id}/materialized-columns/{column}", mw.RequireIdentity(h.Delete))
	mux.HandleFunc("GET /api/datasources/{id}/materialized-columns/drift", mw.RequireIdentity(h.Reconcile))
}

// Add handles POST /api/datasources/{id}/materialized-columns.
func (h *MaterializedColumnsHandler) Add(w http.ResponseWriter, r *http.Request) {
	id, dsID, req, ok := h.parse(w, r, true)
	if !ok {
		return
	}

	column, err := h.service.Add(r.Context(), id.Organization, dsID, models.MaterializedColumn{
		SourceField: req.SourceField,
		ColumnName:  req.ColumnName,
		Datatype:    req.Datatype,
	})
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, column); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/datasources/{id}/materialized-columns/{column}.
func (h *MaterializedColumnsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, dsID, req, ok := h.parse(w, r, true)
	if !ok {
		return
	}
	originalName := r.PathValue("column")

	column, err := h.service.Update(r.Context(), id.Organization, dsID, originalName, models.MaterializedColumn{
		SourceField: req.SourceField,
		ColumnName:  req.ColumnName,
		Datatype:    req.Datatype,
	})
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, column); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/datasources/{id}/materialized-columns/{column}.
func (h *MaterializedColumnsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, dsID, _, ok := h.parse(w, r, false)
	if !ok {
		return
	}
	columnName := r.PathValue("column")

	if err := h.service.Delete(r.Context(), id.Organization, dsID, columnName); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "Materialized column deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Reconcile handles GET /api/datasources/{id}/materialized-columns/drift.
func (h *MaterializedColumnsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, dsID, _, ok := h.parse(w, r, false)
	if !ok {
		return
	}

	drift, err := h.service.Reconcile(r.Context(), id.Organization, dsID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"in_sync":    drift.InSync(),
		"missing":    drift.Missing,
		"unexpected": drift.Unexpected,
	}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// parse extracts identity, the {id} path parameter and, when wanted, the
// request body. It writes the error response itself on failure.
func (h *MaterializedColumnsHandler) parse(w http.ResponseWriter, r *http.Request, withBody bool) (*auth.Identity, uuid.UUID, MaterializedColumnRequest, bool) {
	var req MaterializedColumnRequest

	id, err := auth.ExtractIdentity(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return nil, uuid.Nil, req, false
	}

	dsID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_datasource_id", "Invalid data source ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, uuid.Nil, req, false
	}

	if withBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return nil, uuid.Nil, req, false
		}
	}

	return id, dsID, req, true
}
