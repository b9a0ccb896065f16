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

// CreateDataSourceRequest is the POST body for a new data source.
type CreateDataSourceRequest struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Type        models.DataSourceType     `json:"type"`
	Params      map[string]any            `json:"params"`
	Settings    models.DataSourceSettings `json:"settings"`
	Projects    []string                  `json:"projects"`
}

// CreateManagedDataSourceRequest is the POST body for a managed data source.
type CreateManagedDataSourceRequest struct {
	Name string `json:"name"`
}

// TestConnectionRequest carries unsaved connection params for testing.
type TestConnectionRequest struct {
	Type   models.DataSourceType `json:"type"`
	Params map[string]any        `json:"params"`
}

// StatusResponse is the generic success/failure envelope.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// DataSourcesHandler handles data source HTTP requests.
type DataSourcesHandler struct {
	service services.DataSourceService
	logger  *zap.Logger
}

// NewDataSourcesHandler creates a new data sources handler.
func NewDataSourcesHandler(service services.DataSourceService, logger *zap.Logger) *DataSourcesHandler {
	return &DataSourcesHandler{service: service, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *DataSourcesHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("GET /api/datasources", mw.RequireIdentity(h.List))
	mux.HandleFunc("POST /api/datasources", mw.RequireIdentity(h.Create))
	mux.HandleFunc("POST /api/datasources/managed", mw.RequireIdentity(h.CreateManaged))
	mux.HandleFunc("POST /api/datasources/test", mw.RequireIdentity(h.TestConnection))
	mux.HandleFunc("GET /api/datasources/{id}", mw.RequireIdentity(h.Get))
	mux.HandleFunc("PUT /api/datasources/{id}", mw.RequireIdentity(h.Update))
	mux.HandleFunc("DELETE /api/datasources/{id}", mw.RequireIdentity(h.Delete))
	mux.HandleFunc("PUT /api/datasources/{id}/exposure-queries/{queryId}", mw.RequireIdentity(h.UpdateExposureQuery))
	mux.HandleFunc("GET /api/datasources/{id}/datasets", mw.RequireIdentity(h.ListDatasets))
}

// List handles GET /api/datasources.
func (h *DataSourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := auth.ExtractIdentity(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	datasources, err := h.service.List(r.Context(), id.Organization)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"datasources": datasources}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/datasources.
func (h *DataSourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, err := auth.ExtractIdentity(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	var req CreateDataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ds := &models.DataSource{
		Organization: id.Organization,
		Name:         req.Name,
		Description:  req.Description,
		Type:         req.Type,
		Params:       req.Params,
		Settings:     req.Settings,
		Projects:     req.Projects,
	}

	created, err := h.service.Create(r.Context(), ds)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	// Never echo raw params back.
	created.Params = nil
	if err := WriteJSON(w, http.StatusCreated, created); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateManaged handles POST /api/datasources/managed.
func (h *DataSourcesHandler) CreateManaged(w http.ResponseWriter, r *http.Request) {
	id, err := auth.ExtractIdentity(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	var req CreateManagedDataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	created, err := h.service.CreateManaged(r.Context(), id.Organization, req.Name)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	created.Params = nil
	if err := WriteJSON(w, http.StatusCreated, created); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/datasources/{id}.
func (h *DataSourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, dsID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	ds, err := h.service.Get(r.Context(), id.Organization, dsID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ds); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/datasources/{id}.
func (h *DataSourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, dsID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	var update services.DataSourceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	ds, err := h.service.Update(r.Context(), id.Organization, dsID, update)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ds); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateExposureQuery handles PUT /api/datasources/{id}/exposure-queries/{queryId}.
func (h *DataSourcesHandler) UpdateExposureQuery(w http.ResponseWriter, r *http.Request) {
	id, dsID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}
	queryID := r.PathValue("queryId")

	var update models.ExposureQueryUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	q, err := h.service.UpdateExposureQuery(r.Context(), id.Organization, dsID, queryID, update)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, q); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListDatasets handles GET /api/datasources/{id}/datasets. Used by the setup
// flow so a user can pick the dataset their tables live in.
func (h *DataSourcesHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	id, dsID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	datasets, err := h.service.ListDatasets(r.Context(), id.Organization, dsID)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"datasets": datasets}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/datasources/{id}.
func (h *DataSourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, dsID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id.Organization, dsID); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "Data source deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// TestConnection handles POST /api/datasources/test.
func (h *DataSourcesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.ExtractIdentity(r.Context()); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	var req TestConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.service.TestConnection(r.Context(), req.Type, req.Params); err != nil {
		// A failed test is a result, not a server error.
		if err := WriteJSON(w, http.StatusOK, StatusResponse{Success: false, Message: err.Error()}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "Connection successful"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// identityAndID extracts the identity and the {id} path parameter, writing the
// error response itself on failure.
func (h *DataSourcesHandler) identityAndID(w http.ResponseWriter, r *http.Request) (*auth.Identity, uuid.UUID, bool) {
	id, err := auth.ExtractIdentity(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return nil, uuid.Nil, false
	}

	dsID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_datasource_id", "Invalid data source ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, uuid.Nil, false
	}

	return id, dsID, true
}
