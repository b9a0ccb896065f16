package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uplift-analytics/warehouse-engine/pkg/auth"
	"github.com/uplift-analytics/warehouse-engine/pkg/services"
	enginesql "github.com/uplift-analytics/warehouse-engine/pkg/sql"
)

// TestQueryRequest previews a stored SQL template.
type TestQueryRequest struct {
	Query     string `json:"query"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	EventName string `json:"event_name,omitempty"`
}

// RunQueryRequest executes free-form SQL.
type RunQueryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// QueriesHandler handles query execution HTTP requests.
type QueriesHandler struct {
	service services.QueryService
	logger  *zap.Logger
}

// NewQueriesHandler creates a new queries handler.
func NewQueriesHandler(service services.QueryService, logger *zap.Logger) *QueriesHandler {
	return &QueriesHandler{service: service, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *QueriesHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("POST /api/datasources/{id}/query/test", mw.RequireIdentity(h.Test))
	mux.HandleFunc("POST /api/datasources/{id}/query/run", mw.RequireIdentity(h.Run))
	mux.HandleFunc("GET /api/datasources/{id}/queries", mw.RequireIdentity(h.History))
}

// Test handles POST /api/datasources/{id}/query/test.
func (h *QueriesHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, dsID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	var req TestQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	execution, err := h.service.TestQuery(r.Context(), id.Organization, dsID, req.Query, enginesql.TemplateVariables{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		EventName: req.EventName,
	})
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, execution); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Run handles POST /api/datasources/{id}/query/run.
func (h *QueriesHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, dsID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	var req RunQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Query == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_query", "Query is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	execution, err := h.service.RunQuery(r.Context(), id.Organization, dsID, req.Query, req.Limit)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, execution); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// History handles GET /api/datasources/{id}/queries.
func (h *QueriesHandler) History(w http.ResponseWriter, r *http.Request) {
	id, dsID, ok := h.identityAndID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "Limit must be an integer"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		limit = parsed
	}

	runs, err := h.service.History(r.Context(), id.Organization, dsID, limit)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"queries": runs}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *QueriesHandler) identityAndID(w http.ResponseWriter, r *http.Request) (*auth.Identity, uuid.UUID, bool) {
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
