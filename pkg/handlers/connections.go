package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/auth"
	"github.com/panelhub-io/panelhub-engine/pkg/services"
)

// QueryRequest is the body for ad hoc query execution.
type QueryRequest struct {
	Query  string `json:"query"`
	Params []any  `json:"params,omitempty"`
}

// ConnectionsHandler handles connection lifecycle and gateway requests.
type ConnectionsHandler struct {
	connections services.ConnectionService
	gateway     services.GatewayService
	logger      *zap.Logger
}

// NewConnectionsHandler creates a connections handler.
func NewConnectionsHandler(connections services.ConnectionService, gateway services.GatewayService, logger *zap.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{
		connections: connections,
		gateway:     gateway,
		logger:      logger,
	}
}

// RegisterRoutes registers all connection routes on the given mux.
func (h *ConnectionsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/connections", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/connections", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("GET /api/connections/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/connections/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/connections/{id}", authMiddleware.RequireAuth(h.Delete))
	mux.HandleFunc("POST /api/connections/{id}/test", authMiddleware.RequireAuth(h.Test))
	mux.HandleFunc("GET /api/connections/{id}/schema", authMiddleware.RequireAuth(h.GetSchema))
	mux.HandleFunc("GET /api/connections/{id}/schema/{schema}/{table}", authMiddleware.RequireAuth(h.DescribeTable))
	mux.HandleFunc("POST /api/connections/{id}/query", authMiddleware.RequireAuth(h.Query))
}

func (h *ConnectionsHandler) connectionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid connection ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /api/connections.
func (h *ConnectionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	var input services.CreateConnectionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	conn, err := h.connections.Create(r.Context(), userID, input)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusCreated, conn); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/connections?project_id=...
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Valid project_id query parameter is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	connections, err := h.connections.List(r.Context(), userID, projectID)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, connections); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/connections/{id}.
func (h *ConnectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	id, ok := h.connectionID(w, r)
	if !ok {
		return
	}

	conn, err := h.connections.Get(r.Context(), userID, id)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, conn); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/connections/{id}. Absent fields keep their current
// values.
func (h *ConnectionsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	id, ok := h.connectionID(w, r)
	if !ok {
		return
	}

	var input services.UpdateConnectionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	conn, err := h.connections.Update(r.Context(), userID, id, input)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, conn); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/connections/{id}. Returns a conflict while any
// tile still references the connection.
func (h *ConnectionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	id, ok := h.connectionID(w, r)
	if !ok {
		return
	}

	if err := h.connections.Delete(r.Context(), userID, id); err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Connection deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Test handles POST /api/connections/{id}/test. The response carries the
// connection with its post-test status; a failed probe reports the sanitized
// upstream error.
func (h *ConnectionsHandler) Test(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	id, ok := h.connectionID(w, r)
	if !ok {
		return
	}

	conn, err := h.gateway.TestConnection(r.Context(), userID, id)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, conn); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetSchema handles GET /api/connections/{id}/schema.
func (h *ConnectionsHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	id, ok := h.connectionID(w, r)
	if !ok {
		return
	}

	overview, err := h.gateway.GetSchema(r.Context(), userID, id)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, overview); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DescribeTable handles GET /api/connections/{id}/schema/{schema}/{table}.
func (h *ConnectionsHandler) DescribeTable(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	id, ok := h.connectionID(w, r)
	if !ok {
		return
	}

	schema := r.PathValue("schema")
	table := r.PathValue("table")

	description, err := h.gateway.DescribeTable(r.Context(), userID, id, schema, table)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, description); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Query handles POST /api/connections/{id}/query.
func (h *ConnectionsHandler) Query(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	id, ok := h.connectionID(w, r)
	if !ok {
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.gateway.RunQuery(r.Context(), userID, id, req.Query, req.Params)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
