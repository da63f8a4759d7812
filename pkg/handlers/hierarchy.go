package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/auth"
	"github.com/panelhub-io/panelhub-engine/pkg/services"
)

// CreateFolderRequest is the body for folder creation.
type CreateFolderRequest struct {
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
}

// CreateDashboardRequest is the body for dashboard creation.
type CreateDashboardRequest struct {
	FolderID uuid.UUID `json:"folder_id"`
	Name     string    `json:"name"`
}

// CreateTileRequest is the body for tile creation.
type CreateTileRequest struct {
	DashboardID  uuid.UUID `json:"dashboard_id"`
	ConnectionID uuid.UUID `json:"connection_id"`
	Name         string    `json:"name"`
	Query        string    `json:"query"`
}

// HierarchyHandler handles folder, dashboard, and tile requests, including
// tile-scoped query execution.
type HierarchyHandler struct {
	projects services.ProjectService
	gateway  services.GatewayService
	logger   *zap.Logger
}

// NewHierarchyHandler creates a hierarchy handler.
func NewHierarchyHandler(projects services.ProjectService, gateway services.GatewayService, logger *zap.Logger) *HierarchyHandler {
	return &HierarchyHandler{projects: projects, gateway: gateway, logger: logger}
}

// RegisterRoutes registers all hierarchy routes on the given mux.
func (h *HierarchyHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/folders", authMiddleware.RequireAuth(h.CreateFolder))
	mux.HandleFunc("POST /api/dashboards", authMiddleware.RequireAuth(h.CreateDashboard))
	mux.HandleFunc("POST /api/tiles", authMiddleware.RequireAuth(h.CreateTile))
	mux.HandleFunc("POST /api/tiles/{tid}/query", authMiddleware.RequireAuth(h.TileQuery))
}

// CreateFolder handles POST /api/folders.
func (h *HierarchyHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	var req CreateFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	folder, err := h.projects.CreateFolder(r.Context(), userID, req.ProjectID, req.Name)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusCreated, folder); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateDashboard handles POST /api/dashboards.
func (h *HierarchyHandler) CreateDashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	var req CreateDashboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	dashboard, err := h.projects.CreateDashboard(r.Context(), userID, req.FolderID, req.Name)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusCreated, dashboard); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateTile handles POST /api/tiles.
func (h *HierarchyHandler) CreateTile(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	var req CreateTileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tile, err := h.projects.CreateTile(r.Context(), userID, req.DashboardID, req.ConnectionID, req.Name, req.Query)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusCreated, tile); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// TileQuery handles POST /api/tiles/{tid}/query. The caller's role resolves
// through the tile's dashboard, folder, and project; an empty query falls
// back to the tile's stored query.
func (h *HierarchyHandler) TileQuery(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	tileID, err := uuid.Parse(r.PathValue("tid"))
	if err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid tile ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.gateway.RunTileQuery(r.Context(), userID, tileID, req.Query, req.Params)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
