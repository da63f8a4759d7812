package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/auth"
	"github.com/panelhub-io/panelhub-engine/pkg/services"
)

// CreateProjectRequest is the body for project creation.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// SetMemberRoleRequest is the body for role assignment.
type SetMemberRoleRequest struct {
	Role string `json:"role"`
}

// ProjectsHandler handles project and membership requests.
type ProjectsHandler struct {
	projects services.ProjectService
	logger   *zap.Logger
}

// NewProjectsHandler creates a projects handler.
func NewProjectsHandler(projects services.ProjectService, logger *zap.Logger) *ProjectsHandler {
	return &ProjectsHandler{projects: projects, logger: logger}
}

// RegisterRoutes registers all project routes on the given mux.
func (h *ProjectsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/projects", authMiddleware.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/projects/{pid}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("GET /api/projects/{pid}/members", authMiddleware.RequireAuth(h.ListMembers))
	mux.HandleFunc("PUT /api/projects/{pid}/members/{uid}", authMiddleware.RequireAuth(h.SetMemberRole))
	mux.HandleFunc("DELETE /api/projects/{pid}/members/{uid}", authMiddleware.RequireAuth(h.RemoveMember))
}

func (h *ProjectsHandler) pathUUID(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid "+label+" format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /api/projects. The caller becomes creator and admin.
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	project, err := h.projects.CreateProject(r.Context(), userID, req.Name)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusCreated, project); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/projects/{pid}.
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	projectID, ok := h.pathUUID(w, r, "pid", "project ID")
	if !ok {
		return
	}

	project, err := h.projects.GetProject(r.Context(), userID, projectID)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, project); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListMembers handles GET /api/projects/{pid}/members.
func (h *ProjectsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	projectID, ok := h.pathUUID(w, r, "pid", "project ID")
	if !ok {
		return
	}

	members, err := h.projects.ListMembers(r.Context(), userID, projectID)
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteSuccess(w, http.StatusOK, members); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SetMemberRole handles PUT /api/projects/{pid}/members/{uid}.
func (h *ProjectsHandler) SetMemberRole(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	projectID, ok := h.pathUUID(w, r, "pid", "project ID")
	if !ok {
		return
	}
	targetID, ok := h.pathUUID(w, r, "uid", "user ID")
	if !ok {
		return
	}

	var req SetMemberRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := WriteFailure(w, http.StatusBadRequest, "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.projects.SetMemberRole(r.Context(), userID, projectID, targetID, req.Role); err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Role assigned"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// RemoveMember handles DELETE /api/projects/{pid}/members/{uid}.
func (h *ProjectsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		RespondError(w, h.logger, err)
		return
	}

	projectID, ok := h.pathUUID(w, r, "pid", "project ID")
	if !ok {
		return
	}
	targetID, ok := h.pathUUID(w, r, "uid", "user ID")
	if !ok {
		return
	}

	if err := h.projects.RemoveMember(r.Context(), userID, projectID, targetID); err != nil {
		RespondError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Member removed"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
