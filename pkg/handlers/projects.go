package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

// CreateProjectRequest for POST /api/projects
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ProjectsHandler handles project-related HTTP requests.
type ProjectsHandler struct {
	projectService services.ProjectService
	logger         *zap.Logger
}

// NewProjectsHandler creates a new projects handler.
func NewProjectsHandler(projectService services.ProjectService, logger *zap.Logger) *ProjectsHandler {
	return &ProjectsHandler{
		projectService: projectService,
		logger:         logger,
	}
}

// RegisterRoutes registers the projects handler's routes on the given mux.
func (h *ProjectsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/projects", h.List)
	mux.HandleFunc("POST /api/projects", h.Create)
	mux.HandleFunc("GET /api/projects/{pid}", h.Get)
	mux.HandleFunc("DELETE /api/projects/{pid}", h.Delete)
}

// List handles GET /api/projects
func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projectService.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list_projects_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, projects)
}

// Create handles POST /api/projects
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "invalid_request", "Invalid request body")
		return
	}

	project, err := h.projectService.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		writeServiceError(w, h.logger, err, "create_project_failed")
		return
	}
	writeOK(w, h.logger, http.StatusCreated, project)
}

// Get handles GET /api/projects/{pid}
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	project, err := h.projectService.Get(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_project_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, project)
}

// Delete handles DELETE /api/projects/{pid}
// Versions, facts and chat turns are removed with the project.
func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.projectService.Delete(r.Context(), projectID); err != nil {
		writeServiceError(w, h.logger, err, "delete_project_failed")
		return
	}

	h.logger.Info("Project deleted", zap.String("project_id", projectID.String()))
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "project deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
