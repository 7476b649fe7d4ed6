package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

// latestAlias may be used wherever a version label is expected.
const latestAlias = "latest"

// VersionHistoryResponse for GET /versions
type VersionHistoryResponse struct {
	Versions []*models.SrsVersion `json:"versions"`
	Total    int                  `json:"total"`
}

// CompletenessResponse for GET /versions/latest/completeness
type CompletenessResponse struct {
	Version          string   `json:"version,omitempty"`
	Complete         bool     `json:"complete"`
	MissingSections  []string `json:"missing_sections"`
	RequiredSections []string `json:"required_sections"`
}

// VersionDiffResponse for GET /versions/{from}/diff/{to}
type VersionDiffResponse struct {
	From      string                   `json:"from"`
	To        string                   `json:"to"`
	Changes   []services.SectionChange `json:"changes"`
	Changelog string                   `json:"changelog"`
}

// VersionsHandler exposes the version chain.
type VersionsHandler struct {
	versionService services.VersionService
	historyLimit   int
	logger         *zap.Logger
}

// NewVersionsHandler creates a new versions handler.
func NewVersionsHandler(versionService services.VersionService, logger *zap.Logger) *VersionsHandler {
	return &VersionsHandler{
		versionService: versionService,
		historyLimit:   1000,
		logger:         logger,
	}
}

// RegisterRoutes registers the versions handler's routes on the given mux.
func (h *VersionsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/projects/{pid}/versions"

	mux.HandleFunc("GET "+base, h.History)
	mux.HandleFunc("GET "+base+"/latest", h.Latest)
	mux.HandleFunc("GET "+base+"/latest/completeness", h.Completeness)
	mux.HandleFunc("GET "+base+"/{label}", h.Get)
	mux.HandleFunc("GET "+base+"/{from}/diff/{to}", h.Diff)
}

// History handles GET /api/projects/{pid}/versions
// Returns versions oldest first; ?limit= caps the number returned.
func (h *VersionsHandler) History(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, h.historyLimit, h.historyLimit, h.logger)
	if !ok {
		return
	}

	versions := []*models.SrsVersion{}
	it := h.versionService.History(projectID)
	for len(versions) < limit && it.Next(r.Context()) {
		versions = append(versions, it.Version())
	}
	if err := it.Err(); err != nil {
		writeServiceError(w, h.logger, err, "list_versions_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, VersionHistoryResponse{Versions: versions, Total: len(versions)})
}

// Latest handles GET /api/projects/{pid}/versions/latest
func (h *VersionsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	version, err := h.versionService.Latest(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_version_failed")
		return
	}
	if version == nil {
		h.writeVersionNotFound(w, latestAlias)
		return
	}
	writeOK(w, h.logger, http.StatusOK, version)
}

// Completeness handles GET /api/projects/{pid}/versions/latest/completeness
// A project without versions reports every required section as missing.
func (h *VersionsHandler) Completeness(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	version, err := h.versionService.Latest(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_version_failed")
		return
	}

	response := CompletenessResponse{RequiredSections: models.RequiredSections}
	var body models.Document
	if version != nil {
		response.Version = version.Label
		body = version.Body
	}
	response.MissingSections = body.MissingSections()
	if response.MissingSections == nil {
		response.MissingSections = []string{}
	}
	response.Complete = len(response.MissingSections) == 0
	writeOK(w, h.logger, http.StatusOK, response)
}

// Get handles GET /api/projects/{pid}/versions/{label}
func (h *VersionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	label, ok := parsePathString(w, r, "label", h.logger)
	if !ok {
		return
	}

	version, err := h.versionService.Get(r.Context(), projectID, label)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_version_failed")
		return
	}
	if version == nil {
		h.writeVersionNotFound(w, label)
		return
	}
	writeOK(w, h.logger, http.StatusOK, version)
}

// Diff handles GET /api/projects/{pid}/versions/{from}/diff/{to}
// Either label may be "latest".
func (h *VersionsHandler) Diff(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	fromLabel, ok := parsePathString(w, r, "from", h.logger)
	if !ok {
		return
	}
	toLabel, ok := parsePathString(w, r, "to", h.logger)
	if !ok {
		return
	}

	from, err := h.resolve(r.Context(), projectID, fromLabel)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_version_failed")
		return
	}
	if from == nil {
		h.writeVersionNotFound(w, fromLabel)
		return
	}
	to, err := h.resolve(r.Context(), projectID, toLabel)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_version_failed")
		return
	}
	if to == nil {
		h.writeVersionNotFound(w, toLabel)
		return
	}

	changes := services.Changes(from.Body, to.Body)
	if changes == nil {
		changes = []services.SectionChange{}
	}
	writeOK(w, h.logger, http.StatusOK, VersionDiffResponse{
		From:      from.Label,
		To:        to.Label,
		Changes:   changes,
		Changelog: services.Diff(from.Body, to.Body),
	})
}

func (h *VersionsHandler) resolve(ctx context.Context, projectID uuid.UUID, label string) (*models.SrsVersion, error) {
	if label == latestAlias {
		return h.versionService.Latest(ctx, projectID)
	}
	return h.versionService.Get(ctx, projectID, label)
}

func (h *VersionsHandler) writeVersionNotFound(w http.ResponseWriter, label string) {
	if err := ErrorResponse(w, http.StatusNotFound, "version_not_found", "No version "+label); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
