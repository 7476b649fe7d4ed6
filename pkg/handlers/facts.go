package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

// FactListResponse for GET /facts
type FactListResponse struct {
	Facts []*models.Fact `json:"facts"`
	Total int            `json:"total"`
}

// PutFactRequest for PUT /facts/{key}
type PutFactRequest struct {
	Value string `json:"value"`
	Kind  string `json:"kind"`
}

// FactsHandler exposes the fact store.
type FactsHandler struct {
	factService services.FactService
	logger      *zap.Logger
}

// NewFactsHandler creates a new facts handler.
func NewFactsHandler(factService services.FactService, logger *zap.Logger) *FactsHandler {
	return &FactsHandler{
		factService: factService,
		logger:      logger,
	}
}

// RegisterRoutes registers the facts handler's routes on the given mux.
func (h *FactsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/projects/{pid}/facts"

	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("GET "+base+"/{key}", h.Get)
	mux.HandleFunc("PUT "+base+"/{key}", h.Put)
}

// List handles GET /api/projects/{pid}/facts
func (h *FactsHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	facts, err := h.factService.GetFacts(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_facts_failed")
		return
	}
	if facts == nil {
		facts = []*models.Fact{}
	}
	writeOK(w, h.logger, http.StatusOK, FactListResponse{Facts: facts, Total: len(facts)})
}

// Get handles GET /api/projects/{pid}/facts/{key}
func (h *FactsHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	key, ok := parsePathString(w, r, "key", h.logger)
	if !ok {
		return
	}

	fact, err := h.factService.GetFact(r.Context(), projectID, key)
	if err != nil {
		writeServiceError(w, h.logger, err, "get_fact_failed")
		return
	}
	if fact == nil {
		if err := ErrorResponse(w, http.StatusNotFound, "fact_not_found", "No fact with key "+key); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	writeOK(w, h.logger, http.StatusOK, fact)
}

// Put handles PUT /api/projects/{pid}/facts/{key}
// Upserts the fact directly, bypassing conflict detection.
func (h *FactsHandler) Put(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	key, ok := parsePathString(w, r, "key", h.logger)
	if !ok {
		return
	}

	var req PutFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "invalid_request", "Invalid request body")
		return
	}

	fact, err := h.factService.UpsertFact(r.Context(), projectID, key, req.Value, models.FactKind(req.Kind))
	if err != nil {
		writeServiceError(w, h.logger, err, "upsert_fact_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, fact)
}
