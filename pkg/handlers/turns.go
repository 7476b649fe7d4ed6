package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

// ApplyTurnRequest for POST /turns: a turn with an explicit proposal.
type ApplyTurnRequest struct {
	SessionID   string               `json:"session_id,omitempty"`
	UserMessage string               `json:"user_message"`
	CreatedBy   string               `json:"created_by,omitempty"`
	Proposal    *models.TurnProposal `json:"proposal"`
}

// ChatRequest for POST /chat: the model collaborator proposes the change.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	CreatedBy string `json:"created_by,omitempty"`
}

// TurnListResponse for the turn listing endpoints.
type TurnListResponse struct {
	Turns []*models.ChatTurn `json:"turns"`
	Total int                `json:"total"`
}

// PartialTurnResponse is the 500 body of a turn whose version was stored but
// whose facts were not all saved. The client should retry the whole turn.
type PartialTurnResponse struct {
	Error   string               `json:"error"`
	Message string               `json:"message"`
	Version string               `json:"version,omitempty"`
	Data    *services.TurnResult `json:"data"`
}

// TurnsHandler exposes the revision pipeline.
type TurnsHandler struct {
	revisionService services.RevisionService
	logger          *zap.Logger
}

// NewTurnsHandler creates a new turns handler.
func NewTurnsHandler(revisionService services.RevisionService, logger *zap.Logger) *TurnsHandler {
	return &TurnsHandler{
		revisionService: revisionService,
		logger:          logger,
	}
}

// RegisterRoutes registers the turns handler's routes on the given mux.
func (h *TurnsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/projects/{pid}"

	mux.HandleFunc("POST "+base+"/turns", h.Apply)
	mux.HandleFunc("GET "+base+"/turns", h.Recent)
	mux.HandleFunc("POST "+base+"/chat", h.Chat)
	mux.HandleFunc("GET "+base+"/sessions/{sid}/turns", h.Session)
}

// Apply handles POST /api/projects/{pid}/turns
// A rejected turn is a 200 with outcome "rejected" and the conflict report.
func (h *TurnsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req ApplyTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "invalid_request", "Invalid request body")
		return
	}

	result, err := h.revisionService.ApplyTurn(r.Context(), &services.TurnRequest{
		ProjectID:   projectID,
		SessionID:   req.SessionID,
		UserMessage: req.UserMessage,
		Proposal:    req.Proposal,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		h.writeTurnError(w, result, err, "apply_turn_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, result)
}

// Chat handles POST /api/projects/{pid}/chat
func (h *TurnsHandler) Chat(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "invalid_request", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeBadRequest(w, h.logger, "missing_message", "message is required")
		return
	}

	result, err := h.revisionService.Converse(r.Context(), &services.ChatRequest{
		ProjectID:   projectID,
		SessionID:   req.SessionID,
		UserMessage: req.Message,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		h.writeTurnError(w, result, err, "chat_failed")
		return
	}
	writeOK(w, h.logger, http.StatusOK, result)
}

// Session handles GET /api/projects/{pid}/sessions/{sid}/turns
func (h *TurnsHandler) Session(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	sessionID, ok := parsePathString(w, r, "sid", h.logger)
	if !ok {
		return
	}

	turns, err := h.revisionService.SessionTurns(r.Context(), projectID, sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_turns_failed")
		return
	}
	h.writeTurns(w, turns)
}

// Recent handles GET /api/projects/{pid}/turns
// Returns the newest turns across sessions; ?limit= defaults to 50.
func (h *TurnsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r, 50, 500, h.logger)
	if !ok {
		return
	}

	turns, err := h.revisionService.RecentTurns(r.Context(), projectID, limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "list_turns_failed")
		return
	}
	h.writeTurns(w, turns)
}

// writeTurnError reports a failed turn. When the pipeline also returned a
// result the turn was partially applied and the stored version is included.
func (h *TurnsHandler) writeTurnError(w http.ResponseWriter, result *services.TurnResult, err error, fallbackCode string) {
	if result == nil {
		writeServiceError(w, h.logger, err, fallbackCode)
		return
	}

	resp := PartialTurnResponse{Error: "partially_applied", Message: err.Error(), Data: result}
	fields := []zap.Field{zap.Error(err)}
	if result.Version != nil {
		resp.Version = result.Version.Label
		fields = append(fields, zap.String("version", resp.Version))
	}
	h.logger.Error("Turn partially applied", fields...)
	if err := WriteJSON(w, http.StatusInternalServerError, resp); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *TurnsHandler) writeTurns(w http.ResponseWriter, turns []*models.ChatTurn) {
	if turns == nil {
		turns = []*models.ChatTurn{}
	}
	writeOK(w, h.logger, http.StatusOK, TurnListResponse{Turns: turns, Total: len(turns)})
}
