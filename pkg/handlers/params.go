package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseProjectID extracts and validates the project ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: pid
func ParseProjectID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "pid", "invalid_project_id", "Invalid project ID format", logger)
}

// parsePathString returns a required, non-blank path parameter.
func parsePathString(w http.ResponseWriter, r *http.Request, pathParam string, logger *zap.Logger) (string, bool) {
	v := strings.TrimSpace(r.PathValue(pathParam))
	if v == "" {
		writeBadRequest(w, logger, "missing_"+pathParam, "Missing path parameter "+pathParam)
		return "", false
	}
	return v, true
}

// parseLimit reads an optional positive ?limit= query parameter, capped at max.
func parseLimit(w http.ResponseWriter, r *http.Request, def, max int, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeBadRequest(w, logger, "invalid_limit", "limit must be a positive integer")
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
