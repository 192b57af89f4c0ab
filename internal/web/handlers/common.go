package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	if _, ok := faceid.AsGenerationError(err); ok {
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, faceid.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, faceid.ErrUnsupportedModel), errors.Is(err, faceid.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrStaleIdentity), errors.Is(err, database.ErrAlreadyAssigned):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError sends err with the status it maps to. Generation errors also
// carry their kind.
func respondDomainError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	if genErr, ok := faceid.AsGenerationError(err); ok {
		body["kind"] = genErr.Kind
		if genErr.ExitCode != 0 {
			body["exit_code"] = genErr.ExitCode
		}
	}
	respondJSON(w, statusFor(err), body)
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
