package web

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"accounting-core/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusForKind maps the domain error taxonomy to HTTP statuses.
func statusForKind(k core.Kind) int {
	switch k {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindTenant:
		return http.StatusForbidden
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindIdempotencyConflict:
		return http.StatusConflict
	case core.KindState, core.KindImbalance, core.KindPeriodClosed:
		return http.StatusUnprocessableEntity
	case core.KindResource:
		return http.StatusServiceUnavailable
	default:
		// KindIntegrity and anything unclassified fail closed.
		return http.StatusInternalServerError
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	})
}

// writeDomainError maps a core error to its HTTP shape. Integrity failures
// are alerted in the log and surfaced as an opaque 500: they indicate stored
// state that no longer reproduces, which must never be auto-corrected.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()
	switch kind {
	case core.KindIntegrity:
		hlog.FromRequest(r).Error().Err(err).Msg("integrity violation")
		message = "internal inconsistency detected"
	case core.KindResource:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		message = "service temporarily unavailable"
	}
	writeError(w, r, message, string(kind), status)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes pre-encoded JSON, used for idempotent replays where the
// stored response bytes must be returned unchanged.
func writeRawJSON(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
