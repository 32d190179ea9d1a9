package api

import (
	"encoding/json"
	"net/http"

	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
)

// apiError is the body shape spec section 6 mandates:
// {"error":{"code","message","field"}}.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type errorEnvelope struct {
	Error         apiError `json:"error"`
	Timestamp     float64  `json:"timestamp"`
	CorrelationID string   `json:"correlation_id"`
}

// writeJSONError writes a structured error body, generalizing the
// teacher's plain {"error": "..."} shape (internal/api/server.go's
// writeJSONError) to spec section 6's {"error":{"code","message","field"}}
// envelope.
func writeJSONError(w http.ResponseWriter, log telemetry.Logger, reqID string, status int, code, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := errorEnvelope{
		Error:         apiError{Code: code, Message: message, Field: field},
		Timestamp:     float64(nowUnix()),
		CorrelationID: reqID,
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error().Err(err).Msg("failed to encode json error response")
	}
}

const (
	errInvalidParameter = "invalid_parameter"
	errNotFound         = "not_found"
	errInternal         = "internal_error"
	errUnavailable      = "unavailable"
)
