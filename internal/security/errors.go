package security

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the uniform error body for the API.
type ErrorResponse struct {
	Status        string `json:"status"`
	Error         string `json:"error"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WriteJSONError writes a machine-readable error code with the request's
// correlation ID attached.
func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSONErrorMessage(w, r, status, code, "")
}

// WriteJSONErrorMessage is WriteJSONError with a human-readable message.
func WriteJSONErrorMessage(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Status:        "error",
		Error:         code,
		Message:       message,
		CorrelationID: cid,
	})
}
