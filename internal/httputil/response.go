// Package httputil holds the JSON response helpers shared by the gateway
// handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
)

// Error codes carried in the "error" field of a failure response.
const (
	CodeInvalidPumpType  = "invalid_pump_type"
	CodeInProgress       = "in_progress"
	CodeNoBaseline       = "no_baseline"
	CodeStoreUnavailable = "store_unavailable"
	CodeNotFound         = "not_found"
	CodeBadRequest       = "bad_request"
	CodeMethodNotAllowed = "method_not_allowed"
	CodeInternal         = "internal"
)

// ErrorResponse is the body of every failed gateway call.
type ErrorResponse struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONError writes an ErrorResponse with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, op, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Operation: op, Error: code, Message: msg})
}

// Classify maps an error onto its HTTP status and error code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, spray.ErrInvalidPumpType):
		return http.StatusBadRequest, CodeInvalidPumpType
	case errors.Is(err, spray.ErrInProgress):
		return http.StatusConflict, CodeInProgress
	case errors.Is(err, spray.ErrNoBaseline):
		return http.StatusFailedDependency, CodeNoBaseline
	case errors.Is(err, spray.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	case errors.Is(err, spray.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteError classifies err and writes it. Overlapping batch operations and
// caller mistakes are expected and not logged.
func WriteError(w http.ResponseWriter, op string, err error) {
	status, code := Classify(err)
	if status >= http.StatusInternalServerError {
		monitoring.Logf("%s failed: %v", op, err)
	}
	WriteJSONError(w, status, op, code, err.Error())
}

// MethodNotAllowed writes a 405 Method Not Allowed response.
func MethodNotAllowed(w http.ResponseWriter, op string) {
	WriteJSONError(w, http.StatusMethodNotAllowed, op, CodeMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 Bad Request response with the given message.
func BadRequest(w http.ResponseWriter, op, msg string) {
	WriteJSONError(w, http.StatusBadRequest, op, CodeBadRequest, msg)
}
