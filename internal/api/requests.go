package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/spray.report/internal/httputil"
)

// maxBodyBytes bounds every request body the gateway decodes.
const maxBodyBytes = 1 << 20

// idRequest addresses one session, product or nominal sample.
type idRequest struct {
	ID       int64  `json:"id"`
	PumpType string `json:"pump_type,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// rangeRequest is a closed time interval. Inverted ranges are accepted and
// swapped by the callee.
type rangeRequest struct {
	PumpType string    `json:"pump_type,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// decodeBody reads a JSON body into v. It writes the 400 response itself
// and reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, op string, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httputil.BadRequest(w, op, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func decodeID(w http.ResponseWriter, r *http.Request, op string) (idRequest, bool) {
	var req idRequest
	if !decodeBody(w, r, op, &req) {
		return req, false
	}
	if req.ID < 1 {
		httputil.BadRequest(w, op, "id must be a positive integer")
		return req, false
	}
	return req, true
}

func decodeRange(w http.ResponseWriter, r *http.Request, op string) (rangeRequest, bool) {
	var req rangeRequest
	if !decodeBody(w, r, op, &req) {
		return req, false
	}
	if req.Start.IsZero() || req.End.IsZero() {
		httputil.BadRequest(w, op, "start and end are required")
		return req, false
	}
	return req, true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid '%s' parameter", name)
	}
	return n, nil
}

// requireMethod writes a 405 unless r uses method.
func requireMethod(w http.ResponseWriter, r *http.Request, op, method string) bool {
	if r.Method != method {
		httputil.MethodNotAllowed(w, op)
		return false
	}
	return true
}
