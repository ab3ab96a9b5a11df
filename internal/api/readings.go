package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/spray.report/internal/httputil"
	"github.com/banshee-data/spray.report/internal/spray"
)

// maxAppendBatch bounds the readings accepted by one append request.
const maxAppendBatch = 1000

// appendReadings stores one reading object or an array of them and returns
// the stored rows with their assigned IDs.
func (s *Server) appendReadings(w http.ResponseWriter, r *http.Request) {
	const op = "readings.append"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.BadRequest(w, op, fmt.Sprintf("read body: %v", err))
		return
	}
	readings, err := decodeReadings(body)
	if err != nil {
		httputil.BadRequest(w, op, err.Error())
		return
	}

	stored := make([]spray.Reading, 0, len(readings))
	for _, rd := range readings {
		out, err := s.ingester.Append(r.Context(), rd)
		if err != nil {
			httputil.WriteError(w, op, err)
			return
		}
		stored = append(stored, out)
	}
	httputil.WriteJSON(w, http.StatusCreated, stored)
}

func decodeReadings(body []byte) ([]spray.Reading, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var readings []spray.Reading
	if body[0] == '[' {
		if err := dec.Decode(&readings); err != nil {
			return nil, fmt.Errorf("invalid request body: %v", err)
		}
	} else {
		var one spray.Reading
		if err := dec.Decode(&one); err != nil {
			return nil, fmt.Errorf("invalid request body: %v", err)
		}
		readings = append(readings, one)
	}
	switch {
	case len(readings) == 0:
		return nil, fmt.Errorf("no readings in request body")
	case len(readings) > maxAppendBatch:
		return nil, fmt.Errorf("at most %d readings per request", maxAppendBatch)
	}
	return readings, nil
}
