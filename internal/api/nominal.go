package api

import (
	"net/http"

	"github.com/banshee-data/spray.report/internal/httputil"
	"github.com/banshee-data/spray.report/internal/spray"
)

func (s *Server) listNominal(w http.ResponseWriter, r *http.Request) {
	const op = "nominal"
	if !requireMethod(w, r, op, http.MethodGet) {
		return
	}
	pump, err := spray.ParsePumpType(r.URL.Query().Get("pump_type"))
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	samples, err := s.store.NominalSamples(r.Context(), pump)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	if samples == nil {
		samples = []spray.NominalSample{}
	}
	httputil.WriteJSONOK(w, samples)
}

// addNominal promotes the pump's sessions within a range into the baseline.
func (s *Server) addNominal(w http.ResponseWriter, r *http.Request) {
	const op = "nominal.add"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	req, ok := decodeRange(w, r, op)
	if !ok {
		return
	}
	pump, err := spray.ParsePumpType(req.PumpType)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	added, err := s.jobs.AddNominal(r.Context(), pump, req.Start, req.End)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	httputil.WriteJSONOK(w, added)
}

func (s *Server) removeNominal(w http.ResponseWriter, r *http.Request) {
	const op = "nominal.remove"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	req, ok := decodeID(w, r, op)
	if !ok {
		return
	}
	pump, err := spray.ParsePumpType(req.PumpType)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	if err := s.jobs.RemoveNominal(r.Context(), pump, req.ID); err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"pump_type": pump, "id": req.ID})
}
