package api

import (
	"net/http"

	"github.com/banshee-data/spray.report/internal/httputil"
	"github.com/banshee-data/spray.report/internal/spray"
)

type maintenanceRequest struct {
	Kind     string `json:"kind"`
	PumpType string `json:"pump_type,omitempty"`
	Days     *int   `json:"days,omitempty"`
}

func (s *Server) showMaintenance(w http.ResponseWriter, r *http.Request) {
	const op = "maintenance"
	if !requireMethod(w, r, op, http.MethodGet) {
		return
	}
	st, err := s.timeline.Status(r.Context())
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	for _, rec := range st.Records {
		s.metrics.RemainingDays(string(rec.Kind), string(rec.Pump), float64(rec.RemainingDays))
	}
	httputil.WriteJSONOK(w, st)
}

// setMaintenance sets the remaining days of one record.
func (s *Server) setMaintenance(w http.ResponseWriter, r *http.Request) {
	const op = "maintenance.set"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	var req maintenanceRequest
	if !decodeBody(w, r, op, &req) {
		return
	}
	kind, err := spray.ParseMaintenanceKind(req.Kind)
	if err != nil {
		httputil.BadRequest(w, op, err.Error())
		return
	}
	pump, err := spray.ParsePumpType(req.PumpType)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	if req.Days == nil || *req.Days < 0 {
		httputil.BadRequest(w, op, "days must be a non-negative integer")
		return
	}
	rec, err := s.timeline.SetManually(r.Context(), kind, pump, *req.Days)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	httputil.WriteJSONOK(w, rec)
}

// resetMaintenance starts a fresh service window of one kind for both pumps.
func (s *Server) resetMaintenance(w http.ResponseWriter, r *http.Request) {
	const op = "maintenance.reset"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	var req maintenanceRequest
	if !decodeBody(w, r, op, &req) {
		return
	}
	kind, err := spray.ParseMaintenanceKind(req.Kind)
	if err != nil {
		httputil.BadRequest(w, op, err.Error())
		return
	}
	if err := s.timeline.Reset(r.Context(), kind); err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	st, err := s.timeline.Status(r.Context())
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}
