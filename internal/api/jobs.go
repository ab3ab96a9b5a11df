package api

import (
	"net/http"

	"github.com/banshee-data/spray.report/internal/httputil"
	"github.com/banshee-data/spray.report/internal/spray"
)

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	const op = "alerts"
	if !requireMethod(w, r, op, http.MethodGet) {
		return
	}
	n, err := queryInt(r, "n", 10)
	if err != nil {
		httputil.BadRequest(w, op, err.Error())
		return
	}
	nominal, err := queryInt(r, "nominal", 5)
	if err != nil {
		httputil.BadRequest(w, op, err.Error())
		return
	}
	alerts, err := s.store.LatestAlerts(r.Context(), n, nominal)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	if alerts == nil {
		alerts = []spray.Alert{}
	}
	httputil.WriteJSONOK(w, alerts)
}

// reconcile brings the session table up to date and reports how many
// sessions were added.
func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	const op = "reconcile"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	n, err := s.jobs.ReconcileSessions(r.Context(), "manual")
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]int{"inserted": n})
}

func (s *Server) compact(w http.ResponseWriter, r *http.Request) {
	const op = "compact"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	res, err := s.jobs.Compact(r.Context())
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) showJobs(w http.ResponseWriter, r *http.Request) {
	const op = "jobs"
	if !requireMethod(w, r, op, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.jobs.Status())
}

// setJobsEnabled pauses or resumes the scheduled runs.
func (s *Server) setJobsEnabled(w http.ResponseWriter, r *http.Request) {
	const op = "jobs.enabled"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeBody(w, r, op, &req) {
		return
	}
	if req.Enabled == nil {
		httputil.BadRequest(w, op, "enabled is required")
		return
	}
	s.jobs.SetEnabled(*req.Enabled)
	httputil.WriteJSONOK(w, s.jobs.Status())
}
