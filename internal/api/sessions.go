package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/banshee-data/spray.report/internal/agent"
	"github.com/banshee-data/spray.report/internal/history"
	"github.com/banshee-data/spray.report/internal/httputil"
	"github.com/banshee-data/spray.report/internal/spray"
)

type windowResponse struct {
	Readings []spray.Reading `json:"readings"`
	Monitor  *agent.Snapshot `json:"monitor,omitempty"`
}

func (s *Server) showWindow(w http.ResponseWriter, r *http.Request) {
	const op = "window"
	if !requireMethod(w, r, op, http.MethodGet) {
		return
	}
	readings, err := s.store.LatestReadings(r.Context(), s.windowSize)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	resp := windowResponse{Readings: readings}
	if resp.Readings == nil {
		resp.Readings = []spray.Reading{}
	}
	if s.monitor != nil {
		snap := s.monitor.Snapshot()
		resp.Monitor = &snap
	}
	httputil.WriteJSONOK(w, resp)
}

type historyResponse struct {
	Sessions []spray.Session `json:"sessions"`
	Readings []spray.Reading `json:"readings"`
}

// showHistory serves the sessions overlapping a range together with the raw
// readings they span, clipped to the requested bounds.
func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	const op = "history"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	req, ok := decodeRange(w, r, op)
	if !ok {
		return
	}
	ctx := r.Context()
	all, err := s.store.AllSessions(ctx)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	live := make([]spray.Session, 0, len(all))
	for _, sess := range all {
		if !sess.IsTrash {
			live = append(live, sess)
		}
	}

	resp := historyResponse{Sessions: []spray.Session{}, Readings: []spray.Reading{}}
	m := history.Locate(live, req.Start, req.End)
	if m.Empty() {
		httputil.WriteJSONOK(w, resp)
		return
	}
	resp.Sessions = m.Sessions

	from, to := m.RawBounds()
	readings, err := s.readingsBetween(ctx, from, to)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	if readings != nil {
		resp.Readings = readings
	}
	httputil.WriteJSONOK(w, resp)
}

// readingsBetween returns the stored readings within [from, to]. Bounds
// that fall in compacted or missing history yield an empty result.
func (s *Server) readingsBetween(ctx context.Context, from, to time.Time) ([]spray.Reading, error) {
	first, err := s.store.FindReadingAtOrAfter(ctx, from)
	if errors.Is(err, spray.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	last, err := s.store.FindReadingAtOrBefore(ctx, to)
	if errors.Is(err, spray.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if first.ID > last.ID {
		return nil, nil
	}
	return s.store.ReadingsByIDRange(ctx, first.ID, last.ID)
}

func (s *Server) listSessions(trashed bool) http.HandlerFunc {
	op := "sessions"
	if trashed {
		op = "sessions.trash"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, op, http.MethodGet) {
			return
		}
		sessions, err := s.store.Sessions(r.Context(), trashed)
		if err != nil {
			httputil.WriteError(w, op, err)
			return
		}
		if sessions == nil {
			sessions = []spray.Session{}
		}
		httputil.WriteJSONOK(w, sessions)
	}
}

// sessionsTrash lists trashed sessions on GET and trashes one on POST.
func (s *Server) sessionsTrash(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listSessions(true)(w, r)
	case http.MethodPost:
		s.setSessionTrash(true)(w, r)
	default:
		httputil.MethodNotAllowed(w, "sessions.trash")
	}
}

func (s *Server) setSessionTrash(trashed bool) http.HandlerFunc {
	op := "sessions.restore"
	if trashed {
		op = "sessions.trash"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, op, http.MethodPost) {
			return
		}
		req, ok := decodeID(w, r, op)
		if !ok {
			return
		}
		if err := s.store.SetSessionTrash(r.Context(), req.ID, trashed); err != nil {
			httputil.WriteError(w, op, err)
			return
		}
		s.respondSession(w, r, op, req.ID)
	}
}

func (s *Server) commentSession(w http.ResponseWriter, r *http.Request) {
	const op = "sessions.comment"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	req, ok := decodeID(w, r, op)
	if !ok {
		return
	}
	if err := s.store.SetSessionComment(r.Context(), req.ID, req.Comment); err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	s.respondSession(w, r, op, req.ID)
}

func (s *Server) respondSession(w http.ResponseWriter, r *http.Request, op string, id int64) {
	sess, err := s.store.SessionByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	httputil.WriteJSONOK(w, sess)
}

func (s *Server) rebuildSessions(w http.ResponseWriter, r *http.Request) {
	const op = "sessions.rebuild"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	n, err := s.jobs.Rebuild(r.Context())
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]int{"sessions": n})
}
