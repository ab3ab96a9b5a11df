// Package api is the request gateway: JSON over net/http in front of the
// stores, the job controller and the maintenance timeline.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/spray.report/internal/agent"
	"github.com/banshee-data/spray.report/internal/db"
	"github.com/banshee-data/spray.report/internal/jobs"
	"github.com/banshee-data/spray.report/internal/maintenance"
	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/source"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Deps are the collaborators behind the gateway. Monitor and Metrics may
// be nil. A nil Ingester is replaced by one writing straight to Store.
type Deps struct {
	Store      *db.DB
	Ingester   *source.Ingester
	Jobs       *jobs.Controller
	Timeline   *maintenance.Manager
	Monitor    *agent.Monitor
	Clock      timeutil.Clock
	Metrics    *monitoring.Metrics
	WindowSize int // readings returned by /api/window
}

type Server struct {
	store      *db.DB
	ingester   *source.Ingester
	jobs       *jobs.Controller
	timeline   *maintenance.Manager
	monitor    *agent.Monitor
	clock      timeutil.Clock
	metrics    *monitoring.Metrics
	windowSize int
}

func NewServer(d Deps) *Server {
	if d.Clock == nil {
		d.Clock = timeutil.RealClock{}
	}
	if d.WindowSize <= 0 {
		d.WindowSize = 150
	}
	if d.Ingester == nil {
		d.Ingester = source.NewIngester(d.Store, source.Parser{}, d.Clock, d.Metrics)
	}
	return &Server{
		store:      d.Store,
		ingester:   d.Ingester,
		jobs:       d.Jobs,
		timeline:   d.Timeline,
		monitor:    d.Monitor,
		clock:      d.Clock,
		metrics:    d.Metrics,
		windowSize: d.WindowSize,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the gateway routes. Metrics and admin routes are mounted
// separately by the caller.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/window", s.showWindow)
	mux.HandleFunc("/api/history", s.showHistory)
	mux.HandleFunc("/api/readings", s.appendReadings)

	mux.HandleFunc("/api/sessions", s.listSessions(false))
	mux.HandleFunc("/api/sessions/trash", s.sessionsTrash)
	mux.HandleFunc("/api/sessions/restore", s.setSessionTrash(false))
	mux.HandleFunc("/api/sessions/comment", s.commentSession)
	mux.HandleFunc("/api/sessions/rebuild", s.rebuildSessions)

	mux.HandleFunc("/api/products", s.listProducts(false))
	mux.HandleFunc("/api/products/hidden", s.listProducts(true))
	mux.HandleFunc("/api/products/update", s.updateProducts)
	mux.HandleFunc("/api/products/hide", s.setProductHidden(true))
	mux.HandleFunc("/api/products/restore", s.setProductHidden(false))
	mux.HandleFunc("/api/products/comment", s.commentProduct)

	mux.HandleFunc("/api/nominal", s.listNominal)
	mux.HandleFunc("/api/nominal/add", s.addNominal)
	mux.HandleFunc("/api/nominal/remove", s.removeNominal)

	mux.HandleFunc("/api/maintenance", s.showMaintenance)
	mux.HandleFunc("/api/maintenance/set", s.setMaintenance)
	mux.HandleFunc("/api/maintenance/reset", s.resetMaintenance)

	mux.HandleFunc("/api/alerts", s.listAlerts)

	mux.HandleFunc("/api/reconcile", s.reconcile)
	mux.HandleFunc("/api/compact", s.compact)
	mux.HandleFunc("/api/jobs", s.showJobs)
	mux.HandleFunc("/api/jobs/enabled", s.setJobsEnabled)

	mux.HandleFunc("/debug/sessions/chart", s.sessionsChart)
	return mux
}
