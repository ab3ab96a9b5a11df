package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/spray.report/internal/httputil"
	"github.com/banshee-data/spray.report/internal/spray"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// sessionsChart renders the amount sprayed by the newest sessions of each
// pump as an HTML bar chart. n selects how many sessions per pump.
func (s *Server) sessionsChart(w http.ResponseWriter, r *http.Request) {
	const op = "sessions.chart"
	if !requireMethod(w, r, op, http.MethodGet) {
		return
	}
	n, err := queryInt(r, "n", 20)
	if err != nil || n == 0 {
		httputil.BadRequest(w, op, "invalid 'n' parameter")
		return
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	for _, pump := range spray.Pumps {
		recent, err := s.store.RecentSessions(r.Context(), pump, n)
		if err != nil {
			httputil.WriteError(w, op, err)
			return
		}
		page.AddCharts(sessionsBar(pump, recent, s.clock.Now()))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, op, httputil.CodeInternal, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// sessionsBar plots recent, which is newest first, in time order.
func sessionsBar(pump spray.PumpType, recent []spray.Session, now time.Time) *charts.Bar {
	x := make([]string, 0, len(recent))
	sprayed := make([]opts.BarData, 0, len(recent))
	pressure := make([]opts.BarData, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		sess := recent[i]
		x = append(x, sess.Start.Local().Format("01-02 15:04"))
		sprayed = append(sprayed, opts.BarData{Value: sess.TotalSprayed})
		pressure = append(pressure, opts.BarData{Value: sess.AvgPressure})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Spray Sessions", Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s sessions", pump), Subtitle: now.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("sprayed", sprayed).
		AddSeries("avg pressure", pressure)
	return bar
}
