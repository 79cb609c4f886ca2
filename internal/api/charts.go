package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/laptrace/internal/units"
)

// showLapChart renders a quick speed-over-distance line chart (HTML) for one
// lap using go-echarts. This is a debugging-only endpoint to eyeball a lap
// without exporting CSVs into an analysis tool.
// Query params:
//   - id (required; session id or prefix)
//   - lap (required; lap number)
func (s *Server) showLapChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, ok := s.loadSessionParam(w, r)
	if !ok {
		return
	}

	lapNumber, err := strconv.Atoi(r.URL.Query().Get("lap"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'lap' parameter")
		return
	}
	lap := sess.Lap(lapNumber)
	if lap == nil {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Session %s has no lap %d", sess.ID, lapNumber))
		return
	}

	x := make([]string, 0, len(lap.Samples))
	speed := make([]opts.LineData, 0, len(lap.Samples))
	throttle := make([]opts.LineData, 0, len(lap.Samples))
	brake := make([]opts.LineData, 0, len(lap.Samples))
	for _, sm := range lap.Samples {
		x = append(x, fmt.Sprintf("%.1f%%", sm.DistancePct*100))
		speed = append(speed, opts.LineData{Value: units.ConvertSpeed(sm.Speed, s.units)})
		throttle = append(throttle, opts.LineData{Value: sm.Throttle * 100})
		brake = append(brake, opts.LineData{Value: sm.Brake * 100})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("%s lap %d", sess.Track, lapNumber),
			Theme:     "dark",
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s lap %d", sess.Track, lapNumber),
			Subtitle: fmt.Sprintf("session=%s type=%s speed in %s", shortID(sess.ID), sess.SessionType, s.units),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "distance"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "speed / pedal %"}),
	)

	line.SetXAxis(x).
		AddSeries("speed", speed).
		AddSeries("throttle", throttle).
		AddSeries("brake", brake)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
