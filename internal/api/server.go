package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/laptrace/internal/capture"
	"github.com/banshee-data/laptrace/internal/export"
	"github.com/banshee-data/laptrace/internal/monitoring"
	"github.com/banshee-data/laptrace/internal/session"
	"github.com/banshee-data/laptrace/internal/store"
	"github.com/banshee-data/laptrace/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// CaptureController is the slice of the capture runner the API needs.
type CaptureController interface {
	Status() capture.Status
	Stop()
	PersistErrors() []error
}

type Server struct {
	store    *store.Store
	exporter *export.Exporter
	runner   CaptureController
	units    string
}

func NewServer(st *store.Store, exporter *export.Exporter, runner CaptureController, displayUnits string) *Server {
	return &Server{
		store:    st,
		exporter: exporter,
		runner:   runner,
		units:    displayUnits,
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

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/session", s.showSession)
	mux.HandleFunc("/api/export", s.exportSession)
	mux.HandleFunc("/api/capture/status", s.showCaptureStatus)
	mux.HandleFunc("/api/capture/stop", s.stopCapture)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/charts/lap", s.showLapChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	summaries, err := s.store.ListSessions()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list sessions: %v", err))
		return
	}
	if summaries == nil {
		summaries = []store.Summary{}
	}

	if err := json.NewEncoder(w).Encode(summaries); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write sessions")
		return
	}
}

// LapAPI is the per-lap view returned by /api/session. Speeds are converted
// to the server's display units; times stay in seconds.
type LapAPI struct {
	Number      int     `json:"number"`
	Complete    bool    `json:"complete"`
	LapTime     float64 `json:"lap_time,omitempty"`
	DeltaToBest float64 `json:"delta_to_best,omitempty"`
	SampleCount int     `json:"sample_count"`
	MaxSpeed    float64 `json:"max_speed"`
}

type SessionAPI struct {
	ID          string    `json:"session_id"`
	SessionNum  int       `json:"session_num"`
	Track       string    `json:"track"`
	TrackConfig string    `json:"track_config,omitempty"`
	Car         string    `json:"car,omitempty"`
	Driver      string    `json:"driver,omitempty"`
	SessionType string    `json:"session_type"`
	CreatedAt   time.Time `json:"created_at"`
	Units       string    `json:"units"`
	BestLap     int       `json:"best_lap,omitempty"`
	Laps        []LapAPI  `json:"laps"`
}

func sessionToAPI(s *session.Session, displayUnits string) SessionAPI {
	out := SessionAPI{
		ID:          s.ID,
		SessionNum:  s.SessionNum,
		Track:       s.Track,
		TrackConfig: s.TrackConfig,
		Car:         s.Car,
		Driver:      s.Driver,
		SessionType: s.SessionType,
		CreatedAt:   s.CreatedAt,
		Units:       displayUnits,
		Laps:        []LapAPI{},
	}

	bestNumber, bestTime, haveBest := s.BestLap()
	if haveBest {
		out.BestLap = bestNumber
	}

	for _, lap := range s.Laps {
		api := LapAPI{
			Number:      lap.Number,
			Complete:    lap.Complete,
			LapTime:     lap.LapTime,
			SampleCount: len(lap.Samples),
		}
		if haveBest && lap.LapTime > 0 {
			api.DeltaToBest = lap.LapTime - bestTime
		}
		var maxSpeed float64
		for _, sm := range lap.Samples {
			if sm.Speed > maxSpeed {
				maxSpeed = sm.Speed
			}
		}
		api.MaxSpeed = units.ConvertSpeed(maxSpeed, displayUnits)
		out.Laps = append(out.Laps, api)
	}
	return out
}

func (s *Server) loadSessionParam(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'id' parameter")
		return nil, false
	}
	sess, err := s.store.LoadSession(id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Session not found: %s", id))
			return nil, false
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load session: %v", err))
		return nil, false
	}
	return sess, true
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, ok := s.loadSessionParam(w, r)
	if !ok {
		return
	}

	if err := json.NewEncoder(w).Encode(sessionToAPI(sess, s.units)); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write session")
		return
	}
}

// parseLapList accepts "3", "2,5,7" or "2-5" and returns lap numbers in
// request order.
func parseLapList(raw string) ([]int, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty lap list")
	}
	if lo, hi, ok := strings.Cut(raw, "-"); ok {
		first, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid lap range %q", raw)
		}
		last, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid lap range %q", raw)
		}
		if last < first {
			return nil, fmt.Errorf("lap range %q runs backwards", raw)
		}
		var laps []int
		for n := first; n <= last; n++ {
			laps = append(laps, n)
		}
		return laps, nil
	}

	var laps []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid lap number %q", part)
		}
		laps = append(laps, n)
	}
	return laps, nil
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, ok := s.loadSessionParam(w, r)
	if !ok {
		return
	}

	kind := r.URL.Query().Get("kind")
	rawLaps := r.URL.Query().Get("laps")

	var path string
	var err error
	switch kind {
	case "lap":
		var laps []int
		laps, err = parseLapList(rawLaps)
		if err == nil && len(laps) != 1 {
			err = fmt.Errorf("kind=lap exports exactly one lap, got %d", len(laps))
		}
		if err == nil {
			path, err = s.exporter.ExportLap(sess, laps[0])
		}
	case "laps":
		var laps []int
		laps, err = parseLapList(rawLaps)
		if err == nil {
			path, err = s.exporter.ExportLaps(sess, laps)
		}
	case "comparison":
		var laps []int
		laps, err = parseLapList(rawLaps)
		if err == nil {
			path, err = s.exporter.ExportComparison(sess, laps)
		}
	case "session":
		path, err = s.exporter.ExportCompleteSession(sess)
	default:
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid 'kind' parameter %q (want lap, laps, comparison or session)", kind))
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Export failed: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"path": path})
}

func (s *Server) showCaptureStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.runner == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Capture is not running")
		return
	}

	status := s.runner.Status()
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

func (s *Server) stopCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runner == nil {
		http.Error(w, "Capture is not running", http.StatusServiceUnavailable)
		return
	}

	s.runner.Stop()
	io.WriteString(w, "Capture stop requested")
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	config := map[string]interface{}{
		"units": s.units,
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
