package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laptrace/internal/capture"
	"github.com/banshee-data/laptrace/internal/export"
	"github.com/banshee-data/laptrace/internal/session"
	"github.com/banshee-data/laptrace/internal/store"
	"github.com/banshee-data/laptrace/internal/telemetry"
	"github.com/banshee-data/laptrace/internal/units"
)

type fakeController struct {
	status  capture.Status
	stopped bool
}

func (f *fakeController) Status() capture.Status { return f.status }
func (f *fakeController) Stop()                  { f.stopped = true }
func (f *fakeController) PersistErrors() []error { return nil }

func seedLap(number, samples int, lapTime float64, complete bool) session.Lap {
	lap := session.Lap{Number: number, Complete: complete, LapTime: lapTime}
	for i := 0; i < samples; i++ {
		lap.Samples = append(lap.Samples, telemetry.Sample{
			Lap:         number,
			Time:        float64(i),
			DistancePct: float64(i) / float64(samples),
			Speed:       float64(40 + i),
			Throttle:    0.9,
		})
	}
	return lap
}

func newTestServer(t *testing.T) (*Server, *fakeController, *session.Session) {
	t.Helper()

	st := store.NewStore(t.TempDir())
	t.Cleanup(func() { st.Close() })

	sess := &session.Session{
		ID:          "feedface-aaaa-bbbb-cccc-dddddddddddd",
		SessionNum:  2,
		Track:       "Laguna Seca",
		SessionType: "Race",
		CreatedAt:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Laps: []session.Lap{
			seedLap(1, 10, 93.2, true),
			seedLap(2, 12, 91.5, true),
			seedLap(3, 5, 0, false),
		},
	}
	require.NoError(t, st.PersistSession(sess))

	ctrl := &fakeController{status: capture.Status{State: "capturing", SessionID: sess.ID}}
	srv := NewServer(st, export.NewExporter(t.TempDir()), ctrl, units.MPH)
	return srv, ctrl, sess
}

func TestListSessions(t *testing.T) {
	srv, _, sess := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []store.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	require.Equal(t, sess.ID, summaries[0].ID)
	require.Equal(t, 3, summaries[0].LapCount)
	require.Equal(t, 27, summaries[0].SampleCount)
}

func TestListSessionsMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestShowSession(t *testing.T) {
	srv, _, sess := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session?id=feedface", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got SessionAPI
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, sess.ID, got.ID)
	require.Equal(t, units.MPH, got.Units)
	require.Equal(t, 2, got.BestLap)
	require.Len(t, got.Laps, 3)

	require.InDelta(t, 93.2-91.5, got.Laps[0].DeltaToBest, 1e-9)
	require.Zero(t, got.Laps[1].DeltaToBest)
	// Lap 1 peaks at 49 m/s; speeds come back in mph.
	require.InDelta(t, 49*2.23694, got.Laps[0].MaxSpeed, 1e-6)
	require.False(t, got.Laps[2].Complete)
}

func TestShowSessionNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session?id=00000000", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/export?id=feedface&kind=laps&laps=1-2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp["path"], "_laps1-2_")
	_, err := os.Stat(resp["path"])
	require.NoError(t, err)
}

func TestExportSessionBadRequests(t *testing.T) {
	srv, _, _ := newTestServer(t)

	cases := []string{
		"/api/export?id=feedface&kind=bogus&laps=1",
		"/api/export?id=feedface&kind=lap&laps=1,2",
		"/api/export?id=feedface&kind=comparison&laps=1",
		"/api/export?id=feedface&kind=laps&laps=5-2",
		"/api/export?id=feedface&kind=laps&laps=",
	}
	for _, url := range cases {
		rec := httptest.NewRecorder()
		srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, url, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, "url %s", url)
	}
}

func TestCaptureStatus(t *testing.T) {
	srv, _, sess := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/capture/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status capture.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "capturing", status.State)
	require.Equal(t, sess.ID, status.SessionID)
}

func TestStopCapture(t *testing.T) {
	srv, ctrl, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ctrl.stopped)

	rec = httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/capture/stop", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCaptureStatusWithoutRunner(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.runner = nil

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/capture/status", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLapChart(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/charts/lap?id=feedface&lap=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "speed")

	rec = httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/charts/lap?id=feedface&lap=99", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseLapList(t *testing.T) {
	cases := []struct {
		raw  string
		want []int
		ok   bool
	}{
		{"3", []int{3}, true},
		{"2,5,7", []int{2, 5, 7}, true},
		{"2-5", []int{2, 3, 4, 5}, true},
		{"5-2", nil, false},
		{"", nil, false},
		{"a,b", nil, false},
	}
	for _, tc := range cases {
		got, err := parseLapList(tc.raw)
		if !tc.ok {
			require.Error(t, err, "raw %q", tc.raw)
			continue
		}
		require.NoError(t, err, "raw %q", tc.raw)
		require.Equal(t, tc.want, got, "raw %q", tc.raw)
	}
}
