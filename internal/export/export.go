// Package export writes stored sessions out as CSV files for analysis
// tools, plus a JSON copy of the full session record.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/laptrace/internal/monitoring"
	"github.com/banshee-data/laptrace/internal/security"
	"github.com/banshee-data/laptrace/internal/session"
	"github.com/banshee-data/laptrace/internal/telemetry"
)

const timestampFormat = "20060102_150405"

// comparisonChannels are the channels worth lining up side by side when
// comparing laps over distance. Time is dropped because the distance grid
// replaces it; distance itself comes from the grid lap's trace.
var comparisonChannels = []string{"speed", "throttle", "brake", "steering", "rpm", "gear"}

// Exporter writes files into a single output directory. File writes go
// through a temp file and rename so readers never observe a partial export.
type Exporter struct {
	dir string
	now func() time.Time
}

func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir, now: time.Now}
}

// ExportLap writes every sample of one lap as CSV and returns the file path.
func (e *Exporter) ExportLap(s *session.Session, lapNumber int) (string, error) {
	lap := s.Lap(lapNumber)
	if lap == nil {
		return "", fmt.Errorf("session %s has no lap %d", s.ID, lapNumber)
	}
	name := fmt.Sprintf("%s_%s_lap%d_%s.csv", sanitizeName(s.Track), sanitizeName(s.SessionType),
		lapNumber, e.now().Format(timestampFormat))
	return e.writeCSV(name, lapRows([]session.Lap{*lap}))
}

// ExportLaps writes the requested laps concatenated in the given order. The
// lap column distinguishes rows from different laps.
func (e *Exporter) ExportLaps(s *session.Session, lapNumbers []int) (string, error) {
	laps, err := resolveLaps(s, lapNumbers)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_laps%s_%s.csv", sanitizeName(s.Track), sanitizeName(s.SessionType),
		lapRangeLabel(lapNumbers), e.now().Format(timestampFormat))
	return e.writeCSV(name, lapRows(laps))
}

// ExportComparison writes the requested laps aligned on a shared distance
// grid, one column group per lap, so the same corner lines up across laps
// regardless of lap time. The grid is the distance_pct trace of the densest
// requested lap; the other laps are resampled onto it by nearest neighbor.
func (e *Exporter) ExportComparison(s *session.Session, lapNumbers []int) (string, error) {
	if len(lapNumbers) < 2 {
		return "", fmt.Errorf("comparison needs at least 2 laps, got %d", len(lapNumbers))
	}
	laps, err := resolveLaps(s, lapNumbers)
	if err != nil {
		return "", err
	}

	// Densest lap wins; on a tie the earliest requested lap sets the grid.
	ref := 0
	for i := range laps {
		if len(laps[i].Samples) > len(laps[ref].Samples) {
			ref = i
		}
	}
	header := []string{"distance_pct", "distance"}
	for _, lap := range laps {
		for _, ch := range comparisonChannels {
			header = append(header, fmt.Sprintf("lap%d_%s", lap.Number, ch))
		}
	}

	// A lap that kept a mid-lap distance_pct wrap has a non-monotonic trace
	// and falls back to a linear nearest scan.
	sorted := make([]bool, len(laps))
	for i := range laps {
		sorted[i] = sortedByPct(laps[i].Samples)
	}

	// Each grid row carries the canonical lap's distance_pct and distance.
	rows := [][]string{header}
	for _, gridSample := range laps[ref].Samples {
		pct := gridSample.DistancePct
		row := []string{formatFloat(pct), formatFloat(gridSample.Distance)}
		for li, lap := range laps {
			idx := 0
			if sorted[li] {
				idx = nearestIndex(lap.Samples, pct)
			} else {
				idx = nearestIndexScan(lap.Samples, pct)
			}
			sm := lap.Samples[idx]
			for _, ch := range comparisonChannels {
				row = append(row, formatFloat(sm.Channel(ch)))
			}
		}
		rows = append(rows, row)
	}

	name := fmt.Sprintf("%s_%s_comparison_laps%s_%s.csv", sanitizeName(s.Track), sanitizeName(s.SessionType),
		lapRangeLabel(lapNumbers), e.now().Format(timestampFormat))
	return e.writeCSV(name, rows)
}

// ExportCompleteSession writes every lap of the session as one CSV.
func (e *Exporter) ExportCompleteSession(s *session.Session) (string, error) {
	if len(s.Laps) == 0 {
		return "", fmt.Errorf("session %s has no laps", s.ID)
	}
	name := fmt.Sprintf("%s_%s_%s_complete.csv", sanitizeName(s.Track), sanitizeName(s.SessionType),
		e.now().Format(timestampFormat))
	return e.writeCSV(name, lapRows(s.Laps))
}

// WriteSessionRecord writes the full session record as indented JSON.
func (e *Exporter) WriteSessionRecord(s *session.Session) (string, error) {
	name := fmt.Sprintf("%s_%s_%s_session.json", sanitizeName(s.Track), sanitizeName(s.SessionType),
		e.now().Format(timestampFormat))
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	path := filepath.Join(e.dir, name)
	if err := e.writeAtomic(path, data); err != nil {
		return "", err
	}
	monitoring.Logf("export: wrote session record %s", path)
	return path, nil
}

func resolveLaps(s *session.Session, lapNumbers []int) ([]session.Lap, error) {
	if len(lapNumbers) == 0 {
		return nil, fmt.Errorf("no laps requested")
	}
	laps := make([]session.Lap, 0, len(lapNumbers))
	for _, n := range lapNumbers {
		lap := s.Lap(n)
		if lap == nil {
			return nil, fmt.Errorf("session %s has no lap %d", s.ID, n)
		}
		laps = append(laps, *lap)
	}
	return laps, nil
}

// lapRows renders laps in order as CSV rows under the canonical channel
// header.
func lapRows(laps []session.Lap) [][]string {
	rows := [][]string{telemetry.Channels}
	for _, lap := range laps {
		for _, sm := range lap.Samples {
			row := make([]string, len(telemetry.Channels))
			for i, ch := range telemetry.Channels {
				row[i] = formatFloat(sm.Channel(ch))
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func sortedByPct(samples []telemetry.Sample) bool {
	for i := 1; i < len(samples); i++ {
		if samples[i].DistancePct < samples[i-1].DistancePct {
			return false
		}
	}
	return true
}

// nearestIndex returns the index of the sample whose distance_pct is closest
// to pct. It requires the trace to be non-decreasing; a binary search narrows
// it to two neighbors, and an exact tie resolves to the earlier sample.
func nearestIndex(samples []telemetry.Sample, pct float64) int {
	lo, hi := 0, len(samples)
	for lo < hi {
		mid := (lo + hi) / 2
		if samples[mid].DistancePct < pct {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	if lo == len(samples) {
		return len(samples) - 1
	}
	if pct-samples[lo-1].DistancePct <= samples[lo].DistancePct-pct {
		return lo - 1
	}
	return lo
}

// nearestIndexScan is the unsorted-trace fallback: a full scan with the same
// earlier-index tie rule as nearestIndex.
func nearestIndexScan(samples []telemetry.Sample, pct float64) int {
	best := 0
	bestDiff := math.Abs(samples[0].DistancePct - pct)
	for i := 1; i < len(samples); i++ {
		if diff := math.Abs(samples[i].DistancePct - pct); diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

func lapRangeLabel(lapNumbers []int) string {
	lo, hi := lapNumbers[0], lapNumbers[0]
	for _, n := range lapNumbers[1:] {
		if n < lo {
			lo = n
		}
		if n > hi {
			hi = n
		}
	}
	if lo == hi {
		return strconv.Itoa(lo)
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case ' ':
			out = append(out, '_')
		case '/':
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func (e *Exporter) writeCSV(name string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("encode csv: %w", err)
	}

	path := filepath.Join(e.dir, name)
	if err := e.writeAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	monitoring.Logf("export: wrote %d rows to %s", len(rows)-1, path)
	return path, nil
}

// writeAtomic writes data to a temp file in the output directory and renames
// it into place, so a crash mid-write never leaves a truncated export.
func (e *Exporter) writeAtomic(path string, data []byte) error {
	if err := security.ValidatePathWithinDirectory(path, e.dir); err != nil {
		return err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create export directory %s: %w", e.dir, err)
	}
	tmp, err := os.CreateTemp(e.dir, ".export-*")
	if err != nil {
		return fmt.Errorf("create temp export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename export file into place: %w", err)
	}
	return nil
}
