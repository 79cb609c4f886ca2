package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/banshee-data/laptrace/internal/export"
	"github.com/banshee-data/laptrace/internal/store"
	"github.com/banshee-data/laptrace/internal/units"
)

// runList prints one line per stored session across all partitions.
func runList(st *store.Store, w io.Writer) error {
	summaries, err := st.ListSessions()
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "no stored sessions")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTRACK\tTYPE\tCAR\tLAPS\tSAMPLES")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			shortID(s.ID), s.CreatedAt.Format("2006-01-02 15:04"),
			s.Track, s.SessionType, s.Car, s.LapCount, s.SampleCount)
	}
	return tw.Flush()
}

// runInfo prints the lap table for one session, with deltas to the best lap
// and top speeds in the chosen display units.
func runInfo(st *store.Store, w io.Writer, id, displayUnits string) error {
	s, err := st.LoadSession(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "session %s\n", s.ID)
	fmt.Fprintf(w, "track: %s", s.Track)
	if s.TrackConfig != "" {
		fmt.Fprintf(w, " (%s)", s.TrackConfig)
	}
	fmt.Fprintf(w, "\ntype: %s", s.SessionType)
	if s.Car != "" {
		fmt.Fprintf(w, "\ncar: %s", s.Car)
	}
	if s.Driver != "" {
		fmt.Fprintf(w, "\ndriver: %s", s.Driver)
	}
	fmt.Fprintf(w, "\ncaptured: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	if d := s.Duration(); d > 0 {
		fmt.Fprintf(w, "timed running: %s\n", formatLapTime(d))
	}
	fmt.Fprintln(w)

	bestNumber, bestTime, haveBest := s.BestLap()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "LAP\tTIME\tDELTA\tMAX %s\tSAMPLES\t\n", strings.ToUpper(displayUnits))
	for _, lap := range s.Laps {
		var maxSpeed float64
		for _, sm := range lap.Samples {
			if sm.Speed > maxSpeed {
				maxSpeed = sm.Speed
			}
		}

		timeCol, deltaCol := "-", "-"
		if lap.LapTime > 0 {
			timeCol = formatLapTime(lap.LapTime)
			if haveBest {
				deltaCol = fmt.Sprintf("%+.3f", lap.LapTime-bestTime)
			}
		}

		marker := ""
		switch {
		case haveBest && lap.Number == bestNumber:
			marker = "best"
		case !lap.Complete:
			marker = "partial"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%d\t%s\n",
			lap.Number, timeCol, deltaCol,
			units.ConvertSpeed(maxSpeed, displayUnits), len(lap.Samples), marker)
	}
	return tw.Flush()
}

// runExportCommand handles `export <session-id> <kind> [laps]`, where laps is
// a list like "2,5,7" or a range like "2-5".
func runExportCommand(st *store.Store, exporter *export.Exporter, w io.Writer, args []string) error {
	id, kind := args[0], args[1]

	s, err := st.LoadSession(id)
	if err != nil {
		return err
	}

	var laps []int
	if len(args) > 2 {
		laps, err = parseLapArg(args[2])
		if err != nil {
			return err
		}
	}

	var path string
	switch kind {
	case "lap":
		if len(laps) != 1 {
			return fmt.Errorf("export lap takes exactly one lap number")
		}
		path, err = exporter.ExportLap(s, laps[0])
	case "laps":
		path, err = exporter.ExportLaps(s, laps)
	case "comparison":
		path, err = exporter.ExportComparison(s, laps)
	case "session":
		path, err = exporter.ExportCompleteSession(s)
	default:
		return fmt.Errorf("unknown export kind %q (want lap, laps, comparison or session)", kind)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(w, path)
	return nil
}

func parseLapArg(raw string) ([]int, error) {
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

// formatLapTime renders seconds as m:ss.mmm, the way sim timing screens do.
func formatLapTime(seconds float64) string {
	minutes := int(seconds) / 60
	rest := seconds - float64(minutes*60)
	return fmt.Sprintf("%d:%06.3f", minutes, rest)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
