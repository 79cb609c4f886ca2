// lapplot renders a speed-over-distance PNG for one or more laps of a stored
// session. It reads straight from the session store, so it works offline on a
// copied data directory.
//
// Usage:
//
//	lapplot -data-dir data/sessions -out plots <session-id> <laps>
//
// where laps is a list like "2,5,7" or a range like "2-5".
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/laptrace/internal/store"
)

var (
	dataDir = flag.String("data-dir", filepath.Join("data", "sessions"), "Session storage directory")
	outDir  = flag.String("out", "plots", "Output directory for PNG files")
)

// palette cycles for multi-lap plots.
var palette = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	color.RGBA{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	color.RGBA{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: lapplot [flags] <session-id> <laps>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	laps, err := parseLaps(flag.Arg(1))
	if err != nil {
		log.Fatalf("bad lap list: %v", err)
	}

	st := store.NewStore(*dataDir)
	defer st.Close()

	s, err := st.LoadSession(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to load session: %v", err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s %s", s.Track, s.SessionType)
	p.X.Label.Text = "Lap distance (fraction)"
	p.Y.Label.Text = "Speed (m/s)"
	p.X.Min, p.X.Max = 0, 1

	for i, lapNumber := range laps {
		lap := s.Lap(lapNumber)
		if lap == nil {
			log.Fatalf("session %s has no lap %d", s.ID, lapNumber)
		}

		pts := make(plotter.XYs, 0, len(lap.Samples))
		for _, sm := range lap.Samples {
			pts = append(pts, plotter.XY{X: sm.DistancePct, Y: sm.Speed})
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			log.Fatalf("failed to build line for lap %d: %v", lapNumber, err)
		}
		line.Color = palette[i%len(palette)]
		line.Width = vg.Points(1)
		p.Add(line)

		label := fmt.Sprintf("lap %d", lapNumber)
		if lap.LapTime > 0 {
			label = fmt.Sprintf("lap %d (%.3fs)", lapNumber, lap.LapTime)
		}
		p.Legend.Add(label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}
	outFile := filepath.Join(*outDir, fmt.Sprintf("%s_laps%s.png", shortID(s.ID), flag.Arg(1)))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, outFile); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	fmt.Println(outFile)
}

func parseLaps(raw string) ([]int, error) {
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

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
