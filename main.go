package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/laptrace/internal/api"
	"github.com/banshee-data/laptrace/internal/capture"
	"github.com/banshee-data/laptrace/internal/config"
	"github.com/banshee-data/laptrace/internal/export"
	"github.com/banshee-data/laptrace/internal/store"
	"github.com/banshee-data/laptrace/internal/telemetry"
	"github.com/banshee-data/laptrace/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Capture from the built-in simulated source instead of the UDP telemetry feed")
	replayID   = flag.String("replay", "", "Re-run capture over a stored session id instead of a live feed")
	configPath = flag.String("config", "", "Path to JSON config file")
	listen     = flag.String("listen", "", "HTTP listen address (overrides config)")
	dataDir    = flag.String("data-dir", "", "Session storage directory (overrides config)")
	exportDir  = flag.String("export-dir", "", "Export output directory (overrides config)")
	telemAddr  = flag.String("telemetry-listen", ":9507", "UDP address the telemetry relay sends to")
	pollRate   = flag.Int("poll-rate", 0, "Telemetry poll rate in Hz (overrides config)")
	unitsFlag  = flag.String("units", "", "Display units for speeds: mps, mph, kmph or kph (overrides config)")
	showVer    = flag.Bool("version", false, "Print version information and exit")
)

func usage() {
	log.Printf("usage: laptrace [flags] [capture|list|info <session-id>|export <session-id> <lap|laps|comparison|session> [laps]]")
	flag.PrintDefaults()
	os.Exit(2)
}

func loadConfig() *config.CaptureConfig {
	if *configPath == "" {
		return config.EmptyCaptureConfig()
	}
	cfg, err := config.LoadCaptureConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// Main
func main() {
	flag.Parse()
	if *showVer {
		fmt.Printf("laptrace %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	cfg := loadConfig()

	// Flags win over the config file.
	if *listen == "" {
		*listen = cfg.GetListen()
	}
	if *dataDir == "" {
		*dataDir = cfg.GetDataDir()
	}
	if *exportDir == "" {
		*exportDir = cfg.GetExportDir()
	}
	if *pollRate == 0 {
		*pollRate = cfg.GetPollRateHz()
	}
	if *unitsFlag == "" {
		*unitsFlag = cfg.GetDisplayUnits()
	}

	st := store.NewStore(*dataDir)
	defer st.Close()
	exporter := export.NewExporter(*exportDir)

	switch flag.Arg(0) {
	case "", "capture":
		runCapture(st, exporter)
	case "list":
		if err := runList(st, os.Stdout); err != nil {
			log.Fatalf("list failed: %v", err)
		}
	case "info":
		if flag.NArg() != 2 {
			usage()
		}
		if err := runInfo(st, os.Stdout, flag.Arg(1), *unitsFlag); err != nil {
			log.Fatalf("info failed: %v", err)
		}
	case "export":
		if flag.NArg() < 3 {
			usage()
		}
		if err := runExportCommand(st, exporter, os.Stdout, flag.Args()[1:]); err != nil {
			log.Fatalf("export failed: %v", err)
		}
	default:
		usage()
	}
}

func newSource(st *store.Store) telemetry.Source {
	if *replayID != "" {
		source, err := replaySource(st, *replayID)
		if err != nil {
			log.Fatalf("Failed to load session for replay: %v", err)
		}
		return source
	}
	if *devMode {
		return telemetry.NewSimSource(telemetry.DefaultSimConfig())
	}
	source, err := telemetry.NewUDPSource(telemetry.UDPConfig{Listen: *telemAddr})
	if err != nil {
		log.Fatalf("Failed to open telemetry feed: %v", err)
	}
	return source
}

// replaySource rebuilds the frame stream of a stored session so capture can
// be re-run over it.
func replaySource(st *store.Store, id string) (*telemetry.ReplaySource, error) {
	sess, err := st.LoadSession(id)
	if err != nil {
		return nil, err
	}
	info := telemetry.SessionInfo{
		SessionNum:  sess.SessionNum,
		Track:       sess.Track,
		TrackConfig: sess.TrackConfig,
		Car:         sess.Car,
		Driver:      sess.Driver,
		SessionType: sess.SessionType,
	}
	var frames []telemetry.Frame
	lastLapTime := 0.0
	for _, lap := range sess.Laps {
		for _, sample := range lap.Samples {
			frames = append(frames, telemetry.Frame{
				Sample:      sample,
				SessionNum:  sess.SessionNum,
				LapNum:      lap.Number,
				LastLapTime: lastLapTime,
			})
		}
		lastLapTime = lap.LapTime
	}
	return telemetry.NewReplaySource(info, frames), nil
}

func runCapture(st *store.Store, exporter *export.Exporter) {
	source := newSource(st)
	defer source.Close()

	runner := capture.NewRunner(source, st, exporter, capture.Options{PollRate: *pollRate})

	// Wait group for the capture loop and the HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the capture loop: poll the source, sessionize, hand finalized laps
	// to the background writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("capture loop failed: %v", err)
		}
		log.Print("capture routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		st.AttachAdminRoutes(mux)

		apiServer := api.NewServer(st, exporter, runner, *unitsFlag)
		handler := api.LoggingMiddleware(apiServer.ServeMux())
		mux.Handle("/api/", handler)
		mux.Handle("/charts/", handler)

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	for _, err := range runner.PersistErrors() {
		log.Printf("persist error during capture: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
