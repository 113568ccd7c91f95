// coach-pilot is the background watcher process. It runs alongside CLI
// sessions and the dashboard, writing heartbeats and housekeeping changes
// into the same state file through the conflict-resolving engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"coach/pkg/config"
	"coach/pkg/persistence"
	"coach/pkg/pilot"
	"coach/pkg/statefile"
	"coach/pkg/version"
)

func main() {
	var (
		projectDir  = flag.String("projectdir", ".", "Project directory")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("coach-pilot %s\n", version.Version)
		os.Exit(0)
	}

	os.Exit(run(*projectDir))
}

func run(projectDir string) int {
	if err := config.LoadConfig(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}

	telemetry := true
	if err := persistence.Initialize(config.TelemetryDBPath(projectDir), uuid.NewString()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: telemetry disabled: %v\n", err)
		telemetry = false
	} else {
		if err := persistence.StartSession("pilot"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		defer func() {
			_ = persistence.EndSession()
			_ = persistence.Close()
		}()
	}

	engine := statefile.NewEngine(statefile.NewWriterID(), cfg.State.MaxRetries)
	if telemetry {
		engine.SetObserver(func(path string, res statefile.Result, duration time.Duration) {
			if err := persistence.RecordUpdate(path, engine.WriterID(), res, duration); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		})
	}
	p := pilot.New(engine,
		config.StateFilePath(projectDir),
		config.GameplanPath(projectDir),
		pilot.Config{
			Interval:         time.Duration(cfg.Pilot.IntervalSeconds) * time.Second,
			StaleResolvedAge: time.Duration(cfg.Pilot.StaleResolvedHours) * time.Hour,
		})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Pilot failed: %v\n", err)
		return 1
	}
	return 0
}
