// Package pilot runs the background watcher process. It heartbeats into
// the shared state file on a ticker, prunes stale resolved errors, and
// re-syncs gameplan progress, making it a deliberate second concurrent
// writer alongside the CLI and dashboard.
package pilot

import (
	"context"
	"os"
	"time"

	"coach/pkg/errmem"
	"coach/pkg/gameplan"
	"coach/pkg/logx"
	"coach/pkg/statefile"
)

// Config tunes the watcher loop.
type Config struct {
	// Interval between passes.
	Interval time.Duration

	// StaleResolvedAge is how long a resolved error may linger before
	// the pilot prunes it.
	StaleResolvedAge time.Duration
}

// Pilot is the background watcher.
type Pilot struct {
	engine    *statefile.Engine
	statePath string
	planPath  string
	cfg       Config
	logger    *logx.Logger
}

// New builds a pilot over the state file and gameplan file. planPath may
// be empty when the project has no gameplan.
func New(engine *statefile.Engine, statePath, planPath string, cfg Config) *Pilot {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleResolvedAge <= 0 {
		cfg.StaleResolvedAge = 72 * time.Hour
	}
	return &Pilot{
		engine:    engine,
		statePath: statePath,
		planPath:  planPath,
		cfg:       cfg,
		logger:    logx.NewLogger("pilot"),
	}
}

// Run executes passes until ctx is cancelled. The first pass happens
// immediately; subsequent passes follow the configured interval.
func (p *Pilot) Run(ctx context.Context) error {
	p.logger.Info("📝 Pilot watching %s every %s", p.statePath, p.cfg.Interval)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pass()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pilot stopping: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			p.pass()
		}
	}
}

// pass runs one maintenance cycle. Each step is independent; a failure
// in one is logged and the rest still run.
func (p *Pilot) pass() {
	p.heartbeat()

	mem := errmem.New(p.engine, p.statePath)
	if _, err := mem.PruneResolved(p.cfg.StaleResolvedAge); err != nil {
		p.logger.Warn("Prune pass failed: %v", err)
	}

	if p.planPath != "" {
		if _, err := os.Stat(p.planPath); err == nil {
			tracker := gameplan.NewTracker(p.engine, p.statePath, p.planPath)
			if err := tracker.Sync(); err != nil {
				p.logger.Warn("Gameplan sync failed: %v", err)
			}
		}
	}
}

// heartbeat records that the pilot is alive so the dashboard can warn
// when it is not.
func (p *Pilot) heartbeat() {
	res := p.engine.Update(p.statePath, nil, func(payload statefile.Payload) statefile.Payload {
		payload["pilot"] = map[string]interface{}{
			"lastHeartbeat": time.Now().UTC().Format(time.RFC3339),
			"writerId":      p.engine.WriterID(),
		}
		return payload
	}, statefile.Options{})
	if !res.OK {
		p.logger.Warn("Heartbeat failed: %v", res.Err)
		return
	}
	p.logger.Debug("Heartbeat written (v%d)", res.Version)
}

// LastHeartbeat reads the most recent pilot heartbeat from state.
func LastHeartbeat(engine *statefile.Engine, statePath string) (time.Time, bool) {
	rec := engine.Read(statePath, nil)
	raw, ok := rec.Payload["pilot"].(map[string]interface{})
	if !ok {
		return time.Time{}, false
	}
	s, ok := raw["lastHeartbeat"].(string)
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}
