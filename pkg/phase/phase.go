// Package phase tracks which working phase a coding session is in and the
// history of transitions between phases. State lives in the shared project
// state file, so the CLI, pilot, and dashboard all see the same phase.
package phase

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"coach/pkg/logx"
	"coach/pkg/statefile"
)

// Phase is a named stage of a working session.
type Phase string

const (
	Exploring    Phase = "exploring"
	Planning     Phase = "planning"
	Implementing Phase = "implementing"
	Verifying    Phase = "verifying"
	Stuck        Phase = "stuck"
)

// All lists every valid phase in its natural progression order.
var All = []Phase{Exploring, Planning, Implementing, Verifying, Stuck}

// Parse validates a phase name from user input.
func Parse(s string) (Phase, error) {
	for _, p := range All {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q (valid: exploring, planning, implementing, verifying, stuck)", s)
}

// Transition records one phase change for the history view.
type Transition struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	At   string `json:"at"`
}

// Tracker reads and writes the phase fields of the project state file.
type Tracker struct {
	engine *statefile.Engine
	path   string
	logger *logx.Logger
}

// NewTracker builds a tracker over the state file at path.
func NewTracker(engine *statefile.Engine, path string) *Tracker {
	return &Tracker{
		engine: engine,
		path:   path,
		logger: logx.NewLogger("phase"),
	}
}

func defaultState() statefile.Payload {
	return statefile.Payload{
		"phase":       string(Exploring),
		"transitions": []interface{}{},
	}
}

// Set moves the session to a new phase and appends a transition entry.
// Concurrent transitions from other processes merge by transition id, so
// no history entry is ever lost.
func (t *Tracker) Set(to Phase) error {
	if _, err := Parse(string(to)); err != nil {
		return err
	}

	res := t.engine.Update(t.path, defaultState, func(p statefile.Payload) statefile.Payload {
		from, _ := p["phase"].(string)
		transitions, _ := p["transitions"].([]interface{})
		p["transitions"] = append(transitions, map[string]interface{}{
			"id":   uuid.NewString(),
			"from": from,
			"to":   string(to),
			"at":   time.Now().UTC().Format(time.RFC3339),
		})
		p["phase"] = string(to)
		return p
	}, statefile.Options{ArrayKeys: []string{"transitions"}})

	if !res.OK {
		return logx.Wrap(res.Err, fmt.Sprintf("set phase to %s", to))
	}
	if res.Conflict {
		t.logger.Debug("Phase update merged with concurrent writer (v%d, resolved=%t)", res.Version, res.Resolved)
	}
	t.logger.Info("📝 Phase set to %s (v%d)", to, res.Version)
	return nil
}

// Current returns the session's phase. A missing or corrupt state file
// reads as the starting phase.
func (t *Tracker) Current() Phase {
	rec := t.engine.Read(t.path, defaultState)
	if s, ok := rec.Payload["phase"].(string); ok {
		if p, err := Parse(s); err == nil {
			return p
		}
	}
	return Exploring
}

// History returns the most recent transitions, newest last. limit <= 0
// returns everything.
func (t *Tracker) History(limit int) []Transition {
	rec := t.engine.Read(t.path, defaultState)
	raw, ok := rec.Payload["transitions"].([]interface{})
	if !ok {
		return nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var transitions []Transition
	if err := json.Unmarshal(data, &transitions); err != nil {
		return nil
	}

	if limit > 0 && len(transitions) > limit {
		transitions = transitions[len(transitions)-limit:]
	}
	return transitions
}
