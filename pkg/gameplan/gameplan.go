// Package gameplan tracks progress through a project's GAMEPLAN.md file:
// a YAML frontmatter header followed by markdown checkbox steps. Parsed
// steps are mirrored into the shared state file so the pilot and the
// dashboard can show progress without re-reading the markdown.
package gameplan

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"coach/pkg/logx"
	"coach/pkg/statefile"
)

// Frontmatter is the YAML header of a gameplan file.
type Frontmatter struct {
	Title string `yaml:"title"`
	Goal  string `yaml:"goal"`
}

// Step is one checkbox item of the gameplan.
type Step struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
	Order int    `json:"order"`
}

// Plan is a parsed gameplan file.
type Plan struct {
	Title string
	Goal  string
	Steps []Step
}

// Progress summarizes how far through a plan the project is.
type Progress struct {
	Title string  `json:"title"`
	Done  int     `json:"done"`
	Total int     `json:"total"`
	Ratio float64 `json:"ratio"`
}

// stepID hashes a step title so the id survives reordering and re-parsing.
func stepID(title string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(title)))
	return hex.EncodeToString(sum[:])[:12]
}

// Parse reads and parses a gameplan markdown file. Frontmatter is
// optional; a file with no checkboxes parses to an empty plan.
func Parse(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gameplan %s: %w", path, err)
	}
	defer f.Close()

	plan := &Plan{}
	scanner := bufio.NewScanner(f)

	var frontLines []string
	inFront := false
	first := true
	order := 0

	for scanner.Scan() {
		line := scanner.Text()

		if first && strings.TrimSpace(line) == "---" {
			inFront = true
			first = false
			continue
		}
		first = false

		if inFront {
			if strings.TrimSpace(line) == "---" {
				inFront = false
				var fm Frontmatter
				if err := yaml.Unmarshal([]byte(strings.Join(frontLines, "\n")), &fm); err != nil {
					return nil, fmt.Errorf("invalid gameplan frontmatter in %s: %w", path, err)
				}
				plan.Title = fm.Title
				plan.Goal = fm.Goal
				continue
			}
			frontLines = append(frontLines, line)
			continue
		}

		title, done, ok := parseCheckbox(line)
		if !ok {
			continue
		}
		plan.Steps = append(plan.Steps, Step{
			ID:    stepID(title),
			Title: title,
			Done:  done,
			Order: order,
		})
		order++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gameplan %s: %w", path, err)
	}
	if inFront {
		return nil, fmt.Errorf("unterminated frontmatter in %s", path)
	}
	return plan, nil
}

// parseCheckbox matches "- [ ] title" and "- [x] title" list items.
func parseCheckbox(line string) (title string, done bool, ok bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "- [ ] "):
		title = strings.TrimSpace(trimmed[6:])
	case strings.HasPrefix(trimmed, "- [x] "), strings.HasPrefix(trimmed, "- [X] "):
		title = strings.TrimSpace(trimmed[6:])
		done = true
	default:
		return "", false, false
	}
	if title == "" {
		return "", false, false
	}
	return title, done, true
}

// Tracker mirrors gameplan progress into the shared state file.
type Tracker struct {
	engine    *statefile.Engine
	statePath string
	planPath  string
	logger    *logx.Logger
}

// NewTracker builds a tracker over the state file and gameplan file.
func NewTracker(engine *statefile.Engine, statePath, planPath string) *Tracker {
	return &Tracker{
		engine:    engine,
		statePath: statePath,
		planPath:  planPath,
		logger:    logx.NewLogger("gameplan"),
	}
}

func defaultState() statefile.Payload {
	return statefile.Payload{"steps": []interface{}{}}
}

// Sync parses the gameplan file and pushes its steps into state. The
// markdown file is the source of truth for titles and checkbox status;
// steps that disappeared from the file stay in state via array-union so a
// concurrent writer's additions are never dropped.
func (t *Tracker) Sync() error {
	plan, err := Parse(t.planPath)
	if err != nil {
		return logx.Wrap(err, "sync gameplan")
	}

	res := t.engine.Update(t.statePath, defaultState, func(p statefile.Payload) statefile.Payload {
		p["steps"] = encodeSteps(plan.Steps)
		if plan.Title != "" {
			p["planTitle"] = plan.Title
		}
		if plan.Goal != "" {
			p["planGoal"] = plan.Goal
		}
		return p
	}, statefile.Options{ArrayKeys: []string{"steps"}})

	if !res.OK {
		return logx.Wrap(res.Err, "sync gameplan")
	}
	t.logger.Debug("Synced %d steps from %s (v%d)", len(plan.Steps), t.planPath, res.Version)
	return nil
}

// MarkDone checks off the step with the given id in both the markdown
// file and the state mirror.
func (t *Tracker) MarkDone(id string) error {
	plan, err := Parse(t.planPath)
	if err != nil {
		return logx.Wrap(err, "mark step done")
	}

	var target *Step
	for i := range plan.Steps {
		if plan.Steps[i].ID == id {
			target = &plan.Steps[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no gameplan step with id %s", id)
	}
	if target.Done {
		return nil
	}

	if err := t.rewriteCheckbox(target.Title); err != nil {
		return logx.Wrap(err, "mark step done")
	}
	t.logger.Info("✅ Step done: %s", target.Title)
	return t.Sync()
}

// rewriteCheckbox flips the "- [ ]" for title to "- [x]" in the plan file.
func (t *Tracker) rewriteCheckbox(title string) error {
	data, err := os.ReadFile(t.planPath)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lineTitle, done, ok := parseCheckbox(line)
		if !ok || done || lineTitle != title {
			continue
		}
		idx := strings.Index(line, "- [ ] ")
		lines[i] = line[:idx] + "- [x] " + lineTitle
		break
	}

	return os.WriteFile(t.planPath, []byte(strings.Join(lines, "\n")), 0644)
}

// Progress reports done/total from the state mirror.
func (t *Tracker) Progress() Progress {
	rec := t.engine.Read(t.statePath, defaultState)
	steps := decodeSteps(rec.Payload["steps"])

	p := Progress{Total: len(steps)}
	if title, ok := rec.Payload["planTitle"].(string); ok {
		p.Title = title
	}
	for _, s := range steps {
		if s.Done {
			p.Done++
		}
	}
	if p.Total > 0 {
		p.Ratio = float64(p.Done) / float64(p.Total)
	}
	return p
}

// Steps returns the state mirror's steps in plan order.
func (t *Tracker) Steps() []Step {
	rec := t.engine.Read(t.statePath, defaultState)
	return decodeSteps(rec.Payload["steps"])
}

func decodeSteps(raw interface{}) []Step {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil
	}
	return steps
}

func encodeSteps(steps []Step) []interface{} {
	out := make([]interface{}, 0, len(steps))
	for _, s := range steps {
		data, err := json.Marshal(s)
		if err != nil {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
