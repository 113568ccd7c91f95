// Package suggest turns the project's current state (phase, remembered
// errors, gameplan progress) into a short coaching prompt, sends it to
// the configured model provider, and records the suggestion back into
// state so the dashboard can show it.
package suggest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coach/pkg/errmem"
	"coach/pkg/gameplan"
	"coach/pkg/logx"
	"coach/pkg/phase"
	"coach/pkg/statefile"
	"coach/pkg/utils"
)

// Suggestion is the stored result of one coaching request.
type Suggestion struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	At    string `json:"at"`
}

// Suggester assembles coaching prompts from project state.
type Suggester struct {
	engine       *statefile.Engine
	statePath    string
	client       Client
	counter      *utils.TokenCounter
	promptBudget int
	maxTokens    int
	logger       *logx.Logger
}

// New builds a suggester over the given state file and provider client.
// promptBudget caps how many tokens of state context go into the prompt;
// maxTokens caps the model's reply.
func New(engine *statefile.Engine, statePath string, client Client, promptBudget, maxTokens int) (*Suggester, error) {
	counter, err := utils.NewTokenCounter()
	if err != nil {
		return nil, fmt.Errorf("failed to init token counter: %w", err)
	}
	return &Suggester{
		engine:       engine,
		statePath:    statePath,
		client:       client,
		counter:      counter,
		promptBudget: promptBudget,
		maxTokens:    maxTokens,
		logger:       logx.NewLogger("suggest"),
	}, nil
}

// Suggest builds the prompt, calls the provider, and stores the result
// in state under lastSuggestion.
func (s *Suggester) Suggest(ctx context.Context) (*Suggestion, error) {
	phases := phase.NewTracker(s.engine, s.statePath)
	errors := errmem.New(s.engine, s.statePath)

	prompt := s.BuildPrompt(phases.Current(), errors.Unresolved(), s.planProgress())
	s.logger.Debug("Prompt is %d tokens (budget %d)", s.counter.CountTokens(prompt), s.promptBudget)

	text, err := s.client.Complete(ctx, prompt, s.maxTokens)
	if err != nil {
		return nil, logx.Wrap(err, "get suggestion")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("model %s returned an empty suggestion", s.client.ModelName())
	}

	suggestion := &Suggestion{
		Text:  text,
		Model: s.client.ModelName(),
		At:    time.Now().UTC().Format(time.RFC3339),
	}

	res := s.engine.Update(s.statePath, nil, func(p statefile.Payload) statefile.Payload {
		p["lastSuggestion"] = map[string]interface{}{
			"text":  suggestion.Text,
			"model": suggestion.Model,
			"at":    suggestion.At,
		}
		return p
	}, statefile.Options{})
	if !res.OK {
		// The suggestion itself is still useful; only its persistence failed.
		s.logger.Warn("Failed to store suggestion: %v", res.Err)
	}

	s.logger.Info("📝 Suggestion from %s stored (v%d)", suggestion.Model, res.Version)
	return suggestion, nil
}

// BuildPrompt renders the coaching prompt. Error context is trimmed from
// the bottom until the whole prompt fits the token budget; the phase and
// plan sections always survive.
func (s *Suggester) BuildPrompt(current phase.Phase, open []errmem.Entry, progress gameplan.Progress) string {
	for {
		prompt := renderPrompt(current, open, progress)
		if s.counter.CountTokens(prompt) <= s.promptBudget || len(open) == 0 {
			return prompt
		}
		open = open[:len(open)-1]
	}
}

func renderPrompt(current phase.Phase, open []errmem.Entry, progress gameplan.Progress) string {
	var b strings.Builder

	b.WriteString("You are a coding coach. Based on the developer's current session state, ")
	b.WriteString("give one concrete, specific next action in at most three sentences.\n\n")
	fmt.Fprintf(&b, "Current phase: %s\n", current)

	if progress.Total > 0 {
		fmt.Fprintf(&b, "Gameplan: %q, %d of %d steps done\n", progress.Title, progress.Done, progress.Total)
	} else {
		b.WriteString("Gameplan: none written yet\n")
	}

	if len(open) > 0 {
		b.WriteString("\nUnresolved errors, most frequent first:\n")
		for _, e := range open {
			fmt.Fprintf(&b, "- (%dx) %s\n", e.Count, e.Message)
		}
	}

	if current == phase.Stuck {
		b.WriteString("\nThe developer marked themselves stuck. Suggest a way to get unstuck, ")
		b.WriteString("such as narrowing the problem or stepping back to the plan.\n")
	}
	return b.String()
}

// Last returns the stored suggestion, if any.
func (s *Suggester) Last() (*Suggestion, bool) {
	rec := s.engine.Read(s.statePath, nil)
	raw, ok := rec.Payload["lastSuggestion"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	suggestion := &Suggestion{}
	suggestion.Text, _ = raw["text"].(string)
	suggestion.Model, _ = raw["model"].(string)
	suggestion.At, _ = raw["at"].(string)
	if suggestion.Text == "" {
		return nil, false
	}
	return suggestion, true
}

func (s *Suggester) planProgress() gameplan.Progress {
	tracker := gameplan.NewTracker(s.engine, s.statePath, "")
	return tracker.Progress()
}
