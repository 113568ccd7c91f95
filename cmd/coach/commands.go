package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/google/uuid"

	"coach/pkg/config"
	"coach/pkg/errmem"
	"coach/pkg/gameplan"
	"coach/pkg/metrics"
	"coach/pkg/persistence"
	"coach/pkg/phase"
	"coach/pkg/statefile"
	"coach/pkg/suggest"
	"coach/pkg/webui"
)

// cmdInit sets up the .coach directory and interactively stores API keys
// in the encrypted secrets file.
func cmdInit(projectDir string) error {
	fmt.Println("⏳ Setting up coach...")

	password, err := readPassword("Choose a password for the secrets file and dashboard: ")
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	config.SetDashboardPassword(password)

	secrets := map[string]string{}
	for _, name := range []string{config.SecretAnthropicAPIKey, config.SecretOpenAIAPIKey} {
		value, err := readPassword(fmt.Sprintf("%s (leave blank to skip): ", name))
		if err != nil {
			return err
		}
		if value != "" {
			secrets[name] = value
		}
	}

	if len(secrets) > 0 {
		if err := config.EncryptSecretsFile(projectDir, password, secrets); err != nil {
			return fmt.Errorf("failed to write secrets file: %w", err)
		}
		fmt.Printf("✅ Stored %d secret(s) in %s\n", len(secrets), config.CoachDir(projectDir))
	} else {
		fmt.Println("No API keys entered; coach will read them from the environment.")
	}

	fmt.Printf("✅ Coach initialized in %s\n", config.CoachDir(projectDir))
	return nil
}

// readPassword prompts without echo when stdin is a terminal, falling
// back to a plain line read otherwise (tests, pipes).
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil && err.Error() != "unexpected newline" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func cmdPhase(engine *statefile.Engine, statePath string, args []string) error {
	tracker := phase.NewTracker(engine, statePath)

	if len(args) == 0 {
		fmt.Printf("Current phase: %s\n", tracker.Current())
		return nil
	}

	if args[0] == "history" {
		history := tracker.History(20)
		if len(history) == 0 {
			fmt.Println("No phase transitions yet.")
			return nil
		}
		for _, tr := range history {
			fmt.Printf("%s  %s → %s\n", tr.At, tr.From, tr.To)
		}
		return nil
	}

	target, err := phase.Parse(args[0])
	if err != nil {
		return err
	}
	if err := tracker.Set(target); err != nil {
		return err
	}
	fmt.Printf("Phase set to %s\n", target)
	return nil
}

func cmdErrors(engine *statefile.Engine, statePath string, args []string) error {
	mem := errmem.New(engine, statePath)

	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "record":
		if len(args) < 2 {
			return fmt.Errorf("usage: coach errors record <message>")
		}
		message := strings.Join(args[1:], " ")
		if err := mem.Record(message); err != nil {
			return err
		}
		fmt.Printf("Recorded error %s\n", errmem.Signature(message))
		return nil
	case "resolve":
		if len(args) < 2 {
			return fmt.Errorf("usage: coach errors resolve <id>")
		}
		return mem.Resolve(args[1])
	case "list":
		entries := mem.Recent(20)
		if len(entries) == 0 {
			fmt.Println("No remembered errors.")
			return nil
		}
		for _, e := range entries {
			status := " "
			if e.Resolved {
				status = "✅"
			}
			fmt.Printf("%s %s  (%dx, last %s)  %s\n", status, e.ID, e.Count, e.LastSeen, e.Message)
		}
		return nil
	default:
		return fmt.Errorf("unknown errors subcommand %q", args[0])
	}
}

func cmdPlan(engine *statefile.Engine, statePath, planPath string, args []string) error {
	tracker := gameplan.NewTracker(engine, statePath, planPath)

	if len(args) == 0 {
		args = []string{"status"}
	}

	switch args[0] {
	case "sync":
		if err := tracker.Sync(); err != nil {
			return err
		}
		fmt.Println("Gameplan synced.")
		return nil
	case "done":
		if len(args) < 2 {
			return fmt.Errorf("usage: coach plan done <step-id>")
		}
		return tracker.MarkDone(args[1])
	case "status":
		progress := tracker.Progress()
		if progress.Total == 0 {
			fmt.Println("No gameplan synced yet. Write GAMEPLAN.md and run `coach plan sync`.")
			return nil
		}
		fmt.Printf("%s: %d/%d steps done (%.0f%%)\n", progress.Title, progress.Done, progress.Total, progress.Ratio*100)
		for _, step := range tracker.Steps() {
			box := "[ ]"
			if step.Done {
				box = "[x]"
			}
			fmt.Printf("  %s %s  %s\n", box, step.ID, step.Title)
		}
		return nil
	default:
		return fmt.Errorf("unknown plan subcommand %q", args[0])
	}
}

func cmdConfig(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		args = []string{"show"}
	}

	switch args[0] {
	case "show":
		fmt.Printf("model:      %s\n", cfg.Suggest.Model)
		fmt.Printf("dashboard:  %s:%d\n", cfg.Dashboard.Host, cfg.Dashboard.Port)
		if cfg.Dashboard.PrometheusURL != "" {
			fmt.Printf("prometheus: %s\n", cfg.Dashboard.PrometheusURL)
		}
		return nil
	case "model":
		if len(args) < 2 {
			return fmt.Errorf("usage: coach config model <name>")
		}
		suggestCfg := cfg.Suggest
		suggestCfg.Model = args[1]
		if err := config.UpdateSuggest(&suggestCfg); err != nil {
			return err
		}
		fmt.Printf("Suggest model set to %s\n", args[1])
		return nil
	case "host", "port", "prometheus":
		if len(args) < 2 {
			return fmt.Errorf("usage: coach config %s <value>", args[0])
		}
		dashboardCfg := cfg.Dashboard
		switch args[0] {
		case "host":
			dashboardCfg.Host = args[1]
		case "port":
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q", args[1])
			}
			dashboardCfg.Port = port
		case "prometheus":
			dashboardCfg.PrometheusURL = args[1]
		}
		if err := config.UpdateDashboard(&dashboardCfg); err != nil {
			return err
		}
		fmt.Println("Dashboard config updated.")
		return nil
	default:
		return fmt.Errorf("unknown config subcommand %q", args[0])
	}
}

// cmdSecret adds or replaces one secret, preserving the rest of the
// encrypted file.
func cmdSecret(projectDir string, args []string) error {
	if len(args) < 2 || args[0] != "set" {
		return fmt.Errorf("usage: coach secret set <name>")
	}
	name := args[1]

	password, err := readPassword("Secrets file password: ")
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if config.SecretsFileExists(projectDir) {
		existing, err := config.DecryptSecretsFile(projectDir, password)
		if err != nil {
			return fmt.Errorf("failed to decrypt existing secrets: %w", err)
		}
		config.SetDecryptedSecrets(existing)
	}

	value, err := readPassword(fmt.Sprintf("Value for %s: ", name))
	if err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("value cannot be empty")
	}

	config.SetSecret(name, value)
	if err := config.SaveSecretsToFile(projectDir, password); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	fmt.Printf("✅ Stored %s in %s\n", name, config.CoachDir(projectDir))
	return nil
}

func cmdSuggest(engine *statefile.Engine, statePath string, cfg *config.Config) error {
	client, err := suggest.NewClient(cfg.Suggest.Model, cfg.Suggest.OllamaHost)
	if err != nil {
		return err
	}

	suggester, err := suggest.New(engine, statePath, client, cfg.Suggest.PromptBudget, cfg.Suggest.MaxTokens)
	if err != nil {
		return err
	}

	fmt.Printf("⏳ Asking %s...\n", client.ModelName())
	result, err := suggester.Suggest(context.Background())
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(result.Text)
	return nil
}

func cmdDashboard(engine *statefile.Engine, projectDir, statePath, planPath string, cfg *config.Config) error {
	telemetry := true
	if err := persistence.Initialize(config.TelemetryDBPath(projectDir), uuid.NewString()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: telemetry disabled: %v\n", err)
		telemetry = false
	} else {
		if err := persistence.StartSession("dashboard"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		engine.SetObserver(recordUpdateEvent(engine))
		defer func() {
			_ = persistence.EndSession()
			_ = persistence.Close()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := webui.NewServer(engine, statePath, planPath, telemetry)
	if cfg.Dashboard.PrometheusURL != "" {
		query, err := metrics.NewQueryService(cfg.Dashboard.PrometheusURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Prometheus disabled: %v\n", err)
		} else {
			server.SetMetricsQuery(query)
		}
	}
	return server.Start(ctx, cfg.Dashboard.Host, cfg.Dashboard.Port)
}

// recordUpdateEvent logs engine outcomes to the telemetry database. A
// failed insert only warns; telemetry must never fail a state update.
func recordUpdateEvent(engine *statefile.Engine) statefile.Observer {
	return func(path string, res statefile.Result, duration time.Duration) {
		if err := persistence.RecordUpdate(path, engine.WriterID(), res, duration); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
}
