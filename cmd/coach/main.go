// coach is the interactive CLI: phase tracking, error memory, gameplan
// progress, prompt suggestions, and the web dashboard, all over one
// shared state file under .coach/.
package main

import (
	"flag"
	"fmt"
	"os"

	"coach/pkg/config"
	"coach/pkg/statefile"
	"coach/pkg/version"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: coach [flags] <command> [args]

Commands:
  init                     Set up .coach/ and store API keys
  phase [name]             Show or set the session phase
  phase history            Show recent phase transitions
  errors record <message>  Remember an error
  errors resolve <id>      Mark a remembered error resolved
  errors list              List remembered errors
  plan sync                Mirror GAMEPLAN.md into state
  plan done <step-id>      Check off a gameplan step
  plan status              Show gameplan progress
  suggest                  Ask the configured model for a next action
  dashboard                Serve the web dashboard
  config [show]            Show effective configuration
  config model <name>      Set the suggestion model
  config host <address>    Set the dashboard listen address
  config port <port>       Set the dashboard port
  config prometheus <url>  Set the Prometheus URL for /api/updates
  secret set <name>        Store one secret in the encrypted file

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		projectDir  = flag.String("projectdir", ".", "Project directory")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("coach %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	os.Exit(run(*projectDir, args[0], args[1:]))
}

// run dispatches a subcommand and returns an exit code so defers in
// command handlers execute before the process exits.
func run(projectDir, command string, args []string) int {
	if err := config.LoadConfig(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	loadSecrets(projectDir)

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}

	engine := statefile.NewEngine(statefile.NewWriterID(), cfg.State.MaxRetries)
	statePath := config.StateFilePath(projectDir)
	planPath := config.GameplanPath(projectDir)

	var cmdErr error
	switch command {
	case "init":
		cmdErr = cmdInit(projectDir)
	case "phase":
		cmdErr = cmdPhase(engine, statePath, args)
	case "errors":
		cmdErr = cmdErrors(engine, statePath, args)
	case "plan":
		cmdErr = cmdPlan(engine, statePath, planPath, args)
	case "suggest":
		cmdErr = cmdSuggest(engine, statePath, &cfg)
	case "dashboard":
		cmdErr = cmdDashboard(engine, projectDir, statePath, planPath, &cfg)
	case "config":
		cmdErr = cmdConfig(&cfg, args)
	case "secret":
		cmdErr = cmdSecret(projectDir, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", command)
		usage()
		return 2
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		return 1
	}
	return 0
}

// loadSecrets decrypts the secrets file when a dashboard password is
// available; otherwise API keys fall through to environment variables.
func loadSecrets(projectDir string) {
	if !config.SecretsFileExists(projectDir) {
		return
	}
	password := config.GetDashboardPassword()
	if password == "" {
		return
	}
	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not decrypt secrets file: %v\n", err)
		return
	}
	config.SetDecryptedSecrets(secrets)
}
