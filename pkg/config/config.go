// Package config provides configuration loading, validation, and management for coach.
//
// The configuration lives in .coach/config.json inside the project directory.
// A single global Config instance is maintained in memory behind a mutex;
// GetConfig returns it BY VALUE so callers cannot mutate shared state, and all
// updates go through the Update* functions, which validate and persist
// atomically (temp file + rename).
//
// Note the config file is plain single-writer JSON. The shared session state
// in .coach/state.json is a different animal entirely and is only ever touched
// through pkg/statefile.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"coach/pkg/logx"
)

// Provider identifiers for LLM APIs.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Project config constants.
const (
	ProjectConfigDir  = ".coach"
	ConfigFilename    = "config.json"
	StateFilename     = "state.json"
	TelemetryFilename = "telemetry.db"
	GameplanFilename  = "GAMEPLAN.md"
	SchemaVersion     = "1.0"
)

// Default models.
const (
	DefaultSuggestModel = "claude-sonnet-4-5"
	DefaultLocalModel   = "qwen2.5-coder:14b"
	DefaultOllamaHost   = "http://localhost:11434"
)

// Global config instance with mutex protection.
// projectDir is set once during LoadConfig and never changes.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string
	logger     *logx.Logger
	mu         sync.RWMutex
)

// getLogger returns the config logger, initializing it if needed.
func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
// Exposed so main can log through the same component.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider         string // API provider (anthropic, openai, ollama)
	MaxContextTokens int    // Maximum context window size in tokens
	MaxOutputTokens  int    // Maximum output tokens per request
}

// KnownModels registry contains provider information for common models.
// This is optional - unknown models will be inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o3-mini": {
		Provider:         ProviderOpenAI,
		MaxContextTokens: 200000,
		MaxOutputTokens:  100000,
	},
	"qwen2.5-coder:14b": {
		Provider:         ProviderOllama,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	},
}

// ProviderPattern maps a model name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
//
//nolint:gochecknoglobals // Intentional global for static pattern table
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
}

// GetModelProvider returns the API provider for a given model.
// First checks KnownModels, then tries pattern matching; model names
// containing a colon tag (e.g. "llama3:8b") are assumed to be Ollama models.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	if strings.Contains(modelName, ":") {
		return ProviderOllama, nil
	}

	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name.
// Returns the info and true if found in KnownModels, or conservative defaults
// with the inferred provider and false if not found.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// SuggestConfig holds prompt-suggestion settings.
type SuggestConfig struct {
	Model        string `json:"model"`
	OllamaHost   string `json:"ollama_host,omitempty"`
	MaxTokens    int    `json:"max_tokens"`
	PromptBudget int    `json:"prompt_budget"` // Max tokens of state context packed into the prompt
}

// DashboardConfig holds web dashboard settings.
type DashboardConfig struct {
	Host          string `json:"host"` // Listen address; loopback unless explicitly widened
	Port          int    `json:"port"`
	PrometheusURL string `json:"prometheus_url,omitempty"` // Optional external Prometheus for conflict stats
}

// PilotConfig holds background watcher settings.
type PilotConfig struct {
	IntervalSeconds    int `json:"interval_seconds"`
	StaleResolvedHours int `json:"stale_resolved_hours"` // Resolved errors older than this are pruned
}

// StateConfig holds state engine tunables.
type StateConfig struct {
	MaxRetries int `json:"max_retries"`
}

// Config represents the persisted coach configuration.
type Config struct {
	SchemaVersion string          `json:"schema_version"`
	Suggest       SuggestConfig   `json:"suggest"`
	Dashboard     DashboardConfig `json:"dashboard"`
	Pilot         PilotConfig     `json:"pilot"`
	State         StateConfig     `json:"state"`
}

// createDefaultConfig creates a new config with sensible defaults.
func createDefaultConfig() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		Suggest: SuggestConfig{
			Model:        DefaultSuggestModel,
			OllamaHost:   DefaultOllamaHost,
			MaxTokens:    1024,
			PromptBudget: 6000,
		},
		Dashboard: DashboardConfig{
			Host: "127.0.0.1",
			Port: 8190,
		},
		Pilot: PilotConfig{
			IntervalSeconds:    30,
			StaleResolvedHours: 72,
		},
		State: StateConfig{
			MaxRetries: 3,
		},
	}
}

// applyDefaults fills in zero-valued fields on configs loaded from older files.
func applyDefaults(c *Config) {
	defaults := createDefaultConfig()
	if c.SchemaVersion == "" {
		c.SchemaVersion = defaults.SchemaVersion
	}
	if c.Suggest.Model == "" {
		c.Suggest.Model = defaults.Suggest.Model
	}
	if c.Suggest.OllamaHost == "" {
		c.Suggest.OllamaHost = defaults.Suggest.OllamaHost
	}
	if c.Suggest.MaxTokens <= 0 {
		c.Suggest.MaxTokens = defaults.Suggest.MaxTokens
	}
	if c.Suggest.PromptBudget <= 0 {
		c.Suggest.PromptBudget = defaults.Suggest.PromptBudget
	}
	if c.Dashboard.Host == "" {
		c.Dashboard.Host = defaults.Dashboard.Host
	}
	if c.Dashboard.Port <= 0 {
		c.Dashboard.Port = defaults.Dashboard.Port
	}
	if c.Pilot.IntervalSeconds <= 0 {
		c.Pilot.IntervalSeconds = defaults.Pilot.IntervalSeconds
	}
	if c.Pilot.StaleResolvedHours <= 0 {
		c.Pilot.StaleResolvedHours = defaults.Pilot.StaleResolvedHours
	}
	if c.State.MaxRetries <= 0 {
		c.State.MaxRetries = defaults.State.MaxRetries
	}
}

// validateConfig checks the config is internally consistent.
func validateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if _, err := GetModelProvider(c.Suggest.Model); err != nil {
		return fmt.Errorf("invalid suggest model: %w", err)
	}
	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard port must be 1-65535, got %d", c.Dashboard.Port)
	}
	if c.State.MaxRetries < 1 {
		return fmt.Errorf("state max_retries must be positive, got %d", c.State.MaxRetries)
	}
	return nil
}

// LoadConfig loads the configuration from <projectDir>/.coach/config.json.
//
// Behavior:
// - Missing file: creates new config with defaults and saves it
// - Existing file: loads and validates, applying defaults for missing fields
// - Unparseable file: returns error to avoid overwriting user changes
//
// This should typically be called once at application startup.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	// Store project directory - immutable after this point
	projectDir = inputProjectDir
	configPath := filepath.Join(projectDir, ProjectConfigDir, ConfigFilename)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		getLogger().Info("📝 Config file not found, creating new config at %s", configPath)
		config = createDefaultConfig()
		if err := validateConfig(config); err != nil {
			return fmt.Errorf("default config validation failed: %w", err)
		}
		if err := saveConfigLocked(); err != nil {
			return fmt.Errorf("failed to save initial config: %w", err)
		}
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	loadedConfig := &Config{}
	if err := json.Unmarshal(data, loadedConfig); err != nil {
		return fmt.Errorf("fatal: config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
	}

	applyDefaults(loadedConfig)
	if err := validateConfig(loadedConfig); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	config = loadedConfig

	// Save config back to disk with applied defaults (ensures old configs get updated)
	if err := saveConfigLocked(); err != nil {
		return fmt.Errorf("failed to save config with applied defaults: %w", err)
	}

	getLogger().Info("✅ Config loaded from %s", configPath)
	return nil
}

// GetConfig returns the current config by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil {
		return Config{}, fmt.Errorf("config not loaded: call config.LoadConfig first")
	}
	return *config, nil
}

// UpdateSuggest atomically updates the suggestion configuration and persists to disk.
func UpdateSuggest(suggest *SuggestConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded")
	}
	if _, err := GetModelProvider(suggest.Model); err != nil {
		return fmt.Errorf("invalid suggest model: %w", err)
	}

	config.Suggest = *suggest
	applyDefaults(config)
	return saveConfigLocked()
}

// UpdateDashboard atomically updates the dashboard configuration and persists to disk.
func UpdateDashboard(dashboard *DashboardConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded")
	}

	config.Dashboard = *dashboard
	applyDefaults(config)
	if err := validateConfig(config); err != nil {
		return err
	}
	return saveConfigLocked()
}

// saveConfigLocked writes the config to disk atomically. Caller must hold mu.
func saveConfigLocked() error {
	configPath := filepath.Join(projectDir, ProjectConfigDir, ConfigFilename)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Atomic write: temp file in the same directory, then rename.
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	return nil
}

// ProjectDir returns the project directory set by LoadConfig.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// CoachDir returns the .coach directory for the given project directory.
func CoachDir(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigDir)
}

// StateFilePath returns the shared session state file path.
func StateFilePath(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigDir, StateFilename)
}

// TelemetryDBPath returns the SQLite telemetry database path.
func TelemetryDBPath(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigDir, TelemetryFilename)
}

// GameplanPath returns the gameplan markdown file path.
func GameplanPath(projectDir string) string {
	return filepath.Join(projectDir, GameplanFilename)
}
