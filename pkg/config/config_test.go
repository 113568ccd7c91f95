package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelProvider(t *testing.T) {
	tests := []struct {
		model    string
		provider string
	}{
		{"claude-sonnet-4-5", ProviderAnthropic},
		{"claude-next-thing", ProviderAnthropic},
		{"gpt-4o", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"qwen2.5-coder:14b", ProviderOllama},
		{"llama3:8b", ProviderOllama},
	}

	for _, tt := range tests {
		provider, err := GetModelProvider(tt.model)
		require.NoError(t, err, tt.model)
		assert.Equal(t, tt.provider, provider, tt.model)
	}

	_, err := GetModelProvider("mystery-model")
	assert.Error(t, err)
}

func TestGetModelInfoFallsBackToDefaults(t *testing.T) {
	info, known := GetModelInfo("claude-sonnet-4-5")
	assert.True(t, known)
	assert.Equal(t, ProviderAnthropic, info.Provider)

	info, known = GetModelInfo("claude-unknown-variant")
	assert.False(t, known)
	assert.Equal(t, ProviderAnthropic, info.Provider)
	assert.Positive(t, info.MaxOutputTokens)
}

func TestLoadConfigCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadConfig(dir))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultSuggestModel, cfg.Suggest.Model)
	assert.Equal(t, "127.0.0.1", cfg.Dashboard.Host)
	assert.Equal(t, 8190, cfg.Dashboard.Port)
	assert.Equal(t, 3, cfg.State.MaxRetries)

	// The file was written to disk.
	_, err = os.Stat(filepath.Join(dir, ProjectConfigDir, ConfigFilename))
	assert.NoError(t, err)
}

func TestLoadConfigAppliesDefaultsToPartialFile(t *testing.T) {
	dir := t.TempDir()
	coachDir := filepath.Join(dir, ProjectConfigDir)
	require.NoError(t, os.MkdirAll(coachDir, 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(coachDir, ConfigFilename),
		[]byte(`{"suggest": {"model": "gpt-4o"}}`), 0644))

	require.NoError(t, LoadConfig(dir))

	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Suggest.Model)
	assert.Equal(t, "127.0.0.1", cfg.Dashboard.Host)
	assert.Equal(t, 8190, cfg.Dashboard.Port)
	assert.Equal(t, 30, cfg.Pilot.IntervalSeconds)
}

func TestUpdateDashboardValidatesPort(t *testing.T) {
	require.NoError(t, LoadConfig(t.TempDir()))

	err := UpdateDashboard(&DashboardConfig{Host: "127.0.0.1", Port: 99999})
	assert.Error(t, err)

	require.NoError(t, UpdateDashboard(&DashboardConfig{Host: "0.0.0.0", Port: 9000}))
	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Dashboard.Host)
	assert.Equal(t, 9000, cfg.Dashboard.Port)
}

func TestLoadConfigRejectsUnparseableFile(t *testing.T) {
	dir := t.TempDir()
	coachDir := filepath.Join(dir, ProjectConfigDir)
	require.NoError(t, os.MkdirAll(coachDir, 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(coachDir, ConfigFilename),
		[]byte("{broken"), 0644))

	assert.Error(t, LoadConfig(dir))
}

func TestUpdateSuggestValidatesModel(t *testing.T) {
	require.NoError(t, LoadConfig(t.TempDir()))

	err := UpdateSuggest(&SuggestConfig{Model: "mystery-model"})
	assert.Error(t, err)

	require.NoError(t, UpdateSuggest(&SuggestConfig{Model: "claude-opus-4-1"}))
	cfg, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-1", cfg.Suggest.Model)
	assert.Positive(t, cfg.Suggest.MaxTokens)
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, filepath.Join("proj", ".coach", "state.json"), StateFilePath("proj"))
	assert.Equal(t, filepath.Join("proj", ".coach", "telemetry.db"), TelemetryDBPath("proj"))
	assert.Equal(t, filepath.Join("proj", "GAMEPLAN.md"), GameplanPath("proj"))
}
