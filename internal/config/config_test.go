package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Greater(t, cfg.Pressure.PauseAbove, cfg.Pressure.ResumeBelow)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Orchestrator.ParallelWorkers, cfg.Orchestrator.ParallelWorkers)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"orchestrator:\n  parallel_workers: 3\nsources:\n  crossref_rps: 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Orchestrator.ParallelWorkers)
	assert.Equal(t, 2.0, cfg.Sources.CrossrefRPS)
	assert.Equal(t, "gemini-2.5-flash", cfg.Planner.Model, "untouched fields keep defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROXY_LIST", "1.2.3.4:8080, 5.6.7.8:8080")
	t.Setenv("ENABLE_SEMANTIC_SCHOLAR", "false")
	t.Setenv("GEMINI_API_TIER", "paid")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, []string{"1.2.3.4:8080", "5.6.7.8:8080"}, cfg.HTTP.Proxies)
	assert.False(t, cfg.Sources.EnableSemantic)
	assert.Equal(t, float64(10), cfg.Sources.GroundedWebRPS, "paid tier lifts the pacing cap")
}

func TestValidateRejectsBadHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pressure.PauseAbove = 0.4
	cfg.Pressure.ResumeBelow = 0.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Planner.Tier = "platinum"
	assert.Error(t, cfg.Validate())
}
