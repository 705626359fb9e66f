package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Isolated viper instance without user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.BackendKind())
	assert.Contains(t, cfg.Database.Path, "promptlab.db")
	assert.Equal(t, 0.95, cfg.Experiment.ConfidenceThreshold)
	assert.Equal(t, 30, cfg.Experiment.MinSampleSize)
	assert.False(t, cfg.Log.JSON)
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "promptlab.toml")

	content := `
[backend]
kind = "git"

[git]
path = "/tmp/prompts"
author = "tester"

[experiment]
confidence_threshold = 0.99
min_sample_size = 100
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, BackendGit, cfg.BackendKind())
	assert.Equal(t, "/tmp/prompts", cfg.Git.Path)
	assert.Equal(t, "tester", cfg.Git.Author)
	assert.Equal(t, 0.99, cfg.Experiment.ConfidenceThreshold)
	assert.Equal(t, 100, cfg.Experiment.MinSampleSize)

	// Unset keys keep defaults
	assert.Contains(t, cfg.Database.Path, "promptlab.db")
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestBackendKindDefaultsWhenEmpty(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, BackendSQLite, cfg.BackendKind())
}
