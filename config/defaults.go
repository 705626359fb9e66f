package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	// Backend defaults
	v.SetDefault("backend.kind", BackendSQLite)

	// Database defaults
	v.SetDefault("database.path", filepath.Join(homeDir, ".promptlab", "promptlab.db"))

	// Git backend defaults
	v.SetDefault("git.path", filepath.Join(homeDir, ".promptlab", "prompts"))
	v.SetDefault("git.author", "promptlab")
	v.SetDefault("git.email", "promptlab@localhost")

	// Experiment analysis defaults
	v.SetDefault("experiment.confidence_threshold", 0.95)
	v.SetDefault("experiment.min_sample_size", 30) // premature winners on sparse data are worse than no winner

	// Logging defaults
	v.SetDefault("log.json", false)
}
