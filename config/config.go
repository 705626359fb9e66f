// Package config loads promptlab configuration from TOML files and
// environment variables via Viper.
//
// Precedence (lowest to highest): defaults < system < user < project < env vars.
package config

import "os"

// Config represents the promptlab configuration
type Config struct {
	BackendSelection BackendConfig    `mapstructure:"backend"`
	Database         DatabaseConfig   `mapstructure:"database"`
	Git              GitConfig        `mapstructure:"git"`
	Experiment       ExperimentConfig `mapstructure:"experiment"`
	Log              LogConfig        `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite backend
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// GitConfig configures the git-backed persistence backend
type GitConfig struct {
	Path   string `mapstructure:"path"`   // worktree directory holding prompt documents
	Author string `mapstructure:"author"` // commit author name
	Email  string `mapstructure:"email"`  // commit author email
}

// Backend selection constants
const (
	BackendSQLite = "sqlite"
	BackendGit    = "git"
)

// BackendConfig selects the persistence backend technology
type BackendConfig struct {
	Kind string `mapstructure:"kind"` // "sqlite" (default) or "git"
}

// ExperimentConfig configures experiment analysis defaults
type ExperimentConfig struct {
	// ConfidenceThreshold is the minimum 1-p required to declare a winner
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`

	// MinSampleSize is the per-variant trial floor below which no winner
	// is declared, regardless of the observed rates
	MinSampleSize int `mapstructure:"min_sample_size"`
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// BackendKind returns the selected backend, defaulting to SQLite.
func (c *Config) BackendKind() string {
	if c.BackendSelection.Kind == "" {
		return BackendSQLite
	}
	return c.BackendSelection.Kind
}

// File permission constants
const (
	DefaultDirPermissions  os.FileMode = 0755
	DefaultFilePermissions os.FileMode = 0644
)
