// Package store provides persistence backends for the prompt registry.
//
// The registry core is backend-agnostic: anything satisfying Backend can
// hold its state. Two implementations ship here, a SQLite store for the
// common case and a git-backed store that keeps prompts as YAML documents
// under version control.
package store

import (
	"github.com/promptlab/promptlab/experiment"
	"github.com/promptlab/promptlab/ledger"
)

// Backend is the capability contract the registry persists through.
//
// Load operations return errors.ErrNotFound for absent records. Save
// operations are full-record upserts: the registry mutates its in-memory
// authority first and then saves, so a failed save fails the whole call
// with no partial state visible to later reads.
type Backend interface {
	// SavePrompt upserts a prompt with its complete version history and
	// active pointer. Version rows are immutable; saves only append.
	SavePrompt(p *ledger.Prompt) error

	// LoadPrompt retrieves a prompt's full record by name.
	LoadPrompt(name string) (*ledger.Prompt, error)

	// ListPrompts returns all prompt names, sorted.
	ListPrompts() ([]string, error)

	// SaveExperiment upserts an experiment keyed by its ID. Concluded
	// experiments are retained for the audit trail.
	SaveExperiment(exp *experiment.Experiment) error

	// LoadExperiment retrieves the current experiment for a prompt: the
	// active one if present, otherwise the most recently created.
	LoadExperiment(promptName string) (*experiment.Experiment, error)

	// SaveStats replaces the stats snapshot for an experiment.
	SaveStats(experimentID string, stats map[string]experiment.VariantStats) error

	// LoadStats retrieves the stats snapshot for an experiment. A missing
	// snapshot is not an error; it returns an empty map.
	LoadStats(experimentID string) (map[string]experiment.VariantStats, error)

	// Close releases backend resources.
	Close() error
}
