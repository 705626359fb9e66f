package registry

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/experiment"
	"github.com/promptlab/promptlab/ledger"
	"github.com/promptlab/promptlab/logger"
)

// Snapshot is the lossless export document: every prompt with its complete
// history, the current experiment and its counters. Importing a snapshot
// into an empty registry reproduces the exported state exactly.
type Snapshot struct {
	Prompts []PromptSnapshot `yaml:"prompts"`
}

// PromptSnapshot bundles one prompt's full state.
type PromptSnapshot struct {
	Prompt     *ledger.Prompt                     `yaml:"prompt"`
	Experiment *experiment.Experiment             `yaml:"experiment,omitempty"`
	Stats      map[string]experiment.VariantStats `yaml:"stats,omitempty"`
}

// Export captures the full registry state.
func (r *Registry) Export() (*Snapshot, error) {
	snap := &Snapshot{}

	for _, summary := range r.List() {
		p, err := r.versions.Get(summary.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "export prompt %q", summary.Name)
		}
		ps := PromptSnapshot{Prompt: p}

		exp, err := r.engine.Get(summary.Name)
		if err == nil {
			ps.Experiment = exp
			stats, statsErr := r.statsFor(exp)
			if statsErr != nil {
				return nil, statsErr
			}
			if len(stats) > 0 {
				ps.Stats = stats
			}
		} else if !errors.IsNotFound(err) {
			return nil, err
		}

		snap.Prompts = append(snap.Prompts, ps)
	}

	return snap, nil
}

// ExportYAML writes the registry state as a YAML document.
func (r *Registry) ExportYAML(w io.Writer) error {
	snap, err := r.Export()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	return enc.Close()
}

// Import installs a snapshot, replacing any prompts it names and persisting
// them. Prompts not named in the snapshot are untouched.
func (r *Registry) Import(snap *Snapshot) error {
	for _, ps := range snap.Prompts {
		if ps.Prompt == nil {
			return errors.NewValidation("snapshot entry has no prompt record")
		}
		name := ps.Prompt.Name

		if err := r.versions.Restore(ps.Prompt); err != nil {
			return errors.Wrapf(err, "import prompt %q", name)
		}
		if err := r.persistPrompt(name); err != nil {
			return err
		}

		if ps.Experiment == nil {
			continue
		}
		if ps.Experiment.PromptName != name {
			return errors.NewValidation("experiment %s names prompt %q, expected %q", ps.Experiment.ID, ps.Experiment.PromptName, name)
		}
		if err := r.engine.Restore(ps.Experiment); err != nil {
			return errors.Wrapf(err, "import experiment %s", ps.Experiment.ID)
		}
		if err := r.persistExperiment(ps.Experiment); err != nil {
			return err
		}

		if len(ps.Stats) > 0 {
			if ps.Experiment.Status == experiment.StatusActive {
				r.outcomes.Restore(ps.Experiment.ID, ps.Stats)
			}
			if r.backend != nil {
				if err := r.backend.SaveStats(ps.Experiment.ID, ps.Stats); err != nil {
					return errors.Wrapf(err, "import stats for %s", ps.Experiment.ID)
				}
			}
		}
	}

	r.log.Infow("Snapshot imported", logger.FieldCount, len(snap.Prompts))
	return nil
}

// ImportYAML reads a YAML snapshot and installs it.
func (r *Registry) ImportYAML(rd io.Reader) error {
	var snap Snapshot
	if err := yaml.NewDecoder(rd).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode snapshot")
	}
	return r.Import(&snap)
}
