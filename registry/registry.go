// Package registry is the facade that ties the version ledger, experiment
// engine, outcome counters and significance analyzer together behind one
// API, with optional persistence through a store.Backend.
//
// The in-memory components are the authority. Construction hydrates them
// from the backend; every mutation updates memory first and then persists,
// so a failed save fails the whole call.
package registry

import (
	"sort"

	"go.uber.org/zap"

	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/experiment"
	"github.com/promptlab/promptlab/ledger"
	"github.com/promptlab/promptlab/logger"
	"github.com/promptlab/promptlab/store"
	"github.com/promptlab/promptlab/template"
)

// DefaultVariant names the pseudo-variant served when no experiment is
// running on a prompt.
const DefaultVariant = "default"

// Options configures a Registry.
type Options struct {
	// Backend persists registry state. Nil keeps everything in memory.
	Backend store.Backend

	// ConfidenceThreshold and MinSampleSize configure the analyzer. Zero
	// values select the defaults.
	ConfidenceThreshold float64
	MinSampleSize       int

	Log *zap.SugaredLogger
}

// Registry is the top-level prompt registry.
type Registry struct {
	versions *ledger.Ledger
	engine   *experiment.Engine
	outcomes *experiment.OutcomeStore
	analyzer *experiment.Analyzer
	backend  store.Backend
	log      *zap.SugaredLogger
}

// Selection is the result of resolving a prompt for a subject: which variant
// was chosen and the rendered content to serve.
type Selection struct {
	PromptName   string `json:"prompt_name"`
	Variant      string `json:"variant"`
	Version      int    `json:"version"`
	Content      string `json:"content"`
	ExperimentID string `json:"experiment_id,omitempty"`
}

// New creates a registry, hydrating from the backend when one is configured.
func New(opts Options) (*Registry, error) {
	log := opts.Log
	if log == nil {
		log = logger.ComponentLogger("registry")
	}

	versions := ledger.New(log)
	r := &Registry{
		versions: versions,
		engine:   experiment.NewEngine(versions, log),
		outcomes: experiment.NewOutcomeStore(log),
		analyzer: experiment.NewAnalyzer(opts.ConfidenceThreshold, opts.MinSampleSize),
		backend:  opts.Backend,
		log:      log,
	}

	if r.backend != nil {
		if err := r.hydrate(); err != nil {
			return nil, errors.Wrap(err, "hydrate registry")
		}
	}
	return r, nil
}

// hydrate loads every prompt, its current experiment and any live counters
// from the backend into the in-memory components.
func (r *Registry) hydrate() error {
	names, err := r.backend.ListPrompts()
	if err != nil {
		return err
	}

	for _, name := range names {
		p, err := r.backend.LoadPrompt(name)
		if err != nil {
			return errors.Wrapf(err, "load prompt %q", name)
		}
		if err := r.versions.Restore(p); err != nil {
			return errors.Wrapf(err, "restore prompt %q", name)
		}

		exp, err := r.backend.LoadExperiment(name)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "load experiment for %q", name)
		}
		if err := r.engine.Restore(exp); err != nil {
			return errors.Wrapf(err, "restore experiment %s", exp.ID)
		}

		if exp.Status == experiment.StatusActive {
			stats, err := r.backend.LoadStats(exp.ID)
			if err != nil {
				return errors.Wrapf(err, "load stats for %s", exp.ID)
			}
			r.outcomes.Restore(exp.ID, stats)
		}
	}

	r.log.Infow("Registry hydrated", logger.FieldCount, len(names))
	return nil
}

// Register appends a new version of a prompt and makes it active.
func (r *Registry) Register(name, content string, opts ledger.RegisterOptions) (*ledger.PromptVersion, error) {
	v, err := r.versions.Register(name, content, opts)
	if err != nil {
		return nil, err
	}
	if err := r.persistPrompt(name); err != nil {
		return nil, err
	}
	return v, nil
}

// Get resolves a prompt version and renders it. Version 0 selects the active
// version. With nil variables the raw content is returned unrendered;
// otherwise rendering is strict and fails on unresolved placeholders.
func (r *Registry) Get(name string, version int, variables map[string]interface{}) (*ledger.PromptVersion, string, error) {
	var v *ledger.PromptVersion
	var err error
	if version <= 0 {
		v, err = r.versions.Active(name)
	} else {
		v, err = r.versions.Version(name, version)
	}
	if err != nil {
		return nil, "", err
	}

	content, err := r.render(v.Content, variables)
	if err != nil {
		return nil, "", errors.Wrapf(err, "render prompt %q version %d", name, v.Version)
	}
	return v, content, nil
}

// GetVariant resolves the prompt for a subject. Under an active experiment
// the subject is assigned a variant; otherwise the active version is served
// as the default variant.
func (r *Registry) GetVariant(name, subjectKey string, variables map[string]interface{}) (*Selection, error) {
	exp, err := r.engine.Active(name)
	if errors.IsNotFound(err) {
		v, content, getErr := r.Get(name, 0, variables)
		if getErr != nil {
			return nil, getErr
		}
		return &Selection{
			PromptName: name,
			Variant:    DefaultVariant,
			Version:    v.Version,
			Content:    content,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	variant, err := r.engine.Assign(name, subjectKey)
	if err != nil {
		return nil, err
	}

	chosen := exp.Variants[variant]
	content, err := r.render(chosen.Content, variables)
	if err != nil {
		return nil, errors.Wrapf(err, "render variant %q of prompt %q", variant, name)
	}

	return &Selection{
		PromptName:   name,
		Variant:      variant,
		Version:      chosen.Version,
		Content:      content,
		ExperimentID: exp.ID,
	}, nil
}

// RecordOutcome records one trial outcome against the active experiment on
// a prompt.
func (r *Registry) RecordOutcome(name, variant string, success bool, metrics map[string]float64) error {
	exp, err := r.engine.Active(name)
	if err != nil {
		return err
	}
	if err := r.outcomes.Record(exp, variant, success, metrics); err != nil {
		return err
	}
	// A failed save leaves the in-memory counter one outcome ahead of the
	// backend; the next successful save writes the full snapshot and
	// reconverges.
	return r.persistStats(exp)
}

// CreateExperiment starts an A/B experiment on a prompt. Variant contents
// are registered as prompt versions as a side effect.
func (r *Registry) CreateExperiment(name string, variants map[string]string, trafficSplit map[string]float64, successMetric string) (*experiment.Experiment, error) {
	exp, err := r.engine.Create(name, variants, trafficSplit, successMetric)
	if err != nil {
		return nil, err
	}
	if err := r.persistPrompt(name); err != nil {
		return nil, err
	}
	if err := r.persistExperiment(exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Results computes the current significance analysis for a prompt's
// experiment, active or concluded.
func (r *Registry) Results(name string) (*experiment.Results, error) {
	exp, err := r.engine.Get(name)
	if err != nil {
		return nil, err
	}

	stats, err := r.statsFor(exp)
	if err != nil {
		return nil, err
	}
	return r.analyzer.Results(exp, stats)
}

// ConcludeExperiment runs a final analysis, freezes its winner and
// confidence on the experiment, and archives the counters. The winner may be
// empty when significance was never reached.
func (r *Registry) ConcludeExperiment(name string) (*experiment.Experiment, *experiment.Results, error) {
	active, err := r.engine.Active(name)
	if err != nil {
		return nil, nil, err
	}

	stats := r.outcomes.Stats(active)
	res, err := r.analyzer.Results(active, stats)
	if err != nil {
		return nil, nil, err
	}

	exp, err := r.engine.Conclude(name, res.Winner, res.Confidence)
	if err != nil {
		return nil, nil, err
	}

	if r.backend != nil {
		if err := r.backend.SaveStats(exp.ID, stats); err != nil {
			return nil, nil, errors.Wrap(err, "archive experiment stats")
		}
		if err := r.persistExperiment(exp); err != nil {
			return nil, nil, err
		}
		// Final snapshot is archived; free the live counters
		r.outcomes.Drop(exp.ID)
	}

	return exp, res, nil
}

// Experiment returns the current experiment for a prompt regardless of
// status.
func (r *Registry) Experiment(name string) (*experiment.Experiment, error) {
	return r.engine.Get(name)
}

// History returns all versions of a prompt, ascending.
func (r *Registry) History(name string) ([]*ledger.PromptVersion, error) {
	return r.versions.History(name)
}

// Rollback moves the active pointer of a prompt to an earlier version.
func (r *Registry) Rollback(name string, version int) (*ledger.PromptVersion, error) {
	v, err := r.versions.Rollback(name, version)
	if err != nil {
		return nil, err
	}
	if err := r.persistPrompt(name); err != nil {
		return nil, err
	}
	return v, nil
}

// List returns summaries for all prompts, sorted by name.
func (r *Registry) List() []ledger.Summary {
	out := r.versions.List()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close releases the backend, if any.
func (r *Registry) Close() error {
	if r.backend == nil {
		return nil
	}
	return r.backend.Close()
}

// statsFor returns live counters for active experiments and the archived
// snapshot for concluded ones.
func (r *Registry) statsFor(exp *experiment.Experiment) (map[string]experiment.VariantStats, error) {
	if exp.Status == experiment.StatusConcluded && r.backend != nil {
		stats, err := r.backend.LoadStats(exp.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "load archived stats for %s", exp.ID)
		}
		return stats, nil
	}
	return r.outcomes.Stats(exp), nil
}

func (r *Registry) render(raw string, variables map[string]interface{}) (string, error) {
	if variables == nil {
		return raw, nil
	}
	return template.Render(raw, variables)
}

func (r *Registry) persistPrompt(name string) error {
	if r.backend == nil {
		return nil
	}
	p, err := r.versions.Get(name)
	if err != nil {
		return err
	}
	return errors.Wrapf(r.backend.SavePrompt(p), "persist prompt %q", name)
}

func (r *Registry) persistExperiment(exp *experiment.Experiment) error {
	if r.backend == nil {
		return nil
	}
	return errors.Wrapf(r.backend.SaveExperiment(exp), "persist experiment %s", exp.ID)
}

func (r *Registry) persistStats(exp *experiment.Experiment) error {
	if r.backend == nil {
		return nil
	}
	return errors.Wrapf(r.backend.SaveStats(exp.ID, r.outcomes.Stats(exp)), "persist stats for %s", exp.ID)
}
