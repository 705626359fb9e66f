package experiment

import (
	"sync"

	"go.uber.org/zap"

	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/logger"
)

// VariantStats accumulates outcomes for one variant, streaming-style: only
// running counters are kept, never raw events. Derived values (success rate,
// metric averages) are computed on read.
type VariantStats struct {
	Trials       int                `json:"trials" yaml:"trials"`
	Successes    int                `json:"successes" yaml:"successes"`
	MetricSums   map[string]float64 `json:"metric_sums,omitempty" yaml:"metric_sums,omitempty"`
	MetricCounts map[string]int     `json:"metric_counts,omitempty" yaml:"metric_counts,omitempty"`
}

// SuccessRate returns successes/trials, or 0 when no trials were recorded.
func (s VariantStats) SuccessRate() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Trials)
}

// MetricAverage returns the running average for a metric, and whether any
// observations exist for it.
func (s VariantStats) MetricAverage(metric string) (float64, bool) {
	count := s.MetricCounts[metric]
	if count == 0 {
		return 0, false
	}
	return s.MetricSums[metric] / float64(count), true
}

func (s VariantStats) snapshot() VariantStats {
	out := s
	out.MetricSums = make(map[string]float64, len(s.MetricSums))
	for k, v := range s.MetricSums {
		out.MetricSums[k] = v
	}
	out.MetricCounts = make(map[string]int, len(s.MetricCounts))
	for k, v := range s.MetricCounts {
		out.MetricCounts[k] = v
	}
	return out
}

// accumulator wraps VariantStats with its own lock so recording for one
// variant never serializes against other variants or experiments.
type accumulator struct {
	mu    sync.Mutex
	stats VariantStats
}

// OutcomeStore aggregates outcomes per (experiment, variant).
type OutcomeStore struct {
	mu    sync.RWMutex
	accum map[string]map[string]*accumulator // experiment ID -> variant -> counters
	log   *zap.SugaredLogger
}

// NewOutcomeStore creates an empty store.
func NewOutcomeStore(log *zap.SugaredLogger) *OutcomeStore {
	if log == nil {
		log = logger.ComponentLogger("experiment.outcomes")
	}
	return &OutcomeStore{
		accum: make(map[string]map[string]*accumulator),
		log:   log,
	}
}

// Record adds one outcome for a variant of the given experiment. The write
// is purely additive; no outcome is ever revised or removed. Fails with
// ErrUnknownVariant if the variant is not part of the experiment.
func (os *OutcomeStore) Record(exp *Experiment, variant string, success bool, metrics map[string]float64) error {
	if !exp.HasVariant(variant) {
		return errors.Wrapf(errors.ErrUnknownVariant, "variant %q is not part of experiment %s", variant, exp.ID)
	}

	acc := os.getOrCreate(exp.ID, variant)

	acc.mu.Lock()
	defer acc.mu.Unlock()

	acc.stats.Trials++
	if success {
		acc.stats.Successes++
	}
	for metric, value := range metrics {
		if acc.stats.MetricSums == nil {
			acc.stats.MetricSums = make(map[string]float64)
			acc.stats.MetricCounts = make(map[string]int)
		}
		acc.stats.MetricSums[metric] += value
		acc.stats.MetricCounts[metric]++
	}

	os.log.Debugw("Outcome recorded",
		logger.FieldExperiment, exp.ID,
		logger.FieldVariant, variant,
		"success", success,
	)

	return nil
}

// Stats returns a snapshot of all variant counters for an experiment.
// Variants with no recorded outcomes appear with zeroed counters, so
// results always cover the full variant set.
func (os *OutcomeStore) Stats(exp *Experiment) map[string]VariantStats {
	os.mu.RLock()
	variants := os.accum[exp.ID]
	os.mu.RUnlock()

	out := make(map[string]VariantStats, len(exp.Variants))
	for name := range exp.Variants {
		if acc, ok := variants[name]; ok {
			acc.mu.Lock()
			out[name] = acc.stats.snapshot()
			acc.mu.Unlock()
		} else {
			out[name] = VariantStats{}
		}
	}
	return out
}

// Restore installs counters for an experiment, e.g. when hydrating from a
// backend. Replaces any existing counters for that experiment.
func (os *OutcomeStore) Restore(experimentID string, stats map[string]VariantStats) {
	variants := make(map[string]*accumulator, len(stats))
	for name, s := range stats {
		variants[name] = &accumulator{stats: s.snapshot()}
	}

	os.mu.Lock()
	defer os.mu.Unlock()
	os.accum[experimentID] = variants
}

// Drop discards counters for an experiment. Call after the backend has
// archived the final snapshot of a concluded experiment.
func (os *OutcomeStore) Drop(experimentID string) {
	os.mu.Lock()
	defer os.mu.Unlock()
	delete(os.accum, experimentID)
}

func (os *OutcomeStore) getOrCreate(experimentID, variant string) *accumulator {
	os.mu.RLock()
	if acc, ok := os.accum[experimentID][variant]; ok {
		os.mu.RUnlock()
		return acc
	}
	os.mu.RUnlock()

	os.mu.Lock()
	defer os.mu.Unlock()

	variants, ok := os.accum[experimentID]
	if !ok {
		variants = make(map[string]*accumulator)
		os.accum[experimentID] = variants
	}
	acc, ok := variants[variant]
	if !ok {
		acc = &accumulator{}
		variants[variant] = acc
	}
	return acc
}
