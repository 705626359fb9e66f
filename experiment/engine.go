package experiment

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/ledger"
	"github.com/promptlab/promptlab/logger"
)

// Engine creates experiments and assigns traffic to variants.
//
// Sticky assignment is a pure function of (prompt name, subject key) and the
// experiment configuration: the same subject always lands on the same
// variant, and across many subjects the empirical split converges to the
// configured weights.
type Engine struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment // keyed by prompt name; current experiment only
	versions    *ledger.Ledger
	log         *zap.SugaredLogger
}

// NewEngine creates an engine backed by the given version ledger. Variant
// content is registered into the ledger so it is itself versioned and
// rollback-capable.
func NewEngine(versions *ledger.Ledger, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = logger.ComponentLogger("experiment.engine")
	}
	return &Engine{
		experiments: make(map[string]*Experiment),
		versions:    versions,
		log:         log,
	}
}

// Create starts an experiment on a prompt. If trafficSplit is nil every
// variant receives equal weight. Fails with ErrValidation on fewer than two
// variants or mismatched variant/weight key sets, and with ErrInvalidState
// if an experiment is already active for the prompt.
func (en *Engine) Create(promptName string, variants map[string]string, trafficSplit map[string]float64, successMetric string) (*Experiment, error) {
	if promptName == "" {
		return nil, errors.NewValidation("prompt name must not be empty")
	}
	if len(variants) < 2 {
		return nil, errors.NewValidation("experiment needs at least two variants, got %d", len(variants))
	}

	if trafficSplit == nil {
		trafficSplit = make(map[string]float64, len(variants))
		for name := range variants {
			trafficSplit[name] = 1
		}
	}

	// Key sets must be bijective
	for name := range variants {
		if _, ok := trafficSplit[name]; !ok {
			return nil, errors.NewValidation("variant %q has no traffic weight", name)
		}
	}
	for name := range trafficSplit {
		if _, ok := variants[name]; !ok {
			return nil, errors.NewValidation("traffic weight for unknown variant %q", name)
		}
	}

	var total float64
	for name, weight := range trafficSplit {
		if weight < 0 {
			return nil, errors.NewValidation("variant %q has negative weight %v", name, weight)
		}
		total += weight
	}
	if total == 0 {
		return nil, errors.NewValidation("traffic split weights sum to zero")
	}

	// All contents are validated before the first ledger write, so a failed
	// Create leaves no partial versions behind.
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if variants[name] == "" {
			return nil, errors.NewValidation("variant %q has empty content", name)
		}
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if existing, ok := en.experiments[promptName]; ok && existing.Status == StatusActive {
		return nil, errors.Wrapf(errors.ErrInvalidState, "experiment %s is still active for prompt %q; conclude it first", existing.ID, promptName)
	}

	exp := &Experiment{
		ID:            uuid.NewString(),
		PromptName:    promptName,
		Variants:      make(map[string]*Variant, len(variants)),
		SuccessMetric: successMetric,
		Status:        StatusActive,
		CreatedAt:     time.Now().UTC(),
	}

	for _, name := range names {
		content := variants[name]
		// Variant content becomes a ledger version, so a winning variant can
		// later be promoted by rollback. Appended in sorted name order for
		// deterministic numbering, and without moving the active pointer:
		// plain reads keep serving the operator's registered content.
		v, err := en.versions.Append(promptName, content, ledger.RegisterOptions{
			Message: "experiment variant " + name,
			Metadata: map[string]interface{}{
				"variant":    name,
				"experiment": exp.ID,
			},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "register variant %q", name)
		}
		exp.Variants[name] = &Variant{
			Name:    name,
			Content: content,
			Version: v.Version,
			Weight:  trafficSplit[name],
		}
	}

	en.experiments[promptName] = exp

	en.log.Infow("Experiment created",
		logger.FieldExperiment, exp.ID,
		logger.FieldPrompt, promptName,
		logger.FieldCount, len(variants),
		logger.FieldMetric, successMetric,
	)

	return exp.clone(), nil
}

// Assign picks a variant for a subject. With a subject key the choice is
// sticky; without one it is a weighted random draw.
func (en *Engine) Assign(promptName, subjectKey string) (string, error) {
	exp, err := en.Active(promptName)
	if err != nil {
		return "", err
	}

	names := exp.VariantNames()
	total := exp.TotalWeight()

	var point float64
	if subjectKey != "" {
		point = hashUnit(promptName + ":" + subjectKey)
	} else {
		point = rand.Float64()
	}

	// Walk cumulative weight intervals in the fixed variant order
	var cumulative float64
	for _, name := range names {
		cumulative += exp.Variants[name].Weight / total
		if point < cumulative {
			return name, nil
		}
	}
	// Floating point accumulation can leave the last boundary marginally
	// below 1.0; the final interval owns the remainder.
	return names[len(names)-1], nil
}

// Active returns the active experiment for a prompt, or ErrNotFound.
func (en *Engine) Active(promptName string) (*Experiment, error) {
	en.mu.RLock()
	defer en.mu.RUnlock()

	exp, ok := en.experiments[promptName]
	if !ok || exp.Status != StatusActive {
		return nil, errors.NewNotFound("no active experiment for prompt %q", promptName)
	}
	return exp.clone(), nil
}

// Get returns the current experiment for a prompt regardless of status.
func (en *Engine) Get(promptName string) (*Experiment, error) {
	en.mu.RLock()
	defer en.mu.RUnlock()

	exp, ok := en.experiments[promptName]
	if !ok {
		return nil, errors.NewNotFound("no experiment for prompt %q", promptName)
	}
	return exp.clone(), nil
}

// Conclude marks the experiment concluded, recording the final winner and
// confidence (both may be zero values when no winner was declared). Further
// assignments and outcomes are rejected.
func (en *Engine) Conclude(promptName, winner string, confidence float64) (*Experiment, error) {
	en.mu.Lock()
	defer en.mu.Unlock()

	exp, ok := en.experiments[promptName]
	if !ok {
		return nil, errors.NewNotFound("no experiment for prompt %q", promptName)
	}
	if exp.Status != StatusActive {
		return nil, errors.Wrapf(errors.ErrInvalidState, "experiment %s already concluded", exp.ID)
	}

	now := time.Now().UTC()
	exp.Status = StatusConcluded
	exp.Winner = winner
	exp.Confidence = confidence
	exp.ConcludedAt = &now

	en.log.Infow("Experiment concluded",
		logger.FieldExperiment, exp.ID,
		logger.FieldPrompt, promptName,
		"winner", winner,
		"confidence", confidence,
	)

	return exp.clone(), nil
}

// Restore installs an experiment record, e.g. when hydrating from a backend.
func (en *Engine) Restore(exp *Experiment) error {
	if exp == nil || exp.PromptName == "" {
		return errors.NewValidation("experiment record must name a prompt")
	}
	if len(exp.Variants) < 2 {
		return errors.NewValidation("experiment %s has fewer than two variants", exp.ID)
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	en.experiments[exp.PromptName] = exp.clone()
	return nil
}

// hashUnit maps a string into the unit interval [0,1) via FNV-1a.
func hashUnit(value string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(value))
	// Use the top 53 bits so the quotient is exactly representable
	return float64(h.Sum64()>>11) / float64(1<<53)
}
