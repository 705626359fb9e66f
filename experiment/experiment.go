// Package experiment implements A/B experiments over registered prompts:
// variant configuration, deterministic traffic assignment, streaming outcome
// aggregation, and significance analysis.
package experiment

import (
	"sort"
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusActive    Status = "active"
	StatusConcluded Status = "concluded"
)

// Variant is one alternative content option within an experiment.
type Variant struct {
	Name    string  `json:"name" yaml:"name"`
	Content string  `json:"content" yaml:"content"`
	Version int     `json:"version" yaml:"version"` // ledger version holding this content
	Weight  float64 `json:"weight" yaml:"weight"`
}

// Experiment compares variants of a single prompt under a traffic split.
// At most one experiment per prompt is active at a time; concluded
// experiments are retained by the backend for the audit trail.
type Experiment struct {
	ID            string              `json:"id" yaml:"id"`
	PromptName    string              `json:"prompt_name" yaml:"prompt_name"`
	Variants      map[string]*Variant `json:"variants" yaml:"variants"`
	SuccessMetric string              `json:"success_metric,omitempty" yaml:"success_metric,omitempty"`
	Status        Status              `json:"status" yaml:"status"`
	Winner        string              `json:"winner,omitempty" yaml:"winner,omitempty"`
	Confidence    float64             `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	CreatedAt     time.Time           `json:"created_at" yaml:"created_at"`
	ConcludedAt   *time.Time          `json:"concluded_at,omitempty" yaml:"concluded_at,omitempty"`
}

// VariantNames returns the variant names in lexicographic order. Assignment
// depends on this ordering being stable for the life of the experiment.
func (e *Experiment) VariantNames() []string {
	names := make([]string, 0, len(e.Variants))
	for name := range e.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalWeight returns the sum of all variant weights.
func (e *Experiment) TotalWeight() float64 {
	var total float64
	for _, v := range e.Variants {
		total += v.Weight
	}
	return total
}

// HasVariant reports whether name is one of the experiment's variants.
func (e *Experiment) HasVariant(name string) bool {
	_, ok := e.Variants[name]
	return ok
}

// clone returns a deep copy so callers cannot mutate engine state.
func (e *Experiment) clone() *Experiment {
	out := *e
	out.Variants = make(map[string]*Variant, len(e.Variants))
	for name, v := range e.Variants {
		vc := *v
		out.Variants[name] = &vc
	}
	if e.ConcludedAt != nil {
		ts := *e.ConcludedAt
		out.ConcludedAt = &ts
	}
	return &out
}
