package experiment

import (
	"math"
	"sort"

	"github.com/promptlab/promptlab/errors"
)

// SignificanceTest compares two binomial samples and returns a two-tailed
// p-value. The analyzer treats the test as a pluggable strategy.
type SignificanceTest interface {
	PValue(aTrials, aSuccesses, bTrials, bSuccesses int) float64
}

// TwoProportionZTest is the default significance test: pooled two-proportion
// z-test with the normal CDF evaluated via the error function.
type TwoProportionZTest struct{}

// PValue returns the two-tailed p-value for the difference in success rates.
// Degenerate inputs (zero trials, zero pooled variance) return 1.0, i.e.
// no evidence of a difference.
func (TwoProportionZTest) PValue(aTrials, aSuccesses, bTrials, bSuccesses int) float64 {
	if aTrials == 0 || bTrials == 0 {
		return 1
	}

	pA := float64(aSuccesses) / float64(aTrials)
	pB := float64(bSuccesses) / float64(bTrials)

	pooled := float64(aSuccesses+bSuccesses) / float64(aTrials+bTrials)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(aTrials) + 1/float64(bTrials)))
	if se == 0 {
		return 1
	}

	z := (pA - pB) / se
	return 2 * (1 - normalCDF(math.Abs(z)))
}

// VariantResult is the computed read-model for one variant.
type VariantResult struct {
	Trials      int      `json:"trials"`
	Successes   int      `json:"successes"`
	SuccessRate float64  `json:"success_rate"`
	AvgMetric   *float64 `json:"avg_metric,omitempty"` // average of the experiment's success metric, when observed
}

// Results is the outcome of a significance analysis. Winner is empty until
// the confidence threshold is met with sufficient samples.
type Results struct {
	ExperimentID string                   `json:"experiment_id"`
	PromptName   string                   `json:"prompt_name"`
	Variants     map[string]VariantResult `json:"variants"`
	Winner       string                   `json:"winner,omitempty"`
	Confidence   float64                  `json:"confidence"`
	Lift         float64                  `json:"lift"` // relative improvement of leader over runner-up, percent
	TotalTrials  int                      `json:"total_trials"`
}

// Analyzer computes experiment results. Deterministic given the same stats;
// there is no hidden randomness.
type Analyzer struct {
	// ConfidenceThreshold is the minimum 1-p required to declare a winner.
	ConfidenceThreshold float64

	// MinSampleSize is the per-variant trial floor below which no winner is
	// declared, regardless of the observed rates.
	MinSampleSize int

	// Test is the pairwise comparison strategy. Defaults to
	// TwoProportionZTest.
	Test SignificanceTest
}

// DefaultMinSampleSize is the per-variant floor used when none is configured.
const DefaultMinSampleSize = 30

// NewAnalyzer creates an analyzer with the given threshold and floor.
// Zero values select the defaults (0.95, 30).
func NewAnalyzer(confidenceThreshold float64, minSampleSize int) *Analyzer {
	if confidenceThreshold == 0 {
		confidenceThreshold = 0.95
	}
	if minSampleSize == 0 {
		minSampleSize = DefaultMinSampleSize
	}
	return &Analyzer{
		ConfidenceThreshold: confidenceThreshold,
		MinSampleSize:       minSampleSize,
		Test:                TwoProportionZTest{},
	}
}

// Results computes per-variant rates and the pairwise significance of the
// top two variants by success rate.
func (a *Analyzer) Results(exp *Experiment, stats map[string]VariantStats) (*Results, error) {
	if exp == nil {
		return nil, errors.New("nil experiment")
	}

	test := a.Test
	if test == nil {
		test = TwoProportionZTest{}
	}

	res := &Results{
		ExperimentID: exp.ID,
		PromptName:   exp.PromptName,
		Variants:     make(map[string]VariantResult, len(exp.Variants)),
	}

	for name := range exp.Variants {
		s := stats[name]
		vr := VariantResult{
			Trials:      s.Trials,
			Successes:   s.Successes,
			SuccessRate: s.SuccessRate(),
		}
		if exp.SuccessMetric != "" {
			if avg, ok := s.MetricAverage(exp.SuccessMetric); ok {
				vr.AvgMetric = &avg
			}
		}
		res.Variants[name] = vr
		res.TotalTrials += s.Trials
	}

	// Rank by success rate; variants with zero trials are excluded from the
	// significance computation entirely.
	var ranked []string
	for name, vr := range res.Variants {
		if vr.Trials > 0 {
			ranked = append(ranked, name)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		ri, rj := res.Variants[ranked[i]], res.Variants[ranked[j]]
		if ri.SuccessRate != rj.SuccessRate {
			return ri.SuccessRate > rj.SuccessRate
		}
		return ranked[i] < ranked[j] // stable tiebreak keeps results deterministic
	})

	if len(ranked) < 2 {
		return res, nil
	}

	leader, runnerUp := res.Variants[ranked[0]], res.Variants[ranked[1]]

	p := test.PValue(leader.Trials, leader.Successes, runnerUp.Trials, runnerUp.Successes)
	res.Confidence = 1 - p
	if res.Confidence < 0 {
		res.Confidence = 0
	}

	if runnerUp.SuccessRate > 0 {
		res.Lift = (leader.SuccessRate - runnerUp.SuccessRate) / runnerUp.SuccessRate * 100
	}

	if res.Confidence >= a.ConfidenceThreshold &&
		leader.Trials >= a.MinSampleSize &&
		runnerUp.Trials >= a.MinSampleSize {
		res.Winner = ranked[0]
	}

	return res, nil
}

// RequiredSampleSize estimates the per-variant sample size needed to detect
// a minimum relative effect over a baseline rate at the given confidence and
// power, using the probit approximation.
func RequiredSampleSize(baselineRate, minimumDetectableEffect, confidence, power float64) int {
	zAlpha := inverseNormalCDF(1 - (1-confidence)/2)
	zBeta := inverseNormalCDF(power)

	p1 := baselineRate
	p2 := baselineRate * (1 + minimumDetectableEffect)
	pAvg := (p1 + p2) / 2

	numerator := math.Pow(
		zAlpha*math.Sqrt(2*pAvg*(1-pAvg))+
			zBeta*math.Sqrt(p1*(1-p1)+p2*(1-p2)),
		2)
	denominator := math.Pow(p2-p1, 2)

	return int(math.Ceil(numerator / denominator))
}

// normalCDF is the standard normal CDF via the error function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// inverseNormalCDF approximates the probit function with the Abramowitz &
// Stegun rational approximation.
func inverseNormalCDF(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}
	if p < 0.5 {
		return -inverseNormalCDF(1 - p)
	}

	t := math.Sqrt(-2 * math.Log(1-p))

	const (
		c0, c1, c2 = 2.515517, 0.802853, 0.010328
		d1, d2, d3 = 1.432788, 0.189269, 0.001308
	)

	return t - (c0+c1*t+c2*t*t)/(1+d1*t+d2*t*t+d3*t*t*t)
}
