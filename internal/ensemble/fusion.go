// Package ensemble fuses the probability vectors of several classifiers
// into one decision with a linear opinion pool.
package ensemble

import (
	"errors"
	"fmt"
	"math"

	"github.com/Brownie44l1/cxr-api/internal/model"
)

// WeightTolerance bounds how far configured weights may sum from 1.
const WeightTolerance = 1e-6

var ErrInvalidInput = errors.New("invalid fusion input")

// Decision is the fused outcome for one image. It is recomputed per request
// and never stored.
type Decision struct {
	Label model.Label
	Index int
	// Confidence is the winning fused probability on a 0-100 scale.
	Confidence    float64
	Probabilities model.ProbabilityVector
	Labels        model.Labels
}

// ByLabel maps each class name to its fused probability.
func (d Decision) ByLabel() map[string]float64 {
	out := make(map[string]float64, len(d.Labels))
	for i, l := range d.Labels {
		out[string(l)] = d.Probabilities[i]
	}
	return out
}

// ValidateWeights checks weights are non-negative and sum to 1. It is meant
// for configuration time.
func ValidateWeights(weights []float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("%w: no weights", ErrInvalidInput)
	}
	sum := 0.0
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: weight %d is %v", ErrInvalidInput, i, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: weights sum to %v, want 1", ErrInvalidInput, sum)
	}
	return nil
}

// Fuse computes Σ w_i·p_i elementwise and picks the most probable class.
// Exact ties go to the lower index so results are reproducible.
func Fuse(vectors []model.ProbabilityVector, weights []float64, labels model.Labels) (Decision, error) {
	k := len(labels)
	if k == 0 {
		return Decision{}, fmt.Errorf("%w: no labels", ErrInvalidInput)
	}
	if len(vectors) == 0 || len(vectors) != len(weights) {
		return Decision{}, fmt.Errorf("%w: %d vectors for %d weights", ErrInvalidInput, len(vectors), len(weights))
	}
	if err := ValidateWeights(weights); err != nil {
		return Decision{}, err
	}
	for i, v := range vectors {
		if len(v) != k {
			return Decision{}, fmt.Errorf("%w: vector %d has %d entries, want %d", ErrInvalidInput, i, len(v), k)
		}
		for j, p := range v {
			if math.IsNaN(p) || math.IsInf(p, 0) {
				return Decision{}, fmt.Errorf("vector %d entry %d: %w", i, j, model.ErrNumerical)
			}
		}
	}

	fused := make(model.ProbabilityVector, k)
	for i, v := range vectors {
		w := weights[i]
		for j, p := range v {
			fused[j] += w * p
		}
	}

	idx := fused.Argmax()
	return Decision{
		Label:         labels[idx],
		Index:         idx,
		Confidence:    fused[idx] * 100,
		Probabilities: fused,
		Labels:        labels,
	}, nil
}
