package model

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Label is one of the mutually exclusive classes a classifier predicts.
type Label string

const (
	BacterialPneumonia Label = "BACTERIAL_PNEUMONIA"
	Normal             Label = "NORMAL"
	ViralPneumonia     Label = "VIRAL_PNEUMONIA"
)

// Display formats the label for people, e.g. "BACTERIAL PNEUMONIA".
func (l Label) Display() string {
	return strings.ReplaceAll(string(l), "_", " ")
}

// Labels is an ordered class list. Position i is the meaning of output i of
// every classifier in the ensemble.
type Labels []Label

// DefaultLabels matches the output layer ordering of the trained models.
var DefaultLabels = Labels{BacterialPneumonia, Normal, ViralPneumonia}

// Index returns the position of l, or -1.
func (ls Labels) Index(l Label) int {
	for i, x := range ls {
		if x == l {
			return i
		}
	}
	return -1
}

func (ls Labels) Equal(other Labels) bool {
	if len(ls) != len(other) {
		return false
	}
	for i := range ls {
		if ls[i] != other[i] {
			return false
		}
	}
	return true
}

// Validate rejects empty lists, blank names and duplicates.
func (ls Labels) Validate() error {
	if len(ls) == 0 {
		return fmt.Errorf("%w: empty label list", ErrInvalidInput)
	}
	seen := make(map[Label]struct{}, len(ls))
	for i, l := range ls {
		if strings.TrimSpace(string(l)) == "" {
			return fmt.Errorf("%w: label %d is blank", ErrInvalidInput, i)
		}
		if _, ok := seen[l]; ok {
			return fmt.Errorf("%w: duplicate label %q", ErrInvalidInput, l)
		}
		seen[l] = struct{}{}
	}
	return nil
}

// ParseLabels converts configured names to a Labels list.
func ParseLabels(names []string) Labels {
	out := make(Labels, len(names))
	for i, n := range names {
		out[i] = Label(strings.TrimSpace(n))
	}
	return out
}

// probabilityTolerance bounds how far a softmax output may drift from 1.
const probabilityTolerance = 1e-4

// ProbabilityVector is a distribution over the K classes of a Labels list.
type ProbabilityVector []float64

// Validate checks that p is a finite, non-negative distribution of length k.
func (p ProbabilityVector) Validate(k int) error {
	if len(p) != k {
		return fmt.Errorf("%w: probability vector has %d entries, want %d", ErrInvalidInput, len(p), k)
	}
	sum := 0.0
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: probability %d is %v", ErrNumerical, i, v)
		}
		if v < 0 {
			return fmt.Errorf("%w: probability %d is negative (%v)", ErrInvalidInput, i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return fmt.Errorf("%w: probabilities sum to %v", ErrInvalidInput, sum)
	}
	return nil
}

// Argmax returns the index of the largest entry. Exact ties go to the lower
// index.
func (p ProbabilityVector) Argmax() int {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}

// Sum adds all entries.
func (p ProbabilityVector) Sum() float64 {
	s := 0.0
	for _, v := range p {
		s += v
	}
	return s
}

// InputSpec describes the tensor a model was trained on. It is a property of
// each model, not a global.
type InputSpec struct {
	Size int
	Mean [3]float32
	Std  [3]float32
}

// Elements is the number of float32 values in one CHW input.
func (s InputSpec) Elements() int {
	return 3 * s.Size * s.Size
}

// Input is one preprocessed image in CHW layout.
type Input struct {
	Data []float32
	Size int
}

// Classifier wraps a trained model as image -> probability vector.
type Classifier interface {
	Name() string
	Labels() Labels
	InputSpec() InputSpec
	Classify(ctx context.Context, in Input) (ProbabilityVector, error)
}

// Explainable is a Classifier that can expose gradient-enabled activations
// of an internal layer.
type Explainable interface {
	Classifier
	// AcquireInferenceMode switches the model to evaluation mode until the
	// returned func is called. The prior mode is restored once every
	// outstanding lease has been released.
	AcquireInferenceMode() (release func())
	ActivationsAt(ctx context.Context, in Input, layer string) (*Activation, error)
}
