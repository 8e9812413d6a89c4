package inference

import (
	"errors"
	"fmt"
	"io"

	"github.com/Brownie44l1/cxr-api/internal/ensemble"
	"github.com/Brownie44l1/cxr-api/internal/model"
)

// ErrConfig marks problems that must stop the service from becoming ready.
var ErrConfig = errors.New("configuration error")

// Member is one classifier of the ensemble with its fixed trust share.
type Member struct {
	Name       string
	Weight     float64
	Classifier model.Classifier
}

// Registry holds the loaded ensemble. It is built once and never mutated,
// so any number of requests may read it without locking.
type Registry struct {
	labels  model.Labels
	members []Member
	weights []float64

	explainTarget model.Explainable
	explainLayer  string

	closers []io.Closer
}

// NewRegistry validates and freezes an ensemble. explainModel names the
// member Grad-CAM runs against; empty disables explanations. Closers are
// closed in reverse order by Close.
func NewRegistry(labels model.Labels, members []Member, explainModel, explainLayer string, closers ...io.Closer) (*Registry, error) {
	if err := labels.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no models", ErrConfig)
	}

	weights := make([]float64, len(members))
	seen := make(map[string]bool, len(members))
	for i, m := range members {
		if m.Classifier == nil {
			return nil, fmt.Errorf("%w: model %q has no classifier", ErrConfig, m.Name)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("%w: duplicate model %q", ErrConfig, m.Name)
		}
		seen[m.Name] = true
		if got := m.Classifier.Labels(); !got.Equal(labels) {
			return nil, fmt.Errorf("%w: model %q outputs %v, want %v", ErrConfig, m.Name, got, labels)
		}
		weights[i] = m.Weight
	}
	if err := ensemble.ValidateWeights(weights); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	r := &Registry{
		labels:  append(model.Labels(nil), labels...),
		members: append([]Member(nil), members...),
		weights: weights,
		closers: append([]io.Closer(nil), closers...),
	}

	if explainModel != "" {
		if explainLayer == "" {
			return nil, fmt.Errorf("%w: no explanation layer for %q", ErrConfig, explainModel)
		}
		var found bool
		for _, m := range members {
			if m.Name != explainModel {
				continue
			}
			found = true
			target, ok := m.Classifier.(model.Explainable)
			if !ok {
				return nil, fmt.Errorf("%w: model %q cannot expose activations", ErrConfig, explainModel)
			}
			r.explainTarget = target
			r.explainLayer = explainLayer
		}
		if !found {
			return nil, fmt.Errorf("%w: explanation model %q is not in the ensemble", ErrConfig, explainModel)
		}
	}
	return r, nil
}

func (r *Registry) Labels() model.Labels { return r.labels }
func (r *Registry) Members() []Member    { return r.members }
func (r *Registry) Weights() []float64   { return r.weights }

// ExplainTarget returns the tapped model and layer, or nil when disabled.
func (r *Registry) ExplainTarget() (model.Explainable, string) {
	return r.explainTarget, r.explainLayer
}

// Close releases every model in reverse load order.
func (r *Registry) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
