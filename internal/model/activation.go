package model

import (
	"fmt"
	"math"
	"sync"
)

// Activation is the output of a tapped layer for one input, together with
// what is needed to differentiate a class score with respect to it.
type Activation struct {
	Layer    string
	Channels int
	Height   int
	Width    int
	// Data is in [C,H,W] layout.
	Data []float32
	// Logits are the model's own class scores for the same forward pass.
	Logits []float32

	head    *Head
	mode    Mode
	release func()
	once    sync.Once
}

// NewActivation wraps tapped data. release, when non-nil, frees the native
// buffers backing Data and Logits and runs at most once.
func NewActivation(layer string, shape [3]int, data, logits []float32, head *Head, mode Mode, release func()) (*Activation, error) {
	if head == nil {
		return nil, errorf(ErrUnsupportedLayer, "layer %q has no head", layer)
	}
	if len(data) != shape[0]*shape[1]*shape[2] {
		return nil, errorf(ErrInvalidInput, "activation has %d values, shape %v", len(data), shape)
	}
	return &Activation{
		Layer:    layer,
		Channels: shape[0],
		Height:   shape[1],
		Width:    shape[2],
		Data:     data,
		Logits:   logits,
		head:     head,
		mode:     mode,
		release:  release,
	}, nil
}

// Size is C*H*W.
func (a *Activation) Size() int {
	return a.Channels * a.Height * a.Width
}

// TopClass is the index of the highest logit, lower index on ties.
func (a *Activation) TopClass() int {
	best := 0
	for i := 1; i < len(a.Logits); i++ {
		if a.Logits[i] > a.Logits[best] {
			best = i
		}
	}
	return best
}

// Gradient writes d(logit[class])/d(Data) into dst and returns the score.
// The head must reproduce the model's logits; a mismatch means the sidecar
// does not describe the exported graph.
func (a *Activation) Gradient(class int, dst []float32) (float32, error) {
	if len(dst) != a.Size() {
		return 0, errorf(ErrInvalidInput, "gradient buffer has %d values, want %d", len(dst), a.Size())
	}
	tr, err := a.head.Forward(a.Data, []int{a.Channels, a.Height, a.Width}, a.mode)
	if err != nil {
		return 0, err
	}
	for i, v := range tr.Logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return 0, errorf(ErrNumerical, "head logit %d is %v", i, v)
		}
	}
	if len(a.Logits) > 0 {
		if err := checkLogits(tr.Logits, a.Logits); err != nil {
			return 0, err
		}
	}
	if err := a.head.Backward(tr, class, dst); err != nil {
		return 0, err
	}
	return tr.Logits[class], nil
}

// Release frees native buffers. Safe to call more than once.
func (a *Activation) Release() {
	a.once.Do(func() {
		if a.release != nil {
			a.release()
		}
		a.Data = nil
		a.Logits = nil
	})
}

func checkLogits(head, model []float32) error {
	if len(head) != len(model) {
		return fmt.Errorf("%w: head produced %d logits, model %d", ErrUnsupportedLayer, len(head), len(model))
	}
	for i := range head {
		if math.IsNaN(float64(model[i])) || math.IsInf(float64(model[i]), 0) {
			return fmt.Errorf("%w: model logit %d is %v", ErrNumerical, i, model[i])
		}
		diff := math.Abs(float64(head[i] - model[i]))
		if diff > 1e-2+1e-3*math.Abs(float64(model[i])) {
			return fmt.Errorf("%w: head logit %d is %v, model says %v", ErrUnsupportedLayer, i, head[i], model[i])
		}
	}
	return nil
}
