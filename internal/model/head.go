package model

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Layer is one differentiable step of a Head. Implementations are immutable
// and safe for concurrent use; per-call state lives in a Trace.
type Layer interface {
	Kind() string
	OutShape(in []int) ([]int, error)
	Forward(x []float32, shape []int, mode Mode) ([]float32, error)
	// Backward maps the gradient w.r.t. the output to the gradient w.r.t.
	// the input x.
	Backward(x []float32, shape []int, gradOut []float32) ([]float32, error)
}

// Head is the tail of a network from a tapped layer to the logits. It is
// re-evaluated in Go so gradients of a class score w.r.t. the tapped
// activations can be computed without an autograd runtime.
type Head struct {
	layers []Layer
}

// NewHead builds a Head from already constructed layers.
func NewHead(layers ...Layer) *Head {
	return &Head{layers: layers}
}

// Layers returns the layer kinds in evaluation order.
func (h *Head) Layers() []string {
	kinds := make([]string, len(h.layers))
	for i, l := range h.layers {
		kinds[i] = l.Kind()
	}
	return kinds
}

// Trace records every layer input of one forward pass.
type Trace struct {
	inputs [][]float32
	shapes [][]int
	Logits []float32
}

// Forward evaluates the head on x with the given [C,H,W] shape.
func (h *Head) Forward(x []float32, shape []int, mode Mode) (*Trace, error) {
	if len(x) != prod(shape) {
		return nil, errorf(ErrInvalidInput, "activation has %d values, shape %v", len(x), shape)
	}
	tr := &Trace{
		inputs: make([][]float32, 0, len(h.layers)),
		shapes: make([][]int, 0, len(h.layers)),
	}
	cur, curShape := x, shape
	for _, l := range h.layers {
		next, err := l.Forward(cur, curShape, mode)
		if err != nil {
			return nil, fmt.Errorf("%s forward: %w", l.Kind(), err)
		}
		nextShape, err := l.OutShape(curShape)
		if err != nil {
			return nil, fmt.Errorf("%s forward: %w", l.Kind(), err)
		}
		tr.inputs = append(tr.inputs, cur)
		tr.shapes = append(tr.shapes, curShape)
		cur, curShape = next, nextShape
	}
	if len(curShape) != 1 {
		return nil, errorf(ErrUnsupportedLayer, "head output has shape %v, want a logit vector", curShape)
	}
	tr.Logits = cur
	return tr, nil
}

// Backward writes d(logit[class])/d(x) into dst, which must have the size of
// the head input.
func (h *Head) Backward(tr *Trace, class int, dst []float32) error {
	if class < 0 || class >= len(tr.Logits) {
		return errorf(ErrInvalidInput, "class %d out of range [0,%d)", class, len(tr.Logits))
	}
	grad := make([]float32, len(tr.Logits))
	grad[class] = 1

	for i := len(h.layers) - 1; i >= 0; i-- {
		g, err := h.layers[i].Backward(tr.inputs[i], tr.shapes[i], grad)
		if err != nil {
			return fmt.Errorf("%s backward: %w", h.layers[i].Kind(), err)
		}
		grad = g
	}
	if len(grad) != len(dst) {
		return errorf(ErrInvalidInput, "gradient has %d values, buffer %d", len(grad), len(dst))
	}
	copy(dst, grad)
	return nil
}

// BuildHead decodes layer specs from a metadata sidecar. Every spec carries
// a "type" key; remaining keys are layer parameters.
func BuildHead(specs []map[string]any) (*Head, error) {
	if len(specs) == 0 {
		return nil, errorf(ErrUnsupportedLayer, "empty head")
	}
	layers := make([]Layer, 0, len(specs))
	for i, spec := range specs {
		kind, _ := spec["type"].(string)
		l, err := newLayer(kind, spec)
		if err != nil {
			return nil, fmt.Errorf("head layer %d: %w", i, err)
		}
		layers = append(layers, l)
	}
	return NewHead(layers...), nil
}

func newLayer(kind string, params map[string]any) (Layer, error) {
	switch kind {
	case "global_avg_pool":
		return GlobalAvgPool{}, nil
	case "flatten":
		return Flatten{}, nil
	case "relu":
		return ReLU{}, nil
	case "dropout":
		var v struct {
			P float32 `mapstructure:"p"`
		}
		if err := mapstructure.Decode(params, &v); err != nil {
			return nil, err
		}
		if v.P < 0 || v.P >= 1 {
			return nil, errorf(ErrInvalidInput, "dropout p=%v", v.P)
		}
		return Dropout{P: v.P}, nil
	case "linear":
		var v struct {
			InFeatures  int         `mapstructure:"in_features"`
			OutFeatures int         `mapstructure:"out_features"`
			Weight      [][]float32 `mapstructure:"weight"`
			Bias        []float32   `mapstructure:"bias"`
		}
		if err := mapstructure.Decode(params, &v); err != nil {
			return nil, err
		}
		return NewLinear(v.InFeatures, v.OutFeatures, v.Weight, v.Bias)
	default:
		return nil, errorf(ErrUnsupportedLayer, "%q", kind)
	}
}

// GlobalAvgPool averages each channel of a [C,H,W] tensor.
type GlobalAvgPool struct{}

func (GlobalAvgPool) Kind() string { return "global_avg_pool" }

func (GlobalAvgPool) OutShape(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, errorf(ErrInvalidInput, "global_avg_pool wants [C,H,W], got %v", in)
	}
	return []int{in[0]}, nil
}

func (p GlobalAvgPool) Forward(x []float32, shape []int, _ Mode) ([]float32, error) {
	if _, err := p.OutShape(shape); err != nil {
		return nil, err
	}
	c, hw := shape[0], shape[1]*shape[2]
	out := make([]float32, c)
	for ch := 0; ch < c; ch++ {
		var sum float64
		for _, v := range x[ch*hw : (ch+1)*hw] {
			sum += float64(v)
		}
		out[ch] = float32(sum / float64(hw))
	}
	return out, nil
}

func (GlobalAvgPool) Backward(_ []float32, shape []int, gradOut []float32) ([]float32, error) {
	c, hw := shape[0], shape[1]*shape[2]
	grad := make([]float32, c*hw)
	for ch := 0; ch < c; ch++ {
		g := gradOut[ch] / float32(hw)
		row := grad[ch*hw : (ch+1)*hw]
		for i := range row {
			row[i] = g
		}
	}
	return grad, nil
}

// Flatten collapses any shape to a vector.
type Flatten struct{}

func (Flatten) Kind() string { return "flatten" }

func (Flatten) OutShape(in []int) ([]int, error) { return []int{prod(in)}, nil }

func (Flatten) Forward(x []float32, _ []int, _ Mode) ([]float32, error) { return x, nil }

func (Flatten) Backward(_ []float32, _ []int, gradOut []float32) ([]float32, error) {
	return gradOut, nil
}

// Dropout is the identity in evaluation mode. A training-mode forward would
// be stochastic and is refused.
type Dropout struct {
	P float32
}

func (Dropout) Kind() string { return "dropout" }

func (Dropout) OutShape(in []int) ([]int, error) { return in, nil }

func (d Dropout) Forward(x []float32, _ []int, mode Mode) ([]float32, error) {
	if mode == Train && d.P > 0 {
		return nil, ErrTrainingMode
	}
	return x, nil
}

func (Dropout) Backward(_ []float32, _ []int, gradOut []float32) ([]float32, error) {
	return gradOut, nil
}

// ReLU clamps negatives to zero.
type ReLU struct{}

func (ReLU) Kind() string { return "relu" }

func (ReLU) OutShape(in []int) ([]int, error) { return in, nil }

func (ReLU) Forward(x []float32, _ []int, _ Mode) ([]float32, error) {
	out := make([]float32, len(x))
	for i, v := range x {
		if v > 0 {
			out[i] = v
		}
	}
	return out, nil
}

func (ReLU) Backward(x []float32, _ []int, gradOut []float32) ([]float32, error) {
	grad := make([]float32, len(x))
	for i, v := range x {
		if v > 0 {
			grad[i] = gradOut[i]
		}
	}
	return grad, nil
}

// Linear computes W·x + b with W stored as [out][in].
type Linear struct {
	in, out int
	weight  [][]float32
	bias    []float32
}

func NewLinear(in, out int, weight [][]float32, bias []float32) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, errorf(ErrInvalidInput, "linear %dx%d", in, out)
	}
	if len(weight) != out {
		return nil, errorf(ErrInvalidInput, "linear weight has %d rows, want %d", len(weight), out)
	}
	for i, row := range weight {
		if len(row) != in {
			return nil, errorf(ErrInvalidInput, "linear weight row %d has %d columns, want %d", i, len(row), in)
		}
	}
	if bias == nil {
		bias = make([]float32, out)
	}
	if len(bias) != out {
		return nil, errorf(ErrInvalidInput, "linear bias has %d values, want %d", len(bias), out)
	}
	return &Linear{in: in, out: out, weight: weight, bias: bias}, nil
}

func (*Linear) Kind() string { return "linear" }

func (l *Linear) OutShape(in []int) ([]int, error) {
	if len(in) != 1 || in[0] != l.in {
		return nil, errorf(ErrInvalidInput, "linear wants [%d], got %v", l.in, in)
	}
	return []int{l.out}, nil
}

func (l *Linear) Forward(x []float32, shape []int, _ Mode) ([]float32, error) {
	if _, err := l.OutShape(shape); err != nil {
		return nil, err
	}
	y := make([]float32, l.out)
	for o, row := range l.weight {
		var sum float64
		for i, w := range row {
			sum += float64(w) * float64(x[i])
		}
		y[o] = float32(sum) + l.bias[o]
	}
	return y, nil
}

func (l *Linear) Backward(_ []float32, _ []int, gradOut []float32) ([]float32, error) {
	grad := make([]float32, l.in)
	for o, row := range l.weight {
		g := gradOut[o]
		if g == 0 {
			continue
		}
		for i, w := range row {
			grad[i] += g * w
		}
	}
	return grad, nil
}

func prod(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
