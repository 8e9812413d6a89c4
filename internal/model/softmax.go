package model

import "math"

// Softmax turns logits into a probability vector. The maximum is subtracted
// first so large logits do not overflow.
func Softmax(logits []float32) (ProbabilityVector, error) {
	if len(logits) == 0 {
		return nil, errorf(ErrInvalidInput, "no logits")
	}
	maxLogit := math.Inf(-1)
	for i, v := range logits {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errorf(ErrNumerical, "logit %d is %v", i, f)
		}
		if f > maxLogit {
			maxLogit = f
		}
	}

	out := make(ProbabilityVector, len(logits))
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(float64(v) - maxLogit)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}

// toProbabilities converts raw model output according to the sidecar's
// declared output kind.
func toProbabilities(raw []float32, kind OutputKind) (ProbabilityVector, error) {
	if kind == OutputLogits {
		return Softmax(raw)
	}
	out := make(ProbabilityVector, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	if err := out.Validate(len(raw)); err != nil {
		return nil, err
	}
	return out, nil
}
