package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivation_GradientAndRelease(t *testing.T) {
	h := testHead(t)
	tr, err := h.Forward(testActivation, []int{2, 2, 2}, Eval)
	require.NoError(t, err)

	released := 0
	act, err := NewActivation("features.7", [3]int{2, 2, 2}, testActivation, tr.Logits, h, Eval, func() { released++ })
	require.NoError(t, err)
	assert.Equal(t, 8, act.Size())
	assert.Equal(t, 1, act.TopClass())

	grad := make([]float32, act.Size())
	score, err := act.Gradient(act.TopClass(), grad)
	require.NoError(t, err)
	assert.InDelta(t, tr.Logits[1], score, 1e-6)
	// d(logit1)/dA = w[1][c] / (H*W)
	assert.InDelta(t, 0.5/4, grad[0], 1e-6)
	assert.InDelta(t, 2.0/4, grad[4], 1e-6)

	act.Release()
	act.Release()
	assert.Equal(t, 1, released)
	assert.Nil(t, act.Data)
}

func TestActivation_RejectsHeadThatDoesNotReproduceLogits(t *testing.T) {
	act, err := NewActivation("x", [3]int{2, 2, 2}, testActivation, []float32{9, 9, 9}, testHead(t), Eval, nil)
	require.NoError(t, err)
	_, err = act.Gradient(0, make([]float32, 8))
	require.ErrorIs(t, err, ErrUnsupportedLayer)
}

func TestActivation_NumericalFaults(t *testing.T) {
	nan := float32(math.NaN())

	act, err := NewActivation("x", [3]int{2, 2, 2}, testActivation, []float32{nan, 0, 0}, testHead(t), Eval, nil)
	require.NoError(t, err)
	_, err = act.Gradient(0, make([]float32, 8))
	require.ErrorIs(t, err, ErrNumerical)

	data := append([]float32(nil), testActivation...)
	data[3] = nan
	act, err = NewActivation("x", [3]int{2, 2, 2}, data, nil, testHead(t), Eval, nil)
	require.NoError(t, err)
	_, err = act.Gradient(0, make([]float32, 8))
	require.ErrorIs(t, err, ErrNumerical)
}

func TestActivation_TrainingModeHeadFails(t *testing.T) {
	act, err := NewActivation("x", [3]int{2, 2, 2}, testActivation, nil, testHead(t), Train, nil)
	require.NoError(t, err)
	_, err = act.Gradient(0, make([]float32, 8))
	require.ErrorIs(t, err, ErrTrainingMode)
}

func TestNewActivation_Validates(t *testing.T) {
	_, err := NewActivation("x", [3]int{2, 2, 2}, testActivation, nil, nil, Eval, nil)
	require.ErrorIs(t, err, ErrUnsupportedLayer)

	_, err = NewActivation("x", [3]int{3, 2, 2}, testActivation, nil, testHead(t), Eval, nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}
