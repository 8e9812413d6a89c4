package inference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Brownie44l1/cxr-api/internal/model"
)

func TestNewRegistry_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	probs := model.ProbabilityVector{0.1, 0.8, 0.1}
	plain := newClassifier(ctrl, probs)
	explainable := newExplainable(ctrl, probs)

	other := NewMockClassifier(ctrl)
	other.EXPECT().Labels().Return(model.Labels{model.Normal, model.BacterialPneumonia, model.ViralPneumonia}).AnyTimes()

	tests := []struct {
		name         string
		labels       model.Labels
		members      []Member
		explainModel string
		explainLayer string
		wantErr      string
	}{
		{
			name:    "no labels",
			labels:  nil,
			members: []Member{{Name: "a", Weight: 1, Classifier: plain}},
			wantErr: "empty label list",
		},
		{
			name:    "no members",
			labels:  model.DefaultLabels,
			wantErr: "no models",
		},
		{
			name:    "nil classifier",
			labels:  model.DefaultLabels,
			members: []Member{{Name: "a", Weight: 1}},
			wantErr: "has no classifier",
		},
		{
			name:   "duplicate name",
			labels: model.DefaultLabels,
			members: []Member{
				{Name: "a", Weight: 0.5, Classifier: plain},
				{Name: "a", Weight: 0.5, Classifier: plain},
			},
			wantErr: "duplicate model",
		},
		{
			name:   "label order differs",
			labels: model.DefaultLabels,
			members: []Member{
				{Name: "a", Weight: 0.5, Classifier: plain},
				{Name: "b", Weight: 0.5, Classifier: other},
			},
			wantErr: "outputs",
		},
		{
			name:   "weights do not sum to one",
			labels: model.DefaultLabels,
			members: []Member{
				{Name: "a", Weight: 0.5, Classifier: plain},
				{Name: "b", Weight: 0.4, Classifier: explainable},
			},
			wantErr: "sum",
		},
		{
			name:         "explanation model missing",
			labels:       model.DefaultLabels,
			members:      []Member{{Name: "a", Weight: 1, Classifier: plain}},
			explainModel: "efficientnet",
			explainLayer: testLayer,
			wantErr:      "not in the ensemble",
		},
		{
			name:         "explanation model cannot expose activations",
			labels:       model.DefaultLabels,
			members:      []Member{{Name: "a", Weight: 1, Classifier: plain}},
			explainModel: "a",
			explainLayer: testLayer,
			wantErr:      "cannot expose activations",
		},
		{
			name:         "explanation layer missing",
			labels:       model.DefaultLabels,
			members:      []Member{{Name: "a", Weight: 1, Classifier: explainable}},
			explainModel: "a",
			wantErr:      "no explanation layer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.labels, tt.members, tt.explainModel, tt.explainLayer)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRegistry(t *testing.T) {
	ctrl := gomock.NewController(t)
	probs := model.ProbabilityVector{0.1, 0.8, 0.1}
	target := newExplainable(ctrl, probs)

	members := []Member{
		{Name: "convnext", Weight: 0.4, Classifier: newClassifier(ctrl, probs)},
		{Name: "efficientnet", Weight: 0.6, Classifier: target},
	}
	reg, err := NewRegistry(model.DefaultLabels, members, "efficientnet", testLayer)
	require.NoError(t, err)

	assert.Equal(t, model.DefaultLabels, reg.Labels())
	assert.Equal(t, []float64{0.4, 0.6}, reg.Weights())
	assert.Len(t, reg.Members(), 2)

	gotTarget, layer := reg.ExplainTarget()
	assert.Same(t, target, gotTarget)
	assert.Equal(t, testLayer, layer)

	// The registry keeps its own copy of the member list.
	members[0].Weight = 0.9
	assert.Equal(t, 0.4, reg.Members()[0].Weight)
}

func TestNewRegistry_NoExplanation(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg, err := NewRegistry(model.DefaultLabels, []Member{
		{Name: "only", Weight: 1, Classifier: newClassifier(ctrl, model.ProbabilityVector{0, 1, 0})},
	}, "", "")
	require.NoError(t, err)

	target, layer := reg.ExplainTarget()
	assert.Nil(t, target)
	assert.Empty(t, layer)
}

func TestRegistry_CloseJoinsErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	first := errors.New("first failed")
	second := errors.New("second failed")
	reg, err := NewRegistry(model.DefaultLabels, []Member{
		{Name: "only", Weight: 1, Classifier: newClassifier(ctrl, model.ProbabilityVector{0, 1, 0})},
	}, "", "",
		closerFunc(func() error { return first }),
		closerFunc(func() error { return second }),
	)
	require.NoError(t, err)

	err = reg.Close()
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}
