package model

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"
)

// SessionConfig selects where and how sessions run.
type SessionConfig struct {
	// Device is "cpu", "cuda" or "cuda:<id>".
	Device         string
	IntraOpThreads int
}

// ONNXModel is a Classifier backed by an exported ONNX graph and its
// metadata sidecar. Sessions are created once by Load and shared by all
// callers; every call allocates and destroys its own tensors.
type ONNXModel struct {
	ModeSwitch

	name         string
	modelPath    string
	metadataPath string

	meta   Metadata
	labels Labels
	spec   InputSpec

	loaded  atomic.Bool
	session *ort.DynamicAdvancedSession
	taps    map[string]*tapSession
}

type tapSession struct {
	spec    TapSpec
	head    *Head
	session *ort.DynamicAdvancedSession
}

// NewONNXModel returns an unloaded model. Classify fails with
// ErrModelNotLoaded until Load succeeds.
func NewONNXModel(name, modelPath, metadataPath string) *ONNXModel {
	return &ONNXModel{
		name:         name,
		modelPath:    modelPath,
		metadataPath: metadataPath,
	}
}

func (m *ONNXModel) Name() string         { return m.name }
func (m *ONNXModel) Labels() Labels       { return m.labels }
func (m *ONNXModel) InputSpec() InputSpec { return m.spec }
func (m *ONNXModel) Metadata() Metadata   { return m.meta }

// Load reads the sidecar and creates the sessions. tapLayers lists the
// layers ActivationsAt must serve; each needs a tap in the sidecar.
func (m *ONNXModel) Load(cfg SessionConfig, tapLayers ...string) error {
	if m.loaded.Load() {
		return nil
	}

	meta, err := LoadMetadata(m.metadataPath)
	if err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	if err := checkGraphOutputs(m.modelPath, meta, tapLayers); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}

	opts, err := newSessionOptions(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(m.modelPath,
		[]string{meta.InputName}, []string{meta.OutputName}, opts)
	if err != nil {
		return fmt.Errorf("%s: failed to create ONNX session: %w", m.name, err)
	}

	taps := make(map[string]*tapSession, len(tapLayers))
	for _, layer := range tapLayers {
		tap, err := newTapSession(m.modelPath, meta, layer, opts)
		if err != nil {
			session.Destroy()
			for _, t := range taps {
				t.session.Destroy()
			}
			return fmt.Errorf("%s: %w", m.name, err)
		}
		taps[layer] = tap
	}

	m.meta = meta
	m.labels = meta.Labels()
	m.spec = meta.InputSpec()
	m.session = session
	m.taps = taps
	m.SetMode(Eval)
	m.loaded.Store(true)
	return nil
}

func newTapSession(modelPath string, meta Metadata, layer string, opts *ort.SessionOptions) (*tapSession, error) {
	spec, ok := meta.Tap(layer)
	if !ok {
		return nil, errorf(ErrUnsupportedLayer, "no tap for layer %q", layer)
	}
	head, err := BuildHead(spec.Head)
	if err != nil {
		return nil, fmt.Errorf("tap %q: %w", layer, err)
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName, spec.OutputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create tap session for %q: %w", layer, err)
	}
	return &tapSession{spec: spec, head: head, session: session}, nil
}

func newSessionOptions(cfg SessionConfig) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	device := strings.ToLower(strings.TrimSpace(cfg.Device))
	if device == "" || device == "cpu" {
		return opts, nil
	}
	if device != "cuda" && !strings.HasPrefix(device, "cuda:") {
		opts.Destroy()
		return nil, fmt.Errorf("unsupported device %q", cfg.Device)
	}

	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to create CUDA options: %w", err)
	}
	defer cudaOpts.Destroy()

	deviceID := "0"
	if id, ok := strings.CutPrefix(device, "cuda:"); ok {
		deviceID = id
	}
	if err := cudaOpts.Update(map[string]string{"device_id": deviceID}); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to configure CUDA device %s: %w", deviceID, err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to enable CUDA: %w", err)
	}
	return opts, nil
}

// checkGraphOutputs verifies the sidecar against the graph itself so a
// label list that does not match the output width stops startup.
func checkGraphOutputs(modelPath string, meta Metadata, tapLayers []string) error {
	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("failed to inspect model: %w", err)
	}
	byName := make(map[string]ort.InputOutputInfo, len(outputs))
	for _, o := range outputs {
		byName[o.Name] = o
	}

	out, ok := byName[meta.OutputName]
	if !ok {
		return fmt.Errorf("graph has no output %q", meta.OutputName)
	}
	if dims := out.Dimensions; len(dims) == 2 && dims[1] > 0 && int(dims[1]) != len(meta.Classes) {
		return fmt.Errorf("graph output width %d does not match %d classes", dims[1], len(meta.Classes))
	}
	for _, layer := range tapLayers {
		tap, ok := meta.Tap(layer)
		if !ok {
			return errorf(ErrUnsupportedLayer, "no tap for layer %q", layer)
		}
		if _, ok := byName[tap.OutputName]; !ok {
			return errorf(ErrUnsupportedLayer, "graph has no output %q for layer %q", tap.OutputName, layer)
		}
	}
	return nil
}

// Classify runs one forward pass and returns class probabilities.
func (m *ONNXModel) Classify(ctx context.Context, in Input) (ProbabilityVector, error) {
	if !m.loaded.Load() {
		return nil, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := in.Validate(m.spec); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(m.inputShape(), in.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(m.labels))))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := m.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return toProbabilities(outputTensor.GetData(), m.meta.OutputKind)
}

// ActivationsAt runs the tap session for layer. The returned Activation
// owns native tensors; callers must Release it.
func (m *ONNXModel) ActivationsAt(ctx context.Context, in Input, layer string) (*Activation, error) {
	if !m.loaded.Load() {
		return nil, ErrModelNotLoaded
	}
	tap, ok := m.taps[layer]
	if !ok {
		return nil, errorf(ErrUnsupportedLayer, "layer %q is not tapped on %s", layer, m.name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := in.Validate(m.spec); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(m.inputShape(), in.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	logitsTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(m.labels))))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	shape := tap.spec.Shape
	actTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, shape[0], shape[1], shape[2]))
	if err != nil {
		logitsTensor.Destroy()
		return nil, fmt.Errorf("failed to create activation tensor: %w", err)
	}

	release := func() {
		actTensor.Destroy()
		logitsTensor.Destroy()
	}

	outputs := []ort.ArbitraryTensor{logitsTensor, actTensor}
	if err := tap.session.Run([]ort.ArbitraryTensor{inputTensor}, outputs); err != nil {
		release()
		return nil, fmt.Errorf("tap inference failed: %w", err)
	}

	act, err := NewActivation(layer,
		[3]int{int(shape[0]), int(shape[1]), int(shape[2])},
		actTensor.GetData(), logitsTensor.GetData(), tap.head, m.Mode(), release)
	if err != nil {
		release()
		return nil, err
	}
	return act, nil
}

func (m *ONNXModel) inputShape() ort.Shape {
	s := int64(m.spec.Size)
	return ort.NewShape(1, 3, s, s)
}

// Close destroys the sessions. The model returns to the unloaded state.
func (m *ONNXModel) Close() error {
	if !m.loaded.Swap(false) {
		return nil
	}
	for _, t := range m.taps {
		t.session.Destroy()
	}
	m.taps = nil
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	return nil
}
