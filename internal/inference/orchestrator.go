// Package inference sequences the ensemble: decode, classify with every
// member, fuse, stratify and optionally explain.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/cxr-api/internal/ensemble"
	"github.com/Brownie44l1/cxr-api/internal/explain"
	"github.com/Brownie44l1/cxr-api/internal/model"
	"github.com/Brownie44l1/cxr-api/internal/risk"
)

//go:generate mockgen -destination=mock_model_test.go -package=inference github.com/Brownie44l1/cxr-api/internal/model Classifier,Explainable
//go:generate mockgen -source=orchestrator.go -destination=mock_explainer_test.go -package=inference

var (
	ErrInvalidImage = errors.New("invalid image")
	ErrPrediction   = errors.New("prediction failed")
	ErrClosed       = errors.New("orchestrator closed")
)

// State is the load state of an Orchestrator.
type State int32

const (
	Unloaded State = iota
	Loading
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unloaded"
	}
}

// Explainer produces a heatmap for one request. Implementations must not
// panic or return errors; failures are Unavailable results.
type Explainer interface {
	Explain(ctx context.Context, imageBytes []byte, target model.Explainable, layer string) explain.HeatmapResult
}

// Options configures an Orchestrator.
type Options struct {
	Policy    *risk.Policy
	Explainer Explainer
	// DisableExplanation is the global kill-switch; it wins over requests.
	DisableExplanation bool
	Logger             *slog.Logger
}

// Request is one image to classify.
type Request struct {
	Image           []byte
	SkipExplanation bool
}

// Result is the outcome handed to the serving layer.
type Result struct {
	PredictedLabel    model.Label        `json:"predictedLabel"`
	ConfidencePercent float64            `json:"confidencePercent"`
	RiskTier          risk.Tier          `json:"riskTier"`
	Heatmap           []byte             `json:"heatmap"`
	HeatmapStatus     string             `json:"heatmapStatus"`
	Probabilities     map[string]float64 `json:"probabilities"`
}

// HeatmapOK is the HeatmapStatus of a result carrying an overlay.
const HeatmapOK = "ok"

// Orchestrator owns the shared registry and runs requests against it. It
// is safe for concurrent use.
type Orchestrator struct {
	loader    LoaderFunc
	policy    *risk.Policy
	explainer Explainer
	disabled  bool
	logger    *slog.Logger

	group    singleflight.Group
	state    atomic.Int32
	registry atomic.Pointer[Registry]
}

func New(loader LoaderFunc, opts Options) *Orchestrator {
	if opts.Policy == nil {
		opts.Policy = risk.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		loader:    loader,
		policy:    opts.Policy,
		explainer: opts.Explainer,
		disabled:  opts.DisableExplanation,
		logger:    opts.Logger,
	}
}

// State reports the current load state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Status is the health-check word: "ok" once ready, "loading" before.
func (o *Orchestrator) Status() string {
	if o.State() == Ready {
		return "ok"
	}
	return "loading"
}

// Load builds the registry. Concurrent callers share one load, which runs
// detached from any single caller's cancellation; each caller stops waiting
// when its own ctx ends. Once Ready, further calls return immediately. A
// failed load leaves the orchestrator Unloaded so a later call can retry.
// After Close, Load returns ErrClosed.
func (o *Orchestrator) Load(ctx context.Context) error {
	switch o.State() {
	case Ready:
		return nil
	case Closed:
		return ErrClosed
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := o.group.DoChan("load", func() (any, error) {
		switch o.State() {
		case Ready:
			return nil, nil
		case Closed:
			return nil, ErrClosed
		}
		if !o.state.CompareAndSwap(int32(Unloaded), int32(Loading)) {
			return nil, ErrClosed
		}
		start := time.Now()
		o.logger.Info("loading models")

		reg, err := o.loader(loadCtx)
		if err != nil {
			o.state.CompareAndSwap(int32(Loading), int32(Unloaded))
			return nil, err
		}
		o.registry.Store(reg)
		if !o.state.CompareAndSwap(int32(Loading), int32(Ready)) {
			// Closed while loading. Whoever takes reg out closes it.
			if o.registry.CompareAndSwap(reg, nil) {
				return nil, errors.Join(ErrClosed, reg.Close())
			}
			return nil, ErrClosed
		}
		o.logger.Info("all models loaded",
			"models", len(reg.Members()),
			"labels", reg.Labels(),
			"dur_ms", time.Since(start).Milliseconds())
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			o.logger.Debug("joined in-flight model load")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Predict runs the full pipeline for one image. Classification failures
// are returned as errors; explanation failures only leave Heatmap nil.
func (o *Orchestrator) Predict(ctx context.Context, req Request) (*Result, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if err := o.Load(ctx); err != nil {
		return nil, err
	}
	reg := o.registry.Load()
	if reg == nil {
		return nil, ErrClosed
	}

	img, format, err := image.Decode(bytes.NewReader(req.Image))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	o.logger.Debug("image decoded", "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	vectors, err := o.classify(ctx, reg, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrediction, err)
	}

	decision, err := ensemble.Fuse(vectors, reg.Weights(), reg.Labels())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrediction, err)
	}
	tier := o.policy.Stratify(decision.Label, decision.Confidence)

	res := &Result{
		PredictedLabel:    decision.Label,
		ConfidencePercent: decision.Confidence,
		RiskTier:          tier,
		Probabilities:     decision.ByLabel(),
	}
	o.attachHeatmap(ctx, reg, req, res)
	return res, nil
}

// classify runs every member concurrently. Members sharing an input spec
// share one preprocessed tensor.
func (o *Orchestrator) classify(ctx context.Context, reg *Registry, img image.Image) ([]model.ProbabilityVector, error) {
	members := reg.Members()
	inputs := make(map[model.InputSpec]model.Input, len(members))
	for _, m := range members {
		spec := m.Classifier.InputSpec()
		if _, ok := inputs[spec]; !ok {
			inputs[spec] = model.Preprocess(img, spec)
		}
	}

	k := len(reg.Labels())
	vectors := make([]model.ProbabilityVector, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range members {
		g.Go(func() error {
			p, err := m.Classifier.Classify(gctx, inputs[m.Classifier.InputSpec()])
			if err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
			if err := p.Validate(k); err != nil {
				return fmt.Errorf("%s: %w", m.Name, err)
			}
			vectors[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (o *Orchestrator) attachHeatmap(ctx context.Context, reg *Registry, req Request, res *Result) {
	switch h := o.explain(ctx, reg, req).(type) {
	case explain.Success:
		png, err := explain.EncodePNG(h.Overlay)
		if err != nil {
			o.logger.Warn("failed to encode grad-cam image", "err", err)
			res.HeatmapStatus = string(explain.ReasonFailed)
			return
		}
		res.Heatmap = png
		res.HeatmapStatus = HeatmapOK
	case explain.Unavailable:
		res.HeatmapStatus = string(h.Reason)
	default:
		res.HeatmapStatus = string(explain.ReasonFailed)
	}
}

// explain decides whether an explanation is attempted at all. When it is
// not, no gradient-tracking pass runs.
func (o *Orchestrator) explain(ctx context.Context, reg *Registry, req Request) (res explain.HeatmapResult) {
	target, layer := reg.ExplainTarget()
	switch {
	case o.disabled:
		return explain.Unavailable{Reason: explain.ReasonDisabled}
	case req.SkipExplanation:
		return explain.Unavailable{Reason: explain.ReasonSkipped}
	case target == nil || o.explainer == nil:
		return explain.Unavailable{Reason: explain.ReasonNotConfigured}
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("explainer panicked", "panic", r)
			res = explain.Unavailable{Reason: explain.ReasonPanic, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return o.explainer.Explain(ctx, req.Image, target, layer)
}

// Close releases the registry, if loaded. The orchestrator is terminal
// afterwards: Load and Predict return ErrClosed and models are never
// reloaded.
func (o *Orchestrator) Close() error {
	o.state.Store(int32(Closed))
	reg := o.registry.Swap(nil)
	if reg == nil {
		return nil
	}
	return reg.Close()
}
