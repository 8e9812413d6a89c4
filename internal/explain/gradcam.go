// Package explain produces Grad-CAM overlays showing which regions of a
// chest X-ray drove a classifier's top-scoring class.
//
// Every failure inside Explain is logged and returned as Unavailable; the
// classification it accompanies is never affected.
package explain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"time"

	"github.com/Brownie44l1/cxr-api/internal/model"
)

// Options configures a Generator.
type Options struct {
	// ImageWeight is the share of the original image in the overlay.
	ImageWeight float64
	Buffers     *Buffers
	Logger      *slog.Logger
}

// Generator computes Grad-CAM overlays. It holds no per-request state and
// is safe for concurrent use.
type Generator struct {
	imageWeight float64
	buffers     *Buffers
	logger      *slog.Logger
}

func NewGenerator(opts Options) *Generator {
	if opts.ImageWeight <= 0 || opts.ImageWeight >= 1 {
		opts.ImageWeight = DefaultImageWeight
	}
	if opts.Buffers == nil {
		opts.Buffers = NewBuffers()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Generator{
		imageWeight: opts.ImageWeight,
		buffers:     opts.Buffers,
		logger:      opts.Logger,
	}
}

// Buffers exposes the scratch pool, mainly so callers can check nothing is
// leaked.
func (g *Generator) Buffers() *Buffers {
	return g.buffers
}

// Explain decodes imageBytes on its own, resizes it to target's input
// resolution and returns the Grad-CAM overlay for the top class at layer.
func (g *Generator) Explain(ctx context.Context, imageBytes []byte, target model.Explainable, layer string) (res HeatmapResult) {
	start := time.Now()
	arena := g.buffers.Arena()
	defer arena.Release()

	defer func() {
		if r := recover(); r != nil {
			res = g.unavailable(target, layer, ReasonPanic, fmt.Errorf("panic: %v", r))
		}
	}()

	if target == nil {
		return g.unavailable(nil, layer, ReasonNotConfigured, errors.New("no explanation model"))
	}

	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return g.unavailable(target, layer, ReasonUndecodable, err)
	}

	overlay, class, err := g.gradCAM(ctx, arena, img, target, layer)
	if err != nil {
		return g.unavailable(target, layer, reasonFor(err), err)
	}

	g.logger.Debug("grad-cam generated",
		"model", target.Name(),
		"layer", layer,
		"class", class,
		"dur_ms", time.Since(start).Milliseconds())
	return Success{Overlay: overlay, Class: class, Layer: layer}
}

func (g *Generator) gradCAM(ctx context.Context, arena *Arena, img image.Image, target model.Explainable, layer string) (*image.RGBA, int, error) {
	spec := target.InputSpec()
	base := model.Resize(img, spec.Size)
	in := model.Normalize(base, spec)

	release := target.AcquireInferenceMode()
	defer release()

	act, err := target.ActivationsAt(ctx, in, layer)
	if err != nil {
		return nil, 0, err
	}
	defer act.Release()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	class := act.TopClass()
	grad := arena.Get(act.Size())
	if _, err := act.Gradient(class, grad); err != nil {
		return nil, 0, err
	}

	saliency := Saliency{Width: act.Width, Height: act.Height, Values: arena.Get(act.Width * act.Height)}
	if err := weightedActivations(act, grad, saliency.Values); err != nil {
		return nil, 0, err
	}
	saliency.Normalize()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	heat := arena.Get(spec.Size * spec.Size)
	if err := saliency.Upsample(spec.Size, heat); err != nil {
		return nil, 0, err
	}
	overlay, err := Blend(base, heat, g.imageWeight)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", model.ErrNumerical, err)
	}
	return overlay, class, nil
}

// weightedActivations computes ReLU(Σ_c α_c·A_c) where α_c is the spatial
// mean of the gradient of channel c.
func weightedActivations(act *model.Activation, grad, dst []float32) error {
	hw := act.Height * act.Width
	for c := 0; c < act.Channels; c++ {
		var alpha float64
		for _, g := range grad[c*hw : (c+1)*hw] {
			alpha += float64(g)
		}
		alpha /= float64(hw)
		if alpha == 0 {
			continue
		}
		a := float32(alpha)
		for i, v := range act.Data[c*hw : (c+1)*hw] {
			dst[i] += a * v
		}
	}
	for i, v := range dst {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: saliency at %d is %v", model.ErrNumerical, i, v)
		}
		if v < 0 {
			dst[i] = 0
		}
	}
	return nil
}

func (g *Generator) unavailable(target model.Explainable, layer string, reason Reason, err error) Unavailable {
	name := ""
	if target != nil {
		name = target.Name()
	}
	g.logger.Warn("grad-cam unavailable",
		"model", name,
		"layer", layer,
		"reason", reason,
		"err", err)
	return Unavailable{Reason: reason, Err: err}
}
