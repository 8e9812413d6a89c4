package explain

import (
	"context"
	"errors"
	"image"

	"github.com/Brownie44l1/cxr-api/internal/model"
)

// HeatmapResult is either Success or Unavailable.
type HeatmapResult interface {
	isHeatmapResult()
}

// Success carries the blended overlay.
type Success struct {
	Overlay *image.RGBA
	// Class is the output index the saliency was computed for.
	Class int
	Layer string
}

// Unavailable explains why no overlay was produced. It is a normal outcome,
// not a request failure.
type Unavailable struct {
	Reason Reason
	Err    error
}

func (Success) isHeatmapResult()     {}
func (Unavailable) isHeatmapResult() {}

// Reason classifies Unavailable results.
type Reason string

const (
	ReasonDisabled         Reason = "disabled"
	ReasonSkipped          Reason = "skipped"
	ReasonNotConfigured    Reason = "not_configured"
	ReasonUndecodable      Reason = "undecodable_image"
	ReasonUnsupportedLayer Reason = "unsupported_layer"
	ReasonNumerical        Reason = "numerical_error"
	ReasonCancelled        Reason = "cancelled"
	ReasonPanic            Reason = "panic"
	ReasonFailed           Reason = "failed"
)

func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	case errors.Is(err, model.ErrUnsupportedLayer), errors.Is(err, model.ErrTrainingMode):
		return ReasonUnsupportedLayer
	case errors.Is(err, model.ErrNumerical):
		return ReasonNumerical
	default:
		return ReasonFailed
	}
}
