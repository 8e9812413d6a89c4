package explain

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
)

// DefaultImageWeight keeps anatomical detail visible under the heatmap.
const DefaultImageWeight = 0.6

// Saliency is a non-negative grid over the tapped layer's spatial positions.
type Saliency struct {
	Width  int
	Height int
	Values []float32
}

// Normalize min-max scales the grid in place to [0,1].
func (s Saliency) Normalize() {
	if len(s.Values) == 0 {
		return
	}
	lo, hi := s.Values[0], s.Values[0]
	for _, v := range s.Values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	scale := float32(1e-7) + (hi - lo)
	for i, v := range s.Values {
		s.Values[i] = (v - lo) / scale
	}
}

// Upsample bilinearly resizes the grid to size x size, writing into dst.
func (s Saliency) Upsample(size int, dst []float32) error {
	if len(dst) != size*size {
		return fmt.Errorf("upsample buffer has %d values, want %d", len(dst), size*size)
	}
	gray := image.NewGray16(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			v := clamp01(float64(s.Values[y*s.Width+x]))
			gray.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}

	scaled := resize.Resize(uint(size), uint(size), gray, resize.Bilinear)
	b := scaled.Bounds()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			g := color.Gray16Model.Convert(scaled.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			dst[y*size+x] = float32(g.Y) / 65535
		}
	}
	return nil
}

// Jet maps v in [0,1] to the blue-cyan-yellow-red JET palette. v is
// quantized to 8 bits first, as an 8-bit colormap lookup would.
func Jet(v float64) (r, g, b float64) {
	q := math.Round(clamp01(v)*255) / 255
	r = clamp01(1.5 - math.Abs(4*q-3))
	g = clamp01(1.5 - math.Abs(4*q-2))
	b = clamp01(1.5 - math.Abs(4*q-1))
	return r, g, b
}

// Blend overlays a JET rendering of heat (size*size values in [0,1]) on
// base. The result is rescaled so its brightest channel is 255.
func Blend(base *image.RGBA, heat []float32, imageWeight float64) (*image.RGBA, error) {
	w, h := base.Rect.Dx(), base.Rect.Dy()
	if len(heat) != w*h {
		return nil, fmt.Errorf("heatmap has %d values for a %dx%d image", len(heat), w, h)
	}
	if imageWeight < 0 || imageWeight > 1 {
		return nil, fmt.Errorf("image weight %v outside [0,1]", imageWeight)
	}

	mixed := make([]float64, 3*w*h)
	peak := 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			off := base.PixOffset(base.Rect.Min.X+x, base.Rect.Min.Y+y)
			hr, hg, hb := Jet(float64(heat[idx]))
			heatRGB := [3]float64{hr, hg, hb}
			for c := 0; c < 3; c++ {
				v := (1-imageWeight)*heatRGB[c] + imageWeight*float64(base.Pix[off+c])/255
				mixed[3*idx+c] = v
				peak = max(peak, v)
			}
		}
	}
	if peak <= 0 || math.IsNaN(peak) {
		return nil, fmt.Errorf("blended image has peak %v", peak)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for idx := 0; idx < w*h; idx++ {
		for c := 0; c < 3; c++ {
			out.Pix[4*idx+c] = uint8(255 * mixed[3*idx+c] / peak)
		}
		out.Pix[4*idx+3] = 0xff
	}
	return out, nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
