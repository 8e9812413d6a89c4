package model

import (
	"image"
	"image/draw"
	"math"

	"github.com/nfnt/resize"
)

// ImageNetSpec is the 224x224 input both ensemble members were fine-tuned
// with.
var ImageNetSpec = InputSpec{
	Size: 224,
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// Resize scales img to a size x size RGBA image with Lanczos3 resampling.
func Resize(img image.Image, size int) *image.RGBA {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	// Normalise the bounds to (0,0) and drop any palette/gray/alpha layout.
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), resized, resized.Bounds().Min, draw.Src)
	return out
}

// Preprocess converts an image to the CHW tensor expected by a model with
// the given spec: resize, scale to [0,1], then (x-mean)/std per channel.
func Preprocess(img image.Image, spec InputSpec) Input {
	return Normalize(Resize(img, spec.Size), spec)
}

// Normalize converts an already resized RGBA image to a normalized CHW
// tensor.
func Normalize(rgba *image.RGBA, spec InputSpec) Input {
	width, height := rgba.Rect.Dx(), rgba.Rect.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := rgba.PixOffset(x, y)
			px := rgba.Pix[off : off+3 : off+3]
			idx := y*width + x
			for c := 0; c < 3; c++ {
				v := float32(px[c]) / 255.0
				data[c*plane+idx] = (v - spec.Mean[c]) / spec.Std[c]
			}
		}
	}

	return Input{Data: data, Size: width}
}

// Validate checks that in matches spec's resolution and is finite.
func (in Input) Validate(spec InputSpec) error {
	if in.Size != spec.Size || len(in.Data) != spec.Elements() {
		return errorf(ErrInvalidInput, "input is %d values at size %d, want %d at size %d",
			len(in.Data), in.Size, spec.Elements(), spec.Size)
	}
	for _, v := range in.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errorf(ErrNumerical, "input contains %v", v)
		}
	}
	return nil
}
