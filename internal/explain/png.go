package explain

import (
	"bytes"
	"image"
	"image/png"
)

// EncodePNG serializes an overlay for transport.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
