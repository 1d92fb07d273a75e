package images

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Decode reads an encoded image.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// CoverResize scales img until it covers width x height and crops the
// overshoot evenly from both ends of the longer axis.
func CoverResize(img image.Image, width, height int) *image.NRGBA {
	return imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
