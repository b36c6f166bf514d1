package camera

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// maxLumaDim caps the luminance plane dimensions. Frames are downscaled before
// grayscale conversion so the quality gate never walks full-resolution planes.
const maxLumaDim = 320

// LumaFromImage converts an image to a downscaled luminance plane.
// Returns the plane and its dimensions.
func LumaFromImage(img image.Image) ([]byte, int, int) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width > maxLumaDim || height > maxLumaDim {
		if width > height {
			height = height * maxLumaDim / width
			width = maxLumaDim
		} else {
			width = width * maxLumaDim / height
			height = maxLumaDim
		}
		if width < 1 {
			width = 1
		}
		if height < 1 {
			height = 1
		}
	}

	gray := image.NewGray(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, bounds, draw.Src, nil)
	return gray.Pix, width, height
}

// DecodeLuma decodes an encoded image (JPEG, PNG or BMP) and returns its
// downscaled luminance plane.
func DecodeLuma(data []byte) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode frame image: %w", err)
	}
	luma, w, h := LumaFromImage(img)
	return luma, w, h, nil
}
