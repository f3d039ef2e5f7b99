package imageprep

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// Prepare decodes an uploaded label image and bounds its size before it is
// shipped to the inference service. Images already within maxDim pass
// through untouched; larger ones are downscaled and re-encoded as JPEG.
// A decode failure means the upload was not a usable image.
func Prepare(data []byte, maxDim int) ([]byte, string, error) {
	if maxDim <= 0 {
		maxDim = 1024
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return data, mimeForFormat(format), nil
	}

	resized := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

func mimeForFormat(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
