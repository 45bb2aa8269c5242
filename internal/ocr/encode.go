package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
)

const (
	// DefaultMaxUploadBytes is the inline image ceiling for the Google engines.
	DefaultMaxUploadBytes = 10 << 20

	// AzureMaxUploadBytes is the Computer Vision OCR upload ceiling.
	AzureMaxUploadBytes = 4 << 20

	jpegQuality   = 85
	maxShrinkStep = 5
)

// encodeForUpload encodes img as PNG, falling back to JPEG and then to
// progressively smaller JPEGs until the payload fits maxBytes. It returns
// the bytes and their MIME type.
func encodeForUpload(img image.Image, maxBytes int) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("encoding png: %w", err)
	}
	if maxBytes <= 0 || buf.Len() <= maxBytes {
		return buf.Bytes(), "image/png", nil
	}

	current := img
	for step := 0; step <= maxShrinkStep; step++ {
		if step > 0 {
			b := current.Bounds()
			current = imaging.Resize(current, b.Dx()*3/4, 0, imaging.Lanczos)
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, current, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("encoding jpeg: %w", err)
		}
		if buf.Len() <= maxBytes {
			return buf.Bytes(), "image/jpeg", nil
		}
	}

	return nil, "", fmt.Errorf("%w: %d bytes after downscaling, limit %d", ErrPayloadTooLarge, buf.Len(), maxBytes)
}
