package document

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	// Decoders beyond the jpeg/png/gif set imaging registers.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodeImage decodes a raster image, honouring EXIF orientation.
func decodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// enhance applies the grayscale, contrast and sharpen chain used to help
// OCR on low quality phone photos.
func enhance(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 20)
	return imaging.Sharpen(out, 1.0)
}

// upscaleToDPI enlarges img so that it covers a page of pointsW x pointsH at
// the given DPI, never exceeding maxDim on either side. Images already at or
// above the target are returned unchanged.
func upscaleToDPI(img image.Image, pointsW, pointsH, dpi float64, maxDim int) image.Image {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w == 0 || h == 0 || pointsW <= 0 || pointsH <= 0 || dpi <= 0 {
		return img
	}

	targetW := pointsW / 72.0 * dpi
	scale := targetW / float64(w)
	if scale <= 1.0 {
		return img
	}

	newW, newH := int(float64(w)*scale+0.5), int(float64(h)*scale+0.5)
	if maxDim > 0 && (newW > maxDim || newH > maxDim) {
		factor := float64(maxDim) / float64(max(w, h))
		if factor <= 1.0 {
			return img
		}
		newW, newH = int(float64(w)*factor+0.5), int(float64(h)*factor+0.5)
	}
	return imaging.Resize(img, newW, newH, imaging.Lanczos)
}

// blankPage returns a white canvas sized like a page of the given points at dpi.
func blankPage(pointsW, pointsH, dpi float64, maxDim int) image.Image {
	w, h := int(pointsW/72.0*dpi+0.5), int(pointsH/72.0*dpi+0.5)
	if w <= 0 || h <= 0 {
		w, h = int(8.5*dpi+0.5), int(11*dpi+0.5)
	}
	if maxDim > 0 && (w > maxDim || h > maxDim) {
		factor := float64(maxDim) / float64(max(w, h))
		w, h = int(float64(w)*factor), int(float64(h)*factor)
	}
	return imaging.New(w, h, color.White)
}
