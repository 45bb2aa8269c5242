package document

import (
	"image"

	"docfields/internal/cfdi"
)

// PageRaster is one page as a decoded bitmap. Page is 1-based. TextLayer
// holds the text a PDF page carries as characters, if any.
type PageRaster struct {
	Page      int
	Image     image.Image
	TextLayer string
}

// Width returns the raster width in pixels.
func (p PageRaster) Width() int { return p.Image.Bounds().Dx() }

// Height returns the raster height in pixels.
func (p PageRaster) Height() int { return p.Image.Bounds().Dy() }

// Normalized is the Normalizer's output. Exactly one of Pages or Invoice is set.
type Normalized struct {
	Media   MediaType
	Pages   []PageRaster
	Invoice *cfdi.Invoice
}

// Structured reports whether the document bypasses OCR.
func (n *Normalized) Structured() bool {
	return n.Invoice != nil
}
