package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"docfields/internal/cfdi"
	"docfields/internal/logger"
)

const (
	// DefaultRenderScale renders PDF pages at 144 DPI (2x the 72 DPI point grid).
	DefaultRenderScale = 2.0

	// DefaultMaxPages is the largest PDF accepted.
	DefaultMaxPages = 20

	// DefaultMaxDocumentBytes caps input payloads at 20 MiB.
	DefaultMaxDocumentBytes = 20 << 20

	// DefaultMaxRasterDimension caps the longest side of an upscaled PDF page.
	DefaultMaxRasterDimension = 3000
)

// Options controls how documents are normalized.
type Options struct {
	RenderScale        float64
	MaxPages           int
	MaxDocumentBytes   int64
	MaxRasterDimension int
	Enhance            bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		RenderScale:        DefaultRenderScale,
		MaxPages:           DefaultMaxPages,
		MaxDocumentBytes:   DefaultMaxDocumentBytes,
		MaxRasterDimension: DefaultMaxRasterDimension,
	}
}

// Option customises a Normalizer.
type Option func(*Normalizer)

// WithPageSource replaces the default PDF reader.
func WithPageSource(src PageSource) Option {
	return func(n *Normalizer) { n.pdf = src }
}

// Normalizer converts a SourceDocument into page rasters or a parsed CFDI.
type Normalizer struct {
	opts Options
	pdf  PageSource
	log  zerolog.Logger
}

// NewNormalizer creates a Normalizer. Zero option values fall back to defaults.
func NewNormalizer(opts Options, options ...Option) *Normalizer {
	def := DefaultOptions()
	if opts.RenderScale <= 0 {
		opts.RenderScale = def.RenderScale
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.MaxDocumentBytes <= 0 {
		opts.MaxDocumentBytes = def.MaxDocumentBytes
	}
	if opts.MaxRasterDimension <= 0 {
		opts.MaxRasterDimension = def.MaxRasterDimension
	}

	n := &Normalizer{
		opts: opts,
		pdf:  pdfSource{},
		log:  logger.WithComponent("normalizer"),
	}
	for _, o := range options {
		o(n)
	}
	return n
}

// Normalize dispatches on the document's media type.
func (n *Normalizer) Normalize(ctx context.Context, doc SourceDocument) (*Normalized, error) {
	const op = "Normalize"

	if doc.Size() == 0 {
		return nil, WrapNormalizeError(op, ErrEmptyDocument, "zero-byte payload")
	}
	if int64(doc.Size()) > n.opts.MaxDocumentBytes {
		return nil, WrapNormalizeError(op, ErrDocumentTooLarge,
			fmt.Sprintf("%d bytes exceeds limit of %d", doc.Size(), n.opts.MaxDocumentBytes))
	}

	n.log.Debug().
		Str("media_type", string(doc.MediaType())).
		Str("filename", doc.Filename()).
		Int("bytes", doc.Size()).
		Msg("Normalizing document")

	switch doc.MediaType() {
	case MediaImage:
		return n.normalizeImage(doc)
	case MediaPDF:
		return n.normalizePDF(ctx, doc)
	case MediaXML:
		return n.normalizeXML(doc)
	default:
		return nil, WrapNormalizeError(op, ErrUnsupportedMediaType,
			fmt.Sprintf("declared %q, filename %q", doc.DeclaredType(), doc.Filename()))
	}
}

func (n *Normalizer) normalizeImage(doc SourceDocument) (*Normalized, error) {
	const op = "normalizeImage"

	img, err := decodeImage(doc.Bytes())
	if err != nil {
		return nil, WrapNormalizeError(op, ErrUnsupportedMediaType, fmt.Sprintf("cannot decode image: %v", err))
	}
	if n.opts.Enhance {
		img = enhance(img)
	}

	return &Normalized{
		Media: MediaImage,
		Pages: []PageRaster{{Page: 1, Image: img}},
	}, nil
}

func (n *Normalizer) normalizePDF(ctx context.Context, doc SourceDocument) (*Normalized, error) {
	const op = "normalizePDF"

	count, err := n.pdf.PageCount(ctx, doc.Bytes())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, WrapNormalizeError(op, ctxErr, "")
		}
		return nil, WrapNormalizeError(op, ErrMalformedDocument, fmt.Sprintf("cannot read PDF: %v", err))
	}
	if count == 0 {
		return nil, WrapNormalizeError(op, ErrEmptyDocument, "PDF has no pages")
	}
	if count > n.opts.MaxPages {
		return nil, WrapNormalizeError(op, ErrUnsupportedPageCount,
			fmt.Sprintf("%d pages exceeds limit of %d", count, n.opts.MaxPages))
	}

	content, err := n.pdf.Content(ctx, doc.Bytes())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, WrapNormalizeError(op, ctxErr, "")
		}
		return nil, WrapNormalizeError(op, ErrMalformedDocument, err.Error())
	}

	dpi := 72.0 * n.opts.RenderScale
	pages := make([]PageRaster, 0, count)
	for page := 1; page <= count; page++ {
		if err := ctx.Err(); err != nil {
			return nil, WrapNormalizeError(op, err, fmt.Sprintf("canceled at page %d", page))
		}

		var size PageSize
		if page <= len(content.Pages) {
			size = content.Pages[page-1]
		}

		text := content.Text[page]
		img, ok := content.Images[page]
		if !ok {
			if text == "" {
				n.log.Warn().Int("page", page).Msg("Page has neither an embedded image nor a text layer")
			} else {
				n.log.Debug().Int("page", page).Int("text_length", len(text)).Msg("Page has a text layer only")
			}
			img = blankPage(size.Width, size.Height, dpi, n.opts.MaxRasterDimension)
		} else {
			img = upscaleToDPI(img, size.Width, size.Height, dpi, n.opts.MaxRasterDimension)
			if n.opts.Enhance {
				img = enhance(img)
			}
		}
		pages = append(pages, PageRaster{Page: page, Image: img, TextLayer: text})
	}

	n.log.Debug().Int("pages", len(pages)).Msg("PDF rasterized")

	return &Normalized{Media: MediaPDF, Pages: pages}, nil
}

func (n *Normalizer) normalizeXML(doc SourceDocument) (*Normalized, error) {
	const op = "normalizeXML"

	inv, err := cfdi.Parse(doc.Bytes())
	switch {
	case errors.Is(err, cfdi.ErrNotCFDI):
		return nil, WrapNormalizeError(op, ErrUnsupportedMediaType, err.Error())
	case err != nil:
		return nil, WrapNormalizeError(op, ErrMalformedDocument, err.Error())
	}

	return &Normalized{Media: MediaXML, Invoice: inv}, nil
}
