package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageSize is a page's media box in PDF points.
type PageSize struct {
	Width  float64
	Height float64
}

// PDFContent is what a PageSource reports about a PDF: its page sizes, the
// embedded page image and the embedded text layer. Both maps are keyed by
// 1-based page number and omit pages without that content.
type PDFContent struct {
	Pages  []PageSize
	Images map[int]image.Image
	Text   map[int]string
}

// PageSource reads PDFs. The default implementation is backed by pdfcpu for
// structure and images and by ledongthuc/pdf for text.
type PageSource interface {
	PageCount(ctx context.Context, data []byte) (int, error)
	Content(ctx context.Context, data []byte) (*PDFContent, error)
}

type pdfSource struct{}

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (pdfSource) PageCount(ctx context.Context, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return api.PageCount(bytes.NewReader(data), pdfConfig())
}

func (pdfSource) Content(ctx context.Context, data []byte) (*PDFContent, error) {
	conf := pdfConfig()

	dims, err := api.PageDims(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("reading page dimensions: %w", err)
	}
	content := &PDFContent{
		Pages:  make([]PageSize, len(dims)),
		Images: make(map[int]image.Image),
		Text:   make(map[int]string),
	}
	for i, d := range dims {
		content.Pages[i] = PageSize{Width: d.Width, Height: d.Height}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	extracted, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, conf)
	if err != nil {
		return nil, fmt.Errorf("extracting page images: %w", err)
	}

	decoded := make(map[int][]pageImage)
	for _, pageImages := range extracted {
		for objNr, raw := range pageImages {
			// Soft masks and thumbnails are not page content.
			if raw.Thumb || raw.IsImgMask {
				continue
			}
			img, err := imaging.Decode(raw)
			if err != nil {
				// Formats such as JPX cannot be decoded.
				continue
			}
			decoded[raw.PageNr] = append(decoded[raw.PageNr], pageImage{objNr: objNr, img: img})
		}
	}
	for page, imgs := range decoded {
		content.Images[page] = composePage(imgs)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := textLayers(data)
	if err != nil {
		// Image content is still usable without a text layer.
		return content, nil
	}
	content.Text = text

	return content, nil
}

type pageImage struct {
	objNr int
	img   image.Image
}

// composePage turns the images placed on one page into a single bitmap.
// Scanners often split a page into horizontal strips of equal width; those
// are stacked top to bottom in object order. Otherwise the largest image wins.
func composePage(imgs []pageImage) image.Image {
	sort.Slice(imgs, func(i, j int) bool { return imgs[i].objNr < imgs[j].objNr })

	largest := imgs[0].img
	for _, pi := range imgs[1:] {
		if area(pi.img) > area(largest) {
			largest = pi.img
		}
	}
	if len(imgs) == 1 || !sameWidth(imgs) {
		return largest
	}

	width, height := 0, 0
	for _, pi := range imgs {
		width = max(width, pi.img.Bounds().Dx())
		height += pi.img.Bounds().Dy()
	}
	canvas := imaging.New(width, height, color.White)
	y := 0
	for _, pi := range imgs {
		canvas = imaging.Paste(canvas, pi.img, image.Pt(0, y))
		y += pi.img.Bounds().Dy()
	}
	return canvas
}

// sameWidth reports whether all widths are within 2% of each other.
func sameWidth(imgs []pageImage) bool {
	lo, hi := math.MaxInt, 0
	for _, pi := range imgs {
		w := pi.img.Bounds().Dx()
		lo, hi = min(lo, w), max(hi, w)
	}
	return hi > 0 && float64(hi-lo) <= 0.02*float64(hi)
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}
