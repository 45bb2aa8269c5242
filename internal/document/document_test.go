package document_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfields/internal/document"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakePages struct {
	count   int
	content *document.PDFContent
	err     error
	calls   int
}

func (f *fakePages) PageCount(context.Context, []byte) (int, error) {
	return f.count, f.err
}

func (f *fakePages) Content(context.Context, []byte) (*document.PDFContent, error) {
	f.calls++
	if f.content == nil {
		return &document.PDFContent{}, nil
	}
	return f.content, nil
}

var pdfPayload = []byte("%PDF-1.7\n%stub\n")

// textPDF builds a one-page letter-size PDF whose only content is the given
// lines of Courier text, one per baseline.
func textPDF(lines ...string) []byte {
	var stream bytes.Buffer
	y := 750
	for _, l := range lines {
		fmt.Fprintf(&stream, "BT /F1 12 Tf 72 %d Td (%s) Tj ET\n", y, l)
		y -= 20
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Courier /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 126 /Widths [" +
			strings.TrimSpace(strings.Repeat("600 ", 95)) + "] >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", stream.Len(), stream.String()),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestDetectMediaType(t *testing.T) {
	png := pngBytes(t, 4, 4)

	tests := []struct {
		name     string
		data     []byte
		filename string
		declared string
		want     document.MediaType
	}{
		{"declared pdf", []byte("anything"), "", "application/pdf", document.MediaPDF},
		{"declared with params", []byte("x"), "", "text/xml; charset=utf-8", document.MediaXML},
		{"declared image", []byte("x"), "", "image/heic", document.MediaImage},
		{"sniffed pdf", pdfPayload, "", "", document.MediaPDF},
		{"sniffed png", png, "", "application/octet-stream", document.MediaImage},
		{"sniffed xml", []byte(`<?xml version="1.0"?><cfdi:Comprobante/>`), "", "", document.MediaXML},
		{"sniffed cfdi without prolog", []byte(`<cfdi:Comprobante Total="1"/>`), "", "", document.MediaXML},
		{"extension", []byte("\x00\x01garbage"), "scan.TIFF", "", document.MediaImage},
		{"unknown", []byte("plain words"), "notes.txt", "", document.MediaUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, document.DetectMediaType(tt.data, tt.filename, tt.declared))
		})
	}
}

func TestNormalizeImage(t *testing.T) {
	n := document.NewNormalizer(document.DefaultOptions())

	out, err := n.Normalize(context.Background(), document.NewSourceDocument(pngBytes(t, 40, 30), "receipt.png", ""))
	require.NoError(t, err)

	require.Len(t, out.Pages, 1)
	assert.Equal(t, 1, out.Pages[0].Page)
	assert.Equal(t, 40, out.Pages[0].Width())
	assert.Equal(t, 30, out.Pages[0].Height())
	assert.False(t, out.Structured())
}

func TestNormalizeImageEnhanced(t *testing.T) {
	opts := document.DefaultOptions()
	opts.Enhance = true
	n := document.NewNormalizer(opts)

	out, err := n.Normalize(context.Background(), document.NewSourceDocument(pngBytes(t, 10, 10), "", "image/png"))
	require.NoError(t, err)
	require.Len(t, out.Pages, 1)
	assert.Equal(t, 10, out.Pages[0].Width())
}

func TestNormalizeCorruptImage(t *testing.T) {
	n := document.NewNormalizer(document.DefaultOptions())

	_, err := n.Normalize(context.Background(), document.NewSourceDocument([]byte("not really a jpeg"), "photo.jpg", ""))
	assert.ErrorIs(t, err, document.ErrUnsupportedMediaType)
}

func TestNormalizePDFEmitsOneRasterPerPage(t *testing.T) {
	pageImg := image.NewGray(image.Rect(0, 0, 100, 130))
	src := &fakePages{
		count: 3,
		content: &document.PDFContent{
			Pages:  []document.PageSize{{612, 792}, {612, 792}, {612, 792}},
			Images: map[int]image.Image{1: pageImg, 3: pageImg},
		},
	}
	n := document.NewNormalizer(document.DefaultOptions(), document.WithPageSource(src))

	out, err := n.Normalize(context.Background(), document.NewSourceDocument(pdfPayload, "", ""))
	require.NoError(t, err)

	require.Len(t, out.Pages, 3)
	for i, p := range out.Pages {
		assert.Equal(t, i+1, p.Page)
	}
	// 612pt at 144 DPI is 1224px.
	assert.Equal(t, 1224, out.Pages[0].Width())
	assert.Equal(t, 1224, out.Pages[1].Width(), "blank canvas for page without image")
	assert.Equal(t, 1584, out.Pages[1].Height())
}

func TestNormalizePDFReadsTextLayer(t *testing.T) {
	n := document.NewNormalizer(document.DefaultOptions())
	doc := textPDF("OXXO", "RFC: EKU9003173C9", "TOTAL $116.00")

	out, err := n.Normalize(context.Background(), document.NewSourceDocument(doc, "ticket.pdf", ""))
	require.NoError(t, err)

	require.Len(t, out.Pages, 1)
	assert.Equal(t, "OXXO\nRFC: EKU9003173C9\nTOTAL $116.00", out.Pages[0].TextLayer)
	assert.Equal(t, 1224, out.Pages[0].Width())
	assert.Equal(t, 1584, out.Pages[0].Height())
}

func TestNormalizePDFCarriesTextPerPage(t *testing.T) {
	src := &fakePages{
		count: 2,
		content: &document.PDFContent{
			Pages:  []document.PageSize{{612, 792}, {612, 792}},
			Images: map[int]image.Image{1: image.NewGray(image.Rect(0, 0, 100, 130))},
			Text:   map[int]string{2: "TOTAL 116.00"},
		},
	}
	n := document.NewNormalizer(document.DefaultOptions(), document.WithPageSource(src))

	out, err := n.Normalize(context.Background(), document.NewSourceDocument(pdfPayload, "", ""))
	require.NoError(t, err)
	require.Len(t, out.Pages, 2)
	assert.Empty(t, out.Pages[0].TextLayer)
	assert.Equal(t, "TOTAL 116.00", out.Pages[1].TextLayer)
}

func TestNormalizePDFRespectsMaxDimension(t *testing.T) {
	src := &fakePages{
		count: 1,
		content: &document.PDFContent{
			Pages:  []document.PageSize{{2000, 1000}},
			Images: map[int]image.Image{1: image.NewGray(image.Rect(0, 0, 200, 100))},
		},
	}
	n := document.NewNormalizer(document.DefaultOptions(), document.WithPageSource(src))

	out, err := n.Normalize(context.Background(), document.NewSourceDocument(pdfPayload, "", ""))
	require.NoError(t, err)
	assert.Equal(t, 3000, out.Pages[0].Width())
	assert.Equal(t, 1500, out.Pages[0].Height())
}

func TestNormalizePDFPageLimit(t *testing.T) {
	src := &fakePages{count: 21}
	n := document.NewNormalizer(document.DefaultOptions(), document.WithPageSource(src))

	_, err := n.Normalize(context.Background(), document.NewSourceDocument(pdfPayload, "", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, document.ErrUnsupportedPageCount)
	assert.Zero(t, src.calls, "pages must not be rasterized past the limit")

	var normErr *document.NormalizeError
	require.True(t, errors.As(err, &normErr))
	assert.Equal(t, "normalizePDF", normErr.Op)
}

func TestNormalizePDFWithoutPages(t *testing.T) {
	n := document.NewNormalizer(document.DefaultOptions(), document.WithPageSource(&fakePages{}))

	_, err := n.Normalize(context.Background(), document.NewSourceDocument(pdfPayload, "", ""))
	assert.ErrorIs(t, err, document.ErrEmptyDocument)
}

func TestNormalizeCorruptPDF(t *testing.T) {
	n := document.NewNormalizer(document.DefaultOptions())

	_, err := n.Normalize(context.Background(), document.NewSourceDocument([]byte("%PDF-1.4\nthis is not a pdf body"), "", ""))
	assert.ErrorIs(t, err, document.ErrMalformedDocument)
}

func TestNormalizeXML(t *testing.T) {
	n := document.NewNormalizer(document.DefaultOptions())
	doc := `<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Total="1500.00"><cfdi:Emisor Rfc="EKU9003173C9"/></cfdi:Comprobante>`

	out, err := n.Normalize(context.Background(), document.NewSourceDocument([]byte(doc), "factura.xml", ""))
	require.NoError(t, err)
	assert.True(t, out.Structured())
	assert.Empty(t, out.Pages)
	assert.Equal(t, "EKU9003173C9", out.Invoice.IssuerTaxID)
}

func TestNormalizeRejects(t *testing.T) {
	opts := document.DefaultOptions()
	opts.MaxDocumentBytes = 64
	n := document.NewNormalizer(opts)

	tests := []struct {
		name string
		doc  document.SourceDocument
		want error
	}{
		{"empty", document.NewSourceDocument(nil, "a.png", ""), document.ErrEmptyDocument},
		{"too large", document.NewSourceDocument(bytes.Repeat([]byte("a"), 65), "a.png", ""), document.ErrDocumentTooLarge},
		{"unknown type", document.NewSourceDocument([]byte("hello"), "a.docx", ""), document.ErrUnsupportedMediaType},
		{"xml that is not cfdi", document.NewSourceDocument([]byte(`<rss></rss>`), "", "text/xml"), document.ErrUnsupportedMediaType},
		{"broken xml", document.NewSourceDocument([]byte(`<cfdi:Comprobante`), "", "text/xml"), document.ErrMalformedDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(context.Background(), tt.doc)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
