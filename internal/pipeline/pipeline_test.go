package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docfields/internal/confidence"
	"docfields/internal/document"
	"docfields/internal/fields"
	"docfields/internal/ocr"
	"docfields/internal/pipeline"
	"docfields/pkg/models"
)

const receiptText = "OXXO\nRFC: CCO8605231N4\n15/03/2024\nTOTAL $52.50\nEFECTIVO $100.00\n"

type fakeEngine struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, page document.PageRaster) (*ocr.Recognition, error)
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Recognize(ctx context.Context, page document.PageRaster) (*ocr.Recognition, error) {
	f.calls.Add(1)
	return f.fn(ctx, page)
}

func returning(text string, conf float64) func(context.Context, document.PageRaster) (*ocr.Recognition, error) {
	return func(context.Context, document.PageRaster) (*ocr.Recognition, error) {
		return &ocr.Recognition{Text: text, Confidence: conf}, nil
	}
}

func failing(err error) func(context.Context, document.PageRaster) (*ocr.Recognition, error) {
	return func(context.Context, document.PageRaster) (*ocr.Recognition, error) {
		return nil, err
	}
}

// hanging ignores ctx entirely; only the orchestrator's select can end the call.
func hanging(context.Context, document.PageRaster) (*ocr.Recognition, error) {
	select {}
}

func engine(name string, fn func(context.Context, document.PageRaster) (*ocr.Recognition, error)) *fakeEngine {
	return &fakeEngine{name: name, fn: fn}
}

func newPipeline(engines []*fakeEngine, timeout time.Duration, opts pipeline.Options, normOpts ...document.Option) *pipeline.Pipeline {
	list := make([]ocr.Engine, len(engines))
	for i, e := range engines {
		list[i] = e
	}
	orch := pipeline.NewOrchestrator(list, pipeline.OrchestratorOptions{EngineTimeout: timeout})
	return pipeline.New(
		document.NewNormalizer(document.DefaultOptions(), normOpts...),
		orch,
		fields.NewExtractor(nil),
		confidence.NewEvaluator(0),
		opts,
	)
}

func imageDoc(t *testing.T) document.SourceDocument {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 20, 20))))
	return document.NewSourceDocument(buf.Bytes(), "receipt.png", "")
}

func TestExtractStopsAtFirstAcceptedEngine(t *testing.T) {
	a := engine("a", returning(receiptText, 92))
	b := engine("b", returning(receiptText, 99))
	c := engine("c", returning(receiptText, 99))
	p := newPipeline([]*fakeEngine{a, b, c}, time.Second, pipeline.Options{})

	res, err := p.Extract(context.Background(), pipeline.Request{ID: "req-1", Document: imageDoc(t)})
	require.NoError(t, err)

	assert.EqualValues(t, 1, a.calls.Load())
	assert.Zero(t, b.calls.Load())
	assert.Zero(t, c.calls.Load())

	require.NotNil(t, res.EngineUsed)
	assert.Equal(t, "a", *res.EngineUsed)
	assert.False(t, res.Degraded)
	assert.Equal(t, models.SourceOCR, res.Source)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, 92, res.Confidence)
	assert.Equal(t, "52.50", res.Fields.Total.String())
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].Accepted)
	assert.False(t, res.Timestamp.IsZero())
}

func TestExtractFallsBackPastRejectedEngines(t *testing.T) {
	a := engine("a", failing(ocr.WrapEngineError("a", "Recognize", ocr.ErrQuotaExceeded, "")))
	b := engine("b", returning("short", 99))
	c := engine("c", returning(receiptText, 40))
	d := engine("d", returning(receiptText, 80))
	p := newPipeline([]*fakeEngine{a, b, c, d}, time.Second, pipeline.Options{})

	res, err := p.Extract(context.Background(), pipeline.Request{Document: imageDoc(t)})
	require.NoError(t, err)

	require.Len(t, res.Attempts, 4)
	assert.Equal(t, models.OutcomeProviderError, res.Attempts[0].Outcome)
	assert.Equal(t, models.OutcomeSuccess, res.Attempts[1].Outcome)
	assert.False(t, res.Attempts[1].Accepted, "text too short")
	assert.False(t, res.Attempts[2].Accepted, "confidence too low")
	assert.True(t, res.Attempts[3].Accepted)
	assert.Equal(t, "d", *res.EngineUsed)
	assert.NotEmpty(t, res.RequestID, "request id is generated")
}

func TestExtractAllEnginesTimeOut(t *testing.T) {
	engines := []*fakeEngine{engine("a", hanging), engine("b", hanging), engine("c", hanging)}
	p := newPipeline(engines, 20*time.Millisecond, pipeline.Options{})

	start := time.Now()
	res, err := p.Extract(context.Background(), pipeline.Request{Document: imageDoc(t)})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, res.Attempts, 3)
	for _, a := range res.Attempts {
		assert.Equal(t, models.OutcomeTimeout, a.Outcome)
		assert.ErrorIs(t, a.Err, ocr.ErrTimeout)
	}
	assert.Zero(t, res.Confidence)
	assert.Nil(t, res.EngineUsed)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.RawText)
	assert.NotNil(t, res.Fields.LineItems)
}

func TestExtractDegradedUsesBestAttempt(t *testing.T) {
	a := engine("a", returning("OXXO TOTAL $9.00", 45))
	b := engine("b", returning("", 0))
	c := engine("c", returning("OXXO\nTOTAL $52.50\n", 30))
	p := newPipeline([]*fakeEngine{a, b, c}, time.Second, pipeline.Options{})

	res, err := p.Extract(context.Background(), pipeline.Request{Document: imageDoc(t)})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Nil(t, res.EngineUsed)
	assert.Equal(t, models.OutcomeEmpty, res.Attempts[1].Outcome)
	assert.Equal(t, "OXXO TOTAL $9.00", res.RawText)
	assert.Equal(t, "9.00", res.Fields.Total.String())
	// 45 minus one penalty for the missing tax id.
	assert.Equal(t, 20, res.Confidence)
}

func TestExtractRecoversFromEnginePanic(t *testing.T) {
	a := engine("a", func(context.Context, document.PageRaster) (*ocr.Recognition, error) {
		panic("nil map")
	})
	b := engine("b", returning(receiptText, 90))
	p := newPipeline([]*fakeEngine{a, b}, time.Second, pipeline.Options{})

	res, err := p.Extract(context.Background(), pipeline.Request{Document: imageDoc(t)})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeProviderError, res.Attempts[0].Outcome)
	assert.Equal(t, "b", *res.EngineUsed)
}

func TestExtractXMLSkipsEngines(t *testing.T) {
	a := engine("a", returning(receiptText, 99))
	p := newPipeline([]*fakeEngine{a}, time.Second, pipeline.Options{})

	doc := `<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Fecha="2024-03-15T10:22:00" Total="1500.00">
  <cfdi:Emisor Rfc="EKU9003173C9" Nombre="ESCUELA KEMPER URGATE"/>
</cfdi:Comprobante>`
	res, err := p.Extract(context.Background(), pipeline.Request{Document: document.NewSourceDocument([]byte(doc), "cfdi.xml", "application/xml")})
	require.NoError(t, err)

	assert.Zero(t, a.calls.Load())
	assert.Equal(t, 100, res.Confidence)
	assert.Equal(t, models.SourceXML, res.Source)
	assert.Equal(t, models.StructuredEngine, *res.EngineUsed)
	assert.Equal(t, "1500.00", res.Fields.Total.String())
	assert.Equal(t, "EKU9003173C9", *res.Fields.TaxID)
	assert.Empty(t, res.Attempts)
	assert.False(t, res.Degraded)
}

type pagesStub struct {
	count int
	size  document.PageSize
}

func (s pagesStub) PageCount(context.Context, []byte) (int, error) { return s.count, nil }

func (s pagesStub) Content(context.Context, []byte) (*document.PDFContent, error) {
	c := &document.PDFContent{}
	for i := 0; i < s.count; i++ {
		c.Pages = append(c.Pages, s.size)
	}
	return c, nil
}

var pdfDoc = document.NewSourceDocument([]byte("%PDF-1.7\n"), "scan.pdf", "")

func TestExtractRejectsTooManyPagesWithoutCallingEngines(t *testing.T) {
	a := engine("a", returning(receiptText, 99))
	p := newPipeline([]*fakeEngine{a}, time.Second, pipeline.Options{AllPages: true},
		document.WithPageSource(pagesStub{count: document.DefaultMaxPages + 1}))

	res, err := p.Extract(context.Background(), pipeline.Request{Document: pdfDoc})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, document.ErrUnsupportedPageCount)
	assert.Equal(t, "unsupported_page_count", pipeline.FailureReason(err))
	assert.Zero(t, a.calls.Load())

	var pipeErr *pipeline.PipelineError
	assert.True(t, errors.As(err, &pipeErr))
}

func TestExtractRecognizesRemainingPagesWithWinner(t *testing.T) {
	a := engine("a", failing(errors.New("down")))
	b := engine("b", func(_ context.Context, page document.PageRaster) (*ocr.Recognition, error) {
		if page.Page == 1 {
			return &ocr.Recognition{Text: receiptText, Confidence: 88}, nil
		}
		return &ocr.Recognition{Text: "GRACIAS POR SU COMPRA", Confidence: 70}, nil
	})
	p := newPipeline([]*fakeEngine{a, b}, time.Second, pipeline.Options{AllPages: true},
		document.WithPageSource(pagesStub{count: 3, size: document.PageSize{Width: 200, Height: 300}}))

	res, err := p.Extract(context.Background(), pipeline.Request{Document: pdfDoc})
	require.NoError(t, err)

	assert.EqualValues(t, 1, a.calls.Load(), "fallback applies to page one only")
	assert.EqualValues(t, 3, b.calls.Load())
	require.Len(t, res.Attempts, 4)
	assert.Equal(t, 2, res.Attempts[2].Page)
	assert.Equal(t, 3, res.Attempts[3].Page)
	assert.True(t, strings.Contains(res.RawText, "--- Page 2 ---"))
	assert.True(t, strings.Contains(res.RawText, "--- Page 3 ---"))
	assert.Equal(t, 88, res.Confidence)
}

func TestExtractFirstPageOnly(t *testing.T) {
	a := engine("a", returning(receiptText, 90))
	p := newPipeline([]*fakeEngine{a}, time.Second, pipeline.Options{},
		document.WithPageSource(pagesStub{count: 2, size: document.PageSize{Width: 200, Height: 300}}))

	res, err := p.Extract(context.Background(), pipeline.Request{Document: pdfDoc})
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.Equal(t, receiptText, res.RawText)
}

func TestOrchestratorReturnsErrorWhenContextAlreadyDone(t *testing.T) {
	a := engine("a", returning(receiptText, 90))
	orch := pipeline.NewOrchestrator([]ocr.Engine{a}, pipeline.DefaultOrchestratorOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.ExtractRawText(ctx, document.PageRaster{Page: 1, Image: image.NewGray(image.Rect(0, 0, 1, 1))})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.calls.Load())
}

func TestOrchestratorThresholdsAreStrict(t *testing.T) {
	exactly20 := strings.Repeat("x", 20)
	a := engine("a", returning(exactly20, 99))
	b := engine("b", returning(receiptText, 50))
	orch := pipeline.NewOrchestrator([]ocr.Engine{a, b}, pipeline.DefaultOrchestratorOptions())

	raw, err := orch.ExtractRawText(context.Background(), document.PageRaster{Page: 1, Image: image.NewGray(image.Rect(0, 0, 1, 1))})
	require.NoError(t, err)
	assert.True(t, raw.Degraded())
	assert.Equal(t, "a", raw.Best.Engine)
	assert.Equal(t, []string{"a", "b"}, orch.Engines())
}

func TestOrchestratorCancellationIsNotATimeout(t *testing.T) {
	a := engine("a", hanging)
	orch := pipeline.NewOrchestrator([]ocr.Engine{a}, pipeline.OrchestratorOptions{EngineTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	raw, err := orch.ExtractRawText(ctx, document.PageRaster{Page: 1, Image: image.NewGray(image.Rect(0, 0, 1, 1))})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, raw.Attempts, 1)
	att := raw.Attempts[0]
	assert.Equal(t, models.OutcomeProviderError, att.Outcome)
	assert.ErrorIs(t, att.Err, ocr.ErrProviderFailed)
	assert.NotErrorIs(t, att.Err, ocr.ErrTimeout)
	assert.Contains(t, att.Err.Error(), context.Canceled.Error())
}

func TestOrchestratorSkipsEnginesThatDoNotHandlePage(t *testing.T) {
	b := engine("b", returning(receiptText, 80))
	orch := pipeline.NewOrchestrator([]ocr.Engine{ocr.NewTextLayerEngine(), b}, pipeline.DefaultOrchestratorOptions())
	page := document.PageRaster{Page: 1, Image: image.NewGray(image.Rect(0, 0, 1, 1))}

	raw, err := orch.ExtractRawText(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, raw.Attempts, 1, "scanned page goes straight to OCR")
	assert.Equal(t, "b", raw.Winner.Engine)

	page.TextLayer = receiptText
	raw, err = orch.ExtractRawText(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, raw.Attempts, 1)
	assert.Equal(t, ocr.EngineTextLayer, raw.Winner.Engine)
	assert.EqualValues(t, 1, b.calls.Load())
}

// textPDF builds a one-page PDF whose only content is Courier text.
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

func TestExtractDigitalPDFUsesTextLayer(t *testing.T) {
	blank := engine("google-vision", returning("", 0))
	orch := pipeline.NewOrchestrator([]ocr.Engine{ocr.NewTextLayerEngine(), blank}, pipeline.DefaultOrchestratorOptions())
	p := pipeline.New(document.NewNormalizer(document.DefaultOptions()), orch,
		fields.NewExtractor(nil), confidence.NewEvaluator(0), pipeline.Options{AllPages: true})

	doc := document.NewSourceDocument(textPDF("OXXO", "RFC: EKU9003173C9", "TOTAL $116.00"), "ticket.pdf", "")
	res, err := p.Extract(context.Background(), pipeline.Request{Document: doc})
	require.NoError(t, err)

	require.NotNil(t, res.EngineUsed)
	assert.Equal(t, ocr.EngineTextLayer, *res.EngineUsed)
	assert.False(t, res.Degraded)
	assert.Zero(t, blank.calls.Load())
	require.NotNil(t, res.Fields.Total)
	assert.Equal(t, "116.00", res.Fields.Total.String())
	require.NotNil(t, res.Fields.TaxID)
	assert.Equal(t, "EKU9003173C9", *res.Fields.TaxID)
}
