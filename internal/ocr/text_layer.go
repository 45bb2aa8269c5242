package ocr

import (
	"context"
	"strings"

	"docfields/internal/document"
	"docfields/pkg/models"
)

// TextLayerConfidence is the confidence reported for embedded PDF text.
const TextLayerConfidence = 95.0

// TextLayerEngine returns the text a PDF page carries as characters. It
// handles only pages with a non-empty text layer, so scanned pages fall
// through to the OCR engines.
type TextLayerEngine struct{}

// NewTextLayerEngine creates the embedded text engine.
func NewTextLayerEngine() *TextLayerEngine {
	return &TextLayerEngine{}
}

// Name returns the engine identifier.
func (e *TextLayerEngine) Name() string {
	return EngineTextLayer
}

// Handles reports whether page has a text layer.
func (e *TextLayerEngine) Handles(page document.PageRaster) bool {
	return strings.TrimSpace(page.TextLayer) != ""
}

// Recognize returns the page's text layer line by line.
func (e *TextLayerEngine) Recognize(ctx context.Context, page document.PageRaster) (*Recognition, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapEngineError(EngineTextLayer, "Recognize", err, "")
	}

	var lines []models.TextLine
	for _, l := range strings.Split(page.TextLayer, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, models.TextLine{Text: l, Confidence: TextLayerConfidence})
		}
	}
	if len(lines) == 0 {
		return &Recognition{}, nil
	}

	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return &Recognition{
		Text:       strings.Join(texts, "\n"),
		Confidence: meanConfidence(lines),
		Lines:      lines,
	}, nil
}
