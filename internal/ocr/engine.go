// Package ocr provides the engine adapters that turn a page raster into text.
//
// Every adapter implements Engine, so the pipeline can try them in any order
// without knowing which provider sits behind them. Adapters report a
// confidence on a 0-100 scale.
//
// Supported engines:
//   - pdf-text:      the text layer a PDF page already carries, no OCR
//   - google-vision: Google Cloud Vision DOCUMENT_TEXT_DETECTION
//   - azure-vision:  Azure Computer Vision printed text OCR
//   - document-ai:   Google Document AI OCR processor
//   - tesseract:     local tesseract binary, works offline
//
// Credentials for the Google engines come from GOOGLE_CREDENTIALS (inline
// JSON) or GOOGLE_APPLICATION_CREDENTIALS (file path), falling back to
// application default credentials.
package ocr

import (
	"context"
	"strings"

	"docfields/internal/document"
	"docfields/pkg/models"
)

// Engine names as used in ENGINE_ORDER and in result logs.
const (
	EngineTextLayer    = "pdf-text"
	EngineGoogleVision = "google-vision"
	EngineAzureVision  = "azure-vision"
	EngineDocumentAI   = "document-ai"
	EngineTesseract    = "tesseract"
)

// KnownEngines lists every engine name in the default preference order.
// document-ai is opt-in and therefore last.
var KnownEngines = []string{EngineTextLayer, EngineGoogleVision, EngineAzureVision, EngineTesseract, EngineDocumentAI}

// IsKnownEngine reports whether name is a supported engine.
func IsKnownEngine(name string) bool {
	for _, k := range KnownEngines {
		if k == name {
			return true
		}
	}
	return false
}

// Engine recognizes text on a single page.
type Engine interface {
	// Name returns the engine identifier recorded in attempt logs.
	Name() string

	// Recognize runs OCR on one page. Implementations must honour ctx
	// cancellation; the caller enforces the per-attempt timeout.
	Recognize(ctx context.Context, page document.PageRaster) (*Recognition, error)
}

// PageSelector is implemented by engines that only apply to some pages.
// The orchestrator does not try such an engine on pages it does not handle.
type PageSelector interface {
	Handles(page document.PageRaster) bool
}

// Recognition is an engine's raw answer for one page.
type Recognition struct {
	Text string

	// Confidence is the page-level confidence on a 0-100 scale.
	Confidence float64

	Lines []models.TextLine
}

// Empty reports whether no text was recognized.
func (r *Recognition) Empty() bool {
	return r == nil || strings.TrimSpace(r.Text) == ""
}

func meanConfidence(lines []models.TextLine) float64 {
	if len(lines) == 0 {
		return 0
	}
	var sum float64
	for _, l := range lines {
		sum += l.Confidence
	}
	return sum / float64(len(lines))
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}
