// Package pipeline wires normalization, engine fallback, field extraction
// and confidence scoring into a single Extract call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docfields/internal/confidence"
	"docfields/internal/document"
	"docfields/internal/fields"
	"docfields/internal/logger"
	"docfields/internal/metrics"
	"docfields/internal/ocr"
	"docfields/pkg/models"
)

// Request is one extraction job.
type Request struct {
	// ID correlates logs and the result; a UUID is generated when empty.
	ID       string
	Document document.SourceDocument
}

// Options controls pipeline behaviour beyond the orchestrator thresholds.
type Options struct {
	// AllPages recognizes pages after the first with the winning engine.
	AllPages bool
}

// Pipeline runs the full extraction for a document.
type Pipeline struct {
	normalizer   *document.Normalizer
	orchestrator *Orchestrator
	extractor    *fields.Extractor
	evaluator    *confidence.Evaluator
	engines      []ocr.Engine
	opts         Options
	now          func() time.Time
	log          zerolog.Logger
}

// New assembles a Pipeline.
func New(normalizer *document.Normalizer, orchestrator *Orchestrator, extractor *fields.Extractor, evaluator *confidence.Evaluator, opts Options) *Pipeline {
	return &Pipeline{
		normalizer:   normalizer,
		orchestrator: orchestrator,
		extractor:    extractor,
		evaluator:    evaluator,
		engines:      orchestrator.engines,
		opts:         opts,
		now:          time.Now,
		log:          logger.WithComponent("pipeline"),
	}
}

// Engines returns the configured engine names in preference order.
func (p *Pipeline) Engines() []string {
	return p.orchestrator.Engines()
}

// Extract normalizes the document and produces an ExtractionResult. Only
// normalization failures are returned as errors; engine failures end up in
// the result's attempt log.
func (p *Pipeline) Extract(ctx context.Context, req Request) (*models.ExtractionResult, error) {
	const op = "Extract"

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := p.log.With().Str("request_id", req.ID).Logger()
	start := p.now()

	normalized, err := p.normalizer.Normalize(ctx, req.Document)
	if err != nil {
		metrics.ObserveNormalizeFailure(FailureReason(err))
		log.Warn().Err(err).Msg("Document rejected")
		return nil, WrapPipelineError(op, err, "normalization failed")
	}

	var result *models.ExtractionResult
	if normalized.Structured() {
		result = p.fromInvoice(normalized)
	} else {
		result, err = p.fromPages(ctx, normalized.Pages, log)
		if err != nil {
			return nil, WrapPipelineError(op, err, "recognition aborted")
		}
	}

	result.Warnings = p.extractor.CheckAmounts(&result.Fields)
	result.RequestID = req.ID
	result.Timestamp = p.now().UTC()
	metrics.ObserveExtraction(result)

	log.Info().
		Str("source", string(result.Source)).
		Int("confidence", result.Confidence).
		Bool("degraded", result.Degraded).
		Int("attempts", len(result.Attempts)).
		Dur("duration", p.now().Sub(start)).
		Msg("Extraction complete")

	return result, nil
}

func (p *Pipeline) fromInvoice(normalized *document.Normalized) *models.ExtractionResult {
	extracted := p.extractor.FromInvoice(normalized.Invoice)
	engine := models.StructuredEngine
	return &models.ExtractionResult{
		Fields:     extracted,
		Confidence: p.evaluator.Evaluate(&extracted, nil, models.SourceXML),
		EngineUsed: &engine,
		Source:     models.SourceXML,
		Attempts:   []models.EngineAttempt{},
	}
}

func (p *Pipeline) fromPages(ctx context.Context, pages []document.PageRaster, log zerolog.Logger) (*models.ExtractionResult, error) {
	if len(pages) == 0 {
		return nil, errors.New("normalizer returned no pages")
	}

	raw, err := p.orchestrator.ExtractRawText(ctx, pages[0])
	if err != nil {
		return nil, err
	}

	result := &models.ExtractionResult{
		Source:   models.SourceOCR,
		Attempts: raw.Attempts,
	}

	if raw.Degraded() {
		result.Degraded = true
		result.WinningAttempt = raw.Best
		if raw.Best != nil {
			result.RawText = raw.Best.Text
		}
	} else {
		name := raw.Winner.Engine
		result.EngineUsed = &name
		result.WinningAttempt = raw.Winner
		result.RawText = raw.Winner.Text

		if p.opts.AllPages && len(pages) > 1 {
			texts, attempts := p.remainingPages(ctx, raw.Winner.Engine, pages[1:], log)
			result.Attempts = append(result.Attempts, attempts...)
			result.RawText = joinPages(append([]string{raw.Winner.Text}, texts...))
		}
	}

	result.Fields = p.extractor.FromText(result.RawText)
	if result.Fields.LineItems == nil {
		result.Fields.LineItems = []models.LineItem{}
	}
	result.Confidence = p.evaluator.Evaluate(&result.Fields, result.WinningAttempt, models.SourceOCR)

	return result, nil
}

// remainingPages runs the winning engine on pages 2..N. A failed page
// contributes an empty text but keeps its attempt in the log.
func (p *Pipeline) remainingPages(ctx context.Context, engineName string, pages []document.PageRaster, log zerolog.Logger) ([]string, []models.EngineAttempt) {
	var engine ocr.Engine
	for _, e := range p.engines {
		if e.Name() == engineName {
			engine = e
			break
		}
	}
	if engine == nil {
		return nil, nil
	}

	texts := make([]string, 0, len(pages))
	attempts := make([]models.EngineAttempt, 0, len(pages))
	for _, page := range pages {
		if ctx.Err() != nil {
			break
		}
		attempt := p.orchestrator.Attempt(ctx, engine, page)
		attempt.Accepted = attempt.Outcome == models.OutcomeSuccess
		attempts = append(attempts, attempt)
		texts = append(texts, attempt.Text)

		log.Debug().
			Str("engine", engineName).
			Int("page", page.Page).
			Str("outcome", string(attempt.Outcome)).
			Msg("Recognized additional page")
	}
	return texts, attempts
}

// joinPages concatenates page texts with "--- Page N ---" separators.
func joinPages(texts []string) string {
	var b strings.Builder
	for i, t := range texts {
		if i > 0 {
			fmt.Fprintf(&b, "\n\n--- Page %d ---\n\n", i+1)
		}
		b.WriteString(t)
	}
	return b.String()
}

// Close releases engines that hold network clients.
func (p *Pipeline) Close() error {
	var errs []error
	for _, e := range p.engines {
		if c, ok := e.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", e.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
