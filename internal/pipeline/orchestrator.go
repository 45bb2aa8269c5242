package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"docfields/internal/document"
	"docfields/internal/logger"
	"docfields/internal/metrics"
	"docfields/internal/ocr"
	"docfields/pkg/models"
)

const (
	// DefaultMinTextLength is the number of characters an attempt must exceed.
	DefaultMinTextLength = 20

	// DefaultMinConfidence is the confidence an attempt must exceed.
	DefaultMinConfidence = 50.0

	// DefaultEngineTimeout bounds each individual engine call.
	DefaultEngineTimeout = 30 * time.Second
)

// OrchestratorOptions holds the acceptance thresholds and per-call timeout.
type OrchestratorOptions struct {
	MinTextLength int
	MinConfidence float64
	EngineTimeout time.Duration
}

// DefaultOrchestratorOptions returns the production defaults.
func DefaultOrchestratorOptions() OrchestratorOptions {
	return OrchestratorOptions{
		MinTextLength: DefaultMinTextLength,
		MinConfidence: DefaultMinConfidence,
		EngineTimeout: DefaultEngineTimeout,
	}
}

// RawText is the Orchestrator's answer for the first page.
type RawText struct {
	// Winner is the accepted attempt, nil when every engine was rejected.
	Winner *models.EngineAttempt

	// Best is the highest-confidence attempt with text. It equals Winner
	// when one exists and is the degraded fallback otherwise.
	Best *models.EngineAttempt

	// Attempts lists every invocation in call order.
	Attempts []models.EngineAttempt
}

// Degraded reports whether no engine met the acceptance thresholds.
func (r *RawText) Degraded() bool {
	return r.Winner == nil
}

// Orchestrator tries engines in preference order and stops at the first
// attempt that passes both thresholds.
type Orchestrator struct {
	engines []ocr.Engine
	opts    OrchestratorOptions
	log     zerolog.Logger
}

// NewOrchestrator creates an Orchestrator. Zero option values fall back to defaults.
func NewOrchestrator(engines []ocr.Engine, opts OrchestratorOptions) *Orchestrator {
	def := DefaultOrchestratorOptions()
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = def.MinTextLength
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = def.MinConfidence
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = def.EngineTimeout
	}
	return &Orchestrator{
		engines: engines,
		opts:    opts,
		log:     logger.WithComponent("orchestrator"),
	}
}

// Engines returns the engine names in preference order.
func (o *Orchestrator) Engines() []string {
	names := make([]string, len(o.engines))
	for i, e := range o.engines {
		names[i] = e.Name()
	}
	return names
}

// ExtractRawText recognizes page with each engine in turn. Engines that
// implement ocr.PageSelector and do not handle page are skipped without an
// attempt. Engine failures are recorded, never returned; an error is
// returned only when ctx itself is done before any engine ran.
func (o *Orchestrator) ExtractRawText(ctx context.Context, page document.PageRaster) (*RawText, error) {
	result := &RawText{}

	for _, engine := range o.engines {
		if err := ctx.Err(); err != nil {
			if len(result.Attempts) == 0 {
				return nil, err
			}
			o.log.Warn().Err(err).Msg("Context done, skipping remaining engines")
			break
		}

		if sel, ok := engine.(ocr.PageSelector); ok && !sel.Handles(page) {
			o.log.Debug().Str("engine", engine.Name()).Int("page", page.Page).Msg("Engine does not apply to page, skipping")
			continue
		}

		attempt := o.Attempt(ctx, engine, page)
		attempt.Accepted = o.accepts(attempt)
		result.Attempts = append(result.Attempts, attempt)

		o.log.Info().
			Str("engine", attempt.Engine).
			Int("page", attempt.Page).
			Str("outcome", string(attempt.Outcome)).
			Float64("confidence", attempt.Confidence).
			Int("text_length", utf8.RuneCountInString(strings.TrimSpace(attempt.Text))).
			Bool("accepted", attempt.Accepted).
			Dur("duration", attempt.Duration).
			Msg("Engine attempt finished")

		if attempt.Accepted {
			last := &result.Attempts[len(result.Attempts)-1]
			result.Winner, result.Best = last, last
			return result, nil
		}
	}

	result.Best = bestAttempt(result.Attempts)
	o.log.Warn().
		Int("attempts", len(result.Attempts)).
		Bool("has_text", result.Best != nil).
		Msg("No engine met the acceptance thresholds")

	return result, nil
}

// Attempt runs one engine on one page under the per-call timeout. The call
// runs in its own goroutine so an engine that ignores ctx cannot block the
// caller past the deadline.
func (o *Orchestrator) Attempt(ctx context.Context, engine ocr.Engine, page document.PageRaster) models.EngineAttempt {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.EngineTimeout)
	defer cancel()

	type reply struct {
		rec *ocr.Recognition
		err error
	}
	done := make(chan reply, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: ocr.WrapEngineError(engine.Name(), "Recognize", ocr.ErrProviderFailed, fmt.Sprintf("panic: %v", r))}
			}
		}()
		rec, err := engine.Recognize(callCtx, page)
		done <- reply{rec: rec, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			r.err = ocr.WrapEngineError(engine.Name(), "Recognize", ocr.ErrTimeout, callCtx.Err().Error())
		} else {
			r.err = ocr.WrapEngineError(engine.Name(), "Recognize", ocr.ErrProviderFailed, callCtx.Err().Error())
		}
	}

	attempt := models.EngineAttempt{
		Engine:   engine.Name(),
		Page:     page.Page,
		Duration: time.Since(start),
	}

	switch {
	case r.err != nil:
		attempt.Err = r.err
		if ocr.IsTimeout(r.err) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			attempt.Outcome = models.OutcomeTimeout
		} else {
			attempt.Outcome = models.OutcomeProviderError
		}
	case r.rec.Empty():
		attempt.Outcome = models.OutcomeEmpty
	default:
		attempt.Outcome = models.OutcomeSuccess
		attempt.Text = r.rec.Text
		attempt.Confidence = clamp(r.rec.Confidence)
		attempt.Lines = r.rec.Lines
	}

	metrics.ObserveAttempt(attempt)
	return attempt
}

func (o *Orchestrator) accepts(a models.EngineAttempt) bool {
	if a.Outcome != models.OutcomeSuccess {
		return false
	}
	length := utf8.RuneCountInString(strings.TrimSpace(a.Text))
	return length > o.opts.MinTextLength && a.Confidence > o.opts.MinConfidence
}

// bestAttempt picks the highest-confidence attempt that produced text,
// preferring longer text on ties.
func bestAttempt(attempts []models.EngineAttempt) *models.EngineAttempt {
	var best *models.EngineAttempt
	for i := range attempts {
		a := &attempts[i]
		if a.Outcome != models.OutcomeSuccess {
			continue
		}
		if best == nil || a.Confidence > best.Confidence ||
			(a.Confidence == best.Confidence && len(a.Text) > len(best.Text)) {
			best = a
		}
	}
	return best
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}
