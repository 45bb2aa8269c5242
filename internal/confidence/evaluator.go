// Package confidence scores an extraction on a 0-100 scale.
package confidence

import (
	"math"

	"docfields/pkg/models"
)

const (
	// DefaultMissingFieldPenalty is subtracted for each missing critical field.
	DefaultMissingFieldPenalty = 25

	// StructuredBase is the starting score for documents parsed from XML.
	StructuredBase = 100
)

// Evaluator derives the final confidence from the engine's confidence and
// the completeness of the critical fields (total, vendor, tax id).
type Evaluator struct {
	penalty int
}

// NewEvaluator creates an Evaluator. A non-positive penalty selects the default.
func NewEvaluator(penalty int) *Evaluator {
	if penalty <= 0 {
		penalty = DefaultMissingFieldPenalty
	}
	return &Evaluator{penalty: penalty}
}

// Evaluate returns the confidence score. The base is 100 for the XML path,
// the attempt's confidence for OCR, and 0 when OCR produced no attempt at
// all. Each missing critical field costs one penalty, the score never goes
// below zero, and it is zero outright when neither total nor vendor was found.
func (e *Evaluator) Evaluate(fields *models.ExtractedFields, attempt *models.EngineAttempt, source models.Source) int {
	if fields == nil || !fields.Usable() {
		return 0
	}

	var base float64
	switch {
	case source == models.SourceXML:
		base = StructuredBase
	case attempt != nil:
		base = attempt.Confidence
	}

	score := int(math.Round(base)) - e.penalty*len(fields.MissingCritical())
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
