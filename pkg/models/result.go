package models

import (
	"encoding/json"
	"time"
)

// Outcome classifies one engine invocation.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeEmpty         Outcome = "empty"
	OutcomeProviderError Outcome = "provider_error"
	OutcomeTimeout       Outcome = "timeout"
)

// Source tells which path produced the fields.
type Source string

const (
	SourceOCR Source = "ocr"
	SourceXML Source = "xml"
)

// StructuredEngine is reported as engine_used for the XML path.
const StructuredEngine = "cfdi-xml"

// TextLine is one recognized line with its engine confidence (0-100).
type TextLine struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// EngineAttempt records one adapter invocation for one page.
type EngineAttempt struct {
	Engine     string
	Page       int // 1-based
	Text       string
	Confidence float64 // 0-100
	Lines      []TextLine
	Duration   time.Duration
	Outcome    Outcome
	Accepted   bool
	Err        error
}

// MarshalJSON emits a compact attempt summary; the raw text travels once, on the result.
func (a EngineAttempt) MarshalJSON() ([]byte, error) {
	var errMsg *string
	if a.Err != nil {
		s := a.Err.Error()
		errMsg = &s
	}
	return json.Marshal(struct {
		Engine     string  `json:"engine"`
		Page       int     `json:"page"`
		Outcome    Outcome `json:"outcome"`
		Accepted   bool    `json:"accepted"`
		Confidence float64 `json:"confidence"`
		TextLength int     `json:"text_length"`
		Lines      int     `json:"lines"`
		DurationMS int64   `json:"duration_ms"`
		Error      *string `json:"error"`
	}{
		Engine:     a.Engine,
		Page:       a.Page,
		Outcome:    a.Outcome,
		Accepted:   a.Accepted,
		Confidence: a.Confidence,
		TextLength: len(a.Text),
		Lines:      len(a.Lines),
		DurationMS: a.Duration.Milliseconds(),
		Error:      errMsg,
	})
}

// ExtractionResult is the only object handed back to callers.
type ExtractionResult struct {
	RequestID  string          `json:"request_id"`
	Fields     ExtractedFields `json:"fields"`
	Confidence int             `json:"confidence"`
	EngineUsed *string         `json:"engine_used"`
	Source     Source          `json:"source"`
	Degraded   bool            `json:"degraded"`
	RawText    string          `json:"raw_text"`
	Timestamp  time.Time       `json:"timestamp"`
	Attempts   []EngineAttempt `json:"attempts"`
	Warnings   []string        `json:"warnings,omitempty"`

	// WinningAttempt is the attempt whose text was used: the accepted one,
	// or the best rejected one for degraded results. Nil for XML.
	WinningAttempt *EngineAttempt `json:"-"`
}
