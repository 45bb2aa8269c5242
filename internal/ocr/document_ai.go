package ocr

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"docfields/internal/document"
	"docfields/internal/logger"
	"docfields/pkg/models"
)

// documentProcessor is the subset of *documentai.DocumentProcessorClient used here.
type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIConfig configures the Document AI OCR engine.
type DocumentAIConfig struct {
	Credentials      GoogleCredentials
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	MaxImageBytes    int
}

// ProcessorName returns the fully qualified processor resource name.
func (c DocumentAIConfig) ProcessorName() string {
	if c.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			c.ProjectID, c.Location, c.ProcessorID, c.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		c.ProjectID, c.Location, c.ProcessorID)
}

// DocumentAIEngine recognizes text with a Document AI OCR processor.
type DocumentAIEngine struct {
	client   documentProcessor
	name     string
	maxBytes int
	log      zerolog.Logger
}

// NewDocumentAIEngine creates the engine with a regional Document AI client.
func NewDocumentAIEngine(ctx context.Context, cfg DocumentAIConfig) (*DocumentAIEngine, error) {
	const op = "NewDocumentAIEngine"

	if cfg.ProjectID == "" || cfg.ProcessorID == "" {
		return nil, WrapEngineError(EngineDocumentAI, op, ErrMissingCredentials, "GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID are required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}

	var clientOptions []option.ClientOption
	if cfg.Location != "us" {
		clientOptions = append(clientOptions, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)))
	}
	clientOptions = append(clientOptions, cfg.Credentials.clientOptions()...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, WrapEngineError(EngineDocumentAI, op, err,
			fmt.Sprintf("failed to create Document AI client for location %s with %s", cfg.Location, cfg.Credentials.source()))
	}

	return newDocumentAIEngine(client, cfg), nil
}

func newDocumentAIEngine(client documentProcessor, cfg DocumentAIConfig) *DocumentAIEngine {
	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &DocumentAIEngine{
		client:   client,
		name:     cfg.ProcessorName(),
		maxBytes: maxBytes,
		log:      logger.WithComponent(EngineDocumentAI),
	}
}

// Name implements Engine.
func (d *DocumentAIEngine) Name() string { return EngineDocumentAI }

// Recognize implements Engine.
func (d *DocumentAIEngine) Recognize(ctx context.Context, page document.PageRaster) (*Recognition, error) {
	const op = "Recognize"

	content, mimeType, err := encodeForUpload(page.Image, d.maxBytes)
	if err != nil {
		return nil, WrapEngineError(EngineDocumentAI, op, err, "")
	}

	req := &documentaipb.ProcessRequest{
		Name: d.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	}

	resp, err := d.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, grpcError(EngineDocumentAI, op, err)
	}

	rec := documentRecognition(resp.GetDocument())
	d.log.Debug().
		Int("page", page.Page).
		Int("lines", len(rec.Lines)).
		Float64("confidence", rec.Confidence).
		Msg("Document AI recognition complete")

	return rec, nil
}

// Close closes the underlying Document AI client.
func (d *DocumentAIEngine) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// documentRecognition resolves page lines through their text anchors.
func documentRecognition(doc *documentaipb.Document) *Recognition {
	if doc == nil {
		return &Recognition{}
	}

	text := doc.GetText()
	rec := &Recognition{Text: text}

	var pageConf float64
	for _, page := range doc.GetPages() {
		pageConf += float64(page.GetLayout().GetConfidence())
		for _, line := range page.GetLines() {
			t := strings.TrimSpace(anchorText(text, line.GetLayout().GetTextAnchor()))
			if t == "" {
				continue
			}
			rec.Lines = append(rec.Lines, models.TextLine{
				Text:       t,
				Confidence: float64(line.GetLayout().GetConfidence()) * 100,
			})
		}
	}

	switch {
	case len(rec.Lines) > 0:
		rec.Confidence = clampConfidence(meanConfidence(rec.Lines))
	case len(doc.GetPages()) > 0:
		rec.Confidence = clampConfidence(pageConf / float64(len(doc.GetPages())) * 100)
	}
	return rec
}

func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return b.String()
}
