package ocr

import (
	"context"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"docfields/internal/document"
	"docfields/internal/logger"
	"docfields/pkg/models"
)

// imageAnnotator is the subset of *vision.ImageAnnotatorClient used here.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// GoogleCredentials selects how the Google clients authenticate.
type GoogleCredentials struct {
	// JSON holds inline service account credentials (GOOGLE_CREDENTIALS).
	JSON string

	// File is a service account file path (GOOGLE_APPLICATION_CREDENTIALS).
	File string
}

func (c GoogleCredentials) clientOptions() []option.ClientOption {
	switch {
	case c.JSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(c.JSON))}
	case c.File != "":
		return []option.ClientOption{option.WithCredentialsFile(c.File)}
	default:
		return nil
	}
}

func (c GoogleCredentials) source() string {
	switch {
	case c.JSON != "":
		return "GOOGLE_CREDENTIALS"
	case c.File != "":
		return "GOOGLE_APPLICATION_CREDENTIALS"
	default:
		return "application default credentials"
	}
}

// GoogleVisionConfig configures the Cloud Vision engine.
type GoogleVisionConfig struct {
	Credentials   GoogleCredentials
	LanguageHints []string
	MaxImageBytes int
}

// GoogleVisionEngine recognizes text with Cloud Vision DOCUMENT_TEXT_DETECTION.
type GoogleVisionEngine struct {
	client   imageAnnotator
	hints    []string
	maxBytes int
	log      zerolog.Logger
}

// NewGoogleVisionEngine creates the engine and its Vision client.
func NewGoogleVisionEngine(ctx context.Context, cfg GoogleVisionConfig) (*GoogleVisionEngine, error) {
	const op = "NewGoogleVisionEngine"

	client, err := vision.NewImageAnnotatorClient(ctx, cfg.Credentials.clientOptions()...)
	if err != nil {
		if cfg.Credentials.JSON == "" && cfg.Credentials.File == "" {
			return nil, WrapEngineError(EngineGoogleVision, op, ErrMissingCredentials, err.Error())
		}
		return nil, WrapEngineError(EngineGoogleVision, op, err, "failed to create client with "+cfg.Credentials.source())
	}

	return newGoogleVisionEngine(client, cfg), nil
}

func newGoogleVisionEngine(client imageAnnotator, cfg GoogleVisionConfig) *GoogleVisionEngine {
	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &GoogleVisionEngine{
		client:   client,
		hints:    cfg.LanguageHints,
		maxBytes: maxBytes,
		log:      logger.WithComponent(EngineGoogleVision),
	}
}

// Name implements Engine.
func (g *GoogleVisionEngine) Name() string { return EngineGoogleVision }

// Recognize implements Engine.
func (g *GoogleVisionEngine) Recognize(ctx context.Context, page document.PageRaster) (*Recognition, error) {
	const op = "Recognize"

	content, _, err := encodeForUpload(page.Image, g.maxBytes)
	if err != nil {
		return nil, WrapEngineError(EngineGoogleVision, op, err, "")
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: content},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	}
	if len(g.hints) > 0 {
		req.Requests[0].ImageContext = &visionpb.ImageContext{LanguageHints: g.hints}
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, grpcError(EngineGoogleVision, op, err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, WrapEngineError(EngineGoogleVision, op, ErrProviderFailed, "no response from Vision API")
	}

	imageResp := resp.GetResponses()[0]
	if e := imageResp.GetError(); e != nil && e.GetCode() != 0 {
		return nil, WrapEngineError(EngineGoogleVision, op, ErrProviderFailed, "Vision API error: "+e.GetMessage())
	}

	rec := visionRecognition(imageResp.GetFullTextAnnotation())
	g.log.Debug().
		Int("page", page.Page).
		Int("lines", len(rec.Lines)).
		Float64("confidence", rec.Confidence).
		Msg("Vision recognition complete")

	return rec, nil
}

// Close closes the underlying Vision client.
func (g *GoogleVisionEngine) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// visionRecognition converts a full text annotation into lines with word
// level confidences averaged per line.
func visionRecognition(ann *visionpb.TextAnnotation) *Recognition {
	if ann == nil {
		return &Recognition{}
	}

	var lines []models.TextLine
	var wordConfSum float64
	var wordCount int

	for _, page := range ann.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				var text strings.Builder
				var confSum float64
				var confCount int

				flush := func() {
					t := strings.TrimSpace(text.String())
					if t != "" {
						line := models.TextLine{Text: t}
						if confCount > 0 {
							line.Confidence = confSum / float64(confCount) * 100
						}
						lines = append(lines, line)
					}
					text.Reset()
					confSum, confCount = 0, 0
				}

				for _, word := range para.GetWords() {
					if c := word.GetConfidence(); c > 0 {
						confSum += float64(c)
						confCount++
						wordConfSum += float64(c)
						wordCount++
					}
					for _, sym := range word.GetSymbols() {
						text.WriteString(sym.GetText())
						switch sym.GetProperty().GetDetectedBreak().GetType() {
						case visionpb.TextAnnotation_DetectedBreak_SPACE,
							visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
							text.WriteByte(' ')
						case visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE,
							visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
							flush()
						}
					}
				}
				flush()
			}
		}
	}

	rec := &Recognition{Text: ann.GetText(), Lines: lines}
	switch {
	case wordCount > 0:
		rec.Confidence = clampConfidence(wordConfSum / float64(wordCount) * 100)
	case strings.TrimSpace(rec.Text) != "":
		rec.Confidence = meanConfidence(lines)
	}
	return rec
}
