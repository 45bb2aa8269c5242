package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/rs/zerolog"

	"docfields/internal/document"
	"docfields/internal/logger"
	"docfields/pkg/models"
)

// AzureFixedConfidence is reported for every Azure recognition. The printed
// text OCR endpoint returns no confidence values, so a fixed estimate that
// sits above the default acceptance threshold is used instead.
const AzureFixedConfidence = 75.0

// printedTextRecognizer is the subset of computervision.BaseClient used here.
type printedTextRecognizer interface {
	RecognizePrintedTextInStream(ctx context.Context, detectOrientation bool, imageParameter io.ReadCloser, language computervision.OcrLanguages) (computervision.OcrResult, error)
}

// AzureVisionConfig configures the Azure Computer Vision engine.
type AzureVisionConfig struct {
	Endpoint      string
	Key           string
	Language      string
	MaxImageBytes int
}

// AzureVisionEngine recognizes printed text with Azure Computer Vision.
type AzureVisionEngine struct {
	client   printedTextRecognizer
	language computervision.OcrLanguages
	maxBytes int
	log      zerolog.Logger
}

// NewAzureVisionEngine creates the engine with a key-authorized client.
func NewAzureVisionEngine(cfg AzureVisionConfig) (*AzureVisionEngine, error) {
	const op = "NewAzureVisionEngine"

	if cfg.Endpoint == "" || cfg.Key == "" {
		return nil, WrapEngineError(EngineAzureVision, op, ErrMissingCredentials, "AZURE_VISION_ENDPOINT and AZURE_VISION_KEY are required")
	}

	client := computervision.New(cfg.Endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(cfg.Key)

	return newAzureVisionEngine(client, cfg), nil
}

func newAzureVisionEngine(client printedTextRecognizer, cfg AzureVisionConfig) *AzureVisionEngine {
	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = AzureMaxUploadBytes
	}
	lang := computervision.OcrLanguages(cfg.Language)
	if lang == "" {
		lang = computervision.OcrLanguagesUnk
	}
	return &AzureVisionEngine{
		client:   client,
		language: lang,
		maxBytes: maxBytes,
		log:      logger.WithComponent(EngineAzureVision),
	}
}

// Name implements Engine.
func (a *AzureVisionEngine) Name() string { return EngineAzureVision }

// Recognize implements Engine.
func (a *AzureVisionEngine) Recognize(ctx context.Context, page document.PageRaster) (*Recognition, error) {
	const op = "Recognize"

	content, _, err := encodeForUpload(page.Image, a.maxBytes)
	if err != nil {
		return nil, WrapEngineError(EngineAzureVision, op, err, "")
	}

	result, err := a.client.RecognizePrintedTextInStream(ctx, true, io.NopCloser(bytes.NewReader(content)), a.language)
	if err != nil {
		return nil, azureError(op, err)
	}

	rec := azureRecognition(result)
	a.log.Debug().
		Int("page", page.Page).
		Int("lines", len(rec.Lines)).
		Msg("Azure recognition complete")

	return rec, nil
}

// azureRecognition flattens regions into lines. Regions are separated by a
// blank line.
func azureRecognition(result computervision.OcrResult) *Recognition {
	rec := &Recognition{}
	if result.Regions == nil {
		return rec
	}

	var text strings.Builder
	for i, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		if i > 0 && text.Len() > 0 {
			text.WriteString("\n")
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			words := make([]string, 0, len(*line.Words))
			for _, w := range *line.Words {
				if w.Text != nil && *w.Text != "" {
					words = append(words, *w.Text)
				}
			}
			if len(words) == 0 {
				continue
			}
			l := strings.Join(words, " ")
			text.WriteString(l)
			text.WriteString("\n")
			rec.Lines = append(rec.Lines, models.TextLine{Text: l, Confidence: AzureFixedConfidence})
		}
	}

	rec.Text = text.String()
	if len(rec.Lines) > 0 {
		rec.Confidence = AzureFixedConfidence
	}
	return rec
}

func azureError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapEngineError(EngineAzureVision, op, ErrTimeout, err.Error())
	}

	var detailed autorest.DetailedError
	if errors.As(err, &detailed) {
		if code, ok := detailed.StatusCode.(int); ok {
			switch code {
			case http.StatusTooManyRequests:
				return WrapEngineError(EngineAzureVision, op, ErrQuotaExceeded, detailed.Message)
			case http.StatusUnauthorized, http.StatusForbidden:
				return WrapEngineError(EngineAzureVision, op, ErrInvalidCredentials, detailed.Message)
			default:
				return WrapEngineError(EngineAzureVision, op, ErrProviderFailed, fmt.Sprintf("HTTP %d: %s", code, detailed.Message))
			}
		}
	}

	return WrapEngineError(EngineAzureVision, op, ErrProviderFailed, err.Error())
}
