package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docfields/internal/document"
	"docfields/internal/logger"
	"docfields/internal/pipeline"
	"docfields/pkg/models"
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Extract fields from a receipt image, scanned PDF or CFDI XML",
	Long: `Run the extraction pipeline on a single document.

Images (JPEG, PNG, TIFF, BMP, WebP) and PDFs are recognized with the engines in
ENGINE_ORDER; the first engine that returns enough text with enough confidence
wins, later engines are only called when earlier ones fail or are rejected.
CFDI XML invoices are parsed directly.

Engine credentials:
  GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS - google-vision, document-ai
  AZURE_VISION_ENDPOINT and AZURE_VISION_KEY           - azure-vision
  TESSERACT_PATH (default: tesseract on PATH)          - tesseract`,
	Example: `  # Print a field summary
  docfields extract ticket.jpg

  # Full JSON result including the attempt log
  docfields extract factura.pdf --json -o result.json

  # CFDI invoice, with a caller supplied request id
  docfields extract factura.xml --id order-1234 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Bool("json", false, "Output the full result as JSON")
	extractCmd.Flags().String("id", "", "Request id (default: random UUID)")
	extractCmd.Flags().String("media-type", "", "Declared media type, e.g. application/pdf (default: detect)")
	extractCmd.Flags().Bool("raw-text", false, "Append the recognized text to the summary")
	extractCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	requestID, _ := cmd.Flags().GetString("id")
	mediaType, _ := cmd.Flags().GetString("media-type")
	showRawText, _ := cmd.Flags().GetBool("raw-text")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	path := args[0]
	doc, err := readDocument(path, mediaType)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(cmd.Context(), timeoutSecs, log)
	defer cancel()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close engines")
		}
	}()

	result, err := p.Extract(ctx, pipeline.Request{ID: requestID, Document: doc})
	if err != nil {
		return handleExtractError(err, log)
	}

	var out []byte
	if jsonOutput {
		out, err = json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
	} else {
		out = []byte(formatSummary(filepath.Base(path), result, showRawText))
	}

	return writeOutput(out, outputPath, log)
}

// readDocument loads a file into a SourceDocument.
func readDocument(path, declaredType string) (document.SourceDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return document.SourceDocument{}, fmt.Errorf("file not found: %s", path)
		}
		return document.SourceDocument{}, fmt.Errorf("error accessing file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return document.SourceDocument{}, fmt.Errorf("path is not a regular file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return document.SourceDocument{}, fmt.Errorf("failed to read file: %w", err)
	}
	return document.NewSourceDocument(data, filepath.Base(path), declaredType), nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(parent context.Context, timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling extraction")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// handleExtractError provides user-friendly messages for rejected documents
func handleExtractError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Extraction failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("extraction timed out. Try increasing --timeout")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("extraction was canceled")
	case errors.Is(err, document.ErrUnsupportedMediaType):
		return fmt.Errorf("unsupported document type. Supported: JPEG, PNG, TIFF, BMP, WebP, PDF and CFDI XML: %w", err)
	case errors.Is(err, document.ErrUnsupportedPageCount):
		return fmt.Errorf("PDF has too many or no pages (maximum %d, see MAX_PAGES): %w", cfg.MaxPages, err)
	case errors.Is(err, document.ErrDocumentTooLarge):
		return fmt.Errorf("document is larger than MAX_DOCUMENT_BYTES (%d bytes): %w", cfg.MaxDocumentBytes, err)
	case errors.Is(err, document.ErrEmptyDocument):
		return fmt.Errorf("document is empty")
	case errors.Is(err, document.ErrMalformedDocument):
		return fmt.Errorf("document could not be decoded. Please check the file integrity: %w", err)
	default:
		return fmt.Errorf("extraction failed: %w", err)
	}
}

func formatSummary(name string, result *models.ExtractionResult, showRawText bool) string {
	var b strings.Builder

	engine := "none"
	if result.EngineUsed != nil {
		engine = *result.EngineUsed
	}

	fmt.Fprintf(&b, "=== %s ===\n", name)
	fmt.Fprintf(&b, "Request:        %s\n", result.RequestID)
	fmt.Fprintf(&b, "Source:         %s\n", result.Source)
	fmt.Fprintf(&b, "Engine:         %s\n", engine)
	fmt.Fprintf(&b, "Confidence:     %d\n", result.Confidence)
	if result.Degraded {
		b.WriteString("Degraded:       yes (no engine met the thresholds)\n")
	}
	b.WriteString("\n")

	f := result.Fields
	fmt.Fprintf(&b, "Vendor:         %s\n", orDash(f.VendorName))
	fmt.Fprintf(&b, "RFC:            %s\n", orDash(f.TaxID))
	fmt.Fprintf(&b, "Date:           %s\n", orDash(f.Date))
	fmt.Fprintf(&b, "Subtotal:       %s\n", amountOrDash(f.Subtotal))
	fmt.Fprintf(&b, "Tax:            %s\n", amountOrDash(f.TaxAmount))
	fmt.Fprintf(&b, "Total:          %s\n", amountOrDash(f.Total))
	fmt.Fprintf(&b, "Payment method: %s\n", orDash(f.PaymentMethod))

	if len(f.LineItems) > 0 {
		b.WriteString("\nLine items:\n")
		for _, item := range f.LineItems {
			fmt.Fprintf(&b, "  %6s x %-40s %10s\n", item.Quantity.String(), item.Description, item.UnitPrice.String())
		}
	}

	if len(result.Attempts) > 0 {
		b.WriteString("\nAttempts:\n")
		for _, a := range result.Attempts {
			fmt.Fprintf(&b, "  page %d  %-14s %-9s conf %5.1f  %d chars  %s\n",
				a.Page, a.Engine, a.Outcome, a.Confidence, len([]rune(a.Text)), a.Duration.Round(time.Millisecond))
		}
	}

	if showRawText && result.RawText != "" {
		b.WriteString("\n=== Recognized Text ===\n\n")
		b.WriteString(result.RawText)
		b.WriteString("\n")
	}

	return b.String()
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func amountOrDash(a *models.Amount) string {
	if a == nil {
		return "-"
	}
	return a.String()
}

func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", outputPath).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}

	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(data)).
		Msg("Result written to file")
	return nil
}
