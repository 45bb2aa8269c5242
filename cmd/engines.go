package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"docfields/internal/confidence"
	"docfields/internal/config"
	"docfields/internal/document"
	"docfields/internal/fields"
	"docfields/internal/logger"
	"docfields/internal/ocr"
	"docfields/internal/pipeline"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List the configured OCR engines and whether they can be used",
	Long: `Show ENGINE_ORDER together with the status of each engine under the
current credentials. Engines that cannot be constructed are skipped by the
extract, batch and serve commands.`,
	Args: cobra.NoArgs,
	RunE: runEngines,
}

func init() {
	rootCmd.AddCommand(enginesCmd)
}

func runEngines(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tENGINE\tSTATUS")
	for i, name := range cfg.EngineOrder {
		status := "ready"
		engine, err := newEngine(ctx, cfg, name)
		switch {
		case err != nil:
			status = "unavailable: " + err.Error()
		default:
			if t, ok := engine.(*ocr.TesseractEngine); ok && !t.Available() {
				status = "unavailable: binary not found"
			}
			closeEngine(engine, logger.WithComponent("engines"))
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, name, status)
	}
	return w.Flush()
}

// newEngine constructs a single engine by name.
func newEngine(ctx context.Context, cfg *config.Config, name string) (ocr.Engine, error) {
	switch name {
	case ocr.EngineTextLayer:
		return ocr.NewTextLayerEngine(), nil
	case ocr.EngineGoogleVision:
		return ocr.NewGoogleVisionEngine(ctx, cfg.VisionConfig())
	case ocr.EngineAzureVision:
		return ocr.NewAzureVisionEngine(cfg.AzureConfig())
	case ocr.EngineDocumentAI:
		return ocr.NewDocumentAIEngine(ctx, cfg.DocumentAIConfig())
	case ocr.EngineTesseract:
		return ocr.NewTesseractEngine(cfg.TesseractConfig()), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", name)
	}
}

// buildEngines constructs ENGINE_ORDER, skipping engines that fail.
func buildEngines(ctx context.Context, cfg *config.Config, log zerolog.Logger) ([]ocr.Engine, error) {
	engines := make([]ocr.Engine, 0, len(cfg.EngineOrder))
	for _, name := range cfg.EngineOrder {
		engine, err := newEngine(ctx, cfg, name)
		if err != nil {
			log.Warn().Err(err).Str("engine", name).Msg("Skipping engine")
			continue
		}
		if t, ok := engine.(*ocr.TesseractEngine); ok && !t.Available() {
			log.Warn().Str("engine", name).Msg("Tesseract binary not found, attempts will fail")
		}
		engines = append(engines, engine)
	}

	if len(engines) == 0 {
		return nil, errors.New("no OCR engine could be configured, check ENGINE_ORDER and credentials")
	}
	return engines, nil
}

// buildPipeline wires the full extraction pipeline from configuration.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, error) {
	log := logger.WithComponent("setup")

	catalog := fields.DefaultCatalog()
	if cfg.VendorCatalog != "" {
		loaded, err := fields.LoadCatalog(cfg.VendorCatalog)
		if err != nil {
			return nil, err
		}
		catalog = loaded
		log.Info().Str("path", cfg.VendorCatalog).Int("vendors", catalog.Len()).Msg("Loaded vendor catalog")
	}

	engines, err := buildEngines(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	p := pipeline.New(
		document.NewNormalizer(cfg.NormalizerOptions()),
		pipeline.NewOrchestrator(engines, cfg.OrchestratorOptions()),
		fields.NewExtractor(catalog),
		confidence.NewEvaluator(cfg.MissingFieldPenalty),
		cfg.PipelineOptions(),
	)

	log.Info().Strs("engines", p.Engines()).Msg("Pipeline ready")
	return p, nil
}

func closeEngine(engine ocr.Engine, log zerolog.Logger) {
	if c, ok := engine.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("engine", engine.Name()).Msg("Failed to close engine")
		}
	}
}
