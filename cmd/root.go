package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docfields/internal/config"
	"docfields/internal/logger"
)

var version = "0.3.0"

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "docfields",
	Short: "Extract structured fields from receipts and invoices",
	Long: `docfields turns receipt photos, scanned PDFs and CFDI XML invoices into
structured fields (vendor, RFC, date, subtotal, tax, total, payment method and
line items) with a 0-100 confidence score.

Raster documents are recognized with a prioritized list of OCR engines
(ENGINE_ORDER); the first engine whose text passes the length and confidence
thresholds wins. CFDI XML is parsed directly without OCR.

Configuration is read from the environment (a .env file is loaded first) and
an optional docfields.yaml in the working or home directory.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")

		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := logger.Setup(loaded.LoggerConfig()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg = loaded
		return nil
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./docfields.yaml or $HOME/docfields.yaml)")
}
