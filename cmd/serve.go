package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docfields/internal/logger"
	"docfields/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the extraction pipeline over HTTP",
	Long: `Start an HTTP server exposing:

  POST /v1/extractions  multipart "file" upload or JSON {id, filename, media_type, content_base64}
  GET  /healthz         liveness and configured engines
  GET  /metrics         Prometheus metrics`,
	Example: `  docfields serve --addr :9000

  curl -F file=@ticket.jpg http://localhost:9000/v1/extractions`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: LISTEN_ADDR or :8080)")
	serveCmd.Flags().Int("request-timeout", 120, "Per-request timeout in seconds")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.ListenAddr
	}
	requestTimeout, _ := cmd.Flags().GetInt("request-timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close engines")
		}
	}()

	srvCfg := server.DefaultConfig()
	srvCfg.RequestTimeout = time.Duration(requestTimeout) * time.Second
	if upload := cfg.MaxDocumentBytes*4/3 + 1<<20; upload > srvCfg.MaxUploadBytes {
		srvCfg.MaxUploadBytes = upload
	}

	return server.New(p, srvCfg).Run(ctx, addr)
}
