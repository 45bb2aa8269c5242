// Package server exposes the extraction pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"docfields/internal/document"
	"docfields/internal/logger"
	"docfields/internal/metrics"
	"docfields/internal/pipeline"
	"docfields/pkg/models"
)

const (
	// DefaultRequestTimeout bounds a single extraction request.
	DefaultRequestTimeout = 2 * time.Minute

	// DefaultShutdownTimeout is how long Run waits for in-flight requests.
	DefaultShutdownTimeout = 15 * time.Second

	requestIDHeader = "X-Request-ID"
)

// Extractor runs one extraction. *pipeline.Pipeline satisfies it.
type Extractor interface {
	Extract(ctx context.Context, req pipeline.Request) (*models.ExtractionResult, error)
	Engines() []string
}

// Config holds server limits.
type Config struct {
	// MaxUploadBytes caps request bodies. Base64 JSON bodies are about a
	// third larger than the document they carry.
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

// DefaultConfig returns limits matching the normalizer defaults.
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes: document.DefaultMaxDocumentBytes*4/3 + 1<<20,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Server is the HTTP surface of the pipeline.
type Server struct {
	extractor Extractor
	cfg       Config
	router    *gin.Engine
	log       zerolog.Logger
}

// New builds a Server with its routes registered.
func New(extractor Extractor, cfg Config) *Server {
	defaults := DefaultConfig()
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaults.MaxUploadBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}

	s := &Server{
		extractor: extractor,
		cfg:       cfg,
		log:       logger.WithComponent("server"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	router.MaxMultipartMemory = cfg.MaxUploadBytes

	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.POST("/v1/extractions", s.extract)

	s.router = router
	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Strs("engines", s.extractor.Engines()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := s.log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.log.Error()
		} else if c.Writer.Status() >= http.StatusBadRequest {
			event = s.log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Str("request_id", c.GetString("request_id")).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"engines": s.extractor.Engines(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
