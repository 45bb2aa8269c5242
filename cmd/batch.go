package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docfields/internal/logger"
	"docfields/internal/pipeline"
	"docfields/pkg/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Extract fields from every supported document in a folder",
	Long: `Run the extraction pipeline on all images, PDFs and XML files in a folder
(recursively). Documents are processed concurrently; each one produces one
JSON line, in input order, with either the result or the error.`,
	Example: `  # Process a folder with the default worker count
  docfields batch ./tickets -o results.jsonl

  # Limit concurrency to stay under provider quotas
  docfields batch ./tickets --workers 2`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

// BatchLine is one line of batch output.
type BatchLine struct {
	File   string                   `json:"file"`
	Result *models.ExtractionResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

var batchExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true,
	".bmp": true, ".webp": true, ".gif": true, ".pdf": true, ".xml": true,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("output", "o", "", "Output JSONL file (default: stdout)")
	batchCmd.Flags().Int("workers", runtime.NumCPU(), "Number of documents processed in parallel")
	batchCmd.Flags().Int("timeout", 300, "Per-document timeout in seconds")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	folderPath := args[0]
	outputPath, _ := cmd.Flags().GetString("output")
	workers, _ := cmd.Flags().GetInt("workers")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	if workers < 1 {
		workers = 1
	}

	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	files, err := findDocuments(folderPath)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if len(files) == 0 {
		log.Warn().Str("folder", folderPath).Msg("No supported documents found")
		return nil
	}

	ctx, cancel := createContextWithTimeout(cmd.Context(), timeoutSecs*len(files), log)
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

	var out io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	log.Info().
		Str("folder", folderPath).
		Int("documents", len(files)).
		Int("workers", workers).
		Msg("Starting batch extraction")

	start := time.Now()
	lines := processDocuments(ctx, p, files, workers, time.Duration(timeoutSecs)*time.Second, log)

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	failed := 0
	for _, line := range lines {
		if line.Error != "" {
			failed++
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	log.Info().
		Int("documents", len(files)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch extraction completed")
	return nil
}

// findDocuments lists supported documents below folderPath in lexical order.
func findDocuments(folderPath string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(folderPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && batchExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// processDocuments extracts every file with at most workers in flight.
// Per-document failures are reported in the line, never abort the batch.
func processDocuments(ctx context.Context, p *pipeline.Pipeline, files []string, workers int, perDoc time.Duration, log zerolog.Logger) []BatchLine {
	lines := make([]BatchLine, len(files))

	var (
		mu        sync.Mutex
		processed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range files {
		g.Go(func() error {
			line := BatchLine{File: path}

			docCtx, cancel := context.WithTimeout(gctx, perDoc)
			defer cancel()

			doc, err := readDocument(path, "")
			if err == nil {
				line.Result, err = p.Extract(docCtx, pipeline.Request{Document: doc})
			}
			if err != nil {
				line.Error = err.Error()
			}
			lines[i] = line

			mu.Lock()
			processed++
			event := log.Info()
			if err != nil {
				event = log.Warn().Err(err)
			}
			event.
				Int("done", processed).
				Int("total", len(files)).
				Str("file", filepath.Base(path)).
				Msg("Document processed")
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()
	return lines
}
