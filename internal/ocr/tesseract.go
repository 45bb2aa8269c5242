package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"docfields/internal/document"
	"docfields/internal/logger"
	"docfields/pkg/models"
)

// TesseractConfig configures the local tesseract engine.
type TesseractConfig struct {
	Binary      string // binary name or absolute path; default "tesseract"
	Lang        string // default "spa+eng"
	TessdataDir string
	PSM         int // page segmentation mode, 0 leaves tesseract's default
	OEM         int // engine mode, 0 leaves tesseract's default
}

// TesseractEngine runs the tesseract CLI and parses its TSV output.
type TesseractEngine struct {
	cfg    TesseractConfig
	runner Runner
	log    zerolog.Logger
}

// NewTesseractEngine creates the engine. The binary is resolved lazily, so a
// missing installation surfaces as a provider error on the first attempt.
func NewTesseractEngine(cfg TesseractConfig) *TesseractEngine {
	return newTesseractEngine(cfg, execRunner{})
}

func newTesseractEngine(cfg TesseractConfig, runner Runner) *TesseractEngine {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "spa+eng"
	}
	return &TesseractEngine{cfg: cfg, runner: runner, log: logger.WithComponent(EngineTesseract)}
}

// Name implements Engine.
func (t *TesseractEngine) Name() string { return EngineTesseract }

// Available reports whether the tesseract binary can be found.
func (t *TesseractEngine) Available() bool {
	_, err := exec.LookPath(t.cfg.Binary)
	return err == nil
}

// Recognize implements Engine.
func (t *TesseractEngine) Recognize(ctx context.Context, page document.PageRaster) (*Recognition, error) {
	const op = "Recognize"

	f, err := os.CreateTemp("", "docfields-page-*.png")
	if err != nil {
		return nil, WrapEngineError(EngineTesseract, op, err, "failed to create temp file")
	}
	defer os.Remove(f.Name())

	if err := png.Encode(f, page.Image); err != nil {
		f.Close()
		return nil, WrapEngineError(EngineTesseract, op, err, "failed to write page image")
	}
	if err := f.Close(); err != nil {
		return nil, WrapEngineError(EngineTesseract, op, err, "failed to write page image")
	}

	stdout, stderr, err := t.runner.Run(ctx, t.cfg.Binary, t.args(f.Name())...)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, WrapEngineError(EngineTesseract, op, ErrTimeout, "")
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, WrapEngineError(EngineTesseract, op, ErrEngineUnavailable, err.Error())
		}
		return nil, WrapEngineError(EngineTesseract, op, ErrProviderFailed, truncate(strings.TrimSpace(string(stderr)), 512))
	}

	rec, err := parseTSV(stdout)
	if err != nil {
		return nil, WrapEngineError(EngineTesseract, op, ErrProviderFailed, err.Error())
	}

	t.log.Debug().
		Int("page", page.Page).
		Int("lines", len(rec.Lines)).
		Float64("confidence", rec.Confidence).
		Msg("Tesseract recognition complete")

	return rec, nil
}

func (t *TesseractEngine) args(imagePath string) []string {
	args := []string{imagePath, "stdout", "-l", t.cfg.Lang}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	return append(args, "tsv")
}

type tsvLineKey struct{ block, par, line int }

// parseTSV groups word rows (level 5) into lines keyed by block, paragraph
// and line number. Rows with negative confidence carry no text.
func parseTSV(data []byte) (*Recognition, error) {
	type lineAcc struct {
		words   []string
		confSum float64
	}

	var order []tsvLineKey
	lines := make(map[tsvLineKey]*lineAcc)
	var confSum float64
	var words int

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	header := true
	for sc.Scan() {
		row := sc.Text()
		if header {
			header = false
			if strings.HasPrefix(row, "level") {
				continue
			}
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			return nil, fmt.Errorf("bad confidence %q in tsv", cols[10])
		}
		text := strings.TrimSpace(cols[11])
		if conf < 0 || text == "" {
			continue
		}

		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		ln, _ := strconv.Atoi(cols[4])
		key := tsvLineKey{block, par, ln}

		acc, ok := lines[key]
		if !ok {
			acc = &lineAcc{}
			lines[key] = acc
			order = append(order, key)
		}
		acc.words = append(acc.words, text)
		acc.confSum += conf
		confSum += conf
		words++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading tsv: %w", err)
	}

	rec := &Recognition{}
	var text strings.Builder
	for _, key := range order {
		acc := lines[key]
		l := strings.Join(acc.words, " ")
		rec.Lines = append(rec.Lines, models.TextLine{
			Text:       l,
			Confidence: acc.confSum / float64(len(acc.words)),
		})
		text.WriteString(l)
		text.WriteString("\n")
	}
	rec.Text = text.String()
	if words > 0 {
		rec.Confidence = clampConfidence(confSum / float64(words))
	}
	return rec, nil
}
