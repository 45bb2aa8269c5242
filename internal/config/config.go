// Package config loads runtime settings from defaults, an optional
// docfields.yaml file and the environment, in increasing precedence.
// Environment keys are the upper-case forms of the YAML keys, e.g.
// engine_order / ENGINE_ORDER.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"docfields/internal/document"
	"docfields/internal/logger"
	"docfields/internal/ocr"
	"docfields/internal/pipeline"
)

// ConfigFileName is the base name of the optional config file.
const ConfigFileName = "docfields"

type Config struct {
	// Pipeline
	EngineOrder         []string
	EngineTimeout       time.Duration
	MinTextLength       int
	MinConfidence       float64
	PDFRenderScale      float64
	MaxPages            int
	MaxDocumentBytes    int64
	EnhanceImages       bool
	OCRAllPages         bool
	MissingFieldPenalty int
	VendorCatalog       string

	// Google Cloud
	GoogleCredentials            string
	GoogleApplicationCredentials string
	GoogleCloudProject           string
	VisionLanguageHints          []string
	DocumentAILocation           string
	DocumentAIProcessorID        string
	DocumentAIProcessorVersion   string

	// Azure Computer Vision
	AzureVisionEndpoint string
	AzureVisionKey      string
	AzureVisionLanguage string

	// Tesseract
	TesseractPath  string
	TesseractLang  string
	TessdataPrefix string
	TesseractPSM   int
	TesseractOEM   int

	// HTTP server
	ListenAddr string

	// Logging
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads configuration. configFile may be empty, in which case
// docfields.yaml is looked up in the working directory and $HOME.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{
		EngineOrder:         splitList(v.GetStringSlice("engine_order")),
		EngineTimeout:       durationOrSeconds(v, "engine_timeout"),
		MinTextLength:       v.GetInt("min_text_length"),
		MinConfidence:       v.GetFloat64("min_confidence"),
		PDFRenderScale:      v.GetFloat64("pdf_render_scale"),
		MaxPages:            v.GetInt("max_pages"),
		MaxDocumentBytes:    v.GetInt64("max_document_bytes"),
		EnhanceImages:       v.GetBool("enhance_images"),
		OCRAllPages:         v.GetBool("ocr_all_pages"),
		MissingFieldPenalty: v.GetInt("missing_field_penalty"),
		VendorCatalog:       v.GetString("vendor_catalog"),

		GoogleCredentials:            v.GetString("google_credentials"),
		GoogleApplicationCredentials: v.GetString("google_application_credentials"),
		GoogleCloudProject:           v.GetString("google_cloud_project"),
		VisionLanguageHints:          splitList(v.GetStringSlice("vision_language_hints")),
		DocumentAILocation:           v.GetString("document_ai_location"),
		DocumentAIProcessorID:        v.GetString("document_ai_processor_id"),
		DocumentAIProcessorVersion:   v.GetString("document_ai_processor_version"),

		AzureVisionEndpoint: v.GetString("azure_vision_endpoint"),
		AzureVisionKey:      v.GetString("azure_vision_key"),
		AzureVisionLanguage: v.GetString("azure_vision_language"),

		TesseractPath:  v.GetString("tesseract_path"),
		TesseractLang:  v.GetString("tesseract_lang"),
		TessdataPrefix: v.GetString("tessdata_prefix"),
		TesseractPSM:   v.GetInt("tesseract_psm"),
		TesseractOEM:   v.GetInt("tesseract_oem"),

		ListenAddr: v.GetString("listen_addr"),

		LogLevel:      v.GetString("log_level"),
		LogFormat:     v.GetString("log_format"),
		LogTimeFormat: v.GetString("log_time_format"),
		LogOutput:     v.GetString("log_output"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// durationOrSeconds reads key as a Go duration ("30s", "1m"). A bare number
// is taken as seconds.
func durationOrSeconds(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return v.GetDuration(key)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine_order", strings.Join([]string{ocr.EngineTextLayer, ocr.EngineGoogleVision, ocr.EngineAzureVision, ocr.EngineTesseract}, ","))
	v.SetDefault("engine_timeout", pipeline.DefaultEngineTimeout)
	v.SetDefault("min_text_length", pipeline.DefaultMinTextLength)
	v.SetDefault("min_confidence", pipeline.DefaultMinConfidence)
	v.SetDefault("pdf_render_scale", document.DefaultRenderScale)
	v.SetDefault("max_pages", document.DefaultMaxPages)
	v.SetDefault("max_document_bytes", document.DefaultMaxDocumentBytes)
	v.SetDefault("enhance_images", true)
	v.SetDefault("ocr_all_pages", true)
	v.SetDefault("missing_field_penalty", 25)
	v.SetDefault("vendor_catalog", "")

	v.SetDefault("google_credentials", "")
	v.SetDefault("google_application_credentials", "")
	v.SetDefault("google_cloud_project", "")
	v.SetDefault("vision_language_hints", "es,en")
	v.SetDefault("document_ai_location", "us")
	v.SetDefault("document_ai_processor_id", "")
	v.SetDefault("document_ai_processor_version", "")

	v.SetDefault("azure_vision_endpoint", "")
	v.SetDefault("azure_vision_key", "")
	v.SetDefault("azure_vision_language", "es")

	v.SetDefault("tesseract_path", "tesseract")
	v.SetDefault("tesseract_lang", "spa+eng")
	v.SetDefault("tessdata_prefix", "")
	v.SetDefault("tesseract_psm", 6)
	v.SetDefault("tesseract_oem", 0)

	v.SetDefault("listen_addr", ":8080")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_time_format", time.RFC3339)
	v.SetDefault("log_output", "stderr")
}

// Validate checks ranges and engine names.
func (c *Config) Validate() error {
	if len(c.EngineOrder) == 0 {
		return fmt.Errorf("ENGINE_ORDER must name at least one engine")
	}
	seen := make(map[string]bool, len(c.EngineOrder))
	for _, name := range c.EngineOrder {
		if !ocr.IsKnownEngine(name) {
			return fmt.Errorf("ENGINE_ORDER: unknown engine %q (known: %s)", name, strings.Join(ocr.KnownEngines, ", "))
		}
		if seen[name] {
			return fmt.Errorf("ENGINE_ORDER: engine %q listed twice", name)
		}
		seen[name] = true
	}
	if c.EngineTimeout < time.Second {
		return fmt.Errorf("ENGINE_TIMEOUT must be at least 1s, got %s", c.EngineTimeout)
	}
	if c.MinTextLength < 0 {
		return fmt.Errorf("MIN_TEXT_LENGTH must not be negative, got %d", c.MinTextLength)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("MIN_CONFIDENCE must be within 0-100, got %g", c.MinConfidence)
	}
	if c.PDFRenderScale <= 0 || c.PDFRenderScale > 8 {
		return fmt.Errorf("PDF_RENDER_SCALE must be within (0, 8], got %g", c.PDFRenderScale)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("MAX_PAGES must be at least 1, got %d", c.MaxPages)
	}
	if c.MaxDocumentBytes <= 0 {
		return fmt.Errorf("MAX_DOCUMENT_BYTES must be positive, got %d", c.MaxDocumentBytes)
	}
	if c.MissingFieldPenalty < 0 || c.MissingFieldPenalty > 100 {
		return fmt.Errorf("MISSING_FIELD_PENALTY must be within 0-100, got %d", c.MissingFieldPenalty)
	}
	return nil
}

// LoggerConfig returns the logger configuration.
func (c *Config) LoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// NormalizerOptions returns the document normalizer options.
func (c *Config) NormalizerOptions() document.Options {
	opts := document.DefaultOptions()
	opts.RenderScale = c.PDFRenderScale
	opts.MaxPages = c.MaxPages
	opts.MaxDocumentBytes = c.MaxDocumentBytes
	opts.Enhance = c.EnhanceImages
	return opts
}

// OrchestratorOptions returns the engine acceptance thresholds.
func (c *Config) OrchestratorOptions() pipeline.OrchestratorOptions {
	return pipeline.OrchestratorOptions{
		MinTextLength: c.MinTextLength,
		MinConfidence: c.MinConfidence,
		EngineTimeout: c.EngineTimeout,
	}
}

// PipelineOptions returns the pipeline options.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{AllPages: c.OCRAllPages}
}

func (c *Config) googleCredentials() ocr.GoogleCredentials {
	return ocr.GoogleCredentials{JSON: c.GoogleCredentials, File: c.GoogleApplicationCredentials}
}

// VisionConfig returns the Cloud Vision engine configuration.
func (c *Config) VisionConfig() ocr.GoogleVisionConfig {
	return ocr.GoogleVisionConfig{
		Credentials:   c.googleCredentials(),
		LanguageHints: c.VisionLanguageHints,
	}
}

// DocumentAIConfig returns the Document AI engine configuration.
func (c *Config) DocumentAIConfig() ocr.DocumentAIConfig {
	return ocr.DocumentAIConfig{
		Credentials:      c.googleCredentials(),
		ProjectID:        c.GoogleCloudProject,
		Location:         c.DocumentAILocation,
		ProcessorID:      c.DocumentAIProcessorID,
		ProcessorVersion: c.DocumentAIProcessorVersion,
	}
}

// AzureConfig returns the Azure Computer Vision engine configuration.
func (c *Config) AzureConfig() ocr.AzureVisionConfig {
	return ocr.AzureVisionConfig{
		Endpoint: c.AzureVisionEndpoint,
		Key:      c.AzureVisionKey,
		Language: c.AzureVisionLanguage,
	}
}

// TesseractConfig returns the tesseract engine configuration.
func (c *Config) TesseractConfig() ocr.TesseractConfig {
	return ocr.TesseractConfig{
		Binary:      c.TesseractPath,
		Lang:        c.TesseractLang,
		TessdataDir: c.TessdataPrefix,
		PSM:         c.TesseractPSM,
		OEM:         c.TesseractOEM,
	}
}

// splitList flattens comma separated entries, trimming blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
