package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CARDSCAN_"

const maxConfigFileSize = 1 << 20

// Config holds the application configuration
type Config struct {
	Log        LogConfig        `koanf:"log" yaml:"log"`
	Extraction ExtractionConfig `koanf:"extraction" yaml:"extraction"`
	OCR        OCRConfig        `koanf:"ocr" yaml:"ocr"`
	Detection  DetectionConfig  `koanf:"detection" yaml:"detection"`
	Geometry   GeometryConfig   `koanf:"geometry" yaml:"geometry"`
	Preview    PreviewConfig    `koanf:"preview" yaml:"preview"`
	Store      StoreConfig      `koanf:"store" yaml:"store"`
	Server     ServerConfig     `koanf:"server" yaml:"server"`
}

// LogConfig selects the logger flavour.
type LogConfig struct {
	Env   string `koanf:"env" yaml:"env"`
	Level string `koanf:"level" yaml:"level"`
}

// ExtractionConfig holds the language model backend used for field extraction.
type ExtractionConfig struct {
	// Backend is ollama, http or llamacpp.
	Backend     string        `koanf:"backend" yaml:"backend"`
	URL         string        `koanf:"url" yaml:"url"`
	Model       string        `koanf:"model" yaml:"model"`
	APIKey      string        `koanf:"api_key" yaml:"api_key,omitempty"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout"`
	RateLimit   float64       `koanf:"rate_limit" yaml:"rate_limit"`
	Temperature float64       `koanf:"temperature" yaml:"temperature"`
}

// OCRConfig holds the text recognizer settings.
type OCRConfig struct {
	// Backend is azure or vision.
	Backend       string   `koanf:"backend" yaml:"backend"`
	Languages     []string `koanf:"languages" yaml:"languages"`
	Enhance       bool     `koanf:"enhance" yaml:"enhance"`
	AzureEndpoint string   `koanf:"azure_endpoint" yaml:"azure_endpoint"`
	AzureKey      string   `koanf:"azure_key" yaml:"azure_key,omitempty"`
	// VisionBackend is ollama or llamacpp.
	VisionBackend string `koanf:"vision_backend" yaml:"vision_backend"`
	VisionURL     string `koanf:"vision_url" yaml:"vision_url"`
	VisionModel   string `koanf:"vision_model" yaml:"vision_model"`
	VisionMaxDim  int    `koanf:"vision_max_dim" yaml:"vision_max_dim"`
}

// DetectionConfig holds the card detector thresholds.
type DetectionConfig struct {
	Enabled        bool    `koanf:"enabled" yaml:"enabled"`
	MinAspectRatio float64 `koanf:"min_aspect_ratio" yaml:"min_aspect_ratio"`
	MaxAspectRatio float64 `koanf:"max_aspect_ratio" yaml:"max_aspect_ratio"`
	MinSize        float64 `koanf:"min_size" yaml:"min_size"`
	MinConfidence  float64 `koanf:"min_confidence" yaml:"min_confidence"`
	MaxDetections  int     `koanf:"max_detections" yaml:"max_detections"`
}

// GeometryConfig holds correction and live tracking settings.
type GeometryConfig struct {
	PaddingRatio   float64 `koanf:"padding_ratio" yaml:"padding_ratio"`
	MaxOutputDim   int     `koanf:"max_output_dim" yaml:"max_output_dim"`
	SmoothingAlpha float64 `koanf:"smoothing_alpha" yaml:"smoothing_alpha"`
	MissFrames     int     `koanf:"miss_frames" yaml:"miss_frames"`
}

// PreviewConfig controls the thumbnail stored with each card.
type PreviewConfig struct {
	// Format is webp, jpg or none.
	Format  string `koanf:"format" yaml:"format"`
	MaxDim  int    `koanf:"max_dim" yaml:"max_dim"`
	Quality int    `koanf:"quality" yaml:"quality"`
}

// StoreConfig selects where cards are persisted.
type StoreConfig struct {
	// Driver is json or postgres.
	Driver string `koanf:"driver" yaml:"driver"`
	Path   string `koanf:"path" yaml:"path"`
	DSN    string `koanf:"dsn" yaml:"dsn,omitempty"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr          string        `koanf:"addr" yaml:"addr"`
	ReadTimeout   time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	MaxUploadSize int64         `koanf:"max_upload_size" yaml:"max_upload_size"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Log: LogConfig{Env: "local", Level: "info"},
		Extraction: ExtractionConfig{
			Backend: "ollama",
			URL:     "http://localhost:11434",
			Model:   "llama3.2",
			Timeout: 60 * time.Second,
		},
		OCR: OCRConfig{
			Backend:       "vision",
			Languages:     []string{"en"},
			VisionBackend: "ollama",
			VisionURL:     "http://localhost:11434",
			VisionModel:   "minicpm-v",
			VisionMaxDim:  1536,
		},
		Detection: DetectionConfig{
			Enabled:        true,
			MinAspectRatio: 1.2,
			MaxAspectRatio: 2.2,
			MinSize:        0.2,
			MinConfidence:  0.6,
			MaxDetections:  1,
		},
		Geometry: GeometryConfig{
			PaddingRatio:   0.08,
			MaxOutputDim:   2000,
			SmoothingAlpha: 0.3,
			MissFrames:     10,
		},
		Preview: PreviewConfig{
			Format:  "webp",
			MaxDim:  480,
			Quality: 75,
		},
		Store: StoreConfig{
			Driver: "json",
			Path:   DefaultDataPath(),
		},
		Server: ServerConfig{
			Addr:          ":8080",
			ReadTimeout:   30 * time.Second,
			MaxUploadSize: 20 << 20,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (if
// path is not empty), then CARDSCAN_* environment variables.
//
// Environment variables map on the first underscore after the prefix:
//
//	CARDSCAN_EXTRACTION_MODEL      -> extraction.model
//	CARDSCAN_OCR_AZURE_ENDPOINT    -> ocr.azure_endpoint
//	CARDSCAN_OCR_LANGUAGES=en,de   -> ocr.languages
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	if err := k.Load(rawbytes.Provider(defaults), koanfyaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), koanfyaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps CARDSCAN_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// listKeys are the settings read from the environment as comma separated lists.
var listKeys = map[string]bool{
	"ocr.languages": true,
}

// envValue maps the variable name with envKey and splits list settings on commas.
func envValue(name, value string) (string, interface{}) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is larger than %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Log.Env {
	case "prod", "local", "dev", "":
	default:
		return fmt.Errorf("log.env must be one of prod, local, dev")
	}

	switch c.Extraction.Backend {
	case "ollama", "http", "llamacpp":
	default:
		return fmt.Errorf("extraction.backend must be one of ollama, http, llamacpp")
	}
	if c.Extraction.URL == "" {
		return fmt.Errorf("extraction.url is required")
	}
	if c.Extraction.Model == "" {
		return fmt.Errorf("extraction.model is required")
	}
	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("extraction.timeout must be positive")
	}
	if c.Extraction.RateLimit < 0 {
		return fmt.Errorf("extraction.rate_limit cannot be negative")
	}
	if c.Extraction.Temperature < 0 || c.Extraction.Temperature > 2 {
		return fmt.Errorf("extraction.temperature must be between 0 and 2")
	}

	switch c.OCR.Backend {
	case "azure":
		if c.OCR.AzureEndpoint == "" || c.OCR.AzureKey == "" {
			return fmt.Errorf("ocr.azure_endpoint and ocr.azure_key are required for the azure backend")
		}
	case "vision":
		switch c.OCR.VisionBackend {
		case "ollama", "llamacpp":
		default:
			return fmt.Errorf("ocr.vision_backend must be one of ollama, llamacpp")
		}
		if c.OCR.VisionURL == "" || c.OCR.VisionModel == "" {
			return fmt.Errorf("ocr.vision_url and ocr.vision_model are required for the vision backend")
		}
	default:
		return fmt.Errorf("ocr.backend must be one of azure, vision")
	}
	if c.OCR.VisionMaxDim < 0 {
		return fmt.Errorf("ocr.vision_max_dim cannot be negative")
	}

	d := c.Detection
	if d.MinAspectRatio < 1 || d.MaxAspectRatio < d.MinAspectRatio {
		return fmt.Errorf("detection.min_aspect_ratio must be at least 1 and not above detection.max_aspect_ratio")
	}
	if d.MinSize < 0 || d.MinSize > 1 {
		return fmt.Errorf("detection.min_size must be between 0 and 1")
	}
	if d.MinConfidence < 0 || d.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be between 0 and 1")
	}
	if d.MaxDetections < 1 {
		return fmt.Errorf("detection.max_detections must be positive")
	}

	g := c.Geometry
	if g.PaddingRatio < 0 || g.PaddingRatio > 1 {
		return fmt.Errorf("geometry.padding_ratio must be between 0 and 1")
	}
	if g.MaxOutputDim < 0 {
		return fmt.Errorf("geometry.max_output_dim cannot be negative")
	}
	if g.SmoothingAlpha <= 0 || g.SmoothingAlpha > 1 {
		return fmt.Errorf("geometry.smoothing_alpha must be in (0, 1]")
	}
	if g.MissFrames < 1 {
		return fmt.Errorf("geometry.miss_frames must be positive")
	}

	switch c.Preview.Format {
	case "webp", "jpg", "none":
	default:
		return fmt.Errorf("preview.format must be one of webp, jpg, none")
	}
	if c.Preview.Format != "none" {
		if c.Preview.MaxDim < 1 {
			return fmt.Errorf("preview.max_dim must be positive")
		}
		if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
			return fmt.Errorf("preview.quality must be between 1 and 100")
		}
	}

	switch c.Store.Driver {
	case "json":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the json driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be one of json, postgres")
	}

	if c.Server.MaxUploadSize < 0 {
		return fmt.Errorf("server.max_upload_size cannot be negative")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "cardscan", "config.yaml")
}

// DefaultDataPath returns the default location of the JSON card store.
func DefaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./cards.json"
	}
	return filepath.Join(home, ".local", "share", "cardscan", "cards.json")
}
