// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Defaults. New() is the single place they are applied.
const (
	DefaultPort                = 5000
	DefaultDevice              = "cpu"
	DefaultConfidenceThreshold = 70.0
	DefaultExplainModel        = "efficientnet"
	DefaultExplainLayer        = "features.7"
	DefaultImageWeight         = 0.6
	DefaultMaxUploadMB         = 16
	DefaultRequestTimeoutSec   = 60
	DefaultLogLevel            = "info"
	DefaultLocale              = "en"
)

// ModelConfig describes one ensemble member.
type ModelConfig struct {
	Name     string  `yaml:"name"`
	Path     string  `yaml:"path"`
	Metadata string  `yaml:"metadata"`
	Weight   float64 `yaml:"weight"`
}

// RiskConfig holds the risk policy settings.
type RiskConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// ExplanationConfig selects the Grad-CAM target. Only Model is tapped.
type ExplanationConfig struct {
	Disabled    bool    `yaml:"disabled"`
	Model       string  `yaml:"model"`
	Layer       string  `yaml:"layer"`
	ImageWeight float64 `yaml:"image_weight"`
}

// AzureBlobConfig points at a container holding model artifacts. Empty
// AccountURL means artifacts are read from local paths.
type AzureBlobConfig struct {
	AccountURL string `yaml:"account_url"`
	Container  string `yaml:"container"`
	CacheDir   string `yaml:"cache_dir"`
}

// StoreConfig configures where model artifacts come from.
type StoreConfig struct {
	AzureBlob AzureBlobConfig `yaml:"azure_blob"`
}

// ServerConfig configures the HTTP layer.
type ServerConfig struct {
	Port              int `yaml:"port"`
	MaxUploadMB       int `yaml:"max_upload_mb"`
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	// Locale formats numbers in HTTP responses, e.g. "de" renders 92,00%.
	Locale string `yaml:"locale"`
}

// Config is the top-level configuration.
type Config struct {
	Labels         []string          `yaml:"labels"`
	Device         string            `yaml:"device"`
	IntraOpThreads int               `yaml:"intra_op_threads"`
	RuntimeLibrary string            `yaml:"onnxruntime_lib"`
	Models         []ModelConfig     `yaml:"models"`
	Risk           RiskConfig        `yaml:"risk"`
	Explanation    ExplanationConfig `yaml:"explanation"`
	Store          StoreConfig       `yaml:"store"`
	Server         ServerConfig      `yaml:"server"`
	LogLevel       string            `yaml:"log_level"`
}

// New returns a Config with every default populated. The two members and
// their weights are those the ensemble was validated with.
func New() *Config {
	return &Config{
		Labels: []string{"BACTERIAL_PNEUMONIA", "NORMAL", "VIRAL_PNEUMONIA"},
		Device: DefaultDevice,
		Models: []ModelConfig{
			{
				Name:     "convnext",
				Path:     "models/convnext_pneumonia.onnx",
				Metadata: "models/convnext_pneumonia.json",
				Weight:   0.4,
			},
			{
				Name:     "efficientnet",
				Path:     "models/efficientnet_pneumonia.onnx",
				Metadata: "models/efficientnet_pneumonia.json.zst",
				Weight:   0.6,
			},
		},
		Risk: RiskConfig{ConfidenceThreshold: DefaultConfidenceThreshold},
		Explanation: ExplanationConfig{
			Model:       DefaultExplainModel,
			Layer:       DefaultExplainLayer,
			ImageWeight: DefaultImageWeight,
		},
		Server: ServerConfig{
			Port:              DefaultPort,
			MaxUploadMB:       DefaultMaxUploadMB,
			RequestTimeoutSec: DefaultRequestTimeoutSec,
			Locale:            DefaultLocale,
		},
		LogLevel: DefaultLogLevel,
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides. It does not validate; call Validate.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := getEnv("PORT", ""); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	c.Device = getEnv("DEVICE", c.Device)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Locale = getEnv("RESPONSE_LOCALE", c.Server.Locale)
	c.RuntimeLibrary = getEnv("ONNXRUNTIME_LIB", c.RuntimeLibrary)
	if getEnv("DISABLE_CAM", "0") == "1" {
		c.Explanation.Disabled = true
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Weights returns member weights in configuration order.
func (c *Config) Weights() []float64 {
	w := make([]float64, len(c.Models))
	for i, m := range c.Models {
		w[i] = m.Weight
	}
	return w
}

// Model returns the member called name.
func (c *Config) Model(name string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// Validate reports every configuration error at once. A Config that fails
// validation must not be used to serve.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Labels) == 0 {
		errs = append(errs, errors.New("labels: at least one label is required"))
	}
	seenLabel := map[string]bool{}
	for _, l := range c.Labels {
		if seenLabel[l] {
			errs = append(errs, fmt.Errorf("labels: duplicate %q", l))
		}
		seenLabel[l] = true
	}

	if len(c.Models) == 0 {
		errs = append(errs, errors.New("models: at least one model is required"))
	}
	seenModel := map[string]bool{}
	sum := 0.0
	for i, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d]: name is required", i))
		}
		if seenModel[m.Name] {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate name %q", i, m.Name))
		}
		seenModel[m.Name] = true
		if m.Path == "" || m.Metadata == "" {
			errs = append(errs, fmt.Errorf("models[%d]: path and metadata are required", i))
		}
		if m.Weight < 0 {
			errs = append(errs, fmt.Errorf("models[%d]: negative weight %v", i, m.Weight))
		}
		sum += m.Weight
	}
	if len(c.Models) > 0 && math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("models: weights sum to %v, want 1.0", sum))
	}

	if t := c.Risk.ConfidenceThreshold; t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("risk.confidence_threshold: %v outside [0,100]", t))
	}

	if !c.Explanation.Disabled {
		if _, ok := c.Model(c.Explanation.Model); !ok {
			errs = append(errs, fmt.Errorf("explanation.model: %q is not a configured model", c.Explanation.Model))
		}
		if c.Explanation.Layer == "" {
			errs = append(errs, errors.New("explanation.layer is required"))
		}
		if w := c.Explanation.ImageWeight; w <= 0 || w >= 1 {
			errs = append(errs, fmt.Errorf("explanation.image_weight: %v outside (0,1)", w))
		}
	}

	device := strings.ToLower(c.Device)
	if device != "cpu" && device != "cuda" && !strings.HasPrefix(device, "cuda:") {
		errs = append(errs, fmt.Errorf("device: unsupported %q", c.Device))
	}

	if az := c.Store.AzureBlob; az.AccountURL != "" && az.Container == "" {
		errs = append(errs, errors.New("store.azure_blob.container is required with account_url"))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb: %d", c.Server.MaxUploadMB))
	}

	if _, err := language.Parse(c.Server.Locale); err != nil {
		errs = append(errs, fmt.Errorf("server.locale: %w", err))
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level: unknown %q", s)
	}
}

// NewLogger returns a text logger on stderr at the configured level.
func (c *Config) NewLogger() *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ResponseLocale is the parsed server.locale, English when unset or invalid.
func (c *Config) ResponseLocale() language.Tag {
	tag, err := language.Parse(c.Server.Locale)
	if err != nil || c.Server.Locale == "" {
		return language.English
	}
	return tag
}
