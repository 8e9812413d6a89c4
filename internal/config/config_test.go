package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "DEVICE", "LOG_LEVEL", "ONNXRUNTIME_LIB", "DISABLE_CAM"} {
		t.Setenv(k, "")
	}
}

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"BACTERIAL_PNEUMONIA", "NORMAL", "VIRAL_PNEUMONIA"}, cfg.Labels)
	assert.Equal(t, []float64{0.4, 0.6}, cfg.Weights())
	assert.Equal(t, 70.0, cfg.Risk.ConfidenceThreshold)
	assert.Equal(t, "efficientnet", cfg.Explanation.Model)
	assert.Equal(t, "features.7", cfg.Explanation.Layer)
	assert.Equal(t, 0.6, cfg.Explanation.ImageWeight)
	assert.False(t, cfg.Explanation.Disabled)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, 5000, cfg.Server.Port)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "cxr.yaml", `
device: cuda:1
models:
  - name: a
    path: a.onnx
    metadata: a.json
    weight: 0.25
  - name: b
    path: b.onnx
    metadata: b.json
    weight: 0.75
risk:
  confidence_threshold: 80
explanation:
  model: a
  layer: stages.3
server:
  port: 9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cuda:1", cfg.Device)
	assert.Equal(t, []float64{0.25, 0.75}, cfg.Weights())
	assert.Equal(t, 80.0, cfg.Risk.ConfidenceThreshold)
	assert.Equal(t, "a", cfg.Explanation.Model)
	assert.Equal(t, "stages.3", cfg.Explanation.Layer)
	assert.Equal(t, 0.6, cfg.Explanation.ImageWeight, "unset keys keep defaults")
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("DEVICE", "cuda")
	t.Setenv("DISABLE_CAM", "1")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "cuda", cfg.Device)
	assert.True(t, cfg.Explanation.Disabled)
	assert.Equal(t, "debug", cfg.LogLevel)

	t.Setenv("PORT", "eighty")
	_, err = Load("")
	require.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := writeFile(t, t.TempDir(), "bad.yaml", "models: {not: [a list")
	_, err = Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"weights do not sum to one", func(c *Config) { c.Models[0].Weight = 0.5 }, "weights sum"},
		{"negative weight", func(c *Config) { c.Models[0].Weight = -0.4; c.Models[1].Weight = 1.4 }, "negative weight"},
		{"no models", func(c *Config) { c.Models = nil }, "at least one model"},
		{"missing paths", func(c *Config) { c.Models[1].Path = "" }, "path and metadata"},
		{"duplicate model", func(c *Config) { c.Models[1].Name = c.Models[0].Name }, "duplicate name"},
		{"no labels", func(c *Config) { c.Labels = nil }, "at least one label"},
		{"duplicate labels", func(c *Config) { c.Labels = []string{"A", "A"} }, "duplicate"},
		{"unknown explanation model", func(c *Config) { c.Explanation.Model = "resnet" }, "explanation.model"},
		{"empty layer", func(c *Config) { c.Explanation.Layer = "" }, "explanation.layer"},
		{"bad image weight", func(c *Config) { c.Explanation.ImageWeight = 1 }, "image_weight"},
		{"threshold", func(c *Config) { c.Risk.ConfidenceThreshold = 120 }, "confidence_threshold"},
		{"device", func(c *Config) { c.Device = "tpu" }, "device"},
		{"azure container", func(c *Config) { c.Store.AzureBlob.AccountURL = "https://x.blob.core.windows.net" }, "container"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"locale", func(c *Config) { c.Server.Locale = "not a locale" }, "server.locale"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_DisabledExplanationSkipsTargetChecks(t *testing.T) {
	cfg := New()
	cfg.Explanation.Disabled = true
	cfg.Explanation.Model = "resnet"
	cfg.Explanation.Layer = ""
	require.NoError(t, cfg.Validate())
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestResponseLocale(t *testing.T) {
	cfg := New()
	assert.Equal(t, language.English, cfg.ResponseLocale())

	cfg.Server.Locale = "de"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, language.German, cfg.ResponseLocale())

	cfg.Server.Locale = "not a locale"
	assert.Equal(t, language.English, cfg.ResponseLocale())
}
