package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/cxr-api/internal/config"
	"github.com/Brownie44l1/cxr-api/internal/explain"
	"github.com/Brownie44l1/cxr-api/internal/inference"
	"github.com/Brownie44l1/cxr-api/internal/modelstore"
	"github.com/Brownie44l1/cxr-api/internal/risk"
)

var version = "dev"

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "cxr-api",
		Short: "Chest X-ray pneumonia classifier",
		Long: `cxr-api classifies chest X-rays as bacterial pneumonia, viral pneumonia
or normal with a weighted ensemble of ONNX models, assigns a risk level and
renders a Grad-CAM overlay of the regions behind the decision.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CXR_CONFIG"), "Path to a YAML config file (env CXR_CONFIG)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newPredictCommand(opts))
	return cmd
}

// app is everything a subcommand needs, built from one validated config.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	orchestrator *inference.Orchestrator
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) newApp() (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	store := modelstore.Local()
	if blob := cfg.Store.AzureBlob; blob.AccountURL != "" {
		store, err = modelstore.NewAzure(blob.AccountURL, blob.Container, blob.CacheDir, logger)
		if err != nil {
			return nil, fmt.Errorf("model store: %w", err)
		}
	}

	policy, err := risk.NewPolicy(cfg.Risk.ConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	orch := inference.New(inference.ONNXLoader(cfg, store, logger), inference.Options{
		Policy:             policy,
		Explainer:          explain.NewGenerator(explain.Options{ImageWeight: cfg.Explanation.ImageWeight, Logger: logger}),
		DisableExplanation: cfg.Explanation.Disabled,
		Logger:             logger,
	})
	if cfg.Explanation.Disabled {
		logger.Info("grad-cam disabled")
	}
	return &app{cfg: cfg, logger: logger, orchestrator: orch}, nil
}

func (a *app) requestTimeout() time.Duration {
	return time.Duration(a.cfg.Server.RequestTimeoutSec) * time.Second
}
