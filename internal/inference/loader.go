package inference

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Brownie44l1/cxr-api/internal/config"
	"github.com/Brownie44l1/cxr-api/internal/model"
	"github.com/Brownie44l1/cxr-api/internal/modelstore"
)

// LoaderFunc builds the registry. It runs at most once successfully per
// Orchestrator.
type LoaderFunc func(ctx context.Context) (*Registry, error)

// ONNXLoader loads every configured model from store into onnxruntime
// sessions. Only the explanation model gets a tap session.
func ONNXLoader(cfg *config.Config, store *modelstore.Store, logger *slog.Logger) LoaderFunc {
	return func(ctx context.Context) (*Registry, error) {
		if err := model.InitRuntime(cfg.RuntimeLibrary); err != nil {
			return nil, err
		}

		sessionCfg := model.SessionConfig{Device: cfg.Device, IntraOpThreads: cfg.IntraOpThreads}
		closers := []io.Closer{closerFunc(model.ShutdownRuntime)}
		fail := func(err error) (*Registry, error) {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i].Close() //nolint:errcheck
			}
			return nil, err
		}

		members := make([]Member, 0, len(cfg.Models))
		for _, mc := range cfg.Models {
			modelPath, err := store.Resolve(ctx, mc.Path)
			if err != nil {
				return fail(fmt.Errorf("%w: %w", ErrConfig, err))
			}
			metaPath, err := store.Resolve(ctx, mc.Metadata)
			if err != nil {
				return fail(fmt.Errorf("%w: %w", ErrConfig, err))
			}

			var taps []string
			if !cfg.Explanation.Disabled && mc.Name == cfg.Explanation.Model {
				taps = []string{cfg.Explanation.Layer}
			}

			start := time.Now()
			m := model.NewONNXModel(mc.Name, modelPath, metaPath)
			if err := m.Load(sessionCfg, taps...); err != nil {
				return fail(fmt.Errorf("%w: loading %s: %w", ErrConfig, mc.Name, err))
			}
			closers = append(closers, m)

			logger.Info("model loaded",
				"model", mc.Name,
				"path", modelPath,
				"device", cfg.Device,
				"image_size", m.InputSpec().Size,
				"taps", taps,
				"dur_ms", time.Since(start).Milliseconds())

			members = append(members, Member{Name: mc.Name, Weight: mc.Weight, Classifier: m})
		}

		explainModel := ""
		if !cfg.Explanation.Disabled {
			explainModel = cfg.Explanation.Model
		}
		reg, err := NewRegistry(model.ParseLabels(cfg.Labels), members, explainModel, cfg.Explanation.Layer, closers...)
		if err != nil {
			return fail(err)
		}
		return reg, nil
	}
}
