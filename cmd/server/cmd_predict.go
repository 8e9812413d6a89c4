package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/cxr-api/internal/inference"
)

func newPredictCommand(opts *rootOptions) *cobra.Command {
	var (
		outPath string
		noCAM   bool
	)

	cmd := &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify one X-ray image and print the result as JSON",
		Long: `Classify one X-ray image and print the result as JSON.

With --out the Grad-CAM overlay is written to the given PNG path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading image: %w", err)
			}
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer a.orchestrator.Close() //nolint:errcheck

			ctx := cmd.Context()
			if d := a.requestTimeout(); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return a.predict(ctx, payload, outPath, noCAM || outPath == "", cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the Grad-CAM overlay PNG here")
	cmd.Flags().BoolVar(&noCAM, "no-cam", false, "Skip the Grad-CAM overlay")
	return cmd
}

func (a *app) predict(ctx context.Context, payload []byte, outPath string, skipCAM bool, w io.Writer) error {
	res, err := a.orchestrator.Predict(ctx, inference.Request{Image: payload, SkipExplanation: skipCAM})
	if err != nil {
		return err
	}
	if outPath != "" && res.Heatmap != nil {
		if err := os.WriteFile(outPath, res.Heatmap, 0o644); err != nil {
			return fmt.Errorf("writing overlay: %w", err)
		}
		a.logger.Info("overlay written", "path", outPath)
	}
	res.Heatmap = nil

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
