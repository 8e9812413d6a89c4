package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/cxr-api/internal/handlers"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Models are loaded in the background as soon as the server starts; /health
reports "loading" until they are ready. A failed load stops the server.

Endpoints:
  GET  /         service descriptor
  GET  /health   {"status": "ok" | "loading"}
  POST /predict  multipart field "file", optional disable_cam=true`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides config and PORT)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	defer a.orchestrator.Close() //nolint:errcheck

	h := handlers.NewHandler(a.orchestrator, handlers.Options{
		MaxUploadBytes: int64(a.cfg.Server.MaxUploadMB) << 20,
		RequestTimeout: a.requestTimeout(),
		Locale:         a.cfg.ResponseLocale(),
		Logger:         a.logger,
	})
	mux := http.NewServeMux()
	h.Routes(mux)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server starting", "addr", srv.Addr, "device", a.cfg.Device)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.orchestrator.Load(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("loading models: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil {
		a.logger.Error("server stopped", "err", err)
	}
	return err
}
