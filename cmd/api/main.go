package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ocr-api/internal/backend"
	"ocr-api/internal/config"
	"ocr-api/internal/handlers/ocr"
	"ocr-api/internal/launcher"
	"ocr-api/internal/metrics"
	"ocr-api/internal/modelstore"
	"ocr-api/internal/readiness"
	"ocr-api/internal/routers"
	"ocr-api/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var readinessStates = []string{
	readiness.NotStarted.String(),
	readiness.Starting.String(),
	readiness.Ready.String(),
	readiness.Failed.String(),
}

func main() {
	var envFile string
	var addr string
	root := &cobra.Command{
		Use:          "ocr-api",
		Short:        "Serve the Sharifsetup-OCR HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(envFile, addr)
		},
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "optional env file loaded before the environment")
	root.Flags().StringVar(&addr, "addr", "", "listen address, overrides OCR_LISTEN_ADDR")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(envFile, addr string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.App.ListenAddr = addr
	}

	log, err := cfg.App.NewLogger()
	if err != nil {
		return fmt.Errorf("failed init logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	metrics.SetReadiness(readiness.NotStarted.String(), readinessStates)
	tracker := readiness.NewTracker(func(from, to readiness.State) {
		metrics.SetReadiness(to.String(), readinessStates)
		log.Infow("Backend readiness changed", "from", from.String(), "to", to.String())
	})

	client := backend.NewClient(cfg.Backend, log)
	resolver := modelstore.NewResolver(cfg.ModelStore, modelstore.NewHubDownloader(cfg.ModelStore, log), log)
	backendLauncher := launcher.New(cfg.Backend, cfg.ModelStore.HFToken, client, tracker, log)

	e := routers.NewServer(routers.ServerConfig{
		Log:            log,
		Tracker:        tracker,
		OCR:            ocr.NewOCRHandler(client, tracker, cfg.Inference, cfg.Backend.ModelID, log),
		MaxUploadBytes: cfg.Inference.MaxUploadBytes,
		MetricsAPIKey:  cfg.App.MetricsAPIKey,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("Starting server", "addr", cfg.App.ListenAddr, "version", cfg.App.Version)
		if err := e.Start(cfg.App.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return utils.Wrap("http server failed", err)
		}
		return nil
	})

	g.Go(func() error {
		return startBackend(gctx, resolver, backendLauncher, tracker, cfg.Backend.Managed, log)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
		defer cancel()
		if err := backendLauncher.Stop(shutdownCtx); err != nil {
			log.Warnw("Failed stopping backend", "error", err)
		}
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorw("Shutting down", "error", err)
		return err
	}
	return nil
}

// startBackend resolves the model store and brings the backend up. A
// missing model store is fatal; a backend that never becomes healthy only
// leaves readiness in FAILED so health checks keep answering.
func startBackend(
	ctx context.Context,
	resolver *modelstore.Resolver,
	l *launcher.Launcher,
	tracker *readiness.Tracker,
	managed bool,
	log *zap.SugaredLogger,
) error {
	if _, err := resolver.Ensure(ctx); err != nil {
		tracker.MarkFailed()
		return utils.Wrap("model store is not ready", err)
	}

	modelPath := ""
	if managed {
		modelPath = resolver.RepoDir()
	}
	if err := l.Run(ctx, modelPath); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Errorw("vLLM backend failed to become ready, OCR requests will be rejected", "error", err)
	}
	return nil
}
