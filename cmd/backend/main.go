package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ocr-api/internal/backend"
	"ocr-api/internal/config"
	"ocr-api/internal/launcher"
	"ocr-api/internal/modelstore"
	"ocr-api/internal/readiness"
	"ocr-api/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"github.com/spf13/cobra"
)

func main() {
	var envFile string
	root := &cobra.Command{
		Use:          "backend",
		Short:        "Run the vLLM backend in the foreground against the local model store",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			cfg.Backend.Managed = true

			log, err := cfg.App.NewLogger()
			if err != nil {
				return err
			}
			defer func() {
				_ = log.Sync()
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			resolver := modelstore.NewResolver(cfg.ModelStore, modelstore.NewHubDownloader(cfg.ModelStore, log), log)
			if _, err := resolver.Ensure(ctx); err != nil {
				return utils.Wrap("model store is not ready", err)
			}

			tracker := readiness.NewTracker(nil)
			l := launcher.New(cfg.Backend, cfg.ModelStore.HFToken, backend.NewClient(cfg.Backend, log), tracker, log)
			if err := l.Run(ctx, resolver.RepoDir()); err != nil {
				return err
			}

			waitErr := l.Wait(ctx)
			stopCtx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
			defer cancel()
			if err := l.Stop(stopCtx); err != nil {
				return err
			}
			if waitErr != nil && ctx.Err() == nil {
				return waitErr
			}
			return nil
		},
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "optional env file loaded before the environment")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
