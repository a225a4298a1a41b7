package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ocr-api/internal/config"
	"ocr-api/internal/modelstore"

	"github.com/spf13/cobra"
)

func main() {
	var envFile string
	var force bool
	root := &cobra.Command{
		Use:          "bootstrap",
		Short:        "Download the OCR model into the local model store",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			// bootstrapping always fetches missing artifacts
			cfg.ModelStore.RequireLocal = true
			cfg.ModelStore.AutoDownload = true
			cfg.ModelStore.ForceDownload = cfg.ModelStore.ForceDownload || force

			// progress is worth seeing when running by hand
			cfg.App.VerboseLogs = true
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
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resolver.RepoDir())
			return nil
		},
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "optional env file loaded before the environment")
	root.Flags().BoolVar(&force, "force", false, "re-download even when artifacts are present")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
