package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"assetsync/internal/app"
	"assetsync/internal/config"
	"assetsync/internal/logger"
	"assetsync/internal/progress"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "assetsync",
	Short: "Sync a local asset tree to an S3 compatible object store",
	Long: `Uploads every matching file under a source directory to a bucket, keyed by its
path relative to the directory. Files whose key already exists are skipped.
Supports S3/R2 via the AWS SDK or minio-go, the Cloudflare REST API and wrangler.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSync,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")
	config.RegisterFlags(rootCmd.Flags())
}

func runSync(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	syncer, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	summary, err := syncer.Run(ctx)

	// Close resources after the run completes or is cancelled
	if closeErr := syncer.Close(); closeErr != nil {
		log.Error("Error closing syncer", zap.Error(closeErr))
	}

	if errors.Is(err, app.ErrPrecondition) {
		return err
	}
	if summary.Total > 0 && !cfg.Sync.DryRun {
		if werr := progress.WriteSummary(cmd.OutOrStdout(), summary); werr != nil {
			log.Warn("Failed to write summary", zap.Error(werr))
		}
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
