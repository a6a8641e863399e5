// Package cmd defines the CLI commands of the vinmonopol-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vinmonopol-crawler/internal/app"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var opts app.CrawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the catalog into the record store",
		Long: `Lists the current product identifiers and crawls them. Without --resume
the store is rebuilt from scratch; with --resume the crawl continues after the
last record already in the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "continue after the last stored record")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of parallel workers (default crawler.workers)")
	return cmd
}

func runCrawl(ctx context.Context, opts app.CrawlOptions) error {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	defer appInstance.Close(context.WithoutCancel(ctx))
	logger := appInstance.Logger()

	summary, err := appInstance.Crawl(ctx, opts)
	if errors.Is(err, context.Canceled) {
		logger.Warn("crawl interrupted; rerun with --resume to continue",
			zap.String("run_id", summary.RunID),
			zap.Int("processed", summary.Processed()),
			zap.Int("records", summary.Records),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	logger.Info("crawl finished",
		zap.String("run_id", summary.RunID),
		zap.Bool("resumed", summary.Resumed),
		zap.Int("total", summary.Total),
		zap.Int("saved", summary.Saved),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("records", summary.Records),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return nil
}
