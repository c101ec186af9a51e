package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/app"
	"github.com/JakeFAU/storefront-crawler/internal/config"
	"github.com/JakeFAU/storefront-crawler/internal/logging"
	"github.com/JakeFAU/storefront-crawler/internal/metrics"
)

// runner is the slice of *app.App the crawl command drives.
type runner interface {
	Run(ctx context.Context) (metrics.Summary, error)
	Close()
}

// newRunner is the application factory. Tests replace it.
var newRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (runner, error) {
	return app.New(ctx, cfg, logger)
}

type crawlFlags struct {
	domains        []string
	categories     []string
	maxItems       int
	maxConcurrency int
}

// newCrawlCmd creates the 'crawl' subcommand. Flags override the config file
// and the environment.
func newCrawlCmd(opts *options) *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl to completion and print its summary",
		Long: `Seeds one category page per domain and category, then runs the
CATEGORY, PRODUCT, and SELLER stages with a bounded worker pool until the
listing target is met or no work remains. The run summary is printed as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts, flags)
		},
	}
	cmd.Flags().StringArrayVar(&flags.domains, "domain", nil, "marketplace hostname (repeatable)")
	cmd.Flags().StringArrayVar(&flags.categories, "category", nil, "category name or path (repeatable)")
	cmd.Flags().IntVar(&flags.maxItems, "max-items", 0, "listings to persist before stopping")
	cmd.Flags().IntVar(&flags.maxConcurrency, "max-concurrency", 0, "number of workers")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *options, flags *crawlFlags) error {
	cfg, err := config.LoadWithOverrides(opts.cfgFile, flagOverrides(cmd, flags))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := newRunner(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer r.Close()

	summary, err := r.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("crawl interrupted before completion", zap.Error(err))
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("crawl command finished",
		zap.Int64("listings_processed", summary.ListingsProcessed),
		zap.String("success_rate", summary.SuccessRate),
	)
	return nil
}

// flagOverrides maps the flags the user actually set onto config keys.
func flagOverrides(cmd *cobra.Command, flags *crawlFlags) map[string]any {
	overrides := map[string]any{}
	if cmd.Flags().Changed("domain") {
		overrides["crawl.domains"] = flags.domains
	}
	if cmd.Flags().Changed("category") {
		overrides["crawl.categories"] = flags.categories
	}
	if cmd.Flags().Changed("max-items") {
		overrides["crawl.max_items"] = flags.maxItems
	}
	if cmd.Flags().Changed("max-concurrency") {
		overrides["crawl.max_concurrency"] = flags.maxConcurrency
	}
	return overrides
}
