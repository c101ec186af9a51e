// Package cmd defines the CLI for the storefront crawler.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// options holds flags shared by every subcommand.
type options struct {
	cfgFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "storefront-crawler",
		Short: "Crawl marketplace categories into seller, product, and listing records.",
		Long: `storefront-crawler walks marketplace category pages, follows product links to
their sellers, and upserts one listing per seller/product pair until the
configured item budget is reached.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, TOML, or JSON)")
	cmd.AddCommand(newCrawlCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
