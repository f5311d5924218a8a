package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/stuartshay/hospital-locator/internal/config"
)

type rootOptions struct {
	logLevel string
	lang     string
	radiusKM int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	// Filled in before any subcommand runs.
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:          "locator",
		Short:        "Find partner hospitals with blood in stock and notify them",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			level := loaded.LogLevel
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			setLogLevel(level)
			*cfg = *loaded
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&opts.lang, "lang", "en", "BCP 47 language tag used to format numbers")
	root.PersistentFlags().IntVarP(&opts.radiusKM, "radius", "r", 0, "search radius in km (default LOCATOR_DEFAULT_RADIUS_KM)")

	root.AddCommand(
		newSearchCmd(cfg, opts),
		newNotifyCmd(cfg, opts),
		newStockCmd(cfg, opts),
		newHistoryCmd(cfg),
		newServeCmd(cfg, opts),
	)
	return root
}

func (o *rootOptions) language() language.Tag {
	tag, err := language.Parse(o.lang)
	if err != nil {
		return language.English
	}
	return tag
}
