package main

import (
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/stuartshay/hospital-locator/internal/config"
	"github.com/stuartshay/hospital-locator/internal/directory"
	"github.com/stuartshay/hospital-locator/internal/hospital"
)

func newStockCmd(cfg *config.Config, root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stock",
		Short: "Show blood stock across all partner hospitals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := newBackend(ctx, cfg)
			if err != nil {
				return err
			}
			summary, err := directory.New(client, cfg.RadiiKM).StockSummary(ctx)
			if err != nil {
				return err
			}
			return printStock(cmd, root, summary)
		},
	}
}

func printStock(cmd *cobra.Command, root *rootOptions, s *hospital.StockSummary) error {
	p := message.NewPrinter(root.language())
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	_, _ = p.Fprintf(w, "TYPE\tUNITS\tSTATUS\n")
	h := hospital.Hospital{BloodStock: s.BloodStock}
	for _, t := range h.BloodTypes() {
		level := s.BloodStock[t]
		status := level.Status()
		if !level.Available {
			status = hospital.StockUnavailable
		}
		_, _ = p.Fprintf(w, "%s\t%d\t%s\n", t, level.Units, status)
	}
	_, _ = p.Fprintf(w, "\nTotal\t%d\t%d types\n", s.TotalUnits, s.BloodTypesCount)
	if s.LastUpdated != "" {
		_, _ = p.Fprintf(w, "Updated\t%s\t\n", s.LastUpdated)
	}
	return w.Flush()
}
