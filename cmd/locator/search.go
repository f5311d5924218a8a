package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stuartshay/hospital-locator/internal/config"
	"github.com/stuartshay/hospital-locator/internal/export"
	"github.com/stuartshay/hospital-locator/internal/ui"
)

type searchOptions struct {
	mapPath  string
	xlsxPath string
	csvDir   string
	selectID int64
}

func newSearchCmd(cfg *config.Config, root *rootOptions) *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Locate the user and list partner hospitals within the radius",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, appOptions{view: ui.NewConsoleView(cmd.OutOrStdout(), root.language())})
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.locate(ctx, root.radiusKM)
			if err != nil {
				return err
			}
			if sess.Snapshot == nil {
				// The failure is already on the status line.
				return nil
			}

			if opts.selectID != 0 {
				if _, err := a.ctl.SelectHospital(opts.selectID); err != nil {
					return err
				}
				if err := a.settle(ctx); err != nil {
					return err
				}
			}

			mapPath := opts.mapPath
			if mapPath == "" {
				mapPath = cfg.MapOutputPath
			}
			if err := a.writeMap(ctx, mapPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Map: %s\n", mapPath)

			if opts.xlsxPath != "" {
				if err := export.SaveHospitals(opts.xlsxPath, sess.Snapshot); err != nil {
					return fmt.Errorf("exporting spreadsheet: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Spreadsheet: %s\n", opts.xlsxPath)
			}
			if opts.csvDir != "" {
				path, err := export.SaveCSV(opts.csvDir, sess.Snapshot)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "CSV: %s\n", path)
			}

			log.Debug().Int("hospitals", sess.HospitalCount()).Msg("Search finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.mapPath, "map", "", "write the map page here (default MAP_OUTPUT_PATH)")
	cmd.Flags().StringVar(&opts.xlsxPath, "xlsx", "", "also export the hospitals as an XLSX workbook")
	cmd.Flags().StringVar(&opts.csvDir, "csv", "", "also export the hospitals as CSV into this directory")
	cmd.Flags().Int64Var(&opts.selectID, "select", 0, "focus the map on this hospital id")
	return cmd
}
