package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stuartshay/hospital-locator/internal/config"
	"github.com/stuartshay/hospital-locator/internal/history"
)

func newHistoryCmd(cfg *config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent searches and notification jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cfg.HistoryEnabled {
				return errors.New("history is disabled; set HISTORY_ENABLED=true")
			}

			client, err := history.NewClient(cfg.DatabaseDSN())
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			searches, err := client.RecentSearches(ctx, limit)
			if err != nil {
				return err
			}
			notifications, err := client.RecentNotifications(ctx, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = w.Write([]byte("SEARCHED\tLOCATION\tRADIUS\tFOUND\tNEAREST\tERROR\n"))
			for _, s := range searches {
				_, _ = fmt.Fprintf(w, "%s\t%.4f,%.4f\t%d km\t%d\t%.1f km\t%s\n",
					s.CreatedAt.Format(time.DateTime), s.Latitude, s.Longitude, s.RadiusKM, s.HospitalsFound, s.NearestKM, s.Error)
			}
			_, _ = w.Write([]byte("\nNOTIFIED\tJOB\tRADIUS\tSTATUS\tATTEMPTS\tERROR\n"))
			for _, n := range notifications {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d km\t%s\t%d\t%s\n",
					n.CreatedAt.Format(time.DateTime), n.JobID, n.RadiusKM, n.Status, n.Attempts, n.ErrorMessage)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "rows per table")
	return cmd
}
