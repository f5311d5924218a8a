package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/stuartshay/hospital-locator/internal/config"
	"github.com/stuartshay/hospital-locator/internal/notify"
	"github.com/stuartshay/hospital-locator/internal/ui"
)

// progressNotifier shows poll attempts on a progress bar.
type progressNotifier struct {
	ui.Notifier
	out         io.Writer
	maxAttempts int
}

func (p progressNotifier) Poll(ctx context.Context, jobID string) iter.Seq[notify.Observation] {
	seq := p.Notifier.Poll(ctx, jobID)
	return func(yield func(notify.Observation) bool) {
		bar := progressbar.NewOptions(p.maxAttempts,
			progressbar.OptionSetDescription("Checking delivery of job "+jobID),
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()

		for obs := range seq {
			if obs.Err == nil {
				bar.Describe(fmt.Sprintf("Job %s: %s", jobID, obs.Job.Status))
			}
			if err := bar.Add(1); err != nil {
				log.Debug().Err(err).Msg("Failed to update progress bar")
			}
			if !yield(obs) {
				return
			}
		}
	}
}

func newNotifyCmd(cfg *config.Config, root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Search, then ask every partner hospital in range for blood by SMS and email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := appOptions{view: ui.NewConsoleView(cmd.OutOrStdout(), root.language())}
			if isatty.IsTerminal(os.Stderr.Fd()) {
				opts.wrapNotifier = func(n ui.Notifier) ui.Notifier {
					return progressNotifier{Notifier: n, out: os.Stderr, maxAttempts: cfg.PollMaxAttempts}
				}
			}

			a, err := newApp(ctx, cfg, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.locate(ctx, root.radiusKM)
			if err != nil {
				return err
			}
			if sess.HospitalCount() == 0 {
				return nil
			}

			if _, err := a.ctl.RequestNotifications(); err != nil {
				return err
			}
			if err := a.settle(ctx); err != nil {
				return err
			}

			sess, err = a.ctl.Session(context.WithoutCancel(ctx))
			if err != nil {
				return err
			}
			if sess.Job != nil {
				log.Info().Str("job_id", sess.Job.ID).Str("status", string(sess.Job.Status)).Msg("Notification job finished")
			}
			return nil
		},
	}
}
