package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/accessmind/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its schedulers until interrupted",
		Long: "Run the engine with its periodic extraction, consolidation, forecasting and " +
			"generalization timers. The journal is synced every memory.sync_interval_sec and on exit.",
		Args: cobra.NoArgs,
		Run:  runServe,
	}
	cmd.Flags().Duration("status-interval", 30*time.Second, "Status line interval when features.visualization is on")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	statusEvery, _ := cmd.Flags().GetDuration("status-interval")
	ctx := cmd.Context()

	s, err := openSession(ctx)
	if err != nil {
		exitErr("serve", err)
	}
	s.log.Info().Str("db", getDBPath()).Msg("serving")

	g, gctx := errgroup.WithContext(ctx)
	if every := config.Seconds(s.cfg.Memory.SyncIntervalSec); s.cfg.Memory.SyncEnabled && every > 0 {
		g.Go(func() error {
			return tick(gctx, every, func() {
				if err := s.sync(gctx); err != nil && gctx.Err() == nil {
					s.log.Warn().Err(err).Msg("journal sync failed")
				}
			})
		})
	}
	if s.cfg.Features.Visualization && statusEvery > 0 {
		g.Go(func() error {
			return tick(gctx, statusEvery, func() {
				if err := s.engine.LogStatus(gctx); err != nil && gctx.Err() == nil {
					s.log.Warn().Err(err).Msg("status failed")
				}
			})
		})
	}
	<-ctx.Done()
	_ = g.Wait()

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.close(shutdown); err != nil {
		exitErr("sync journal", err)
	}
	s.log.Info().Msg("stopped")
}

// tick calls fn every d until ctx ends.
func tick(ctx context.Context, d time.Duration, fn func()) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}
