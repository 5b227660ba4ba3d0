package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"tle_zone_sweeper/internal/app/worker"
	"tle_zone_sweeper/internal/common"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sweep loop until SIGINT/SIGTERM",
	Long: `Run resolves the newest unresolved submissions every tick and refreshes the
leaderboard of every active or recently ended contest on a coarser interval.
On shutdown the in-flight tick is allowed to finish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sweeper := worker.NewSweepWorker(a.store, a.verdicts, a.leaderboard, common.SystemClock, a.metrics, worker.SweepConfig{
			TickInterval:       a.cfg.SweepTickInterval,
			BatchSize:          a.cfg.SweepBatchSize,
			RefreshInterval:    a.cfg.LeaderboardRefreshEvery,
			RecentWindow:       a.cfg.LeaderboardRecentWindow,
			RefreshConcurrency: a.cfg.LeaderboardRefreshWorkers,
		})

		if runOnce {
			return checkReport(sweeper.Tick(context.WithoutCancel(ctx)))
		}

		started := time.Now()
		sweeper.Run(ctx)
		slog.Info("Sweeper stopped gracefully", slog.Duration("uptime", time.Since(started).Round(time.Second)))
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single sweep (one batch plus a full leaderboard refresh) and exit")
	rootCmd.AddCommand(runCmd)
}

func checkReport(report worker.TickReport) error {
	slog.Info("Single sweep finished",
		slog.Int("submissions", len(report.Items)),
		slog.Int("contests", len(report.Refreshes)),
		slog.Int("failed", report.Failed()))
	if report.Err != nil {
		return report.Err
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d item(s) failed during the sweep", n)
	}
	return nil
}
