package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tle_zone_sweeper/internal/app/service"
	"tle_zone_sweeper/internal/domain/repository"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <contest-id>",
	Short: "Recompute one contest's leaderboard without touching its published flag, print it and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return rebuildLeaderboard(context.WithoutCancel(cmd.Context()), a.store, a.leaderboard, args[0], cmd.OutOrStdout())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the sweeper's tables if they are missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		migrateOnStart = true
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		a.Close()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd, migrateCmd)
}

func rebuildLeaderboard(ctx context.Context, store repository.Store, lb *service.LeaderboardService, contestID string, out io.Writer) error {
	contest, err := store.GetContest(ctx, contestID)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	res, err := lb.Rebuild(ctx, contest.ID)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	fmt.Fprintf(out, "%s (%s)\n", contest.Title, contest.ID)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tUSER\tPOINTS")
	for _, e := range res.Entries {
		fmt.Fprintf(w, "%d\t%s\t%d\n", e.Rank, e.UserID, e.Points)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Leaderboard rebuilt", slog.String("contest_id", contest.ID), slog.Int("users", len(res.Entries)), slog.Duration("took", res.Duration))
	return nil
}
