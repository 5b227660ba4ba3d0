package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"tle_zone_sweeper/internal/app/service"
	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/repository"
	"tle_zone_sweeper/internal/platform/cache"
	"tle_zone_sweeper/internal/platform/config"
	"tle_zone_sweeper/internal/platform/database"
	"tle_zone_sweeper/internal/platform/logging"
	"tle_zone_sweeper/internal/platform/metrics"
)

var migrateOnStart bool

var rootCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Resolves judged submissions and keeps contest leaderboards ranked",
	// Errors are logged by main.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&migrateOnStart, "migrate", false, "create missing tables before starting (same as DB_MIGRATE_ON_START=true)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("Sweeper exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

// app is everything a command needs, wired against Postgres and (optionally) Redis.
type app struct {
	cfg         *config.Config
	store       repository.Store
	metrics     *metrics.Recorder
	leaderboard *service.LeaderboardService
	verdicts    *service.VerdictService

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func bootstrap(ctx context.Context) (*app, error) {
	// 1. Load Configuration
	if err := config.Load(); err != nil {
		return nil, err
	}
	cfg := config.AppConfig
	a := &app{cfg: cfg}

	// 2. Logging
	a.closers = append(a.closers, logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile}).Close)

	// 3. Initialize Database
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := migrate(ctx, db, cfg.DBMigrateOnStart || migrateOnStart); err != nil {
		a.Close()
		return nil, err
	}

	// 4. Initialize Redis (optional)
	rdb, err := cache.Connect(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher := leaderboardPublisher(cfg, rdb)
	if rdb != nil {
		a.closers = append(a.closers, rdb.Close)
	}

	// 5. Initialize Store, Metrics & Services
	a.store = repository.NewPgStore(db)
	a.metrics = metrics.New(cfg.MetricsPushgatewayURL, cfg.MetricsJobName)
	a.leaderboard = service.NewLeaderboardService(a.store, publisher, a.metrics)
	a.verdicts = service.NewVerdictService(a.store, a.leaderboard, common.SystemClock)
	return a, nil
}

func migrate(ctx context.Context, db *sql.DB, enabled bool) error {
	if !enabled {
		return nil
	}
	if err := repository.Migrate(ctx, db); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Schema migrated")
	return nil
}

func leaderboardPublisher(cfg *config.Config, rdb *redis.Client) service.LeaderboardPublisher {
	if rdb == nil {
		return service.NoopPublisher
	}
	return cache.NewLeaderboardCache(rdb, cfg.LeaderboardCachePrefix, cfg.LeaderboardCacheTTL, cfg.LeaderboardUpdatesChannel)
}
