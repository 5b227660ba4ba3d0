package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"tle_zone_sweeper/internal/platform/config"
)

// Connect opens the pool and pings until the database answers or maxElapsed passes.
func Connect(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DBConnStr)
	if err != nil {
		return nil, fmt.Errorf("database.Connect: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxConns)
	db.SetMaxIdleConns(cfg.DBMaxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := Retry(ctx, cfg.StartupRetryMaxElapsed, "postgres", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("database.Connect: %w", err)
	}
	slog.InfoContext(ctx, "Connected to PostgreSQL", slog.String("host", cfg.DBHost), slog.String("db", cfg.DBName))
	return db, nil
}

// Retry calls op with exponential backoff until it succeeds, ctx ends or maxElapsed passes.
func Retry(ctx context.Context, maxElapsed time.Duration, what string, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxElapsed

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		slog.WarnContext(ctx, "Dependency not ready, retrying",
			slog.String("dependency", what), slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.Any("err", err))
	})
}
