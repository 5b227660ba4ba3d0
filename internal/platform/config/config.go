package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBSslMode        string
	DBConnStr        string
	DBMaxConns       int
	DBMigrateOnStart bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LeaderboardCachePrefix    string
	LeaderboardCacheTTL       time.Duration
	LeaderboardUpdatesChannel string

	SweepTickInterval         time.Duration
	SweepBatchSize            int
	LeaderboardRefreshEvery   time.Duration
	LeaderboardRecentWindow   time.Duration
	LeaderboardRefreshWorkers int

	LogLevel slog.Level
	LogFile  string

	MetricsPushgatewayURL string
	MetricsJobName        string

	StartupRetryMaxElapsed time.Duration
}

var AppConfig *Config

// Load reads .env (if present) and the environment into AppConfig.
func Load() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "user"),
		DBPassword:       getEnv("DB_PASSWORD", "password"),
		DBName:           getEnv("DB_NAME", "tle_zone"),
		DBSslMode:        getEnv("DB_SSLMODE", "disable"),
		DBMaxConns:       getEnvAsInt("DB_MAX_CONNS", 10),
		DBMigrateOnStart: getEnvAsBool("DB_MIGRATE_ON_START", false),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		LeaderboardCachePrefix:    getEnv("LEADERBOARD_CACHE_PREFIX", "leaderboard"),
		LeaderboardCacheTTL:       time.Duration(getEnvAsInt("LEADERBOARD_CACHE_TTL_SECONDS", 172800)) * time.Second,
		LeaderboardUpdatesChannel: getEnv("LEADERBOARD_UPDATES_CHANNEL", "leaderboard_updates"),

		SweepTickInterval:         time.Duration(getEnvAsInt("SWEEP_TICK_MS", 1000)) * time.Millisecond,
		SweepBatchSize:            getEnvAsInt("SWEEP_BATCH_SIZE", 20),
		LeaderboardRefreshEvery:   time.Duration(getEnvAsInt("LEADERBOARD_REFRESH_INTERVAL_SECONDS", 300)) * time.Second,
		LeaderboardRecentWindow:   time.Duration(getEnvAsInt("LEADERBOARD_RECENT_WINDOW_HOURS", 24)) * time.Hour,
		LeaderboardRefreshWorkers: getEnvAsInt("LEADERBOARD_REFRESH_CONCURRENCY", 4),

		LogFile: getEnv("LOG_FILE", ""),

		MetricsPushgatewayURL: getEnv("METRICS_PUSHGATEWAY_URL", ""),
		MetricsJobName:        getEnv("METRICS_JOB_NAME", "tle_zone_sweeper"),

		StartupRetryMaxElapsed: time.Duration(getEnvAsInt("STARTUP_RETRY_MAX_ELAPSED_SECONDS", 60)) * time.Second,
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return err
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return err
	}

	cfg.DBConnStr = "host=" + cfg.DBHost +
		" port=" + cfg.DBPort +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" sslmode=" + cfg.DBSslMode

	AppConfig = cfg
	return nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DBMaxConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns))
	}
	if c.SweepTickInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_TICK_MS must be positive, got %s", c.SweepTickInterval))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH_SIZE must be positive, got %d", c.SweepBatchSize))
	}
	if c.LeaderboardRefreshEvery <= 0 {
		errs = append(errs, fmt.Errorf("LEADERBOARD_REFRESH_INTERVAL_SECONDS must be positive, got %s", c.LeaderboardRefreshEvery))
	}
	if c.LeaderboardRecentWindow <= 0 {
		errs = append(errs, fmt.Errorf("LEADERBOARD_RECENT_WINDOW_HOURS must be positive, got %s", c.LeaderboardRecentWindow))
	}
	if c.LeaderboardRefreshWorkers <= 0 {
		errs = append(errs, fmt.Errorf("LEADERBOARD_REFRESH_CONCURRENCY must be positive, got %d", c.LeaderboardRefreshWorkers))
	}
	if c.LeaderboardCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("LEADERBOARD_CACHE_TTL_SECONDS must not be negative, got %s", c.LeaderboardCacheTTL))
	}
	if c.RedisAddr != "" && c.LeaderboardCachePrefix == "" {
		errs = append(errs, errors.New("LEADERBOARD_CACHE_PREFIX must be set when REDIS_ADDR is"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
