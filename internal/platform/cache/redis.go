// Package cache publishes leaderboard snapshots to Redis for the read side.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"tle_zone_sweeper/internal/domain/model"
	"tle_zone_sweeper/internal/platform/config"
	"tle_zone_sweeper/internal/platform/database"
)

// Connect returns nil without error when no Redis address is configured.
func Connect(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		slog.InfoContext(ctx, "REDIS_ADDR not set, leaderboard snapshots disabled")
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	err := database.Retry(ctx, cfg.StartupRetryMaxElapsed, "redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache.Connect: %w", err)
	}
	slog.InfoContext(ctx, "Connected to Redis", slog.String("addr", cfg.RedisAddr))
	return rdb, nil
}

// LeaderboardCache stores the ranked rows of a contest under <prefix>:<contestID>
// as a list of JSON entries and announces the contest id on a pub/sub channel.
// The version of the stored list lives under <prefix>:<contestID>:version.
type LeaderboardCache struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	channel string
}

func NewLeaderboardCache(rdb *redis.Client, prefix string, ttl time.Duration, channel string) *LeaderboardCache {
	return &LeaderboardCache{rdb: rdb, prefix: prefix, ttl: ttl, channel: channel}
}

func (c *LeaderboardCache) Key(contestID string) string {
	return c.prefix + ":" + contestID
}

func (c *LeaderboardCache) VersionKey(contestID string) string {
	return c.Key(contestID) + ":version"
}

// KEYS: list, version. ARGV: version, ttl seconds, entries...
// Returns 0 without writing when the stored version is not older.
var replaceSnapshot = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
local version = tonumber(ARGV[1])
if version <= current then
	return 0
end
redis.call('DEL', KEYS[1])
for i = 3, #ARGV, 500 do
	redis.call('RPUSH', KEYS[1], unpack(ARGV, i, math.min(i + 499, #ARGV)))
end
redis.call('SET', KEYS[2], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[1], ttl)
	redis.call('EXPIRE', KEYS[2], ttl)
end
return 1
`)

// Publish replaces the cached snapshot unless the cache already holds this version or a newer one.
func (c *LeaderboardCache) Publish(ctx context.Context, contestID string, version int64, entries []model.LeaderboardEntry) error {
	args := make([]any, 0, len(entries)+2)
	args = append(args, version, int64(c.ttl/time.Second))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("LeaderboardCache.Publish: encode: %w", err)
		}
		args = append(args, b)
	}

	replaced, err := replaceSnapshot.Run(ctx, c.rdb, []string{c.Key(contestID), c.VersionKey(contestID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("LeaderboardCache.Publish(%s): %w", contestID, err)
	}
	if replaced == 0 {
		slog.DebugContext(ctx, "Cached leaderboard is newer, snapshot dropped",
			slog.String("contest_id", contestID), slog.Int64("version", version))
		return nil
	}

	if c.channel != "" {
		if err := c.rdb.Publish(ctx, c.channel, contestID).Err(); err != nil {
			return fmt.Errorf("LeaderboardCache.Publish(%s): notify: %w", contestID, err)
		}
	}
	return nil
}

// Snapshot reads back what Publish stored. A missing key yields an empty slice.
func (c *LeaderboardCache) Snapshot(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	raw, err := c.rdb.LRange(ctx, c.Key(contestID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("LeaderboardCache.Snapshot(%s): %w", contestID, err)
	}
	entries := make([]model.LeaderboardEntry, 0, len(raw))
	for _, r := range raw {
		var e model.LeaderboardEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("LeaderboardCache.Snapshot(%s): decode: %w", contestID, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
