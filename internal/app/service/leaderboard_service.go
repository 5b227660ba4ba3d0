package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/model"
	"tle_zone_sweeper/internal/domain/repository"
	"tle_zone_sweeper/internal/platform/metrics"
)

// LeaderboardPublisher receives the ranked rows of a contest after every committed refresh.
// version grows with commit order; a publisher must not let an older version replace a newer one.
type LeaderboardPublisher interface {
	Publish(ctx context.Context, contestID string, version int64, entries []model.LeaderboardEntry) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, int64, []model.LeaderboardEntry) error {
	return nil
}

// NoopPublisher is used when no leaderboard cache is configured.
var NoopPublisher LeaderboardPublisher = noopPublisher{}

type RefreshResult struct {
	ContestID    string
	Entries      []model.LeaderboardEntry
	Published    bool // this refresh flipped the contest's leaderboard flag
	Version      int64
	RanksWritten int
	Duration     time.Duration
}

type LeaderboardService struct {
	store     repository.Store
	publisher LeaderboardPublisher
	metrics   *metrics.Recorder

	gatesMu sync.Mutex
	gates   map[string]*publishGate
}

// publishGate serialises publishes of one contest and remembers the newest version sent.
type publishGate struct {
	mu     sync.Mutex
	latest int64
}

func NewLeaderboardService(store repository.Store, publisher LeaderboardPublisher, rec *metrics.Recorder) *LeaderboardService {
	if publisher == nil {
		publisher = NoopPublisher
	}
	return &LeaderboardService{
		store:     store,
		publisher: publisher,
		metrics:   rec,
		gates:     make(map[string]*publishGate),
	}
}

// Refresh recomputes totals and dense ranks for a contest in one transaction
// and marks its leaderboard as published. Equal totals are ordered by user id.
func (s *LeaderboardService) Refresh(ctx context.Context, contestID string) (*RefreshResult, error) {
	return s.refresh(ctx, contestID, true)
}

// Rebuild recomputes the leaderboard like Refresh but leaves the published flag as it is.
func (s *LeaderboardService) Rebuild(ctx context.Context, contestID string) (*RefreshResult, error) {
	return s.refresh(ctx, contestID, false)
}

func (s *LeaderboardService) refresh(ctx context.Context, contestID string, markPublished bool) (*RefreshResult, error) {
	start := time.Now()
	result := &RefreshResult{ContestID: contestID}

	err := s.store.InContestTx(ctx, contestID, func(tx repository.LeaderboardTx) error {
		// Reset on every attempt so nothing leaks from a rolled back callback.
		result.Entries = nil
		result.RanksWritten = 0
		result.Published = false
		result.Version = 0

		sums, err := tx.SumContestSubmissionPointsByUser(ctx)
		if err != nil {
			return fmt.Errorf("sum points: %w", err)
		}
		for _, up := range sums {
			if err := tx.UpsertContestPoints(ctx, up.UserID, up.Points); err != nil {
				return fmt.Errorf("upsert points for user %s: %w", up.UserID, err)
			}
		}

		rows, err := tx.ListContestPoints(ctx)
		if err != nil {
			return fmt.Errorf("list points: %w", err)
		}
		present := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			present[row.UserID] = struct{}{}
		}
		for _, up := range sums {
			if _, ok := present[up.UserID]; !ok {
				return common.Errorf("contest %s: points row for user %s missing after upsert: %w", contestID, up.UserID, common.ErrInvariant)
			}
		}

		entries := make([]model.LeaderboardEntry, 0, len(rows))
		for i, row := range rows {
			rank := i + 1
			if row.Rank != rank {
				if err := tx.UpdateContestPointsRank(ctx, row.ID, rank); err != nil {
					return fmt.Errorf("rank user %s: %w", row.UserID, err)
				}
				result.RanksWritten++
			}
			entries = append(entries, model.LeaderboardEntry{Rank: rank, UserID: row.UserID, Points: row.Points})
		}

		if markPublished {
			published, err := tx.SetContestLeaderboardPublished(ctx)
			if err != nil {
				return fmt.Errorf("publish flag: %w", err)
			}
			result.Published = published
		}
		version, err := tx.BumpLeaderboardVersion(ctx)
		if err != nil {
			return fmt.Errorf("bump version: %w", err)
		}
		result.Entries = entries
		result.Version = version
		return nil
	})
	result.Duration = time.Since(start)
	s.metrics.LeaderboardRefreshed(result.Duration, err)
	if err != nil {
		return nil, fmt.Errorf("LeaderboardService.Refresh(%s): %w", contestID, err)
	}

	slog.DebugContext(ctx, "Leaderboard refreshed",
		slog.String("contest_id", contestID),
		slog.Int("users", len(result.Entries)),
		slog.Int("ranks_written", result.RanksWritten),
		slog.Bool("published", result.Published),
		slog.Int64("version", result.Version),
		slog.Duration("took", result.Duration))

	s.publish(ctx, result)
	return result, nil
}

// publish hands a committed snapshot to the publisher unless a newer one already went out.
func (s *LeaderboardService) publish(ctx context.Context, result *RefreshResult) {
	gate := s.gate(result.ContestID)
	gate.mu.Lock()
	defer gate.mu.Unlock()

	if result.Version <= gate.latest {
		slog.DebugContext(ctx, "Skipping stale leaderboard snapshot",
			slog.String("contest_id", result.ContestID),
			slog.Int64("version", result.Version),
			slog.Int64("latest", gate.latest))
		return
	}
	if err := s.publisher.Publish(ctx, result.ContestID, result.Version, result.Entries); err != nil {
		slog.WarnContext(ctx, "Could not publish leaderboard snapshot", slog.String("contest_id", result.ContestID), slog.Any("err", err))
		return
	}
	gate.latest = result.Version
}

func (s *LeaderboardService) gate(contestID string) *publishGate {
	s.gatesMu.Lock()
	defer s.gatesMu.Unlock()
	g, ok := s.gates[contestID]
	if !ok {
		g = &publishGate{}
		s.gates[contestID] = g
	}
	return g
}
