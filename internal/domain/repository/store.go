package repository

import (
	"context"
	"time"

	"tle_zone_sweeper/internal/domain/model"
)

// Store is everything the sweeper needs from persistence.
type Store interface {
	// ListRecentSubmissions returns up to limit unresolved submissions, newest first,
	// each with its test case results ordered by index.
	ListRecentSubmissions(ctx context.Context, limit int) ([]model.Submission, error)
	UpdateSubmissionVerdict(ctx context.Context, id string, status model.SubmissionStatus, timeMs *int, memoryKb *int) error

	// GetContest returns common.ErrNotFound when the contest does not exist. Soft-deleted
	// contests are returned with Deleted set.
	GetContest(ctx context.Context, id string) (*model.Contest, error)
	// ListContestsActiveOrRecentlyEnded returns non-deleted contests whose end is after now-window.
	ListContestsActiveOrRecentlyEnded(ctx context.Context, now time.Time, window time.Duration) ([]model.Contest, error)

	// UpsertContestSubmission is keyed on (userID, problemID, contestID); last write wins.
	UpsertContestSubmission(ctx context.Context, userID, problemID, contestID, submissionID string, points int) error

	// InContestTx runs fn in a transaction holding the contest's exclusive refresh lock.
	// Nothing fn writes is visible to others unless fn returns nil and the commit succeeds.
	InContestTx(ctx context.Context, contestID string, fn func(tx LeaderboardTx) error) error
}

// LeaderboardTx is the set of operations available inside InContestTx, all scoped to one contest.
type LeaderboardTx interface {
	SumContestSubmissionPointsByUser(ctx context.Context) ([]model.UserPoints, error)
	// UpsertContestPoints creates the row with rank 0 or updates its points.
	UpsertContestPoints(ctx context.Context, userID string, points int) error
	// ListContestPoints orders by points descending, then user id ascending.
	ListContestPoints(ctx context.Context) ([]model.ContestPoints, error)
	UpdateContestPointsRank(ctx context.Context, id string, rank int) error
	// SetContestLeaderboardPublished reports whether the flag flipped from false to true.
	SetContestLeaderboardPublished(ctx context.Context) (bool, error)
	// BumpLeaderboardVersion increments and returns the contest's leaderboard version.
	// Versions follow commit order because the contest lock is held until commit.
	// Returns common.ErrNotFound when the contest does not exist.
	BumpLeaderboardVersion(ctx context.Context) (int64, error)
}
