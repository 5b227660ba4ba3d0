package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/model"
	"tle_zone_sweeper/internal/domain/repository"
)

func TestListRecentSubmissionsNewestUnresolvedFirst(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.PutSubmission(model.Submission{ID: "old", CreatedAt: now.Add(-time.Hour)})
	s.PutSubmission(model.Submission{ID: "new", CreatedAt: now})
	s.PutSubmission(model.Submission{ID: "done", CreatedAt: now, Status: model.StatusRejected})
	s.PutSubmission(model.Submission{ID: "mid", CreatedAt: now.Add(-time.Minute), Status: model.StatusProcessing,
		TestCases: []model.TestCaseResult{{Index: 2}, {Index: 0}, {Index: 1}}})

	subs, err := s.ListRecentSubmissions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{subs[0].ID, subs[1].ID, subs[2].ID})
	assert.Equal(t, []int{0, 1, 2}, []int{subs[1].TestCases[0].Index, subs[1].TestCases[1].Index, subs[1].TestCases[2].Index})

	subs, err = s.ListRecentSubmissions(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestUpdateSubmissionVerdictKeepsUsageWhenNil(t *testing.T) {
	s := NewStore()
	ms := 120
	s.PutSubmission(model.Submission{ID: "s1", TimeMs: &ms})

	require.NoError(t, s.UpdateSubmissionVerdict(context.Background(), "s1", model.StatusAccepted, nil, nil))
	sub, _ := s.Submission("s1")
	assert.Equal(t, model.StatusAccepted, sub.Status)
	assert.Equal(t, 120, *sub.TimeMs)

	err := s.UpdateSubmissionVerdict(context.Background(), "nope", model.StatusAccepted, nil, nil)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInContestTxDiscardsWritesOnError(t *testing.T) {
	s := NewStore()
	s.PutContest(model.Contest{ID: "c1"})
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InContestTx(ctx, "c1", func(tx repository.LeaderboardTx) error {
		require.NoError(t, tx.UpsertContestPoints(ctx, "alice", 100))
		changed, err := tx.SetContestLeaderboardPublished(ctx)
		require.NoError(t, err)
		assert.True(t, changed)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.Leaderboard("c1"))
	c, _ := s.Contest("c1")
	assert.False(t, c.LeaderboardPublished)

	err = s.InContestTx(ctx, "c1", func(tx repository.LeaderboardTx) error {
		return tx.UpsertContestPoints(ctx, "alice", 100)
	})
	require.NoError(t, err)
	assert.Len(t, s.Leaderboard("c1"), 1)
}

func TestFailNextQueuesPerOperation(t *testing.T) {
	s := NewStore()
	first, second := errors.New("first"), errors.New("second")
	s.FailNext(OpGetContest, first)
	s.FailNext(OpGetContest, second)
	ctx := context.Background()

	_, err := s.GetContest(ctx, "c1")
	assert.ErrorIs(t, err, first)
	_, err = s.GetContest(ctx, "c1")
	assert.ErrorIs(t, err, second)
	_, err = s.GetContest(ctx, "c1")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, 3, s.Calls(OpGetContest))
}

func TestUpsertContestSubmissionLastWriteWins(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertContestSubmission(ctx, "alice", "p1", "c1", "s1", 400))
	require.NoError(t, s.UpsertContestSubmission(ctx, "alice", "p1", "c1", "s2", 700))
	require.NoError(t, s.UpsertContestSubmission(ctx, "alice", "p2", "c1", "s3", 250))

	rows := s.ContestSubmissions("c1")
	require.Len(t, rows, 2)
	assert.Equal(t, 700, rows[0].Points)
	assert.Equal(t, "s2", rows[0].SubmissionID)
}

func TestBumpLeaderboardVersionCommitsWithTx(t *testing.T) {
	s := NewStore()
	s.PutContest(model.Contest{ID: "c1"})
	ctx := context.Background()

	bump := func(fail error) (int64, error) {
		var v int64
		err := s.InContestTx(ctx, "c1", func(tx repository.LeaderboardTx) error {
			var err error
			v, err = tx.BumpLeaderboardVersion(ctx)
			require.NoError(t, err)
			return fail
		})
		return v, err
	}

	v, err := bump(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = bump(errors.New("boom"))
	require.Error(t, err)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, int64(1), s.LeaderboardVersion("c1"), "rolled back bump is discarded")

	v, err = bump(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	err = s.InContestTx(ctx, "missing", func(tx repository.LeaderboardTx) error {
		_, err := tx.BumpLeaderboardVersion(ctx)
		return err
	})
	assert.ErrorIs(t, err, common.ErrNotFound)
}
