package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/model"
	"tle_zone_sweeper/internal/domain/repository/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func intp(v int) *int { return &v }

func strp(v string) *string { return &v }

func tc(index, status int, timeMs, memoryKb int) model.TestCaseResult {
	return model.TestCaseResult{
		ID:       "tc" + string(rune('a'+index)),
		Index:    index,
		StatusID: status,
		TimeMs:   intp(timeMs),
		MemoryKb: intp(memoryKb),
	}
}

const wrongAnswer = 4

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		cases []model.TestCaseResult
		want  model.SubmissionStatus
	}{
		{"no test cases", nil, model.StatusPending},
		{"all accepted", []model.TestCaseResult{tc(0, 3, 1, 1), tc(1, 3, 1, 1)}, model.StatusAccepted},
		{"failure after passes", []model.TestCaseResult{tc(0, 3, 1, 1), tc(1, 3, 1, 1), tc(2, wrongAnswer, 1, 1)}, model.StatusRejected},
		{"still processing", []model.TestCaseResult{tc(0, 3, 1, 1), tc(1, model.TestCaseProcessing, 0, 0)}, model.StatusPending},
		{"queued", []model.TestCaseResult{tc(0, model.TestCaseQueued, 0, 0)}, model.StatusPending},
		{"pending then failure", []model.TestCaseResult{tc(0, model.TestCaseQueued, 0, 0), tc(1, 6, 1, 1)}, model.StatusRejected},
		{"failure short-circuits later pending", []model.TestCaseResult{tc(0, 5, 1, 1), tc(1, model.TestCaseProcessing, 0, 0)}, model.StatusRejected},
		{"unordered input", []model.TestCaseResult{tc(1, 3, 1, 1), tc(0, 3, 1, 1)}, model.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.cases))
		})
	}
}

var contestStart = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type resolverFixture struct {
	store   *memory.Store
	svc     *VerdictService
	publish *recordingPublisher
}

func newResolverFixture(now time.Time) *resolverFixture {
	store := memory.NewStore()
	store.PutContest(model.Contest{ID: "c1", StartTime: contestStart, EndTime: contestStart.Add(2 * time.Hour)})
	pub := &recordingPublisher{}
	lb := NewLeaderboardService(store, pub, nil)
	return &resolverFixture{
		store:   store,
		svc:     NewVerdictService(store, lb, fixedClock{now: now}),
		publish: pub,
	}
}

func (f *resolverFixture) resolve(t *testing.T, sub model.Submission) (Outcome, error) {
	t.Helper()
	f.store.PutSubmission(sub)
	stored, ok := f.store.Submission(sub.ID)
	require.True(t, ok)
	return f.svc.Resolve(context.Background(), &stored)
}

func TestResolveRejectsWithoutScoring(t *testing.T) {
	f := newResolverFixture(contestStart)
	out, err := f.resolve(t, model.Submission{
		ID: "s1", UserID: "alice", ProblemID: "p1", Difficulty: model.DifficultyHard,
		ActiveContestID: strp("c1"),
		TestCases:       []model.TestCaseResult{tc(0, 3, 10, 10), tc(1, 3, 10, 10), tc(2, wrongAnswer, 10, 10)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out)

	sub, _ := f.store.Submission("s1")
	assert.Equal(t, model.StatusRejected, sub.Status)
	assert.Nil(t, sub.TimeMs)
	assert.Empty(t, f.store.ContestSubmissions("c1"))
	assert.Zero(t, f.store.Calls(memory.OpInContestTx))
}

func TestResolveLeavesProcessingPending(t *testing.T) {
	f := newResolverFixture(contestStart)
	out, err := f.resolve(t, model.Submission{
		ID: "s1", UserID: "alice", ProblemID: "p1",
		TestCases: []model.TestCaseResult{tc(0, 3, 10, 10), tc(1, model.TestCaseProcessing, 0, 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, out)

	sub, _ := f.store.Submission("s1")
	assert.Equal(t, model.StatusPending, sub.Status)
	assert.Zero(t, f.store.Calls(memory.OpUpdateSubmissionVerdict))
}

func TestResolveAcceptsWithPeakUsage(t *testing.T) {
	f := newResolverFixture(contestStart)
	out, err := f.resolve(t, model.Submission{
		ID: "s1", UserID: "alice", ProblemID: "p1", Difficulty: model.DifficultyEasy,
		TestCases: []model.TestCaseResult{tc(0, 3, 100, 50), tc(1, 3, 300, 20)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)

	sub, _ := f.store.Submission("s1")
	assert.Equal(t, model.StatusAccepted, sub.Status)
	require.NotNil(t, sub.TimeMs)
	require.NotNil(t, sub.MemoryKb)
	assert.Equal(t, 300, *sub.TimeMs)
	assert.Equal(t, 50, *sub.MemoryKb)
	assert.Equal(t, 1, f.store.Calls(memory.OpUpdateSubmissionVerdict))
	assert.Zero(t, f.store.Calls(memory.OpUpsertContestSubmission))
}

func TestResolveScoresContestSubmission(t *testing.T) {
	f := newResolverFixture(contestStart)
	out, err := f.resolve(t, model.Submission{
		ID: "s1", UserID: "alice", ProblemID: "p1", Difficulty: model.DifficultyMedium,
		ActiveContestID: strp("c1"),
		TestCases:       []model.TestCaseResult{tc(0, 3, 120, 64)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)

	sub, _ := f.store.Submission("s1")
	assert.Equal(t, model.StatusAccepted, sub.Status)
	assert.Equal(t, 120, *sub.TimeMs)

	scores := f.store.ContestSubmissions("c1")
	require.Len(t, scores, 1)
	assert.Equal(t, 1000, scores[0].Points)
	assert.Equal(t, "s1", scores[0].SubmissionID)

	board := f.store.Leaderboard("c1")
	require.Len(t, board, 1)
	assert.Equal(t, model.ContestPoints{ID: board[0].ID, ContestID: "c1", UserID: "alice", Points: 1000, Rank: 1}, board[0])
	assert.Equal(t, []model.LeaderboardEntry{{Rank: 1, UserID: "alice", Points: 1000}}, f.publish.calls["c1"])

	c, _ := f.store.Contest("c1")
	assert.True(t, c.LeaderboardPublished)
}

func TestResolveResubmissionOverwritesScore(t *testing.T) {
	f := newResolverFixture(contestStart.Add(time.Hour))
	accepted := []model.TestCaseResult{tc(0, 3, 1, 1)}
	f.store.PutContestSubmission("alice", "p1", "c1", 2000)

	_, err := f.resolve(t, model.Submission{
		ID: "s2", UserID: "alice", ProblemID: "p1", Difficulty: model.DifficultyHard,
		ActiveContestID: strp("c1"), TestCases: accepted,
	})
	require.NoError(t, err)

	scores := f.store.ContestSubmissions("c1")
	require.Len(t, scores, 1)
	assert.Equal(t, 1500, scores[0].Points)
	assert.Equal(t, 1500, f.store.Leaderboard("c1")[0].Points)
}

func TestResolveTerminalIsNoop(t *testing.T) {
	for _, status := range []model.SubmissionStatus{model.StatusAccepted, model.StatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			f := newResolverFixture(contestStart)
			out, err := f.resolve(t, model.Submission{
				ID: "s1", UserID: "alice", ProblemID: "p1", Difficulty: model.DifficultyEasy,
				ActiveContestID: strp("c1"), Status: status,
				TestCases: []model.TestCaseResult{tc(0, 3, 1, 1)},
			})
			require.NoError(t, err)
			assert.Equal(t, OutcomeSkipped, out)
			assert.Zero(t, f.store.Calls(memory.OpUpdateSubmissionVerdict))
			assert.Zero(t, f.store.Calls(memory.OpUpsertContestSubmission))
			assert.Zero(t, f.store.Calls(memory.OpInContestTx))
		})
	}
}

func TestResolveMissingContestIsSkipped(t *testing.T) {
	f := newResolverFixture(contestStart)
	out, err := f.resolve(t, model.Submission{
		ID: "s1", UserID: "alice", ProblemID: "p1", Difficulty: model.DifficultyEasy,
		ActiveContestID: strp("gone"),
		TestCases:       []model.TestCaseResult{tc(0, 3, 1, 1)},
	})
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.True(t, IsDataInconsistency(err))
	assert.Equal(t, OutcomePending, out)

	sub, _ := f.store.Submission("s1")
	assert.Equal(t, model.StatusPending, sub.Status)
	assert.Zero(t, f.store.Calls(memory.OpUpdateSubmissionVerdict))
}

func TestResolveDeletedContestAcceptsWithoutScore(t *testing.T) {
	f := newResolverFixture(contestStart)
	f.store.PutContest(model.Contest{ID: "c2", StartTime: contestStart, EndTime: contestStart.Add(time.Hour), Deleted: true})

	out, err := f.resolve(t, model.Submission{
		ID: "s1", UserID: "alice", ProblemID: "p1", Difficulty: model.DifficultyEasy,
		ActiveContestID: strp("c2"),
		TestCases:       []model.TestCaseResult{tc(0, 3, 1, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)

	sub, _ := f.store.Submission("s1")
	assert.Equal(t, model.StatusAccepted, sub.Status)
	assert.Empty(t, f.store.ContestSubmissions("c2"))
	assert.Zero(t, f.store.Calls(memory.OpInContestTx))
}

func TestResolveRetriesAfterFailedScoreWrite(t *testing.T) {
	f := newResolverFixture(contestStart)
	sub := model.Submission{
		ID: "s1", UserID: "alice", ProblemID: "p1", Difficulty: model.DifficultyEasy,
		ActiveContestID: strp("c1"),
		TestCases:       []model.TestCaseResult{tc(0, 3, 7, 8)},
	}
	f.store.FailNext(memory.OpUpsertContestSubmission, errors.New("connection reset"))

	out, err := f.resolve(t, sub)
	require.Error(t, err)
	assert.Equal(t, OutcomePending, out)

	stored, _ := f.store.Submission("s1")
	assert.Equal(t, model.StatusProcessing, stored.Status, "never AC without a score")
	assert.Empty(t, f.store.ContestSubmissions("c1"))

	out, err = f.svc.Resolve(context.Background(), &stored)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)

	stored, _ = f.store.Submission("s1")
	assert.Equal(t, model.StatusAccepted, stored.Status)
	require.Len(t, f.store.ContestSubmissions("c1"), 1)
	assert.Equal(t, 500, f.store.ContestSubmissions("c1")[0].Points)
}

func TestResolveSurvivesRefreshFailure(t *testing.T) {
	f := newResolverFixture(contestStart)
	f.store.FailNext(memory.OpInContestTx, errors.New("lock timeout"))

	out, err := f.resolve(t, model.Submission{
		ID: "s1", UserID: "alice", ProblemID: "p1", Difficulty: model.DifficultyEasy,
		ActiveContestID: strp("c1"),
		TestCases:       []model.TestCaseResult{tc(0, 3, 1, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out)
	assert.Len(t, f.store.ContestSubmissions("c1"), 1)
	assert.Empty(t, f.store.Leaderboard("c1"))
}
