package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"tle_zone_sweeper/internal/app/scoring"
	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/model"
	"tle_zone_sweeper/internal/domain/repository"
)

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	// OutcomeSkipped means the submission already had a final verdict and nothing was written.
	OutcomeSkipped Outcome = "skipped"
)

type VerdictService struct {
	store       repository.Store
	leaderboard *LeaderboardService
	clock       common.Clock
}

func NewVerdictService(store repository.Store, leaderboard *LeaderboardService, clock common.Clock) *VerdictService {
	if clock == nil {
		clock = common.SystemClock
	}
	return &VerdictService{
		store:       store,
		leaderboard: leaderboard,
		clock:       clock,
	}
}

// Decide derives a verdict from test case results scanned in index order.
// The first failed case rejects the submission; later cases are not looked at.
// Pending cases only matter when no failure follows them.
func Decide(testCases []model.TestCaseResult) model.SubmissionStatus {
	if len(testCases) == 0 {
		return model.StatusPending
	}
	ordered := slices.Clone(testCases)
	slices.SortStableFunc(ordered, func(a, b model.TestCaseResult) int { return cmp.Compare(a.Index, b.Index) })

	pending := false
	for _, tc := range ordered {
		switch {
		case tc.IsPending():
			pending = true
		case tc.IsAccepted():
		default:
			return model.StatusRejected
		}
	}
	if pending {
		return model.StatusPending
	}
	return model.StatusAccepted
}

// peakUsage returns the largest reported time and memory, nil when no case reported one.
func peakUsage(testCases []model.TestCaseResult) (timeMs, memoryKb *int) {
	for _, tc := range testCases {
		if tc.TimeMs != nil && (timeMs == nil || *tc.TimeMs > *timeMs) {
			v := *tc.TimeMs
			timeMs = &v
		}
		if tc.MemoryKb != nil && (memoryKb == nil || *tc.MemoryKb > *memoryKb) {
			v := *tc.MemoryKb
			memoryKb = &v
		}
	}
	return timeMs, memoryKb
}

// Resolve settles one submission. It returns OutcomePending together with an error when
// the submission could not be settled this time; it will be fetched again next sweep.
func (s *VerdictService) Resolve(ctx context.Context, sub *model.Submission) (Outcome, error) {
	if sub.Status.IsTerminal() {
		return OutcomeSkipped, nil
	}

	switch Decide(sub.TestCases) {
	case model.StatusPending:
		return OutcomePending, nil
	case model.StatusRejected:
		if err := s.store.UpdateSubmissionVerdict(ctx, sub.ID, model.StatusRejected, nil, nil); err != nil {
			return OutcomePending, fmt.Errorf("VerdictService.Resolve(%s): reject: %w", sub.ID, err)
		}
		return OutcomeRejected, nil
	}

	timeMs, memoryKb := peakUsage(sub.TestCases)
	if sub.ActiveContestID == nil || *sub.ActiveContestID == "" {
		if err := s.store.UpdateSubmissionVerdict(ctx, sub.ID, model.StatusAccepted, timeMs, memoryKb); err != nil {
			return OutcomePending, fmt.Errorf("VerdictService.Resolve(%s): accept: %w", sub.ID, err)
		}
		return OutcomeAccepted, nil
	}
	return s.acceptContestSubmission(ctx, sub, *sub.ActiveContestID, timeMs, memoryKb)
}

func (s *VerdictService) acceptContestSubmission(ctx context.Context, sub *model.Submission, contestID string, timeMs, memoryKb *int) (Outcome, error) {
	contest, err := s.store.GetContest(ctx, contestID)
	if err != nil {
		return OutcomePending, fmt.Errorf("VerdictService.Resolve(%s): contest %s: %w", sub.ID, contestID, err)
	}

	if contest.Deleted {
		if err := s.store.UpdateSubmissionVerdict(ctx, sub.ID, model.StatusAccepted, timeMs, memoryKb); err != nil {
			return OutcomePending, fmt.Errorf("VerdictService.Resolve(%s): accept: %w", sub.ID, err)
		}
		slog.InfoContext(ctx, "Accepted submission for deleted contest, not scored",
			slog.String("submission_id", sub.ID), slog.String("contest_id", contestID))
		return OutcomeAccepted, nil
	}

	// AC is written only after the score is stored; a crash in between leaves the
	// submission PROCESSING and it is scored again on the next sweep.
	if err := s.store.UpdateSubmissionVerdict(ctx, sub.ID, model.StatusProcessing, timeMs, memoryKb); err != nil {
		return OutcomePending, fmt.Errorf("VerdictService.Resolve(%s): record usage: %w", sub.ID, err)
	}

	points := scoring.ComputePoints(sub.Difficulty, s.clock.Now(), contest.StartTime, contest.EndTime)
	if err := s.store.UpsertContestSubmission(ctx, sub.UserID, sub.ProblemID, contestID, sub.ID, points); err != nil {
		return OutcomePending, fmt.Errorf("VerdictService.Resolve(%s): score: %w", sub.ID, err)
	}
	if err := s.store.UpdateSubmissionVerdict(ctx, sub.ID, model.StatusAccepted, nil, nil); err != nil {
		return OutcomePending, fmt.Errorf("VerdictService.Resolve(%s): accept: %w", sub.ID, err)
	}

	if s.leaderboard != nil {
		if _, err := s.leaderboard.Refresh(ctx, contestID); err != nil {
			// The periodic sweep rebuilds it.
			slog.WarnContext(ctx, "Leaderboard refresh after accept failed",
				slog.String("submission_id", sub.ID), slog.String("contest_id", contestID), slog.Any("err", err))
		}
	}
	return OutcomeAccepted, nil
}

// IsDataInconsistency reports whether a Resolve error is caused by a dangling reference
// rather than a store failure.
func IsDataInconsistency(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
