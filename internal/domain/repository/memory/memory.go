// Package memory is an in-process repository.Store used by tests and dry runs.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/model"
	"tle_zone_sweeper/internal/domain/repository"
)

// Operation names accepted by FailNext and Calls.
const (
	OpListRecentSubmissions      = "ListRecentSubmissions"
	OpUpdateSubmissionVerdict    = "UpdateSubmissionVerdict"
	OpGetContest                 = "GetContest"
	OpListContests               = "ListContestsActiveOrRecentlyEnded"
	OpUpsertContestSubmission    = "UpsertContestSubmission"
	OpInContestTx                = "InContestTx"
	OpSumContestSubmissionPoints = "SumContestSubmissionPointsByUser"
	OpUpsertContestPoints        = "UpsertContestPoints"
	OpListContestPoints          = "ListContestPoints"
	OpUpdateContestPointsRank    = "UpdateContestPointsRank"
	OpSetLeaderboardPublished    = "SetContestLeaderboardPublished"
	OpBumpLeaderboardVersion     = "BumpLeaderboardVersion"
)

type csKey struct{ userID, problemID, contestID string }

type Store struct {
	mu sync.Mutex

	submissions        map[string]*model.Submission
	contests           map[string]*model.Contest
	contestSubmissions map[csKey]*model.ContestSubmission
	contestPoints      map[string]map[string]*model.ContestPoints // contest -> user -> row
	versions           map[string]int64

	contestLocks map[string]*sync.Mutex
	failures     map[string][]error
	calls        map[string]int

	// AfterRankWrite, when set, runs inside InContestTx after every rank write.
	AfterRankWrite func(contestID string)
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		submissions:        make(map[string]*model.Submission),
		contests:           make(map[string]*model.Contest),
		contestSubmissions: make(map[csKey]*model.ContestSubmission),
		contestPoints:      make(map[string]map[string]*model.ContestPoints),
		versions:           make(map[string]int64),
		contestLocks:       make(map[string]*sync.Mutex),
		failures:           make(map[string][]error),
		calls:              make(map[string]int),
	}
}

// PutSubmission inserts or replaces a submission. Test cases are copied.
func (s *Store) PutSubmission(sub model.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.Status == "" {
		sub.Status = model.StatusPending
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	c := cloneSubmission(sub)
	s.submissions[sub.ID] = &c
}

func (s *Store) PutContest(c model.Contest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contests[c.ID] = &c
}

func (s *Store) PutContestSubmission(userID, problemID, contestID string, points int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertContestSubmission(userID, problemID, contestID, "", points)
}

// FailNext makes the next call of op return err. Calls queue up in order.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// Calls returns how many times op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) Submission(id string) (model.Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return model.Submission{}, false
	}
	return cloneSubmission(*sub), true
}

func (s *Store) Contest(id string) (model.Contest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contests[id]
	if !ok {
		return model.Contest{}, false
	}
	return *c, true
}

// ContestSubmissions returns the scoring rows of a contest ordered by user then problem.
func (s *Store) ContestSubmissions(contestID string) []model.ContestSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ContestSubmission
	for k, cs := range s.contestSubmissions {
		if k.contestID == contestID {
			out = append(out, *cs)
		}
	}
	slices.SortFunc(out, func(a, b model.ContestSubmission) int {
		return cmp.Or(cmp.Compare(a.UserID, b.UserID), cmp.Compare(a.ProblemID, b.ProblemID))
	})
	return out
}

// Leaderboard returns committed ContestPoints rows ordered by rank.
func (s *Store) Leaderboard(contestID string) []model.ContestPoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ContestPoints
	for _, cp := range s.contestPoints[contestID] {
		out = append(out, *cp)
	}
	slices.SortFunc(out, func(a, b model.ContestPoints) int {
		return cmp.Or(cmp.Compare(a.Rank, b.Rank), cmp.Compare(a.UserID, b.UserID))
	})
	return out
}

// LeaderboardVersion returns the committed leaderboard version of a contest.
func (s *Store) LeaderboardVersion(contestID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[contestID]
}

// enter records a call and pops a queued failure. Callers hold s.mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	if errs := s.failures[op]; len(errs) > 0 {
		s.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (s *Store) ListRecentSubmissions(ctx context.Context, limit int) ([]model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListRecentSubmissions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []model.Submission
	for _, sub := range s.submissions {
		if sub.Status.IsTerminal() {
			continue
		}
		out = append(out, cloneSubmission(*sub))
	}
	slices.SortFunc(out, func(a, b model.Submission) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateSubmissionVerdict(ctx context.Context, id string, status model.SubmissionStatus, timeMs *int, memoryKb *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdateSubmissionVerdict); err != nil {
		return err
	}
	sub, ok := s.submissions[id]
	if !ok {
		return common.Errorf("submission %s: %w", id, common.ErrNotFound)
	}
	sub.Status = status
	if timeMs != nil {
		sub.TimeMs = intPtr(*timeMs)
	}
	if memoryKb != nil {
		sub.MemoryKb = intPtr(*memoryKb)
	}
	return nil
}

func (s *Store) GetContest(ctx context.Context, id string) (*model.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetContest); err != nil {
		return nil, err
	}
	c, ok := s.contests[id]
	if !ok {
		return nil, common.Errorf("contest %s: %w", id, common.ErrNotFound)
	}
	cc := *c
	return &cc, nil
}

func (s *Store) ListContestsActiveOrRecentlyEnded(ctx context.Context, now time.Time, window time.Duration) ([]model.Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListContests); err != nil {
		return nil, err
	}
	var out []model.Contest
	for _, c := range s.contests {
		if !c.Deleted && c.EndedWithin(now, window) {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b model.Contest) int {
		return cmp.Or(a.StartTime.Compare(b.StartTime), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) UpsertContestSubmission(ctx context.Context, userID, problemID, contestID, submissionID string, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpsertContestSubmission); err != nil {
		return err
	}
	s.upsertContestSubmission(userID, problemID, contestID, submissionID, points)
	return nil
}

func (s *Store) upsertContestSubmission(userID, problemID, contestID, submissionID string, points int) {
	k := csKey{userID, problemID, contestID}
	if cs, ok := s.contestSubmissions[k]; ok {
		cs.Points = points
		cs.SubmissionID = submissionID
		cs.UpdatedAt = time.Now()
		return
	}
	s.contestSubmissions[k] = &model.ContestSubmission{
		ID:           uuid.NewString(),
		UserID:       userID,
		ProblemID:    problemID,
		ContestID:    contestID,
		SubmissionID: submissionID,
		Points:       points,
		UpdatedAt:    time.Now(),
	}
}

func (s *Store) contestLock(contestID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.contestLocks[contestID]
	if !ok {
		l = &sync.Mutex{}
		s.contestLocks[contestID] = l
	}
	return l
}

func (s *Store) InContestTx(ctx context.Context, contestID string, fn func(tx repository.LeaderboardTx) error) error {
	lock := s.contestLock(contestID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if err := s.enter(OpInContestTx); err != nil {
		s.mu.Unlock()
		return err
	}
	staged := make(map[string]*model.ContestPoints, len(s.contestPoints[contestID]))
	for userID, cp := range s.contestPoints[contestID] {
		c := *cp
		staged[userID] = &c
	}
	s.mu.Unlock()

	tx := &memTx{store: s, contestID: contestID, points: staged}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.contestPoints[contestID] = tx.points
	if tx.publish {
		if c, ok := s.contests[contestID]; ok {
			c.LeaderboardPublished = true
		}
	}
	if tx.version > 0 {
		s.versions[contestID] = tx.version
	}
	return nil
}

// memTx stages ContestPoints writes, the publish flag and the version until commit.
type memTx struct {
	store     *Store
	contestID string
	points    map[string]*model.ContestPoints
	publish   bool
	version   int64
}

func (t *memTx) SumContestSubmissionPointsByUser(ctx context.Context) ([]model.UserPoints, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.enter(OpSumContestSubmissionPoints); err != nil {
		return nil, err
	}
	sums := make(map[string]int)
	for k, cs := range t.store.contestSubmissions {
		if k.contestID == t.contestID {
			sums[k.userID] += cs.Points
		}
	}
	out := make([]model.UserPoints, 0, len(sums))
	for userID, points := range sums {
		out = append(out, model.UserPoints{UserID: userID, Points: points})
	}
	slices.SortFunc(out, func(a, b model.UserPoints) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (t *memTx) UpsertContestPoints(ctx context.Context, userID string, points int) error {
	t.store.mu.Lock()
	err := t.store.enter(OpUpsertContestPoints)
	t.store.mu.Unlock()
	if err != nil {
		return err
	}
	if cp, ok := t.points[userID]; ok {
		cp.Points = points
		return nil
	}
	t.points[userID] = &model.ContestPoints{
		ID:        uuid.NewString(),
		ContestID: t.contestID,
		UserID:    userID,
		Points:    points,
	}
	return nil
}

func (t *memTx) ListContestPoints(ctx context.Context) ([]model.ContestPoints, error) {
	t.store.mu.Lock()
	err := t.store.enter(OpListContestPoints)
	t.store.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]model.ContestPoints, 0, len(t.points))
	for _, cp := range t.points {
		out = append(out, *cp)
	}
	slices.SortFunc(out, func(a, b model.ContestPoints) int {
		return cmp.Or(cmp.Compare(b.Points, a.Points), cmp.Compare(a.UserID, b.UserID))
	})
	return out, nil
}

func (t *memTx) UpdateContestPointsRank(ctx context.Context, id string, rank int) error {
	t.store.mu.Lock()
	err := t.store.enter(OpUpdateContestPointsRank)
	hook := t.store.AfterRankWrite
	t.store.mu.Unlock()
	if err != nil {
		return err
	}
	found := false
	for _, cp := range t.points {
		if cp.ID == id {
			cp.Rank = rank
			found = true
			break
		}
	}
	if !found {
		return common.Errorf("contest points %s: %w", id, common.ErrNotFound)
	}
	if hook != nil {
		hook(t.contestID)
	}
	return nil
}

func (t *memTx) SetContestLeaderboardPublished(ctx context.Context) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.enter(OpSetLeaderboardPublished); err != nil {
		return false, err
	}
	c, ok := t.store.contests[t.contestID]
	if !ok || c.LeaderboardPublished || t.publish {
		return false, nil
	}
	t.publish = true
	return true, nil
}

func (t *memTx) BumpLeaderboardVersion(ctx context.Context) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.enter(OpBumpLeaderboardVersion); err != nil {
		return 0, err
	}
	if _, ok := t.store.contests[t.contestID]; !ok {
		return 0, common.Errorf("contest %s: %w", t.contestID, common.ErrNotFound)
	}
	if t.version == 0 {
		t.version = t.store.versions[t.contestID]
	}
	t.version++
	return t.version, nil
}

func cloneSubmission(sub model.Submission) model.Submission {
	c := sub
	if sub.ActiveContestID != nil {
		id := *sub.ActiveContestID
		c.ActiveContestID = &id
	}
	if sub.TimeMs != nil {
		c.TimeMs = intPtr(*sub.TimeMs)
	}
	if sub.MemoryKb != nil {
		c.MemoryKb = intPtr(*sub.MemoryKb)
	}
	c.TestCases = slices.Clone(sub.TestCases)
	slices.SortStableFunc(c.TestCases, func(a, b model.TestCaseResult) int { return cmp.Compare(a.Index, b.Index) })
	return c
}

func intPtr(v int) *int { return &v }
