package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"tle_zone_sweeper/internal/app/service"
	"tle_zone_sweeper/internal/common"
	"tle_zone_sweeper/internal/domain/model"
	"tle_zone_sweeper/internal/domain/repository"
	"tle_zone_sweeper/internal/platform/metrics"
)

type SweepConfig struct {
	TickInterval       time.Duration
	BatchSize          int
	RefreshInterval    time.Duration
	RecentWindow       time.Duration
	RefreshConcurrency int
}

func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		TickInterval:       time.Second,
		BatchSize:          20,
		RefreshInterval:    5 * time.Minute,
		RecentWindow:       24 * time.Hour,
		RefreshConcurrency: 4,
	}
}

// ItemResult is what happened to one submission during a tick.
type ItemResult struct {
	SubmissionID string
	Outcome      service.Outcome
	Err          error
}

type RefreshReport struct {
	ContestID string
	Users     int
	Err       error
}

type TickReport struct {
	Items []ItemResult

	// Refreshed is set when this tick ran the periodic leaderboard sweep.
	Refreshed bool
	Refreshes []RefreshReport

	// Err is a failure that stopped part of the tick: listing, or a recovered panic.
	Err error
}

// Failed counts the submissions and contests that hit an error.
func (r TickReport) Failed() int {
	n := 0
	for _, it := range r.Items {
		if it.Err != nil {
			n++
		}
	}
	for _, rr := range r.Refreshes {
		if rr.Err != nil {
			n++
		}
	}
	return n
}

// SweepWorker drains unresolved submissions and keeps contest leaderboards fresh.
type SweepWorker struct {
	store       repository.Store
	verdicts    *service.VerdictService
	leaderboard *service.LeaderboardService
	clock       common.Clock
	metrics     *metrics.Recorder
	cfg         SweepConfig

	lastRefresh time.Time
}

func NewSweepWorker(
	store repository.Store,
	verdicts *service.VerdictService,
	leaderboard *service.LeaderboardService,
	clock common.Clock,
	rec *metrics.Recorder,
	cfg SweepConfig,
) *SweepWorker {
	if clock == nil {
		clock = common.SystemClock
	}
	def := DefaultSweepConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = def.RecentWindow
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 1
	}
	return &SweepWorker{
		store:       store,
		verdicts:    verdicts,
		leaderboard: leaderboard,
		clock:       clock,
		metrics:     rec,
		cfg:         cfg,
	}
}

// Run ticks until ctx is cancelled. A tick that has started always finishes;
// it runs on a context that ignores cancellation.
func (w *SweepWorker) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Sweep worker started",
		slog.Duration("tick", w.cfg.TickInterval),
		slog.Int("batch_size", w.cfg.BatchSize),
		slog.Duration("refresh_interval", w.cfg.RefreshInterval))

	tickCtx := context.WithoutCancel(ctx)
	for {
		w.Tick(tickCtx)

		if ctx.Err() != nil {
			slog.InfoContext(tickCtx, "Sweep worker stopping...")
			return
		}
		select {
		case <-ctx.Done():
			slog.InfoContext(tickCtx, "Sweep worker stopping...")
			return
		case <-w.clock.After(w.cfg.TickInterval):
		}
	}
}

// Tick resolves one batch of submissions and, when due, refreshes every live contest.
// It never panics and never returns early on a single failure.
func (w *SweepWorker) Tick(ctx context.Context) (report TickReport) {
	started := w.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			report.Err = fmt.Errorf("%w: tick panicked: %v", common.ErrInvariant, r)
			slog.ErrorContext(ctx, "Recovered from panic in sweep tick", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
		w.metrics.TickFinished(w.clock.Now().Sub(started))
	}()

	report.Items, report.Err = w.resolveBatch(ctx)

	if w.refreshDue(started) {
		refreshes, err := w.refreshContests(ctx, started)
		if err != nil {
			slog.ErrorContext(ctx, "Could not list contests for leaderboard sweep", slog.Any("err", err))
			if report.Err == nil {
				report.Err = err
			}
		} else {
			w.lastRefresh = started
			report.Refreshed = true
			report.Refreshes = refreshes
			if err := w.metrics.Push(ctx); err != nil {
				slog.WarnContext(ctx, "Could not push metrics", slog.Any("err", err))
			}
		}
	}
	return report
}

func (w *SweepWorker) refreshDue(now time.Time) bool {
	return w.lastRefresh.IsZero() || now.Sub(w.lastRefresh) >= w.cfg.RefreshInterval
}

func (w *SweepWorker) resolveBatch(ctx context.Context) ([]ItemResult, error) {
	subs, err := w.store.ListRecentSubmissions(ctx, w.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Could not fetch submissions", slog.Any("err", err), slog.Bool("transient", common.IsTransient(err)))
		return nil, fmt.Errorf("fetch submissions: %w", err)
	}

	results := make([]ItemResult, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		outcome, err := w.resolveOne(ctx, sub)
		results = append(results, ItemResult{SubmissionID: sub.ID, Outcome: outcome, Err: err})

		switch {
		case err != nil && service.IsDataInconsistency(err):
			w.metrics.ResolveFailed()
			slog.WarnContext(ctx, "Skipping submission with dangling reference", slog.String("submission_id", sub.ID), slog.Any("err", err))
		case err != nil:
			w.metrics.ResolveFailed()
			slog.ErrorContext(ctx, "Could not resolve submission", slog.String("submission_id", sub.ID), slog.Any("err", err), slog.Bool("transient", common.IsTransient(err)))
		default:
			w.metrics.SubmissionResolved(string(outcome))
			if outcome == service.OutcomeAccepted || outcome == service.OutcomeRejected {
				slog.InfoContext(ctx, "Submission resolved", slog.String("submission_id", sub.ID), slog.String("outcome", string(outcome)))
			}
		}
	}
	return results, nil
}

// resolveOne turns a panic while resolving sub into an error for that item only.
func (w *SweepWorker) resolveOne(ctx context.Context, sub *model.Submission) (outcome service.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = service.OutcomePending, fmt.Errorf("%w: resolve panicked: %v", common.ErrInvariant, r)
			slog.ErrorContext(ctx, "Recovered from panic while resolving submission",
				slog.String("submission_id", sub.ID), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()
	return w.verdicts.Resolve(ctx, sub)
}

func (w *SweepWorker) refreshContests(ctx context.Context, now time.Time) ([]RefreshReport, error) {
	contests, err := w.store.ListContestsActiveOrRecentlyEnded(ctx, now, w.cfg.RecentWindow)
	if err != nil {
		return nil, fmt.Errorf("list contests: %w", err)
	}

	reports := make([]RefreshReport, len(contests))
	var g errgroup.Group
	g.SetLimit(w.cfg.RefreshConcurrency)
	for i, c := range contests {
		g.Go(func() error {
			reports[i] = w.refreshOne(ctx, c.ID)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
		}
	}
	slog.InfoContext(ctx, "Leaderboard sweep finished", slog.Int("contests", len(contests)), slog.Int("failed", failed))
	return reports, nil
}

func (w *SweepWorker) refreshOne(ctx context.Context, contestID string) (report RefreshReport) {
	report.ContestID = contestID
	defer func() {
		if r := recover(); r != nil {
			report.Err = fmt.Errorf("%w: refresh panicked: %v", common.ErrInvariant, r)
			slog.ErrorContext(ctx, "Recovered from panic in leaderboard refresh", slog.String("contest_id", contestID), slog.Any("panic", r))
		}
	}()

	res, err := w.leaderboard.Refresh(ctx, contestID)
	if err != nil {
		report.Err = err
		slog.ErrorContext(ctx, "Leaderboard refresh failed", slog.String("contest_id", contestID), slog.Any("err", err))
		return report
	}
	report.Users = len(res.Entries)
	return report
}
