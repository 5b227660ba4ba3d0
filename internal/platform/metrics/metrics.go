// Package metrics holds the sweeper's Prometheus collectors.
//
// The sweeper never listens on a port; when a Pushgateway is configured the
// registry is pushed after every periodic leaderboard sweep.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder is safe to use as a nil pointer, in which case every call is a no-op.
type Recorder struct {
	registry *prometheus.Registry
	pusher   *push.Pusher

	resolved        *prometheus.CounterVec
	resolveErrors   prometheus.Counter
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	tickDuration    prometheus.Histogram
}

// New builds a Recorder on a private registry. pushURL may be empty.
func New(pushURL, job string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_submissions_resolved_total",
			Help: "Submissions processed by the verdict resolver, by outcome.",
		}, []string{"outcome"}),
		resolveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_resolve_errors_total",
			Help: "Submissions whose resolution failed and will be retried.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweeper_leaderboard_refresh_total",
			Help: "Leaderboard refreshes, by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweeper_leaderboard_refresh_duration_seconds",
			Help:    "Time spent inside a single contest leaderboard refresh.",
			Buckets: prometheus.DefBuckets,
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweeper_tick_duration_seconds",
			Help:    "Time spent in one sweep tick.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
	}
	r.registry.MustRegister(r.resolved, r.resolveErrors, r.refreshes, r.refreshDuration, r.tickDuration)
	if pushURL != "" {
		r.pusher = push.New(pushURL, job).Gatherer(r.registry)
	}
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) SubmissionResolved(outcome string) {
	if r == nil {
		return
	}
	r.resolved.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ResolveFailed() {
	if r == nil {
		return
	}
	r.resolveErrors.Inc()
}

func (r *Recorder) LeaderboardRefreshed(took time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.refreshes.WithLabelValues(result).Inc()
	r.refreshDuration.Observe(took.Seconds())
}

func (r *Recorder) TickFinished(took time.Duration) {
	if r == nil {
		return
	}
	r.tickDuration.Observe(took.Seconds())
}

// Push sends the registry to the Pushgateway, if one is configured.
func (r *Recorder) Push(ctx context.Context) error {
	if r == nil || r.pusher == nil {
		return nil
	}
	if err := r.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
