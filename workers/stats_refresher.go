// Package workers runs background jobs against the stats store.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"match-stats-server/metrics"
)

// CountSource is the slice of the store the refresher reads.
type CountSource interface {
	CountAllMatches(ctx context.Context) (int64, error)
	CountPlayers(ctx context.Context) (int64, error)
	CountUserAchievements(ctx context.Context) (int64, error)
}

// SnapshotSink receives each reading.
type SnapshotSink interface {
	SetSnapshot(metrics.Snapshot)
}

// StatsRefresher periodically copies ledger-wide totals into a sink.
type StatsRefresher struct {
	source   CountSource
	sink     SnapshotSink
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	sched gocron.Scheduler
}

// NewStatsRefresher builds a refresher that fires every interval.
func NewStatsRefresher(source CountSource, sink SnapshotSink, interval time.Duration) (*StatsRefresher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	return &StatsRefresher{
		source:   source,
		sink:     sink,
		interval: interval,
		timeout:  interval,
		now:      time.Now,
	}, nil
}

// RefreshOnce reads the totals and pushes them to the sink.
// Nothing is pushed when any read fails.
func (r *StatsRefresher) RefreshOnce(ctx context.Context) error {
	matches, err := r.source.CountAllMatches(ctx)
	if err != nil {
		return fmt.Errorf("count matches: %w", err)
	}
	players, err := r.source.CountPlayers(ctx)
	if err != nil {
		return fmt.Errorf("count players: %w", err)
	}
	unlocks, err := r.source.CountUserAchievements(ctx)
	if err != nil {
		return fmt.Errorf("count unlocks: %w", err)
	}
	r.sink.SetSnapshot(metrics.Snapshot{
		Matches: matches,
		Players: players,
		Unlocks: unlocks,
		At:      r.now(),
	})
	return nil
}

// Start schedules the refresh job, running it once immediately.
func (r *StatsRefresher) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			jobCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			if err := r.RefreshOnce(jobCtx); err != nil {
				slog.Warn("stats refresh failed", "tag", "workers", "err", err)
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule stats refresh: %w", err)
	}
	sched.Start()
	r.sched = sched
	slog.Info("stats refresher started", "tag", "workers", "interval", r.interval)
	return nil
}

// Stop shuts the scheduler down and waits for a running job to finish.
func (r *StatsRefresher) Stop() error {
	if r.sched == nil {
		return nil
	}
	err := r.sched.Shutdown()
	r.sched = nil
	return err
}
