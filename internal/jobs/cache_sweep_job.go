package jobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper evicts expired entries from an in-process cache.
type Sweeper interface {
	Sweep() int
}

// CacheSweepJob periodically evicts expired keys from the in-process cache so
// keys that are never read again do not accumulate.
type CacheSweepJob struct {
	sweeper  Sweeper
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

func NewCacheSweepJob(sweeper Sweeper, schedule string, logger *slog.Logger) *CacheSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheSweepJob{
		sweeper:  sweeper,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "cache_sweep_job"),
	}
}

func (j *CacheSweepJob) Name() string { return "cache_sweep" }

// Start registers the sweep on the configured schedule and starts the scheduler.
func (j *CacheSweepJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.Run); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.InfoContext(context.Background(), "cache sweep job started", "schedule", j.schedule)
	return nil
}

// Run performs one sweep.
func (j *CacheSweepJob) Run() {
	if removed := j.sweeper.Sweep(); removed > 0 {
		j.logger.DebugContext(context.Background(), "cache sweep evicted keys", "removed", removed)
	}
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *CacheSweepJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.InfoContext(context.Background(), "cache sweep job stopped")
}
