package services

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"vault-gate/probes"
)

// CachePurgeInterval is how often expired probe verdicts are evicted.
const CachePurgeInterval = time.Minute

// StartCachePurge schedules the probe verdict cache purge and starts the
// scheduler. Callers shut it down on exit.
func StartCachePurge(cache *probes.VerdictCache, interval time.Duration, log *zap.Logger, opts ...gocron.SchedulerOption) (gocron.Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = CachePurgeInterval
	}
	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(purgeTask(cache, log)),
		gocron.WithName("probe-cache-purge"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule cache purge: %w", err)
	}
	sched.Start()
	return sched, nil
}

func purgeTask(cache *probes.VerdictCache, log *zap.Logger) func() {
	return func() {
		if n := cache.Purge(); n > 0 {
			log.Debug("[Scheduler] purged expired probe verdicts", zap.Int("removed", n), zap.Int("remaining", cache.Len()))
		}
	}
}
