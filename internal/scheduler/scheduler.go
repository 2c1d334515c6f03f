// Package scheduler triggers periodic reconciliation passes and runs them
// across users with bounded parallelism. Passes for different users are
// independent; within one user, evidence application is strictly serial.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is one scheduled unit of work.
type Task func(ctx context.Context)

// Scheduler decouples reconciliation from any specific time-trigger
// mechanism. Schedule returns a stop function that cancels future runs.
type Scheduler interface {
	Schedule(spec string, task Task) (stop func(), err error)
}

// IntervalScheduler triggers tasks on a fixed interval. The spec string is a
// Go duration ("6h", "30m"). The first run fires immediately.
type IntervalScheduler struct {
	ctx context.Context
}

// NewIntervalScheduler returns a scheduler bound to the given lifetime
// context; cancelling it stops all scheduled tasks.
func NewIntervalScheduler(ctx context.Context) *IntervalScheduler {
	return &IntervalScheduler{ctx: ctx}
}

// Schedule implements Scheduler.
func (s *IntervalScheduler) Schedule(spec string, task Task) (func(), error) {
	interval, err := time.ParseDuration(spec)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(s.ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		task(ctx)
		for {
			select {
			case <-ticker.C:
				task(ctx)
			case <-ctx.Done():
				log.Debug().Str("interval", spec).Msg("Scheduled task stopped")
				return
			}
		}
	}()
	return cancel, nil
}

var _ Scheduler = (*IntervalScheduler)(nil)
