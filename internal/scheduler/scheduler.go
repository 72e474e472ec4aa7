package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval tick.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune one periodic loop.
type Options struct {
	// Name identifies the loop in logs (a category name or "decide").
	Name string
	// Interval between ticks.
	Interval time.Duration
	// AlignToInterval snaps ticks to wall-clock multiples of Interval.
	AlignToInterval bool
	// StartupDelay postpones the first tick.
	StartupDelay time.Duration
}

// Scheduler drives one periodic task. Several schedulers run
// concurrently, one per source category plus the decision cycle; each
// loop body is sequential.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("job", opts.Name).Logger(),
	}
}

// Run blocks, invoking tick at each interval until ctx is cancelled.
// Tick errors are logged, never fatal; transient failures are absorbed
// by the next scheduled cycle.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		at := next
		if s.opts.AlignToInterval {
			at = at.Truncate(s.opts.Interval)
		}

		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("tick", at).Msg("tick failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToInterval {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}
