// Package schedule runs the node's cooperative loop: one bounded listen, then
// every periodic action whose period has elapsed, in table order.
//
// The listen wait dominates iteration latency, so an action with period P
// fires after P plus up to one receive timeout, never earlier. Timers do not
// try to be more precise than that.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"meshnode"
	"meshnode/internal/telemetry"
)

// Action is one named periodic activity.
type Action struct {
	Name   string
	Period time.Duration
	// Fire runs the action. An error is logged; the timer resets regardless.
	Fire func(ctx context.Context, now time.Time) error
}

// ListenFunc waits up to timeout for one inbound message and handles it.
type ListenFunc func(ctx context.Context, timeout time.Duration) error

type timer struct {
	Action
	last time.Time
}

// Scheduler drives the listen step and a fixed table of timers. It is not
// safe for concurrent use; one goroutine owns the loop.
type Scheduler struct {
	clock          meshnode.Clock
	listen         ListenFunc
	receiveTimeout time.Duration
	timers         []*timer
	metrics        *telemetry.Metrics
	log            *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(c meshnode.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New creates a scheduler. Every timer starts at the scheduler's creation
// time, so the first firing of each action happens one full period later.
func New(listen ListenFunc, receiveTimeout time.Duration, actions []Action, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:          meshnode.RealClock{},
		listen:         listen,
		receiveTimeout: receiveTimeout,
		log:            slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "scheduler")

	start := s.clock.Now()
	for _, a := range actions {
		s.timers = append(s.timers, &timer{Action: a, last: start})
	}
	return s
}

// Tick fires every action due at now, in table order, and returns the names
// of the actions fired. An action is due when strictly more than its period
// has passed since it last fired.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	var fired []string
	for _, t := range s.timers {
		if now.Sub(t.last) <= t.Period {
			continue
		}
		t.last = now
		fired = append(fired, t.Name)
		s.metrics.ActionFired(t.Name)

		if err := t.Fire(ctx, now); err != nil {
			s.log.Debug("action failed", "action", t.Name, "err", err)
		}
	}
	return fired
}

// RunOnce performs one iteration: listen, then fire due timers. A listen
// error other than cancellation is returned after the timers have run.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	listenErr := s.listen(ctx, s.receiveTimeout)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.Tick(ctx, s.clock.Now())
	return listenErr
}

// Run loops until ctx is cancelled or the listener reports a closed link.
// Other listen errors are logged and the rest of the receive window is slept
// off so a failing radio does not spin the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "receive_timeout", s.receiveTimeout, "timers", len(s.timers))
	for {
		started := time.Now()
		err := s.RunOnce(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return nil
			}
		case errors.Is(err, ErrStop):
			return nil
		}

		s.log.Warn("listen failed", "err", err)
		if !sleepCtx(ctx, s.receiveTimeout-time.Since(started)) {
			return nil
		}
	}
}

// ErrStop can be returned by a ListenFunc to end Run cleanly.
var ErrStop = errors.New("stop scheduler")

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
