// Package clockcheck watches the local clock against an NTP pool. Liveness
// decisions are made on local wall time, so a drifting clock is worth a
// warning in the stats report.
package clockcheck

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"meshnode"
)

const (
	DefaultPool      = "pool.ntp.org"
	DefaultInterval  = 10 * time.Minute
	DefaultThreshold = 500 * time.Millisecond

	queryTimeout = 5 * time.Second
)

// Status is the result of the latest check.
type Status struct {
	Offset    time.Duration
	Healthy   bool
	Error     string
	CheckedAt time.Time
}

// Checked reports whether at least one check has completed.
func (s Status) Checked() bool { return !s.CheckedAt.IsZero() }

// QueryFunc returns the local clock offset reported by host.
type QueryFunc func(host string) (time.Duration, error)

// Checker polls the pool on an interval and keeps the latest Status.
type Checker struct {
	Pool      string
	Interval  time.Duration
	Threshold time.Duration
	Query     QueryFunc
	Clock     meshnode.Clock

	mu     sync.RWMutex
	status Status
}

// NewChecker creates a checker with default settings. Zero arguments fall
// back to the defaults.
func NewChecker(pool string, interval, threshold time.Duration) *Checker {
	if pool == "" {
		pool = DefaultPool
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Checker{
		Pool:      pool,
		Interval:  interval,
		Threshold: threshold,
		Query:     queryNTP,
		Clock:     meshnode.RealClock{},
	}
}

func queryNTP(host string) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: queryTimeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Run checks immediately, then every Interval until ctx is done.
func (c *Checker) Run(ctx context.Context) error {
	c.Check()

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Check()
		}
	}
}

// Check runs one query and records the result.
func (c *Checker) Check() Status {
	offset, err := c.Query(c.Pool)
	now := c.Clock.Now()

	var st Status
	if err != nil {
		st = Status{Error: err.Error(), CheckedAt: now}
		slog.Debug("ntp check failed", "pool", c.Pool, "err", err)
	} else {
		abs := offset
		if abs < 0 {
			abs = -abs
		}
		st = Status{Offset: offset, Healthy: abs < c.Threshold, CheckedAt: now}
		if !st.Healthy {
			slog.Warn("clock offset exceeds threshold", "offset", offset, "threshold", c.Threshold)
		}
	}

	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	return st
}

// Status returns the latest result. The zero Status means no check ran yet.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
