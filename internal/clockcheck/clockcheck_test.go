package clockcheck

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testClock struct{ now time.Time }

func (c testClock) Now() time.Time { return c.now }

func TestChecker_InitialStatus(t *testing.T) {
	c := NewChecker("", 0, 0)

	s := c.Status()
	if s.Checked() || s.Healthy || s.Error != "" || s.Offset != 0 {
		t.Fatalf("initial status: got %+v, want zero", s)
	}
	if c.Pool != DefaultPool || c.Interval != DefaultInterval || c.Threshold != DefaultThreshold {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestChecker_Check(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		offset      time.Duration
		err         error
		wantHealthy bool
		wantError   string
	}{
		{name: "small positive offset", offset: 10 * time.Millisecond, wantHealthy: true},
		{name: "small negative offset", offset: -10 * time.Millisecond, wantHealthy: true},
		{name: "large offset", offset: 2 * time.Second, wantHealthy: false},
		{name: "large negative offset", offset: -2 * time.Second, wantHealthy: false},
		{name: "at threshold", offset: DefaultThreshold, wantHealthy: false},
		{name: "query error", err: errors.New("i/o timeout"), wantError: "i/o timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("ntp.test", time.Minute, DefaultThreshold)
			c.Clock = testClock{now: t0}
			var queried string
			c.Query = func(host string) (time.Duration, error) {
				queried = host
				return tt.offset, tt.err
			}

			got := c.Check()
			if queried != "ntp.test" {
				t.Fatalf("queried host: got %q", queried)
			}
			if got.Healthy != tt.wantHealthy {
				t.Fatalf("Healthy: got %v, want %v", got.Healthy, tt.wantHealthy)
			}
			if got.Error != tt.wantError {
				t.Fatalf("Error: got %q, want %q", got.Error, tt.wantError)
			}
			if tt.err == nil && got.Offset != tt.offset {
				t.Fatalf("Offset: got %v, want %v", got.Offset, tt.offset)
			}
			if !got.CheckedAt.Equal(t0) {
				t.Fatalf("CheckedAt: got %v, want %v", got.CheckedAt, t0)
			}
			if c.Status() != got {
				t.Fatalf("Status() does not match last check")
			}
		})
	}
}

func TestChecker_RunChecksImmediately(t *testing.T) {
	c := NewChecker("ntp.test", time.Hour, 0)
	calls := 0
	c.Query = func(string) (time.Duration, error) {
		calls++
		return time.Millisecond, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("queries: got %d, want 1", calls)
	}
	if !c.Status().Healthy {
		t.Fatal("expected healthy status after run")
	}
}
