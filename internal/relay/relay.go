// Package relay drives the output the mesh control messages switch.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Relay switches the output. Set must be idempotent.
type Relay interface {
	Set(ctx context.Context, on bool) error
}

// Nop discards every switch.
type Nop struct{}

func (Nop) Set(context.Context, bool) error { return nil }

// Log is a relay with no hardware behind it. It records the last state and
// logs every change; used on bench nodes and in simulations.
type Log struct {
	mu   sync.Mutex
	on   bool
	sets int
	log  *slog.Logger
}

// NewLog creates a Log relay that starts off.
func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log.With("component", "relay")}
}

// Set implements Relay.
func (r *Log) Set(_ context.Context, on bool) error {
	r.mu.Lock()
	changed := r.on != on
	r.on = on
	r.sets++
	r.mu.Unlock()

	if changed {
		r.log.Info("relay switched", "on", on)
	}
	return nil
}

// On returns the last state set.
func (r *Log) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// Sets returns how many times Set was called.
func (r *Log) Sets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets
}

// GPIO drives a relay through a sysfs GPIO value file, e.g.
// /sys/class/gpio/gpio23/value. The pin must already be exported and set
// as an output.
type GPIO struct {
	path      string
	activeLow bool

	mu sync.Mutex
}

// NewGPIO creates a GPIO relay. activeLow inverts the written level, for
// relay boards that energise on a low input.
func NewGPIO(path string, activeLow bool) *GPIO {
	return &GPIO{path: path, activeLow: activeLow}
}

// Set implements Relay.
func (g *GPIO) Set(_ context.Context, on bool) error {
	level := on != g.activeLow
	value := []byte("0")
	if level {
		value = []byte("1")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := os.WriteFile(g.path, value, 0o644); err != nil {
		return fmt.Errorf("write gpio %s: %w", g.path, err)
	}
	return nil
}
