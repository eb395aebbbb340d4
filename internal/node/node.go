// Package node assembles one mesh node: transport, peer registry, liveness
// protocol and the scheduler that drives them.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"meshnode"
	"meshnode/config"
	"meshnode/internal/check"
	"meshnode/internal/clockcheck"
	"meshnode/internal/liveness"
	"meshnode/internal/registry"
	"meshnode/internal/relay"
	"meshnode/internal/report"
	"meshnode/internal/schedule"
	"meshnode/internal/telemetry"
	"meshnode/internal/transport"
)

// Timer names, also used as scheduler_fired_total labels.
const (
	ActionBroadcast = "broadcast"
	ActionSweep     = "sweep"
	ActionReport    = "report"
)

// Node owns everything one mesh participant needs. There is no package
// state; several nodes can run in one process.
type Node struct {
	self     meshnode.NodeID
	liveness config.Liveness
	radio    config.Radio
	tr       transport.Transport
	registry *registry.Registry
	protocol *liveness.Protocol
	reporter report.Reporter
	ntp      *clockcheck.Checker
	metrics  *telemetry.Metrics
	clock    meshnode.Clock
	tracer   trace.Tracer
	log      *slog.Logger

	startOnce sync.Once
	started   chan struct{}
}

// Option configures a Node.
type Option func(*Node)

func WithClock(c meshnode.Clock) Option {
	return func(n *Node) { n.clock = c }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

func WithReporter(r report.Reporter) Option {
	return func(n *Node) { n.reporter = r }
}

// WithClockCheck runs c alongside the node and adds its status to reports.
func WithClockCheck(c *clockcheck.Checker) Option {
	return func(n *Node) { n.ntp = c }
}

func WithTracer(t trace.Tracer) Option {
	return func(n *Node) { n.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Node) { n.log = l }
}

// New wires a node from cfg. tr and rl are usually built with
// BuildTransport and BuildRelay.
func New(cfg config.Config, tr transport.Transport, rl relay.Relay, opts ...Option) *Node {
	check.Invariant(tr != nil, "node.New: transport must not be nil")
	check.Invariant(rl != nil, "node.New: relay must not be nil")
	n := &Node{
		self:     cfg.Node.ID,
		liveness: cfg.Liveness,
		radio:    cfg.Radio,
		tr:       tr,
		registry: registry.New(),
		clock:    meshnode.RealClock{},
		log:      slog.Default(),
		started:  make(chan struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	n.log = n.log.With("node", n.self.String())
	if n.reporter == nil {
		n.reporter = report.NewLogReporter(n.log)
	}

	protoOpts := []liveness.Option{
		liveness.WithClock(n.clock),
		liveness.WithMetrics(n.metrics),
		liveness.WithLogger(n.log),
	}
	if n.tracer != nil {
		protoOpts = append(protoOpts, liveness.WithTracer(n.tracer))
	}
	n.protocol = liveness.New(n.self, tr, n.registry, rl, protoOpts...)

	n.registry.OnDead(func(p meshnode.Peer) {
		n.metrics.PeerDied()
		n.log.Info("peer became dead", "peer", p.ID.String(), "last_seen", p.LastSeen.Format(time.RFC3339))
	})
	n.metrics.RegisterPeers(n.registry.Counts)
	return n
}

// Self returns the node id.
func (n *Node) Self() meshnode.NodeID { return n.self }

// Registry exposes the peer registry for reporting.
func (n *Node) Registry() *registry.Registry { return n.registry }

// Protocol exposes the liveness protocol, e.g. to inject control messages.
func (n *Node) Protocol() *liveness.Protocol { return n.protocol }

// Snapshot returns peers in discovery order.
func (n *Node) Snapshot() []meshnode.PeerStatus { return n.registry.Snapshot() }

// Counts returns peer totals.
func (n *Node) Counts() meshnode.HealthSummary { return n.registry.Counts() }

// Started is closed once the transport is up and the loop is running.
func (n *Node) Started() <-chan struct{} { return n.started }

// Stats returns the current report contents.
func (n *Node) Stats() report.Stats {
	s := report.Stats{
		Node:    n.self,
		Summary: n.registry.Counts(),
		Peers:   n.registry.Snapshot(),
	}
	if n.ntp != nil {
		st := n.ntp.Status()
		s.Clock = &st
	}
	return s
}

// Run brings the transport up, retrying forever, then runs the scheduler
// until ctx is cancelled. The transport is closed on return.
func (n *Node) Run(ctx context.Context) error {
	if err := n.initTransport(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if err := n.tr.Close(); err != nil {
			n.log.Warn("close transport", "err", err)
		}
	}()

	sched := n.newScheduler()
	n.startOnce.Do(func() { close(n.started) })
	n.log.Info("node started",
		"broadcast_period", n.liveness.BroadcastPeriod,
		"dead_threshold", n.liveness.DeadThreshold)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if n.ntp != nil {
		g.Go(func() error { return n.ntp.Run(ctx) })
	}
	g.Go(func() error {
		defer cancel()
		return sched.Run(ctx)
	})
	return g.Wait()
}

// initTransport retries Init with a fixed delay. It gives up only when ctx
// is done or the transport has been closed.
func (n *Node) initTransport(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := n.tr.Init(ctx)
		if err == nil {
			n.log.Info("radio initialized", "attempts", attempt)
			return nil
		}
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("init transport: %w", err)
		}
		n.log.Warn("radio init failed, retrying", "attempt", attempt, "retry_in", n.radio.InitRetry, "err", err)

		t := time.NewTimer(n.radio.InitRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (n *Node) newScheduler() *schedule.Scheduler {
	listen := func(ctx context.Context, timeout time.Duration) error {
		err := n.protocol.Listen(ctx, timeout)
		if errors.Is(err, transport.ErrClosed) {
			return schedule.ErrStop
		}
		return err
	}

	actions := []schedule.Action{
		{
			Name:   ActionBroadcast,
			Period: n.liveness.BroadcastPeriod,
			Fire:   n.protocol.BroadcastPresence,
		},
		{
			Name:   ActionSweep,
			Period: n.liveness.SweepPeriod,
			Fire: func(_ context.Context, now time.Time) error {
				n.registry.SweepDead(now, n.liveness.DeadThreshold)
				return nil
			},
		},
		{
			Name:   ActionReport,
			Period: n.liveness.ReportPeriod,
			Fire: func(ctx context.Context, _ time.Time) error {
				return n.reporter.Report(ctx, n.Stats())
			},
		},
	}

	return schedule.New(listen, n.radio.ReceiveTimeout, actions,
		schedule.WithClock(n.clock),
		schedule.WithMetrics(n.metrics),
		schedule.WithLogger(n.log),
	)
}
