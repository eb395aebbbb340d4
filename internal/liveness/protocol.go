// Package liveness interprets mesh messages and announces this node's
// presence. It owns the relay latch and feeds the peer registry.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meshnode"
	"meshnode/internal/message"
	"meshnode/internal/registry"
	"meshnode/internal/relay"
	"meshnode/internal/telemetry"
	"meshnode/internal/transport"
)

const tracerName = "meshnode/liveness"

// Protocol is the liveness state machine for one node.
type Protocol struct {
	self     meshnode.NodeID
	tr       transport.Transport
	registry *registry.Registry
	relay    relay.Relay
	clock    meshnode.Clock
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	log      *slog.Logger

	mu sync.Mutex
	// latched is set once the relay has been switched on for the current
	// activation episode. Only a successful Deactivate clears it.
	latched bool
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithClock sets the time source used for received messages.
func WithClock(c meshnode.Clock) Option {
	return func(p *Protocol) { p.clock = c }
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Protocol) { p.tracer = t }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Protocol) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Protocol) { p.log = l }
}

// New creates a Protocol for node self.
func New(self meshnode.NodeID, tr transport.Transport, reg *registry.Registry, rl relay.Relay, opts ...Option) *Protocol {
	p := &Protocol{
		self:     self,
		tr:       tr,
		registry: reg,
		relay:    rl,
		clock:    meshnode.RealClock{},
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	p.log = p.log.With("component", "liveness")
	return p
}

// Latched reports whether the relay latch is consumed.
func (p *Protocol) Latched() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latched
}

// HandleMessage dispatches one received payload. Unrecognized payloads and
// payloads from this node's own id are ignored. The returned error is a relay
// failure; confirmation send failures are logged only.
func (p *Protocol) HandleMessage(ctx context.Context, payload []byte, from meshnode.NodeID, now time.Time) error {
	msg := message.Decode(payload)
	p.metrics.MessageReceived(msg.Kind.String())

	if from == p.self {
		p.log.Debug("ignoring own message", "kind", msg.Kind.String())
		return nil
	}

	switch msg.Kind {
	case message.KindPresence:
		p.registry.Upsert(from, now)
		p.log.Debug("presence", "from", from.String())
		return nil
	case message.KindActivate:
		return p.handleControl(ctx, from, true)
	case message.KindDeactivate:
		return p.handleControl(ctx, from, false)
	case message.KindActivated, message.KindDeactivated:
		p.log.Info("peer confirmed", "from", from.String(), "kind", msg.Kind.String())
		return nil
	default:
		p.log.Debug("ignoring unrecognized message", "from", from.String(), "len", len(payload), "text", msg.Text())
		return nil
	}
}

func (p *Protocol) handleControl(ctx context.Context, from meshnode.NodeID, on bool) error {
	name := "liveness.deactivate"
	confirm := message.KindDeactivated
	if on {
		name = "liveness.activate"
		confirm = message.KindActivated
	}
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int("mesh.from", int(from)),
	))
	defer span.End()

	err := p.actuate(ctx, on)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Error("relay switch failed", "on", on, "from", from.String(), "err", err)
	}

	// The confirmation goes out even when the latch suppressed actuation.
	_ = p.send(ctx, confirm, meshnode.BroadcastID)
	return err
}

// actuate applies the latch: on switches the relay only while unlatched, off
// always switches it and re-arms the latch. A failed switch leaves the latch
// as it was.
func (p *Protocol) actuate(ctx context.Context, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if on && p.latched {
		p.log.Debug("activate suppressed, relay already latched on")
		return nil
	}
	if err := p.relay.Set(ctx, on); err != nil {
		return fmt.Errorf("set relay on=%t: %w", on, err)
	}
	p.latched = on
	p.metrics.RelaySet(on)
	p.log.Info("relay set", "on", on)
	return nil
}

// BroadcastPresence announces this node to the mesh. A failed send is logged
// and returned; it is not retried.
func (p *Protocol) BroadcastPresence(ctx context.Context, now time.Time) error {
	ctx, span := p.tracer.Start(ctx, "liveness.broadcast_presence", trace.WithTimestamp(now))
	defer span.End()

	err := p.send(ctx, message.KindPresence, meshnode.BroadcastID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Listen waits up to timeout for one message and dispatches it. A timeout is
// not an error.
func (p *Protocol) Listen(ctx context.Context, timeout time.Duration) error {
	pkt, ok, err := p.tr.Receive(ctx, timeout)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	if !ok {
		return nil
	}
	// Relay failures are logged by HandleMessage and do not stop the loop.
	_ = p.HandleMessage(ctx, pkt.Payload, pkt.From, p.clock.Now())
	return nil
}

func (p *Protocol) send(ctx context.Context, kind message.Kind, to meshnode.NodeID) error {
	payload, err := message.Encode(kind)
	if err != nil {
		return err
	}

	err = p.tr.Send(ctx, to, payload)
	status := transport.StatusOf(err)
	p.metrics.SendAttempted(kind.String(), status.String())
	if err == nil {
		p.log.Debug("sent", "kind", kind.String(), "to", to.String())
		return nil
	}

	var sendErr *transport.SendError
	if errors.As(err, &sendErr) {
		p.log.Warn("send failed", "kind", kind.String(), "to", to.String(), "code", sendErr.Code(), "status", status.String())
	} else {
		p.log.Warn("send failed", "kind", kind.String(), "to", to.String(), "err", err)
	}
	return err
}
