package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"meshnode"
)

const (
	defaultAckTimeout = 500 * time.Millisecond
	defaultRetries    = 3
	defaultInboxSize  = 32
)

// LinkConfig configures the shared link layer.
type LinkConfig struct {
	Self       meshnode.NodeID
	MaxPayload int           // largest payload accepted by Send
	AckTimeout time.Duration // wait per unicast attempt
	Retries    int           // unicast attempts after the first; negative means default
}

// WriteFunc puts one encoded frame on the medium. The destination lets
// datagram media pick an address; stream media ignore it.
type WriteFunc func(to meshnode.NodeID, frame []byte) error

// Link implements framing, acknowledgement and the receive queue on top of a
// raw medium. Concrete transports feed inbound frames to Deliver and hand a
// WriteFunc to Send.
type Link struct {
	cfg LinkConfig
	log *slog.Logger

	seq     atomic.Uint32
	inbox   chan Packet
	dropped atomic.Uint64

	mu      sync.Mutex
	pending map[ackKey]chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

type ackKey struct {
	peer meshnode.NodeID
	seq  uint8
}

// NewLink creates a link. A zero MaxPayload or AckTimeout and a negative
// Retries take defaults; Retries of 0 sends each unicast frame once.
func NewLink(cfg LinkConfig, log *slog.Logger) *Link {
	if cfg.MaxPayload <= 0 || cfg.MaxPayload > MaxFramePayload {
		cfg.MaxPayload = MaxFramePayload
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = defaultRetries
	}
	if log == nil {
		log = slog.Default()
	}
	return &Link{
		cfg:     cfg,
		log:     log,
		inbox:   make(chan Packet, defaultInboxSize),
		pending: make(map[ackKey]chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Self returns the local node ID.
func (l *Link) Self() meshnode.NodeID { return l.cfg.Self }

// Dropped returns how many inbound packets were discarded because the
// receive queue was full.
func (l *Link) Dropped() uint64 { return l.dropped.Load() }

// Send frames payload and writes it. Broadcasts are written once and not
// acknowledged. Unicasts wait for an acknowledgement, retrying up to
// Retries times.
func (l *Link) Send(ctx context.Context, to meshnode.NodeID, payload []byte, write WriteFunc) error {
	if l.isClosed() {
		return &SendError{Status: StatusUnknown, To: to, Err: ErrClosed}
	}
	if len(payload) == 0 || len(payload) > l.cfg.MaxPayload {
		return &SendError{Status: StatusInvalidLength, To: to}
	}

	f := Frame{
		Dst:     to,
		Src:     l.cfg.Self,
		Seq:     uint8(l.seq.Add(1)),
		Payload: payload,
	}
	raw, err := MarshalFrame(f)
	if err != nil {
		return &SendError{Status: StatusInvalidLength, To: to, Err: err}
	}

	if to == meshnode.BroadcastID {
		if err := write(to, raw); err != nil {
			return writeFailed(to, err)
		}
		return nil
	}

	key := ackKey{peer: to, seq: f.Seq}
	acked := l.expect(key)
	defer l.forget(key)

	for attempt := 0; attempt <= l.cfg.Retries; attempt++ {
		if err := write(to, raw); err != nil {
			return writeFailed(to, err)
		}

		timer := time.NewTimer(l.cfg.AckTimeout)
		select {
		case <-acked:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return &SendError{Status: StatusTimeout, To: to, Err: ctx.Err()}
		case <-l.closed:
			timer.Stop()
			return &SendError{Status: StatusUnknown, To: to, Err: ErrClosed}
		case <-timer.C:
		}
	}
	return &SendError{Status: StatusUnableToDeliver, To: to, Err: fmt.Errorf("no ack after %d attempts", l.cfg.Retries+1)}
}

// writeFailed keeps a status chosen by the medium, such as no route.
func writeFailed(to meshnode.NodeID, err error) error {
	var se *SendError
	if errors.As(err, &se) {
		return se
	}
	return &SendError{Status: StatusUnableToDeliver, To: to, Err: err}
}

// Deliver processes one inbound frame. Acks resolve pending sends; frames for
// other nodes are dropped; unicasts addressed to us are acknowledged through
// reply before being queued.
func (l *Link) Deliver(f Frame, reply WriteFunc) {
	if f.Src == l.cfg.Self {
		return
	}
	if f.IsAck() {
		if f.Dst == l.cfg.Self {
			l.resolve(ackKey{peer: f.Src, seq: f.Seq})
		}
		return
	}
	if f.Dst != l.cfg.Self && f.Dst != meshnode.BroadcastID {
		return
	}

	if f.Dst == l.cfg.Self && reply != nil {
		ack, err := MarshalFrame(Frame{Dst: f.Src, Src: l.cfg.Self, Flags: FlagAck, Seq: f.Seq})
		if err == nil {
			if err := reply(f.Src, ack); err != nil {
				l.log.Debug("ack write failed", "to", f.Src, "seq", f.Seq, "err", err)
			}
		}
	}

	pkt := Packet{From: f.Src, To: f.Dst, Payload: f.Payload}
	select {
	case l.inbox <- pkt:
	default:
		l.dropped.Add(1)
		l.log.Debug("receive queue full, dropping packet", "from", f.Src)
	}
}

// Receive waits up to timeout for the next queued packet.
func (l *Link) Receive(ctx context.Context, timeout time.Duration) (Packet, bool, error) {
	select {
	case pkt := <-l.inbox:
		return pkt, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pkt := <-l.inbox:
		return pkt, true, nil
	case <-timer.C:
		return Packet{}, false, nil
	case <-ctx.Done():
		return Packet{}, false, ctx.Err()
	case <-l.closed:
		return Packet{}, false, ErrClosed
	}
}

// Close stops the link. It is safe to call more than once.
func (l *Link) Close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

// Done is closed once the link is closed.
func (l *Link) Done() <-chan struct{} { return l.closed }

func (l *Link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *Link) expect(key ackKey) <-chan struct{} {
	ch := make(chan struct{})
	l.mu.Lock()
	l.pending[key] = ch
	l.mu.Unlock()
	return ch
}

func (l *Link) forget(key ackKey) {
	l.mu.Lock()
	delete(l.pending, key)
	l.mu.Unlock()
}

func (l *Link) resolve(key ackKey) {
	l.mu.Lock()
	ch, ok := l.pending[key]
	if ok {
		delete(l.pending, key)
	}
	l.mu.Unlock()
	if ok {
		close(ch)
	}
}
