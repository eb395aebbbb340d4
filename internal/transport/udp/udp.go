// Package udp runs the mesh link over UDP broadcast on a LAN. It stands in
// for the radio on bench setups and CI rigs.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"meshnode"
	"meshnode/internal/transport"
)

const maxDatagram = 512

// Config configures the socket and the link layer.
type Config struct {
	Listen     string // local address, e.g. ":4210"
	Broadcast  string // broadcast destination, e.g. "255.255.255.255:4210"
	Self       meshnode.NodeID
	MaxPayload int
	AckTimeout time.Duration
	Retries    int
}

// Transport implements transport.Transport over UDP. Unicast destinations
// are learned from the source address of received frames.
type Transport struct {
	cfg  Config
	log  *slog.Logger
	link *transport.Link

	mu        sync.RWMutex
	conn      *net.UDPConn
	broadcast netip.AddrPort
	peers     map[meshnode.NodeID]netip.AddrPort
	done      chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New creates an unopened transport.
func New(cfg Config) *Transport {
	log := slog.With("component", "udp-transport", "listen", cfg.Listen)
	return &Transport{
		cfg:   cfg,
		log:   log,
		peers: make(map[meshnode.NodeID]netip.AddrPort),
		link: transport.NewLink(transport.LinkConfig{
			Self:       cfg.Self,
			MaxPayload: cfg.MaxPayload,
			AckTimeout: cfg.AckTimeout,
			Retries:    cfg.Retries,
		}, log),
	}
}

// Init binds the socket and starts the reader.
func (t *Transport) Init(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.link.Done():
		return transport.ErrClosed
	default:
	}
	if t.conn != nil {
		return nil
	}

	bcast, err := netip.ParseAddrPort(t.cfg.Broadcast)
	if err != nil {
		return fmt.Errorf("parse broadcast address %q: %w", t.cfg.Broadcast, err)
	}
	laddr, err := net.ResolveUDPAddr("udp4", t.cfg.Listen)
	if err != nil {
		return fmt.Errorf("resolve listen address %q: %w", t.cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", t.cfg.Listen, err)
	}

	t.conn = conn
	t.broadcast = bcast
	t.done = make(chan struct{})
	go t.readLoop(conn, t.done)
	t.log.Info("udp link up", "addr", conn.LocalAddr().String(), "broadcast", bcast.String())
	return nil
}

// LocalAddr returns the bound address, or nil before Init.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Send implements transport.Transport.
func (t *Transport) Send(ctx context.Context, to meshnode.NodeID, payload []byte) error {
	return t.link.Send(ctx, to, payload, t.write)
}

// Receive implements transport.Transport.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (transport.Packet, bool, error) {
	return t.link.Receive(ctx, timeout)
}

// Close closes the socket and waits for the reader to exit.
func (t *Transport) Close() error {
	t.link.Close()

	t.mu.Lock()
	conn, done := t.conn, t.done
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

func (t *Transport) write(to meshnode.NodeID, frame []byte) error {
	t.mu.RLock()
	conn := t.conn
	dst := t.broadcast
	if to != meshnode.BroadcastID {
		addr, ok := t.peers[to]
		if !ok {
			t.mu.RUnlock()
			return &transport.SendError{Status: transport.StatusNoRoute, To: to}
		}
		dst = addr
	}
	t.mu.RUnlock()

	if conn == nil {
		return transport.ErrClosed
	}
	_, err := conn.WriteToUDPAddrPort(frame, dst)
	return err
}

func (t *Transport) learn(id meshnode.NodeID, addr netip.AddrPort) {
	t.mu.Lock()
	t.peers[id] = addr
	t.mu.Unlock()
}

func (t *Transport) readLoop(conn *net.UDPConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Debug("udp read", "err", err)
			continue
		}
		f, err := transport.UnmarshalFrame(buf[:n])
		if err != nil {
			t.log.Debug("discarding datagram", "from", from.String(), "err", err)
			continue
		}
		if f.Src != t.cfg.Self {
			t.learn(f.Src, from)
		}
		t.link.Deliver(f, t.write)
	}
}
