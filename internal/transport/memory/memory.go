// Package memory provides an in-process mesh for tests and simulations.
//
// Frames travel through the same link layer as the radio transports, so
// acknowledgement and addressing behave the same way.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meshnode"
	"meshnode/internal/transport"
)

// Hub connects endpoints. Every endpoint hears every broadcast unless the
// pair has been partitioned.
type Hub struct {
	mu          sync.RWMutex
	endpoints   map[meshnode.NodeID]*Endpoint
	partitioned map[[2]meshnode.NodeID]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		endpoints:   make(map[meshnode.NodeID]*Endpoint),
		partitioned: make(map[[2]meshnode.NodeID]bool),
	}
}

// Endpoint creates the transport for node id. It joins the hub on Init.
func (h *Hub) Endpoint(id meshnode.NodeID) *Endpoint {
	return &Endpoint{
		hub:  h,
		link: transport.NewLink(transport.LinkConfig{Self: id, AckTimeout: 50 * time.Millisecond, Retries: 1}, nil),
	}
}

// Partition cuts (or restores, with cut=false) the link between a and b.
func (h *Hub) Partition(a, b meshnode.NodeID, cut bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.partitioned[pairKey(a, b)] = cut
}

func pairKey(a, b meshnode.NodeID) [2]meshnode.NodeID {
	if a > b {
		a, b = b, a
	}
	return [2]meshnode.NodeID{a, b}
}

func (h *Hub) join(e *Endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := e.link.Self()
	if prev, ok := h.endpoints[id]; ok && prev != e {
		return fmt.Errorf("node %s already joined", id)
	}
	h.endpoints[id] = e
	return nil
}

func (h *Hub) leave(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.endpoints[e.link.Self()] == e {
		delete(h.endpoints, e.link.Self())
	}
}

// transmit delivers raw to every reachable endpoint. A unicast to a node
// that has not joined reports no route.
func (h *Hub) transmit(from meshnode.NodeID, to meshnode.NodeID, raw []byte) error {
	f, err := transport.UnmarshalFrame(raw)
	if err != nil {
		return err
	}

	h.mu.RLock()
	var targets []*Endpoint
	for id, e := range h.endpoints {
		if id == from || h.partitioned[pairKey(from, id)] {
			continue
		}
		if to == meshnode.BroadcastID || to == id {
			targets = append(targets, e)
		}
	}
	_, known := h.endpoints[to]
	h.mu.RUnlock()

	if to != meshnode.BroadcastID && !known {
		return &transport.SendError{Status: transport.StatusNoRoute, To: to}
	}
	for _, e := range targets {
		// Deliver on a separate goroutine so acks never re-enter the sender.
		go e.link.Deliver(f, e.write)
	}
	return nil
}

// Endpoint is one node's view of the hub. It implements transport.Transport.
type Endpoint struct {
	hub  *Hub
	link *transport.Link

	mu     sync.Mutex
	faults []transport.DeliveryStatus
	sent   []transport.Packet
}

var _ transport.Transport = (*Endpoint)(nil)

// Init joins the hub.
func (e *Endpoint) Init(_ context.Context) error {
	return e.hub.join(e)
}

// FailNext makes the next Send calls fail with the given statuses, in order.
func (e *Endpoint) FailNext(statuses ...transport.DeliveryStatus) {
	e.mu.Lock()
	e.faults = append(e.faults, statuses...)
	e.mu.Unlock()
}

// Sent returns every payload passed to Send, including failed ones.
func (e *Endpoint) Sent() []transport.Packet {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]transport.Packet, len(e.sent))
	copy(out, e.sent)
	return out
}

// Send implements transport.Transport.
func (e *Endpoint) Send(ctx context.Context, to meshnode.NodeID, payload []byte) error {
	e.mu.Lock()
	e.sent = append(e.sent, transport.Packet{From: e.link.Self(), To: to, Payload: append([]byte(nil), payload...)})
	var fault transport.DeliveryStatus
	if len(e.faults) > 0 {
		fault, e.faults = e.faults[0], e.faults[1:]
	}
	e.mu.Unlock()

	if fault != transport.StatusOK {
		return &transport.SendError{Status: fault, To: to}
	}
	return e.link.Send(ctx, to, payload, e.write)
}

func (e *Endpoint) write(to meshnode.NodeID, raw []byte) error {
	return e.hub.transmit(e.link.Self(), to, raw)
}

// Receive implements transport.Transport.
func (e *Endpoint) Receive(ctx context.Context, timeout time.Duration) (transport.Packet, bool, error) {
	return e.link.Receive(ctx, timeout)
}

// Close leaves the hub.
func (e *Endpoint) Close() error {
	e.hub.leave(e)
	e.link.Close()
	return nil
}
