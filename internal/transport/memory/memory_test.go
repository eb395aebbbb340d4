package memory

import (
	"context"
	"testing"
	"time"

	"meshnode"
	"meshnode/internal/transport"
)

func joined(t *testing.T, h *Hub, ids ...meshnode.NodeID) []*Endpoint {
	t.Helper()
	out := make([]*Endpoint, 0, len(ids))
	for _, id := range ids {
		e := h.Endpoint(id)
		if err := e.Init(context.Background()); err != nil {
			t.Fatalf("Init(%d): %v", id, err)
		}
		t.Cleanup(func() { _ = e.Close() })
		out = append(out, e)
	}
	return out
}

func TestHub_Broadcast(t *testing.T) {
	h := NewHub()
	eps := joined(t, h, 1, 2, 3)

	if err := eps[0].Send(context.Background(), meshnode.BroadcastID, []byte("Node Present\x00")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, e := range eps[1:] {
		pkt, ok, err := e.Receive(context.Background(), time.Second)
		if err != nil || !ok {
			t.Fatalf("node %d receive: ok=%v err=%v", e.link.Self(), ok, err)
		}
		if pkt.From != 1 {
			t.Fatalf("node %d: from got %d, want 1", e.link.Self(), pkt.From)
		}
	}

	if _, ok, _ := eps[0].Receive(context.Background(), 10*time.Millisecond); ok {
		t.Fatal("sender should not hear its own broadcast")
	}
}

func TestHub_UnicastStatuses(t *testing.T) {
	h := NewHub()
	eps := joined(t, h, 1, 2)

	if err := eps[0].Send(context.Background(), 2, []byte("x")); err != nil {
		t.Fatalf("unicast to joined node: %v", err)
	}
	if got := transport.StatusOf(eps[0].Send(context.Background(), 9, []byte("x"))); got != transport.StatusNoRoute {
		t.Fatalf("unicast to unknown node: got %s, want no route", got)
	}

	h.Partition(1, 2, true)
	if got := transport.StatusOf(eps[0].Send(context.Background(), 2, []byte("x"))); got != transport.StatusUnableToDeliver {
		t.Fatalf("unicast across partition: got %s, want unable to deliver", got)
	}
}

func TestEndpoint_FailNext(t *testing.T) {
	h := NewHub()
	eps := joined(t, h, 1, 2)

	eps[0].FailNext(transport.StatusNoRoute)
	if got := transport.StatusOf(eps[0].Send(context.Background(), meshnode.BroadcastID, []byte("x"))); got != transport.StatusNoRoute {
		t.Fatalf("injected fault: got %s, want no route", got)
	}
	if err := eps[0].Send(context.Background(), meshnode.BroadcastID, []byte("x")); err != nil {
		t.Fatalf("fault should apply once: %v", err)
	}
	if n := len(eps[0].Sent()); n != 2 {
		t.Fatalf("sent log: got %d, want 2", n)
	}
}

func TestHub_DuplicateJoin(t *testing.T) {
	h := NewHub()
	joined(t, h, 5)
	if err := h.Endpoint(5).Init(context.Background()); err == nil {
		t.Fatal("expected error joining the same id twice")
	}
}
