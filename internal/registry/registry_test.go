package registry

import (
	"testing"
	"time"

	"meshnode"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRegistry_Upsert(t *testing.T) {
	tests := []struct {
		name         string
		ids          []meshnode.NodeID
		wantSnapshot []meshnode.PeerStatus
	}{
		{
			name:         "empty registry",
			wantSnapshot: []meshnode.PeerStatus{},
		},
		{
			name:         "new peers appended in arrival order",
			ids:          []meshnode.NodeID{3, 1, 2},
			wantSnapshot: []meshnode.PeerStatus{{ID: 3, Alive: true}, {ID: 1, Alive: true}, {ID: 2, Alive: true}},
		},
		{
			name:         "repeated id keeps a single record",
			ids:          []meshnode.NodeID{3, 1, 3, 3},
			wantSnapshot: []meshnode.PeerStatus{{ID: 3, Alive: true}, {ID: 1, Alive: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			for i, id := range tt.ids {
				r.Upsert(id, t0.Add(time.Duration(i)*time.Second))
			}

			got := r.Snapshot()
			if len(got) != len(tt.wantSnapshot) {
				t.Fatalf("snapshot length: got %d, want %d (%+v)", len(got), len(tt.wantSnapshot), got)
			}
			for i := range tt.wantSnapshot {
				if got[i] != tt.wantSnapshot[i] {
					t.Errorf("index %d: got %+v, want %+v", i, got[i], tt.wantSnapshot[i])
				}
			}
		})
	}
}

func TestRegistry_UpsertNeverRollsBack(t *testing.T) {
	r := New()
	r.Upsert(7, t0.Add(10*time.Second))
	r.Upsert(7, t0.Add(4*time.Second)) // stale delivery

	p, ok := r.Peer(7)
	if !ok {
		t.Fatal("peer 7 missing")
	}
	if !p.LastSeen.Equal(t0.Add(10 * time.Second)) {
		t.Fatalf("last seen: got %v, want %v", p.LastSeen, t0.Add(10*time.Second))
	}
	if !p.Alive {
		t.Fatal("peer 7 should be alive after upsert")
	}
}

func TestRegistry_UpsertRevivesDeadPeer(t *testing.T) {
	r := New()
	r.Upsert(4, t0)
	r.SweepDead(t0.Add(2*time.Minute), time.Minute)

	if c := r.Counts(); c.Dead != 1 {
		t.Fatalf("dead count before revival: got %d, want 1", c.Dead)
	}

	r.Upsert(4, t0.Add(3*time.Minute))

	c := r.Counts()
	if c.Total != 1 || c.Alive != 1 || c.Dead != 0 {
		t.Fatalf("counts after revival: got %+v, want total=1 alive=1 dead=0", c)
	}
}

func TestRegistry_SweepDead(t *testing.T) {
	tests := []struct {
		name      string
		advance   time.Duration
		threshold time.Duration
		wantAlive bool
		wantDied  int
	}{
		{name: "within threshold stays alive", advance: 30 * time.Second, threshold: time.Minute, wantAlive: true},
		{name: "exactly at threshold stays alive", advance: time.Minute, threshold: time.Minute, wantAlive: true},
		{name: "past threshold becomes dead", advance: time.Minute + time.Millisecond, threshold: time.Minute, wantDied: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			r.Upsert(9, t0)

			died := r.SweepDead(t0.Add(tt.advance), tt.threshold)
			if len(died) != tt.wantDied {
				t.Fatalf("transitions: got %d, want %d", len(died), tt.wantDied)
			}

			p, _ := r.Peer(9)
			if p.Alive != tt.wantAlive {
				t.Fatalf("alive: got %v, want %v", p.Alive, tt.wantAlive)
			}
		})
	}
}

func TestRegistry_SweepIsIdempotent(t *testing.T) {
	notified := 0
	r := New()
	r.OnDead(func(meshnode.Peer) { notified++ })
	r.Upsert(1, t0)
	r.Upsert(2, t0.Add(50*time.Second))

	now := t0.Add(70 * time.Second)
	first := r.SweepDead(now, time.Minute)
	snapFirst := r.Snapshot()
	second := r.SweepDead(now, time.Minute)
	snapSecond := r.Snapshot()

	if len(first) != 1 || first[0].ID != 1 {
		t.Fatalf("first sweep transitions: got %+v, want peer 1 only", first)
	}
	if len(second) != 0 {
		t.Fatalf("second sweep transitions: got %+v, want none", second)
	}
	if notified != 1 {
		t.Fatalf("dead notifications: got %d, want 1", notified)
	}
	for i := range snapFirst {
		if snapFirst[i] != snapSecond[i] {
			t.Errorf("index %d changed between sweeps: %+v -> %+v", i, snapFirst[i], snapSecond[i])
		}
	}
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	r := New()
	r.Upsert(1, t0)
	snap := r.Snapshot()

	r.Upsert(2, t0)
	r.SweepDead(t0.Add(time.Hour), time.Minute)

	if len(snap) != 1 || !snap[0].Alive {
		t.Fatalf("snapshot changed after registry mutation: %+v", snap)
	}
}

// Peer 3 announces at t=0; with a 60s threshold it survives sweeps up to t=50
// and is dead at t=61.
func TestRegistry_PresenceTimeline(t *testing.T) {
	r := New()
	r.Upsert(3, t0)

	for s := 10; s <= 50; s += 10 {
		r.SweepDead(t0.Add(time.Duration(s)*time.Second), time.Minute)
		p, _ := r.Peer(3)
		if !p.Alive {
			t.Fatalf("peer 3 dead at t=%ds, want alive", s)
		}
	}

	died := r.SweepDead(t0.Add(61*time.Second), time.Minute)
	if len(died) != 1 || died[0].ID != 3 {
		t.Fatalf("sweep at t=61s: got %+v, want peer 3", died)
	}
	if c := r.Counts(); c.Total != 1 {
		t.Fatalf("records for peer 3: got %d, want 1", c.Total)
	}
}

func FuzzRegistryInvariants(f *testing.F) {
	f.Add([]byte{1, 10, 2, 20, 1, 5, 0xFF, 3, 60})

	f.Fuzz(func(t *testing.T, ops []byte) {
		r := New()
		maxSeen := make(map[meshnode.NodeID]time.Time)
		now := t0

		for i := 0; i+1 < len(ops); i += 2 {
			step := time.Duration(ops[i+1]) * time.Second
			if ops[i] == 0xFF {
				now = now.Add(step)
				before := r.Snapshot()
				r.SweepDead(now, 30*time.Second)
				after := r.Snapshot()
				for j := range before {
					if !before[j].Alive && after[j].Alive {
						t.Fatalf("sweep revived peer %d", after[j].ID)
					}
				}
			} else {
				id := meshnode.NodeID(ops[i] % 8)
				at := now.Add(step)
				r.Upsert(id, at)
				if at.After(maxSeen[id]) {
					maxSeen[id] = at
				}
				p, _ := r.Peer(id)
				if !p.Alive {
					t.Fatalf("peer %d not alive right after upsert", id)
				}
				if !p.LastSeen.Equal(maxSeen[id]) {
					t.Fatalf("peer %d last seen: got %v, want %v", id, p.LastSeen, maxSeen[id])
				}
			}

			c := r.Counts()
			if c.Total != c.Alive+c.Dead {
				t.Fatalf("counts out of balance: %+v", c)
			}
			if c.Total != len(maxSeen) {
				t.Fatalf("total: got %d, want %d", c.Total, len(maxSeen))
			}
		}
	})
}
