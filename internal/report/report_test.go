package report

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"meshnode"
	"meshnode/internal/clockcheck"
)

func TestRender(t *testing.T) {
	ConfigureColor(&bytes.Buffer{})

	out := Render(Stats{
		Node:    1,
		Summary: meshnode.HealthSummary{Total: 2, Alive: 1, Dead: 1},
		Peers: []meshnode.PeerStatus{
			{ID: 3, Alive: true},
			{ID: 7, Alive: false},
		},
		Clock: &clockcheck.Status{Offset: 2 * time.Second, CheckedAt: time.Now()},
	})

	for _, want := range []string{"node 1:", "2 total", "1 alive", "1 dead", "PEER", "STATE", "drifting"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, " 3 ") > strings.Index(out, " 7 ") {
		t.Fatalf("peers out of insertion order:\n%s", out)
	}
}

func TestRender_NoPeersNoTable(t *testing.T) {
	ConfigureColor(&bytes.Buffer{})

	out := Render(Stats{Node: 5})
	if strings.Contains(out, "PEER") {
		t.Fatalf("empty registry should not render a table:\n%s", out)
	}
	if strings.Contains(out, "clock:") {
		t.Fatalf("clock line without a checker:\n%s", out)
	}
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := NewLogReporter(log)
	err := r.Report(context.Background(), Stats{
		Node:    2,
		Summary: meshnode.HealthSummary{Total: 1, Alive: 0, Dead: 1},
		Peers:   []meshnode.PeerStatus{{ID: 9}},
	})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"mesh stats", "total=1", "dead=1", "id=9", "state=dead"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %q:\n%s", want, out)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{format: ""},
		{format: "log"},
		{format: "TABLE"},
		{format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			_, err := New(tt.format, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
			}
		})
	}
}
