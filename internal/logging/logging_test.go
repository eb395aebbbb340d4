package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewHandler(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		format   string
		wantErr  bool
		debugOn  bool
		wantJSON bool
	}{
		{name: "defaults", level: "", format: ""},
		{name: "debug text", level: "DEBUG", format: "text", debugOn: true},
		{name: "json", level: "warn", format: "json", wantJSON: true},
		{name: "bad level", level: "verbose", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h, err := NewHandler(&buf, tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewHandler error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			if got := h.Enabled(context.Background(), slog.LevelDebug); got != tt.debugOn {
				t.Fatalf("debug enabled = %v, want %v", got, tt.debugOn)
			}

			slog.New(h).Error("radio down", "code", 3)
			line := strings.TrimSpace(buf.String())
			if tt.wantJSON {
				var rec map[string]any
				if err := json.Unmarshal([]byte(line), &rec); err != nil {
					t.Fatalf("json output %q: %v", line, err)
				}
				if rec["msg"] != "radio down" {
					t.Fatalf("msg = %v", rec["msg"])
				}
			} else if !strings.Contains(line, `msg="radio down"`) {
				t.Fatalf("text output %q", line)
			}
		})
	}
}
