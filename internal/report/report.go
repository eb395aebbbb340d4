// Package report formats periodic mesh statistics.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"meshnode"
	"meshnode/internal/clockcheck"
)

const (
	FormatLog   = "log"
	FormatTable = "table"
)

// Stats is one report's worth of node state.
type Stats struct {
	Node    meshnode.NodeID
	Summary meshnode.HealthSummary
	Peers   []meshnode.PeerStatus
	// Clock is nil when NTP checking is disabled.
	Clock *clockcheck.Status
}

// Reporter emits Stats somewhere a human will see them.
type Reporter interface {
	Report(ctx context.Context, s Stats) error
}

// New returns the reporter for format. Table output goes to w.
func New(format string, w io.Writer) (Reporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatLog:
		return NewLogReporter(slog.Default()), nil
	case FormatTable:
		return NewTableReporter(w), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// LogReporter writes counts at info level and each peer at debug level.
type LogReporter struct {
	log *slog.Logger
}

func NewLogReporter(log *slog.Logger) *LogReporter {
	return &LogReporter{log: log.With("component", "report")}
}

func (r *LogReporter) Report(ctx context.Context, s Stats) error {
	attrs := []any{
		"node", s.Node.String(),
		"total", s.Summary.Total,
		"alive", s.Summary.Alive,
		"dead", s.Summary.Dead,
	}
	if s.Clock != nil && s.Clock.Checked() {
		attrs = append(attrs, "clock_offset", s.Clock.Offset, "clock_healthy", s.Clock.Healthy)
	}
	r.log.InfoContext(ctx, "mesh stats", attrs...)

	for _, p := range s.Peers {
		r.log.DebugContext(ctx, "peer", "id", p.ID.String(), "state", state(p))
	}
	return nil
}

// Palette matches the CLI.
var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")

	labelStyle = lipgloss.NewStyle().Foreground(dim)
	aliveStyle = lipgloss.NewStyle().Foreground(green)
	deadStyle  = lipgloss.NewStyle().Foreground(red)
)

// TableReporter renders a peer table.
type TableReporter struct {
	w io.Writer
}

func NewTableReporter(w io.Writer) *TableReporter {
	if w == nil {
		w = os.Stdout
	}
	return &TableReporter{w: w}
}

func (r *TableReporter) Report(_ context.Context, s Stats) error {
	_, err := io.WriteString(r.w, Render(s))
	return err
}

// Render returns the table form of s with a trailing newline.
func Render(s Stats) string {
	var sb strings.Builder

	summary := fmt.Sprintf("%d total, %s, %s",
		s.Summary.Total,
		aliveStyle.Render(fmt.Sprintf("%d alive", s.Summary.Alive)),
		deadStyle.Render(fmt.Sprintf("%d dead", s.Summary.Dead)),
	)
	sb.WriteString(labelStyle.Render("node "+s.Node.String()+":") + " " + summary + "\n")

	if s.Clock != nil && s.Clock.Checked() {
		clock := fmt.Sprintf("offset %s", s.Clock.Offset)
		if s.Clock.Error != "" {
			clock = deadStyle.Render("check failed: " + s.Clock.Error)
		} else if !s.Clock.Healthy {
			clock = deadStyle.Render(clock + " (drifting)")
		}
		sb.WriteString(labelStyle.Render("clock:") + " " + clock + "\n")
	}

	if len(s.Peers) == 0 {
		return sb.String()
	}

	rows := make([][]string, 0, len(s.Peers))
	for _, p := range s.Peers {
		rows = append(rows, []string{p.ID.String(), state(p)})
	}

	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col != 1 || row < 0 || row >= len(rows):
				return cellStyle
			case rows[row][1] == meshnode.PeerDead.String():
				return cellStyle.Foreground(red)
			default:
				return cellStyle.Foreground(green)
			}
		}).
		Headers("PEER", "STATE").
		Rows(rows...)

	sb.WriteString(t.String() + "\n")
	return sb.String()
}

// ConfigureColor picks the colour profile. Non-terminals and NO_COLOR get
// plain ASCII.
func ConfigureColor(w io.Writer) {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(f).ColorProfile())
}

func state(p meshnode.PeerStatus) string {
	if p.Alive {
		return meshnode.PeerAlive.String()
	}
	return meshnode.PeerDead.String()
}
