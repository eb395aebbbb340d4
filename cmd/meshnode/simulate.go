package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"meshnode"
	"meshnode/config"
	"meshnode/internal/logging"
	"meshnode/internal/message"
	"meshnode/internal/node"
	"meshnode/internal/relay"
	"meshnode/internal/report"
	"meshnode/internal/transport/memory"
)

// operatorID is the in-memory node that injects control messages.
const operatorID meshnode.NodeID = 254

type simOptions struct {
	nodes    int
	duration time.Duration
	period   time.Duration
	kill     bool
	activate bool
}

func simulateCmd(debug *bool) *cobra.Command {
	opts := simOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run several nodes on an in-memory mesh and print what each one saw",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logging.Configure(logLevel(logging.LevelWarn, *debug), logging.FormatText); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := simulate(ctx, opts)
			if err != nil {
				return err
			}
			report.ConfigureColor(os.Stdout)
			return printStats(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().IntVar(&opts.nodes, "nodes", 3, "Number of nodes")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "How long to run")
	cmd.Flags().DurationVar(&opts.period, "period", time.Second, "Presence broadcast period")
	cmd.Flags().BoolVar(&opts.kill, "kill", true, "Stop the last node a third of the way through")
	cmd.Flags().BoolVar(&opts.activate, "activate", false, "Broadcast an Activate once the mesh is up")
	return cmd
}

// simConfig scales the firmware's 30s/10s/60s timing down to period.
func simConfig(id meshnode.NodeID, o simOptions) config.Config {
	cfg := config.Default()
	cfg.Node.ID = id
	cfg.Radio.Kind = config.RadioMemory
	cfg.Radio.InitRetry = o.period / 10
	cfg.Radio.ReceiveTimeout = max(o.period/15, time.Millisecond)
	cfg.Liveness = config.Liveness{
		BroadcastPeriod: o.period,
		SweepPeriod:     max(o.period/3, time.Millisecond),
		ReportPeriod:    2 * o.duration,
		DeadThreshold:   2 * o.period,
	}
	return cfg
}

func simulate(ctx context.Context, o simOptions) ([]report.Stats, error) {
	if o.nodes < 1 || o.nodes > 253 {
		return nil, fmt.Errorf("--nodes must be between 1 and 253, got %d", o.nodes)
	}
	if o.period <= 0 || o.duration <= 0 {
		return nil, fmt.Errorf("--period and --duration must be positive")
	}

	hub := memory.NewHub()
	nodes := make([]*node.Node, o.nodes)
	for i := range nodes {
		cfg := simConfig(meshnode.NodeID(i+1), o)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		tr, err := node.BuildTransport(cfg, hub)
		if err != nil {
			return nil, err
		}
		nodes[i] = node.New(cfg, tr, relay.NewLog(slog.Default()),
			node.WithReporter(report.NewLogReporter(slog.Default())))
	}

	ctx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i, n := range nodes {
		nodeCtx := gctx
		if o.kill && len(nodes) > 1 && i == len(nodes)-1 {
			var killNode context.CancelFunc
			nodeCtx, killNode = context.WithCancel(gctx)
			timer := time.AfterFunc(o.duration/3, func() {
				slog.Warn("Stopping node.", "node", n.Self().String())
				killNode()
			})
			defer timer.Stop()
		}
		g.Go(func() error { return n.Run(nodeCtx) })
	}
	if o.activate {
		g.Go(func() error { return injectActivate(gctx, hub, nodes[0]) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := make([]report.Stats, len(nodes))
	for i, n := range nodes {
		stats[i] = n.Stats()
	}
	return stats, nil
}

func injectActivate(ctx context.Context, hub *memory.Hub, first *node.Node) error {
	select {
	case <-first.Started():
	case <-ctx.Done():
		return nil
	}

	op := hub.Endpoint(operatorID)
	if err := op.Init(ctx); err != nil {
		return err
	}
	defer op.Close()

	payload, err := message.Encode(message.KindActivate)
	if err != nil {
		return err
	}
	if err := op.Send(ctx, meshnode.BroadcastID, payload); err != nil {
		slog.Warn("Activate broadcast failed.", "err", err)
	}
	return nil
}

func printStats(w io.Writer, stats []report.Stats) error {
	for _, s := range stats {
		if _, err := io.WriteString(w, report.Render(s)+"\n"); err != nil {
			return err
		}
	}
	return nil
}
