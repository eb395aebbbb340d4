package daemon

import (
	"context"
	"log/slog"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"meshnode/internal/node"
	"meshnode/internal/telemetry"
)

// Run starts the node, the optional metrics server and systemd notification,
// then blocks until ctx is cancelled. An empty metricsAddr disables /metrics.
func Run(ctx context.Context, n *node.Node, metrics *telemetry.Metrics, metricsAddr string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting mesh node.", "node", n.Self().String())

		// Notify systemd once the radio is up.
		go func() {
			select {
			case <-n.Started():
				if _, err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
					slog.Error("Failed to notify systemd that the node is ready.", "err", err)
				}
			case <-ctx.Done():
			}
		}()

		return n.Run(ctx)
	})
	if metricsAddr != "" {
		srv := NewMetricsServer(metrics, n.Started())
		g.Go(func() error { return srv.ListenAndServe(ctx, metricsAddr) })
	}
	return g.Wait()
}
