package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"meshnode/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// MetricsServer serves /metrics and a /healthz probe. /healthz reports 503
// until ready is closed.
type MetricsServer struct {
	mux *http.ServeMux
}

func NewMetricsServer(m *telemetry.Metrics, ready <-chan struct{}) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-ready:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		default:
			http.Error(w, "transport not up", http.StatusServiceUnavailable)
		}
	})
	return &MetricsServer{mux: mux}
}

// Handler returns the server's routes.
func (s *MetricsServer) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr and blocks until ctx is cancelled.
func (s *MetricsServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}

	// Shut down when ctx is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
