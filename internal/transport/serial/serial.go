// Package serial drives an Ebyte E32 LoRa module over a UART.
//
// The module runs in transparent mode: every byte written is radiated to all
// modules on the same channel. Addressing, acknowledgement and integrity
// checks are done by the transport's link layer.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"meshnode"
	"meshnode/internal/transport"

	"github.com/goburrow/serial"
)

// readErrorPause throttles the reader when the port keeps failing.
const readErrorPause = 50 * time.Millisecond

// Config configures the UART and the link layer.
type Config struct {
	Device     string
	BaudRate   int
	Self       meshnode.NodeID
	MaxPayload int
	AckTimeout time.Duration
	Retries    int
	// ReadTimeout bounds each blocking read so the reader notices Close.
	ReadTimeout time.Duration
}

// Opener opens the UART. Tests substitute an in-memory pipe.
type Opener func(cfg Config) (io.ReadWriteCloser, error)

// OpenPort opens cfg.Device with 8N1 framing.
func OpenPort(cfg Config) (io.ReadWriteCloser, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}

// Transport implements transport.Transport over a UART.
type Transport struct {
	cfg  Config
	open Opener
	log  *slog.Logger
	link *transport.Link

	mu   sync.Mutex // serializes writes; one frame at a time on the wire
	port io.ReadWriteCloser
	done chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New creates an unopened transport. A nil opener uses OpenPort.
func New(cfg Config, open Opener) *Transport {
	if open == nil {
		open = OpenPort
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	log := slog.With("component", "serial-transport", "device", cfg.Device)
	return &Transport{
		cfg:  cfg,
		open: open,
		log:  log,
		link: transport.NewLink(transport.LinkConfig{
			Self:       cfg.Self,
			MaxPayload: cfg.MaxPayload,
			AckTimeout: cfg.AckTimeout,
			Retries:    cfg.Retries,
		}, log),
	}
}

// Init opens the port and starts the frame reader. Calling Init on an open
// transport is a no-op.
func (t *Transport) Init(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.link.Done():
		return transport.ErrClosed
	default:
	}
	if t.port != nil {
		return nil
	}

	port, err := t.open(t.cfg)
	if err != nil {
		return err
	}
	t.port = port
	t.done = make(chan struct{})
	go t.readLoop(port, t.done)
	t.log.Info("serial port open", "baud", t.cfg.BaudRate)
	return nil
}

// Send implements transport.Transport.
func (t *Transport) Send(ctx context.Context, to meshnode.NodeID, payload []byte) error {
	return t.link.Send(ctx, to, payload, t.write)
}

// Receive implements transport.Transport.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (transport.Packet, bool, error) {
	return t.link.Receive(ctx, timeout)
}

// Close closes the port and waits for the reader to exit.
func (t *Transport) Close() error {
	t.link.Close()

	t.mu.Lock()
	port, done := t.port, t.done
	t.port = nil
	t.mu.Unlock()

	if port == nil {
		return nil
	}
	err := port.Close()
	<-done
	return err
}

func (t *Transport) write(_ meshnode.NodeID, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return transport.ErrClosed
	}
	_, err := t.port.Write(frame)
	return err
}

func (t *Transport) readLoop(port io.Reader, done chan struct{}) {
	defer close(done)
	scanner := transport.NewFrameScanner(port)
	for {
		f, err := scanner.Next()
		if err != nil {
			select {
			case <-t.link.Done():
				return
			default:
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				t.log.Warn("serial port closed underneath transport", "err", err)
				t.link.Close()
				return
			}
			// Read timeouts surface here; buffered bytes are kept.
			t.log.Debug("serial read", "err", err)
			time.Sleep(readErrorPause)
			continue
		}
		t.link.Deliver(f, t.write)
	}
}
