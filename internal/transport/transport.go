// Package transport defines the radio link the liveness protocol runs on and
// the link-layer framing shared by the concrete transports.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meshnode"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Packet is one received payload.
type Packet struct {
	From    meshnode.NodeID
	To      meshnode.NodeID
	Payload []byte
}

// Transport delivers payloads between nodes over an unreliable channel.
// Production: serial.Transport (LoRa E32 UART), udp.Transport (LAN)
// Testing: memory.Endpoint
type Transport interface {
	// Init prepares the link. Callers retry on failure.
	Init(ctx context.Context) error
	// Send delivers payload to one node or to meshnode.BroadcastID. A failed
	// delivery returns a *SendError.
	Send(ctx context.Context, to meshnode.NodeID, payload []byte) error
	// Receive waits up to timeout for the next payload. ok is false when the
	// wait timed out, which is the normal idle condition.
	Receive(ctx context.Context, timeout time.Duration) (pkt Packet, ok bool, err error)
	// Close releases the link. Pending and later calls return ErrClosed.
	Close() error
}

// DeliveryStatus is the outcome of a send.
type DeliveryStatus uint8

const (
	StatusOK DeliveryStatus = iota
	StatusInvalidLength
	StatusNoRoute
	StatusTimeout
	StatusNoReply
	StatusUnableToDeliver
	StatusUnknown
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidLength:
		return "invalid length"
	case StatusNoRoute:
		return "no route"
	case StatusTimeout:
		return "timeout"
	case StatusNoReply:
		return "no reply"
	case StatusUnableToDeliver:
		return "unable to deliver"
	default:
		return "unknown"
	}
}

// SendError reports a failed delivery.
type SendError struct {
	Status DeliveryStatus
	To     meshnode.NodeID
	Err    error // underlying cause, may be nil
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send to %s: %s: %v", e.To, e.Status, e.Err)
	}
	return fmt.Sprintf("send to %s: %s", e.To, e.Status)
}

func (e *SendError) Unwrap() error { return e.Err }

// Code returns the numeric status, matching the firmware's error codes.
func (e *SendError) Code() uint16 { return uint16(e.Status) }

// StatusOf maps a Send result to a DeliveryStatus. Errors that are not a
// *SendError map to StatusUnknown.
func StatusOf(err error) DeliveryStatus {
	if err == nil {
		return StatusOK
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Status
	}
	return StatusUnknown
}
