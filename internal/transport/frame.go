package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"meshnode"
)

// Frame layout on the wire:
//
//	magic(2) dst(1) src(1) flags(1) seq(1) len(1) payload(len) crc32(4)
//
// The CRC covers dst through payload, big-endian.
const (
	magic0     = 0x7E
	magic1     = 0xA5
	headerLen  = 7
	trailerLen = 4

	// MaxFramePayload is the largest payload a frame can carry.
	MaxFramePayload = 0xFF

	// FrameOverhead is the number of bytes framing adds to a payload.
	FrameOverhead = headerLen + trailerLen
)

// Frame flags.
const (
	FlagAck uint8 = 1 << iota // acknowledges the frame with the same seq
)

var (
	errShortFrame  = errors.New("short frame")
	errBadMagic    = errors.New("bad frame magic")
	errBadChecksum = errors.New("frame checksum mismatch")
)

// Frame is one link-layer unit.
type Frame struct {
	Dst     meshnode.NodeID
	Src     meshnode.NodeID
	Flags   uint8
	Seq     uint8
	Payload []byte
}

// IsAck reports whether f acknowledges an earlier frame.
func (f Frame) IsAck() bool { return f.Flags&FlagAck != 0 }

// MarshalFrame encodes f.
func MarshalFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxFramePayload {
		return nil, fmt.Errorf("marshal frame: payload %d bytes exceeds %d", len(f.Payload), MaxFramePayload)
	}
	out := make([]byte, headerLen+len(f.Payload)+trailerLen)
	out[0] = magic0
	out[1] = magic1
	out[2] = byte(f.Dst)
	out[3] = byte(f.Src)
	out[4] = f.Flags
	out[5] = f.Seq
	out[6] = byte(len(f.Payload))
	copy(out[headerLen:], f.Payload)
	sum := crc32.ChecksumIEEE(out[2 : headerLen+len(f.Payload)])
	binary.BigEndian.PutUint32(out[headerLen+len(f.Payload):], sum)
	return out, nil
}

// UnmarshalFrame decodes exactly one frame from b.
func UnmarshalFrame(b []byte) (Frame, error) {
	if len(b) < headerLen+trailerLen {
		return Frame{}, errShortFrame
	}
	if b[0] != magic0 || b[1] != magic1 {
		return Frame{}, errBadMagic
	}
	n := int(b[6])
	if len(b) != headerLen+n+trailerLen {
		return Frame{}, fmt.Errorf("frame length %d does not match header (%d payload bytes)", len(b), n)
	}
	want := binary.BigEndian.Uint32(b[headerLen+n:])
	if crc32.ChecksumIEEE(b[2:headerLen+n]) != want {
		return Frame{}, errBadChecksum
	}
	payload := make([]byte, n)
	copy(payload, b[headerLen:headerLen+n])
	return Frame{
		Dst:     meshnode.NodeID(b[2]),
		Src:     meshnode.NodeID(b[3]),
		Flags:   b[4],
		Seq:     b[5],
		Payload: payload,
	}, nil
}

// FrameScanner extracts frames from a byte stream such as a UART, skipping
// line noise and corrupted frames.
type FrameScanner struct {
	r *bufio.Reader
}

// NewFrameScanner wraps r.
func NewFrameScanner(r io.Reader) *FrameScanner {
	return &FrameScanner{r: bufio.NewReaderSize(r, 2*(headerLen+MaxFramePayload+trailerLen))}
}

// Next blocks until a valid frame is read or r fails. Bytes of a frame are
// only consumed once the whole frame is buffered, so a read error in the
// middle of a frame leaves it to be completed by the next call.
func (s *FrameScanner) Next() (Frame, error) {
	for {
		m, err := s.r.Peek(2)
		if err != nil {
			return Frame{}, err
		}
		if m[0] != magic0 || m[1] != magic1 {
			_, _ = s.r.Discard(1)
			continue
		}

		hdr, err := s.r.Peek(headerLen)
		if err != nil {
			return Frame{}, err
		}
		total := headerLen + int(hdr[6]) + trailerLen
		raw, err := s.r.Peek(total)
		if err != nil {
			return Frame{}, err
		}

		f, err := UnmarshalFrame(raw)
		if err != nil {
			// Resync on the byte after this magic.
			_, _ = s.r.Discard(1)
			continue
		}
		_, _ = s.r.Discard(total)
		return f, nil
	}
}
