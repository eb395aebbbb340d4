package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestUnmarshalFrame(t *testing.T) {
	good, err := MarshalFrame(Frame{Dst: 0xFF, Src: 2, Seq: 9, Payload: []byte("Node Present\x00")})
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}

	corrupt := append([]byte(nil), good...)
	corrupt[headerLen] ^= 0x01

	tests := []struct {
		name    string
		raw     []byte
		wantErr bool
	}{
		{name: "valid frame", raw: good},
		{name: "short input", raw: good[:5], wantErr: true},
		{name: "bad magic", raw: append([]byte{0x00}, good[1:]...), wantErr: true},
		{name: "truncated payload", raw: good[:len(good)-1], wantErr: true},
		{name: "flipped payload bit", raw: corrupt, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := UnmarshalFrame(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got frame %+v", f)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Dst != 0xFF || f.Src != 2 || f.Seq != 9 || string(f.Payload) != "Node Present\x00" {
				t.Fatalf("decoded frame mismatch: %+v", f)
			}
		})
	}
}

func TestMarshalFrame_RejectsOversizedPayload(t *testing.T) {
	if _, err := MarshalFrame(Frame{Payload: make([]byte, MaxFramePayload+1)}); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestFrameScanner_SkipsNoise(t *testing.T) {
	a, _ := MarshalFrame(Frame{Dst: 1, Src: 2, Seq: 1, Payload: []byte("Active\x00")})
	b, _ := MarshalFrame(Frame{Dst: 1, Src: 3, Seq: 2, Payload: []byte("Inactive\x00")})
	broken := append([]byte(nil), a...)
	broken[len(broken)-1] ^= 0xFF

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x7E, 0x11, 0xA5}) // line noise, half a magic
	stream.Write(broken)
	stream.Write(a)
	stream.Write([]byte{0x7E})
	stream.Write(b)

	s := NewFrameScanner(&stream)

	got1, err := s.Next()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if got1.Src != 2 || string(got1.Payload) != "Active\x00" {
		t.Fatalf("first frame mismatch: %+v", got1)
	}

	got2, err := s.Next()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if got2.Src != 3 || string(got2.Payload) != "Inactive\x00" {
		t.Fatalf("second frame mismatch: %+v", got2)
	}

	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("end of stream: got %v, want EOF", err)
	}
}

// chunkedReader replays reads one step at a time, like a UART whose read
// timeout can fire between two halves of a frame.
type chunkedReader struct {
	steps []readStep
}

type readStep struct {
	data []byte
	err  error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.steps) == 0 {
		return 0, io.EOF
	}
	st := r.steps[0]
	r.steps = r.steps[1:]
	return copy(p, st.data), st.err
}

func TestFrameScanner_ResumesAfterReadTimeout(t *testing.T) {
	errTimeout := errors.New("serial: timeout")
	raw, _ := MarshalFrame(Frame{Dst: 1, Src: 5, Seq: 3, Payload: make([]byte, 60)})

	tests := []struct {
		name  string
		split int
	}{
		{name: "inside magic", split: 1},
		{name: "inside header", split: 4},
		{name: "inside payload", split: headerLen + 30},
		{name: "inside checksum", split: len(raw) - 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewFrameScanner(&chunkedReader{steps: []readStep{
				{data: raw[:tt.split]},
				{err: errTimeout},
				{data: raw[tt.split:]},
			}})

			if _, err := s.Next(); !errors.Is(err, errTimeout) {
				t.Fatalf("first Next: got %v, want timeout", err)
			}
			f, err := s.Next()
			if err != nil {
				t.Fatalf("second Next: %v", err)
			}
			if f.Src != 5 || f.Seq != 3 || len(f.Payload) != 60 {
				t.Fatalf("frame mismatch: %+v", f)
			}
			if _, err := s.Next(); !errors.Is(err, io.EOF) {
				t.Fatalf("end of stream: got %v, want EOF", err)
			}
		})
	}
}

func FuzzUnmarshalFrame(f *testing.F) {
	seed, _ := MarshalFrame(Frame{Dst: 1, Src: 2, Payload: []byte("x")})
	f.Add(seed)

	f.Fuzz(func(t *testing.T, raw []byte) {
		fr, err := UnmarshalFrame(raw)
		if err != nil {
			return
		}
		again, err := MarshalFrame(fr)
		if err != nil {
			t.Fatalf("re-marshal decoded frame: %v", err)
		}
		if !bytes.Equal(again, raw) {
			t.Fatalf("re-marshal mismatch:\n got %x\nwant %x", again, raw)
		}
	})
}

func TestFrameOverhead(t *testing.T) {
	raw, err := MarshalFrame(Frame{Dst: 1, Src: 2, Payload: []byte("abc")})
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	if len(raw)-3 != FrameOverhead {
		t.Fatalf("overhead: got %d, want %d", len(raw)-3, FrameOverhead)
	}
}
