// Package message defines the payloads exchanged between mesh nodes.
//
// Payloads are short NUL-terminated ASCII tokens, the format already spoken by
// the deployed firmware. They are decoded once at the transport boundary into
// a Kind; everything above the transport switches on Kind.
package message

import (
	"bytes"
	"fmt"
)

// Kind tags a payload.
type Kind uint8

const (
	KindUnknown     Kind = iota
	KindPresence         // "I am here" heartbeat, broadcast
	KindActivate         // turn the relay on mesh-wide
	KindDeactivate       // turn the relay off mesh-wide
	KindActivated        // confirmation after Activate
	KindDeactivated      // confirmation after Deactivate
)

// Wire tokens. The confirmation spellings match the deployed firmware.
const (
	tokenPresence    = "Node Present"
	tokenActivate    = "Active"
	tokenDeactivate  = "Inactive"
	tokenActivated   = "Actived"
	tokenDeactivated = "Deactived"
)

var tokens = map[Kind]string{
	KindPresence:    tokenPresence,
	KindActivate:    tokenActivate,
	KindDeactivate:  tokenDeactivate,
	KindActivated:   tokenActivated,
	KindDeactivated: tokenDeactivated,
}

func (k Kind) String() string {
	switch k {
	case KindPresence:
		return "presence"
	case KindActivate:
		return "activate"
	case KindDeactivate:
		return "deactivate"
	case KindActivated:
		return "activated"
	case KindDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// Message is a decoded payload. Raw keeps the original bytes for logging.
type Message struct {
	Kind Kind
	Raw  []byte
}

// Encode returns the wire form of k, including the trailing NUL.
func Encode(k Kind) ([]byte, error) {
	tok, ok := tokens[k]
	if !ok {
		return nil, fmt.Errorf("encode message: no wire form for kind %s", k)
	}
	out := make([]byte, len(tok)+1)
	copy(out, tok)
	return out, nil
}

// Decode classifies a payload by content. Everything after the first NUL is
// ignored. Empty and unrecognized payloads decode to KindUnknown.
func Decode(payload []byte) Message {
	text := payload
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}

	msg := Message{Kind: KindUnknown, Raw: payload}
	for k, tok := range tokens {
		if string(text) == tok {
			msg.Kind = k
			break
		}
	}
	return msg
}

// Text returns the printable part of the payload.
func (m Message) Text() string {
	if i := bytes.IndexByte(m.Raw, 0); i >= 0 {
		return string(m.Raw[:i])
	}
	return string(m.Raw)
}
