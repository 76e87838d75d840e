// Package packet implements the Telehash wire framing and type dispatch
// described in spec.md §4.1: a 2-byte big-endian length prefix, a UTF-8
// JSON header object, and a binary body.
//
// Grounded on the teacher's p2p/msg.go Msg/Transport shape and
// p2p/rlpx/framing.go's length-prefixed record framing, re-targeted at
// JSON headers instead of RLP-encoded ones.
package packet

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// ErrMalformed is returned for any framing or JSON error. The reactor
// never treats a malformed packet as fatal (spec.md §4.1, §7).
var ErrMalformed = errors.New("packet: malformed")

// MaxPacketSize is the recommended MTU-sized ceiling from spec.md §6.
const MaxPacketSize = 1400

// Packet is a parsed datagram: a type tag, its JSON header, an optional
// binary body, and the endpoint it arrived from.
type Packet struct {
	Type   string
	JSON   map[string]any
	Body   []byte
	Origin *net.UDPAddr
}

// Frame renders hdr and body into the wire format: [2-byte length][JSON][body].
func Frame(hdr map[string]any, body []byte) ([]byte, error) {
	j, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: encode header: %v", ErrMalformed, err)
	}
	if len(j) > 0xFFFF {
		return nil, fmt.Errorf("%w: header too large (%d bytes)", ErrMalformed, len(j))
	}
	out := make([]byte, 2+len(j)+len(body))
	binary.BigEndian.PutUint16(out[:2], uint16(len(j)))
	copy(out[2:], j)
	copy(out[2+len(j):], body)
	return out, nil
}

// Split decodes the frame in raw into its JSON header and body, without
// requiring a "type" field — used by the inner open/line framing in
// spec.md §4.2–§4.3, which nests a frame inside the AES-CTR plaintext.
func Split(raw []byte) (hdr map[string]any, body []byte, err error) {
	if len(raw) < 2 {
		return nil, nil, fmt.Errorf("%w: too short for length prefix", ErrMalformed)
	}
	l := int(binary.BigEndian.Uint16(raw[:2]))
	if l > len(raw)-2 {
		return nil, nil, fmt.Errorf("%w: length prefix %d exceeds payload", ErrMalformed, l)
	}
	if l == 0 {
		return nil, nil, fmt.Errorf("%w: empty JSON header", ErrMalformed)
	}
	var j map[string]any
	if err := json.Unmarshal(raw[2:2+l], &j); err != nil {
		return nil, nil, fmt.Errorf("%w: decode header: %v", ErrMalformed, err)
	}
	return j, raw[2+l:], nil
}

// Parse frames raw per spec.md §4.1 and additionally requires a string
// "type" field, attaching origin for downstream use.
func Parse(raw []byte, origin *net.UDPAddr) (*Packet, error) {
	hdr, body, err := Split(raw)
	if err != nil {
		return nil, err
	}
	t, ok := hdr["type"].(string)
	if !ok || t == "" {
		return nil, fmt.Errorf("%w: missing or invalid \"type\"", ErrMalformed)
	}
	return &Packet{Type: t, JSON: hdr, Body: body, Origin: origin}, nil
}

// Handler processes one dispatched packet.
type Handler func(pkt *Packet)

// Registry maps packet type tags to handlers. Each Registry is a separate
// value, not process-global state. The Switch does not use one: it
// dispatches "open" and "line" packets with a fixed type switch, and other
// packet types cannot be registered on it.
type Registry struct {
	handlers map[string]Handler
	unknown  func(pkt *Packet)
}

// NewRegistry returns an empty Registry. onUnknown, if non-nil, is invoked
// for packet types with no registered handler (spec.md §4.1: "Unknown
// types → drop with a logged warning").
func NewRegistry(onUnknown func(pkt *Packet)) *Registry {
	return &Registry{handlers: make(map[string]Handler), unknown: onUnknown}
}

// Register installs the handler for a packet type, overwriting any
// previous registration.
func (r *Registry) Register(typ string, h Handler) {
	r.handlers[typ] = h
}

// Dispatch parses raw and invokes the registered handler for its type. It
// returns an error only for framing/JSON failures or unknown types; the
// caller (the reactor) logs and drops on any error, never panics.
func (r *Registry) Dispatch(raw []byte, origin *net.UDPAddr) error {
	pkt, err := Parse(raw, origin)
	if err != nil {
		return err
	}
	h, ok := r.handlers[pkt.Type]
	if !ok {
		if r.unknown != nil {
			r.unknown(pkt)
		}
		return fmt.Errorf("packet: unknown type %q", pkt.Type)
	}
	h(pkt)
	return nil
}
