// Package line implements the Telehash line packet (spec.md §4.3) and the
// per-line channel multiplexer (spec.md §4.4): a bidirectional encrypted
// session between two nodes, keyed by ECDH, carrying named logical streams
// ("channels") of application packets.
//
// Grounded on the teacher's p2p/peer.go (mutex-guarded session state,
// accessor methods) and p2p/msg.go (framed-message multiplexing), re-targeted
// at line-packet framing and channel-id demultiplexing instead of eth
// subprotocol message codes.
package line

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telehash/telehash/pkg/telehash/codec"
	tcrypto "github.com/telehash/telehash/pkg/telehash/crypto"
	"github.com/telehash/telehash/pkg/telehash/identity"
	"github.com/telehash/telehash/pkg/telehash/packet"
)

// ErrNotLinePacket is returned by Parse when the outer packet is not
// type="line".
var ErrNotLinePacket = errors.New("line: not a line packet")

// ErrWrongLine is returned by Parse when the packet's "line" field does not
// match the expected incoming line id.
var ErrWrongLine = errors.New("line: line id mismatch")

// ChannelQueueDepth bounds the number of ChannelPacket values queued on a
// Channel before its handler is installed (spec.md §4.4: "queued on the
// Channel (bounded; overflow = error)").
const ChannelQueueDepth = 32

// deriveKeys computes the direction-asymmetric encrypt/decrypt keys from
// spec.md §4.3: SHA-256(shared ‖ outgoing-line-id) to encrypt, SHA-256(shared
// ‖ incoming-line-id) to decrypt.
func deriveKeys(p tcrypto.Provider, shared []byte, lineOut, lineIn [16]byte) (encKey, decKey []byte) {
	encKey = p.SHA256(shared, lineOut[:])
	decKey = p.SHA256(shared, lineIn[:])
	return
}

// Render builds the wire bytes for a line packet: type="line", the hex of
// the receiver's chosen line id, a fresh IV, and inner bytes AES-256-CTR
// encrypted under encKey.
func Render(p tcrypto.Provider, lineOut [16]byte, encKey, inner []byte) ([]byte, error) {
	iv, err := p.RandomBytes(16)
	if err != nil {
		return nil, fmt.Errorf("line: generate IV: %w", err)
	}
	body, err := p.AESCTR(encKey, iv, inner)
	if err != nil {
		return nil, fmt.Errorf("line: encrypt: %w", err)
	}
	hdr := map[string]any{
		"type": "line",
		"line": codec.ToHex(lineOut[:]),
		"iv":   codec.ToHex(iv),
	}
	return packet.Frame(hdr, body)
}

// Parse decrypts raw, an inbound line packet, under decKey and returns the
// inner frame bytes. wantLineIn is our own incoming line id; a mismatch is
// rejected without attempting decryption.
func Parse(p tcrypto.Provider, raw []byte, wantLineIn [16]byte, decKey []byte) ([]byte, error) {
	hdr, body, err := packet.Split(raw)
	if err != nil {
		return nil, err
	}
	typ, _ := hdr["type"].(string)
	if typ != "line" {
		return nil, ErrNotLinePacket
	}
	lineHex, _ := hdr["line"].(string)
	lineBytes, err := codec.FromHex(lineHex)
	if err != nil || len(lineBytes) != 16 {
		return nil, fmt.Errorf("%w: malformed line id", packet.ErrMalformed)
	}
	var got [16]byte
	copy(got[:], lineBytes)
	if got != wantLineIn {
		return nil, ErrWrongLine
	}
	ivHex, _ := hdr["iv"].(string)
	iv, err := codec.FromHex(ivHex)
	if err != nil || len(iv) != 16 {
		return nil, fmt.Errorf("%w: malformed iv", packet.ErrMalformed)
	}
	inner, err := p.AESCTR(decKey, iv, body)
	if err != nil {
		return nil, fmt.Errorf("line: decrypt: %w", err)
	}
	return inner, nil
}

// ChannelPacket is the decoded inner packet delivered to channel handlers.
type ChannelPacket struct {
	ChannelID [16]byte
	Type      string // only set on the first packet of a channel
	End       bool
	Fields    map[string]any
	Body      []byte
}

// ChannelHandler receives inbound packets and errors for one channel.
type ChannelHandler interface {
	HandleIncoming(pkt *ChannelPacket)
	HandleError(err error)
}

// TypeHandlerFactory creates a handler for a newly observed inbound channel
// of the given type, or returns nil to drop it (spec.md §4.4 step 3).
type TypeHandlerFactory func(typ string, ch *Channel) ChannelHandler

// ChannelHandlerFuncs adapts two plain functions to the ChannelHandler
// interface. Either field may be nil.
type ChannelHandlerFuncs struct {
	OnIncoming func(pkt *ChannelPacket)
	OnError    func(err error)
}

func (f ChannelHandlerFuncs) HandleIncoming(pkt *ChannelPacket) {
	if f.OnIncoming != nil {
		f.OnIncoming(pkt)
	}
}

func (f ChannelHandlerFuncs) HandleError(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

// Error values surfaced to channel handlers via HandleError.
var (
	ErrLineReplaced  = errors.New("line: replaced by newer open")
	ErrSwitchStopped = errors.New("line: switch stopped")
)

// Enqueuer hands a rendered packet to the switch's write queue. Line does
// not own the socket or write queue; it only renders bytes.
type Enqueuer interface {
	Enqueue(dest *identity.Node, raw []byte)
}

// Line is a bidirectional encrypted session (spec.md §4.4). All exported
// methods are safe for concurrent use; application threads call Send while
// the reactor thread calls Deliver.
type Line struct {
	Remote       *identity.Node
	RemoteECPub  *ecdsa.PublicKey
	LocalECPriv  *ecdsa.PrivateKey
	LineOut      [16]byte // remote's chosen id, placed on our outgoing packets
	LineIn       [16]byte // our chosen id, expected on incoming packets
	EncryptKey   []byte
	DecryptKey   []byte

	provider    tcrypto.Provider
	enqueuer    Enqueuer
	typeFactory TypeHandlerFactory

	lastActive atomic.Int64 // ms since epoch, updated on every Deliver

	mu       sync.Mutex
	channels map[[16]byte]*Channel
	seq      map[[16]byte]uint64
	closed   bool
}

// New constructs an established Line from the ECDH shared secret and the two
// line ids agreed during the open exchange.
func New(p tcrypto.Provider, enqueuer Enqueuer, remote *identity.Node, remoteECPub *ecdsa.PublicKey, localECPriv *ecdsa.PrivateKey, shared []byte, lineOut, lineIn [16]byte, typeFactory TypeHandlerFactory) *Line {
	encKey, decKey := deriveKeys(p, shared, lineOut, lineIn)
	l := &Line{
		Remote:      remote,
		RemoteECPub: remoteECPub,
		LocalECPriv: localECPriv,
		LineOut:     lineOut,
		LineIn:      lineIn,
		EncryptKey:  encKey,
		DecryptKey:  decKey,
		provider:    p,
		enqueuer:    enqueuer,
		typeFactory: typeFactory,
		channels:    make(map[[16]byte]*Channel),
		seq:         make(map[[16]byte]uint64),
	}
	l.lastActive.Store(time.Now().UnixMilli())
	return l
}

// LastActive returns the ms-since-epoch timestamp of the last inbound
// delivery on this line, used by the reactor's idle-timeout sweep.
func (l *Line) LastActive() int64 {
	return l.lastActive.Load()
}

// OpenChannel allocates a random 16-byte channel id, registers handler (which
// may be nil if the application will install one later via SetHandler), and
// returns the Channel handle (spec.md §4.4: "openChannel(type, handler)").
func (l *Line) OpenChannel(typ string, handler ChannelHandler) (*Channel, error) {
	idBytes, err := l.provider.RandomBytes(16)
	if err != nil {
		return nil, fmt.Errorf("line: generate channel id: %w", err)
	}
	var id [16]byte
	copy(id[:], idBytes)

	ch := &Channel{
		id:      id,
		typ:     typ,
		line:    l,
		handler: handler,
	}

	l.mu.Lock()
	l.channels[id] = ch
	l.mu.Unlock()
	return ch, nil
}

// SetHandler installs handler on ch, flushing any packets queued before the
// application registered one.
func (l *Line) SetHandler(ch *Channel, handler ChannelHandler) {
	ch.mu.Lock()
	ch.handler = handler
	queued := ch.queue
	ch.queue = nil
	ch.mu.Unlock()
	for _, pkt := range queued {
		handler.HandleIncoming(pkt)
	}
}

// Deliver processes one inbound line-packet payload (already decrypted by
// the caller via Parse), demultiplexing by channel id per spec.md §4.4.
func (l *Line) Deliver(inner []byte) {
	l.lastActive.Store(time.Now().UnixMilli())

	hdr, body, err := packet.Split(inner)
	if err != nil {
		return
	}
	cidHex, _ := hdr["c"].(string)
	cidBytes, err := codec.FromHex(cidHex)
	typ, hasType := hdr["type"].(string)
	end, _ := hdr["end"].(bool)

	var cid [16]byte
	haveCID := err == nil && len(cidBytes) == 16
	if haveCID {
		copy(cid[:], cidBytes)
	}

	pkt := &ChannelPacket{ChannelID: cid, Type: typ, End: end, Fields: hdr, Body: body}

	l.mu.Lock()
	ch, known := l.channels[cid]
	l.mu.Unlock()

	switch {
	case haveCID && known:
		ch.deliver(pkt)
	case haveCID && !known && hasType:
		nc := &Channel{id: cid, typ: typ, line: l}
		l.mu.Lock()
		l.channels[cid] = nc
		l.mu.Unlock()
		if l.typeFactory != nil {
			if h := l.typeFactory(typ, nc); h != nil {
				l.SetHandler(nc, h)
			}
		}
		nc.deliver(pkt)
	default:
		// No channel id, or an unknown id with no type field: drop
		// per spec.md §4.4 step 3.
	}
}

// CloseAllWithError tears down every channel on l, invoking HandleError on
// each installed handler (used for LineReplaced and SwitchStopped).
func (l *Line) CloseAllWithError(err error) {
	l.mu.Lock()
	l.closed = true
	chans := make([]*Channel, 0, len(l.channels))
	for _, ch := range l.channels {
		chans = append(chans, ch)
	}
	l.channels = make(map[[16]byte]*Channel)
	l.mu.Unlock()

	for _, ch := range chans {
		ch.mu.Lock()
		h := ch.handler
		ch.mu.Unlock()
		if h != nil {
			h.HandleError(err)
		}
	}
}

// nextSeq returns the next monotonic sequence number for channel id cid,
// used only for internal ordering bookkeeping (spec.md §3: "monotonic
// per-channel sequence counters for ordering").
func (l *Line) nextSeq(cid [16]byte) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.seq[cid]
	l.seq[cid] = n + 1
	return n
}

// Channel is a named, multiplexed logical stream within a Line.
type Channel struct {
	id   [16]byte
	typ  string
	line *Line

	sentFirst bool

	mu      sync.Mutex
	handler ChannelHandler
	queue   []*ChannelPacket
}

// ID returns the channel's 16-byte identifier.
func (c *Channel) ID() [16]byte { return c.id }

// Type returns the channel's protocol type string.
func (c *Channel) Type() string { return c.typ }

// Send constructs the channel inner-packet (including "type" on the first
// packet sent on this channel), frames and encrypts it as a line packet, and
// enqueues it on the switch (spec.md §4.4).
func (c *Channel) Send(body []byte, fields map[string]any) error {
	hdr := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		hdr[k] = v
	}
	hdr["c"] = codec.ToHex(c.id[:])
	if !c.sentFirst {
		hdr["type"] = c.typ
		c.sentFirst = true
	}

	inner, err := packet.Frame(hdr, body)
	if err != nil {
		return fmt.Errorf("line: frame channel packet: %w", err)
	}

	c.line.mu.Lock()
	closed := c.line.closed
	lineOut, encKey := c.line.LineOut, c.line.EncryptKey
	c.line.mu.Unlock()
	if closed {
		return ErrSwitchStopped
	}

	raw, err := Render(c.line.provider, lineOut, encKey, inner)
	if err != nil {
		return err
	}
	c.line.enqueuer.Enqueue(c.line.Remote, raw)
	c.line.nextSeq(c.id)
	return nil
}

// deliver routes pkt to the installed handler, or queues it (bounded) if no
// handler has been installed yet.
func (c *Channel) deliver(pkt *ChannelPacket) {
	c.mu.Lock()
	h := c.handler
	if h == nil {
		if len(c.queue) >= ChannelQueueDepth {
			c.mu.Unlock()
			c.HandleError(fmt.Errorf("line: channel %x: queue overflow", c.id[:4]))
			return
		}
		c.queue = append(c.queue, pkt)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	h.HandleIncoming(pkt)
}

// HandleError delivers err to the installed handler, if any; otherwise it is
// dropped without being logged. Its only caller is deliver's queue-overflow
// path, which runs only while no handler is installed.
func (c *Channel) HandleError(err error) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.HandleError(err)
	}
}
