// Package switchd implements the Telehash switch and its single-threaded
// reactor (spec.md §4.5): the UDP socket, the bounded write queue, the
// pending-open table, the established-line tables, and the public API
// applications use to open lines and exchange channel packets.
//
// Grounded on the teacher's p2p/server.go (Config/Server/Start/Stop shape,
// wg-joined background goroutines) and p2p/handshake_ecies.go (deriving a
// session from a completed handshake), re-targeted at a UDP datagram reactor
// instead of a TCP accept loop. The single-threaded NIO-selector model
// spec.md §5 describes is expressed as: one goroutine blocks in
// ReadFromUDP and forwards datagrams over a channel; a second goroutine
// owns every piece of mutable state (pending opens, line tables, the write
// backlog) and drains that channel, a ticker, and an outbound-enqueue
// channel from a single select loop, so only it ever touches that state.
package switchd

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/telehash/telehash/pkg/telehash/codec"
	tconfig "github.com/telehash/telehash/pkg/telehash/config"
	tcrypto "github.com/telehash/telehash/pkg/telehash/crypto"
	"github.com/telehash/telehash/pkg/telehash/identity"
	tline "github.com/telehash/telehash/pkg/telehash/line"
	tlog "github.com/telehash/telehash/pkg/telehash/log"
	tmetrics "github.com/telehash/telehash/pkg/telehash/metrics"
	"github.com/telehash/telehash/pkg/telehash/openguard"
	"github.com/telehash/telehash/pkg/telehash/openpkt"
	"github.com/telehash/telehash/pkg/telehash/packet"
)

var (
	ErrStartFailed   = errors.New("switchd: start failed")
	ErrOpenTimeout   = errors.New("switchd: open timed out")
	ErrSwitchStopped = errors.New("switchd: switch stopped")
	ErrIdleTimeout   = errors.New("switchd: line idle timeout")
)

// sweepInterval is how often the reactor checks pending-open and line-idle
// deadlines (spec.md §5: "the reactor checks expirations at each loop
// iteration").
const sweepInterval = 250 * time.Millisecond

// paceInterval is how often the reactor attempts to drain one entry from
// the outbound backlog, gated by the rate limiter.
const paceInterval = 2 * time.Millisecond

// Completion is fired exactly once for every OpenLine call, on success or
// failure (spec.md §6: "completion exposes completed(line) and failed(error)").
type Completion interface {
	Completed(l *tline.Line)
	Failed(err error)
}

// CompletionFuncs adapts two plain functions to the Completion interface.
// Either field may be nil.
type CompletionFuncs struct {
	OnCompleted func(l *tline.Line)
	OnFailed    func(err error)
}

func (c CompletionFuncs) Completed(l *tline.Line) {
	if c.OnCompleted != nil {
		c.OnCompleted(l)
	}
}

func (c CompletionFuncs) Failed(err error) {
	if c.OnFailed != nil {
		c.OnFailed(err)
	}
}

type pendingOpen struct {
	dest       *identity.Node
	ephPriv    *ecdsa.PrivateKey
	lineID     [16]byte
	openTime   int64 // ms since epoch
	completion Completion
}

type inboundDatagram struct {
	addr *net.UDPAddr
	buf  []byte
}

type writeJob struct {
	addr *net.UDPAddr
	raw  []byte
}

// Options configures a new Switch. Identity is required; everything else
// falls back to a spec-conformant default.
type Options struct {
	Config   *tconfig.SwitchConfig
	Identity *identity.Identity
	Provider tcrypto.Provider
	Guard    openguard.Ledger
	Metrics  *tmetrics.Set
	Logger   *tlog.Logger
}

// Switch owns the socket, the reactor, the write queue, the pending-open
// table, and the established-line tables (spec.md §3: Ownership).
type Switch struct {
	cfg      *tconfig.SwitchConfig
	self     *identity.Identity
	provider tcrypto.Provider
	guard    openguard.Ledger
	metrics  *tmetrics.Set
	log      *tlog.Logger
	limiter  *rate.Limiter

	conn *net.UDPConn

	inbound  chan inboundDatagram
	outbound chan writeJob

	group  *errgroup.Group
	cancel context.CancelFunc

	mu   sync.Mutex
	gctx context.Context
	// pendingOpens is keyed by (destination hashname, outgoing line id) per
	// spec.md §4.5, nested so every in-flight open to the same peer gets its
	// own entry instead of one clobbering another.
	pendingOpens    map[identity.Hashname]map[[16]byte]*pendingOpen
	linesByIn       map[[16]byte]*tline.Line
	linesByHashname map[identity.Hashname]*tline.Line
	typeFactories   map[string]tline.TypeHandlerFactory
}

// New constructs a Switch. Start must be called before it sends or receives
// anything.
func New(opts Options) (*Switch, error) {
	if opts.Identity == nil {
		return nil, errors.New("switchd: Options.Identity is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = tconfig.Default()
	}
	provider := opts.Provider
	if provider == nil {
		provider = tcrypto.Std{}
	}
	guard := opts.Guard
	if guard == nil {
		guard = openguard.NewMemory()
	}
	logger := opts.Logger
	if logger == nil {
		logger = tlog.Default()
	}

	return &Switch{
		cfg:             cfg,
		self:            opts.Identity,
		provider:        provider,
		guard:           guard,
		metrics:         opts.Metrics,
		log:             logger.Module("switch"),
		limiter:         rate.NewLimiter(rate.Limit(1000), 32),
		inbound:         make(chan inboundDatagram, 64),
		outbound:        make(chan writeJob, cfg.WriteQueueCapacity),
		pendingOpens:    make(map[identity.Hashname]map[[16]byte]*pendingOpen),
		linesByIn:       make(map[[16]byte]*tline.Line),
		linesByHashname: make(map[identity.Hashname]*tline.Line),
		typeFactories:   make(map[string]tline.TypeHandlerFactory),
	}, nil
}

// Hashname returns this switch's own identity hashname.
func (s *Switch) Hashname() identity.Hashname {
	return s.self.Hashname
}

// Metrics returns the Prometheus registry backing this switch's metrics, or
// nil if none was configured.
func (s *Switch) Metrics() *prometheus.Registry {
	return s.metrics.Registry()
}

// LocalAddr returns the bound UDP address once Start has succeeded.
func (s *Switch) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// RegisterChannelType installs factory as the handler-factory for inbound
// channels whose first packet carries the given type (spec.md §4.4 step 3).
func (s *Switch) RegisterChannelType(typ string, factory tline.TypeHandlerFactory) {
	s.mu.Lock()
	s.typeFactories[typ] = factory
	s.mu.Unlock()
}

// Start opens the UDP socket and spawns the reactor (spec.md §4.5). It
// returns once both goroutines are running; bind failures close any partial
// state and surface ErrStartFailed.
func (s *Switch) Start() error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return errors.New("switchd: already started")
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.cfg.UDPPort})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	s.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	s.group = group
	s.gctx = gctx
	s.mu.Unlock()

	group.Go(func() error { return s.readLoop(gctx) })
	group.Go(func() error { return s.reactorLoop(gctx) })
	return nil
}

// Stop requests an orderly shutdown: in-flight completions receive
// failed(SwitchStopped), lines are dropped, and the socket is closed. Stop
// is idempotent and does not block on the reactor; call Wait for that.
func (s *Switch) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	conn := s.conn
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		conn.Close()
	}
}

// Wait blocks until the reactor and reader goroutines have exited, which
// happens once Stop has been called (or a fatal I/O error occurred).
func (s *Switch) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// OpenLine begins the open handshake toward node (spec.md §4.5). completion
// fires exactly once: Completed on success, or Failed(ErrOpenTimeout) if no
// matching reply arrives within the configured timeout.
func (s *Switch) OpenLine(node *identity.Node, completion Completion) error {
	ephPriv, err := s.provider.GenerateECKey()
	if err != nil {
		return fmt.Errorf("switchd: generate ephemeral key: %w", err)
	}
	idBytes, err := s.provider.RandomBytes(16)
	if err != nil {
		return fmt.Errorf("switchd: generate line id: %w", err)
	}
	var lineID [16]byte
	copy(lineID[:], idBytes)

	at := time.Now().UnixMilli()
	hashname := node.Hashname(s.provider)
	pend := &pendingOpen{dest: node, ephPriv: ephPriv, lineID: lineID, openTime: at, completion: completion}

	s.mu.Lock()
	byLine, ok := s.pendingOpens[hashname]
	if !ok {
		byLine = make(map[[16]byte]*pendingOpen)
		s.pendingOpens[hashname] = byLine
	}
	byLine[lineID] = pend
	s.mu.Unlock()

	if err := s.sendOpen(node, lineID, ephPriv, at); err != nil {
		s.mu.Lock()
		delete(byLine, lineID)
		if len(byLine) == 0 {
			delete(s.pendingOpens, hashname)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Switch) sendOpen(dest *identity.Node, lineID [16]byte, ephPriv *ecdsa.PrivateKey, at int64) error {
	raw, err := openpkt.Render(s.provider, openpkt.RenderInput{
		Dest:   dest,
		Self:   s.self,
		At:     at,
		Line:   lineID,
		EphPub: &ephPriv.PublicKey,
	})
	if err != nil {
		return fmt.Errorf("switchd: render open: %w", err)
	}
	return s.enqueue(dest.Endpoint, raw)
}

// enqueue places a rendered packet on the bounded write queue, blocking if
// it is full (spec.md §5: sendPacket "blocks when full (or returns
// Backpressure ...); implementations must document"). A blocked call is
// released by Stop.
func (s *Switch) enqueue(addr *net.UDPAddr, raw []byte) error {
	s.mu.Lock()
	gctx := s.gctx
	s.mu.Unlock()
	if gctx == nil {
		return ErrSwitchStopped
	}
	select {
	case s.outbound <- writeJob{addr: addr, raw: raw}:
		s.metrics.SetWriteQueueDepth(len(s.outbound))
		return nil
	case <-gctx.Done():
		return ErrSwitchStopped
	}
}

// Enqueue implements line.Enqueuer so Channel.Send can hand rendered line
// packets to the write queue without depending on *Switch directly.
func (s *Switch) Enqueue(dest *identity.Node, raw []byte) {
	if err := s.enqueue(dest.Endpoint, raw); err != nil {
		s.log.Warn("drop outbound channel packet", "dest", dest.Endpoint, "err", err)
	}
}

var _ tline.Enqueuer = (*Switch)(nil)

// readLoop is the only goroutine that calls ReadFromUDP. It owns nothing but
// the socket and a reusable buffer; every datagram is copied and handed to
// the reactor over s.inbound.
func (s *Switch) readLoop(ctx context.Context) error {
	buf := make([]byte, packet.MaxPacketSize+4096)
	for {
		s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("switchd: read: %w", err)
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case s.inbound <- inboundDatagram{addr: addr, buf: cp}:
		case <-ctx.Done():
			return nil
		}
	}
}

// reactorLoop is the single goroutine that owns every piece of mutable
// switch state: the pending-open table, the line tables, and the write
// queue's drain side (spec.md §5: "All mutation of lines, pending-opens,
// and the write queue's drain side occurs on the reactor thread").
//
// s.outbound (capacity cfg.WriteQueueCapacity) is itself the bounded FIFO
// spec.md §5 requires, not merely a producer-facing buffer in front of one:
// the reactor only ever pops from it one item at a time, paced by the rate
// limiter, so a full queue makes enqueue (switch.go's write-side) actually
// block until the limiter admits a drain. Staging drained items into a
// second, unbounded slice would defeat that bound, since the channel would
// drain as fast as the slice could absorb it regardless of pacing.
func (s *Switch) reactorLoop(ctx context.Context) error {
	defer s.cleanup()

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	pace := time.NewTicker(paceInterval)
	defer pace.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case dg := <-s.inbound:
			s.handleDatagram(dg.addr, dg.buf)

		case <-sweep.C:
			s.sweepTimeouts()

		case <-pace.C:
			if !s.limiter.Allow() {
				continue
			}
			select {
			case job := <-s.outbound:
				s.metrics.SetWriteQueueDepth(len(s.outbound))
				if _, err := s.conn.WriteToUDP(job.raw, job.addr); err != nil {
					s.log.Warn("udp write failed", "addr", job.addr, "err", err)
				} else {
					s.metrics.PacketSent()
				}
			default:
			}
		}
	}
}

func (s *Switch) handleDatagram(addr *net.UDPAddr, raw []byte) {
	hdr, _, err := packet.Split(raw)
	if err != nil {
		s.metrics.PacketDropped("malformed")
		s.log.Warn("drop malformed packet", "addr", addr, "err", err)
		return
	}
	switch typ, _ := hdr["type"].(string); typ {
	case "open":
		s.handleOpen(addr, raw)
	case "line":
		s.handleLine(addr, raw)
	default:
		s.metrics.PacketDropped("unknown-type")
		s.log.Warn("drop unknown packet type", "type", typ, "addr", addr)
	}
}

func (s *Switch) handleOpen(addr *net.UDPAddr, raw []byte) {
	parsed, err := openpkt.Parse(s.provider, s.self, raw, addr, s.guard)
	if err != nil {
		reason := "unknown"
		var rerr *openpkt.RejectedError
		if errors.As(err, &rerr) {
			reason = string(rerr.Reason)
		}
		s.metrics.OpenRejected(reason)
		s.log.Warn("open rejected", "reason", reason, "addr", addr, "err", err)
		return
	}

	senderHashname := parsed.Source.Hashname(s.provider)
	node := parsed.Source.WithEndpoint(addr)

	// A destination may have more than one PendingOpen outstanding (several
	// concurrent OpenLine calls to the same peer, each keyed by its own
	// outgoing line id per spec.md §4.5); the incoming reply's own "line"
	// field is the remote's freshly chosen id, not a reference to any of
	// ours, so it cannot select among them. One entry supplies the
	// lineIn/ephemeral-key material for the Line; every other pending entry
	// for this destination is resolved against that same Line rather than
	// silently dropped.
	s.mu.Lock()
	byLine, hasPending := s.pendingOpens[senderHashname]
	var pends []*pendingOpen
	for _, p := range byLine {
		pends = append(pends, p)
	}
	delete(s.pendingOpens, senderHashname)
	s.mu.Unlock()

	var ourLineID [16]byte
	var ourEphPriv *ecdsa.PrivateKey
	var completion Completion
	var extraCompletions []Completion

	if hasPending && len(pends) > 0 {
		first := pends[0]
		ourLineID, ourEphPriv, completion = first.lineID, first.ephPriv, first.completion
		for _, p := range pends[1:] {
			if p.completion != nil {
				extraCompletions = append(extraCompletions, p.completion)
			}
		}
	} else {
		// Unsolicited open (spec.md §4.5): reply in kind before the line
		// can be established, making the handshake symmetric.
		idBytes, err := s.provider.RandomBytes(16)
		if err != nil {
			s.log.Error("generate line id for unsolicited reply", "err", err)
			return
		}
		copy(ourLineID[:], idBytes)
		ephPriv, err := s.provider.GenerateECKey()
		if err != nil {
			s.log.Error("generate ephemeral key for unsolicited reply", "err", err)
			return
		}
		ourEphPriv = ephPriv
		if err := s.sendOpen(node, ourLineID, ourEphPriv, time.Now().UnixMilli()); err != nil {
			s.log.Error("send unsolicited open reply", "err", err)
			return
		}
	}

	shared, err := s.provider.ECDH(ourEphPriv, parsed.EphPub)
	if err != nil {
		s.log.Error("ecdh failed", "addr", addr, "err", err)
		if completion != nil {
			completion.Failed(err)
		}
		for _, c := range extraCompletions {
			c.Failed(err)
		}
		return
	}

	newLine := tline.New(s.provider, s, node, parsed.EphPub, ourEphPriv, shared, parsed.Line, ourLineID, s.channelFactory)

	s.mu.Lock()
	if old, ok := s.linesByHashname[senderHashname]; ok {
		delete(s.linesByIn, old.LineIn)
		old.CloseAllWithError(tline.ErrLineReplaced)
		s.metrics.LineReplaced()
	}
	s.linesByHashname[senderHashname] = newLine
	s.linesByIn[ourLineID] = newLine
	count := len(s.linesByHashname)
	s.mu.Unlock()

	s.metrics.OpenCompleted()
	s.metrics.SetLinesEstablished(count)
	if completion != nil {
		completion.Completed(newLine)
	}
	for _, c := range extraCompletions {
		c.Completed(newLine)
	}
}

func (s *Switch) handleLine(addr *net.UDPAddr, raw []byte) {
	hdr, _, err := packet.Split(raw)
	if err != nil {
		s.metrics.PacketDropped("malformed")
		s.log.Warn("drop malformed line packet", "addr", addr, "err", err)
		return
	}
	lineHex, _ := hdr["line"].(string)
	lineBytes, err := codec.FromHex(lineHex)
	if err != nil || len(lineBytes) != 16 {
		s.metrics.PacketDropped("malformed")
		s.log.Warn("drop line packet with malformed line id", "line", lineHex, "addr", addr)
		return
	}
	var lineID [16]byte
	copy(lineID[:], lineBytes)

	s.mu.Lock()
	l, ok := s.linesByIn[lineID]
	s.mu.Unlock()
	if !ok {
		s.metrics.PacketDropped("unknown-line")
		s.log.Warn("drop line packet for unknown line", "line", lineHex, "addr", addr)
		return
	}

	inner, err := tline.Parse(s.provider, raw, l.LineIn, l.DecryptKey)
	if err != nil {
		s.metrics.PacketDropped("decrypt-failure")
		s.log.Warn("drop undecryptable line packet", "addr", addr, "err", err)
		return
	}
	l.Deliver(inner)
}

func (s *Switch) channelFactory(typ string, ch *tline.Channel) tline.ChannelHandler {
	s.mu.Lock()
	f := s.typeFactories[typ]
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(typ, ch)
}

// sweepTimeouts fires failed(OpenTimeout) for expired pending opens and
// tears down idle lines (spec.md §5: independent per-open timeout timer,
// default 60s line idle timeout).
func (s *Switch) sweepTimeouts() {
	now := time.Now().UnixMilli()
	openDeadline := s.cfg.OpenTimeout.Duration().Milliseconds()
	idleDeadline := s.cfg.IdleTimeout.Duration().Milliseconds()

	var expiredOpens []*pendingOpen
	var idleLines []*tline.Line

	s.mu.Lock()
	for h, byLine := range s.pendingOpens {
		for lid, p := range byLine {
			if now-p.openTime >= openDeadline {
				expiredOpens = append(expiredOpens, p)
				delete(byLine, lid)
			}
		}
		if len(byLine) == 0 {
			delete(s.pendingOpens, h)
		}
	}
	for h, l := range s.linesByHashname {
		if now-l.LastActive() >= idleDeadline {
			idleLines = append(idleLines, l)
			delete(s.linesByHashname, h)
			delete(s.linesByIn, l.LineIn)
		}
	}
	count := len(s.linesByHashname)
	s.mu.Unlock()

	for _, p := range expiredOpens {
		s.metrics.OpenTimedOut()
		if p.completion != nil {
			p.completion.Failed(ErrOpenTimeout)
		}
	}
	for _, l := range idleLines {
		l.CloseAllWithError(ErrIdleTimeout)
	}
	if len(idleLines) > 0 {
		s.metrics.SetLinesEstablished(count)
	}
}

// cleanup runs once, on reactor exit, regardless of why it exited (spec.md
// §5: "closed under a scoped guarantee regardless of exit path").
func (s *Switch) cleanup() {
	s.conn.Close()

	s.mu.Lock()
	pend := s.pendingOpens
	s.pendingOpens = make(map[identity.Hashname]map[[16]byte]*pendingOpen)
	lines := s.linesByHashname
	s.linesByHashname = make(map[identity.Hashname]*tline.Line)
	s.linesByIn = make(map[[16]byte]*tline.Line)
	s.mu.Unlock()

	for _, byLine := range pend {
		for _, p := range byLine {
			if p.completion != nil {
				p.completion.Failed(ErrSwitchStopped)
			}
		}
	}
	for _, l := range lines {
		l.CloseAllWithError(ErrSwitchStopped)
	}
}
