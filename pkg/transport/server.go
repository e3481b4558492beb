// Package transport implements the XL4Net datagram transport: a
// connection-oriented protocol layered over a single UDP socket per side,
// offering Reliable, Unreliable, and Sequenced delivery channels, a
// handshake gated by the auth gateway's bearer tokens, and heartbeat-based
// liveness. Grounded on source/server/server.go's listen/update-loop
// shape and source/protocol/raknet.go's session and ack bookkeeping,
// generalized from RakNet's SA-MP-specific framing to the fixed header in
// pkg/packet.
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xl4net/xl4net/internal/metrics"
	"github.com/xl4net/xl4net/pkg/packet"
	"github.com/xl4net/xl4net/pkg/pool"
)

// handshakeRateLimit and handshakeRateBurst bound how many Handshake
// attempts from unknown endpoints the server will even look at per
// second, ahead of the concurrency-cap and token-validation checks —
// a coarse guard against trivial handshake-flood spam that the
// per-connection reliability machinery has no way to see (it isn't a
// connection yet).
const (
	handshakeRateLimit = 50
	handshakeRateBurst = 100
)

// initialPacketPoolSize is how many *packet.Packet the server's typed
// pool pre-allocates; it grows unbounded beyond that under load (maxSize
// 0 below) rather than ever falling back to rejecting a rent.
const initialPacketPoolSize = 64

func newPacketPool() *pool.TypedPool[*packet.Packet] {
	return pool.NewTypedPool[*packet.Packet](initialPacketPoolSize, 0, func() *packet.Packet {
		return &packet.Packet{}
	})
}

// TokenValidator is the auth gateway's hook into handshake acceptance.
// pkg/auth.Gateway implements this.
type TokenValidator interface {
	ValidateToken(token string) (subject string, ok bool)
}

// InboundMessage is one application-level payload delivered through
// ProcessIncoming, already past dedup/ordering for its channel.
type InboundMessage struct {
	ConnectionID uint32
	Channel      packet.ChannelType
	Payload      []byte
}

// ServerConfig carries the tunables spec §9's configuration table assigns
// defaults to.
type ServerConfig struct {
	MaxConnections   int
	InboundQueueSize int
	ProcessBatchSize int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultServerConfig matches the reference defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections:    100,
		InboundQueueSize:  1024,
		ProcessBatchSize:  100,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  5 * time.Second,
	}
}

// Server is the authoritative-side transport: it owns one UDP-like socket,
// accepts handshakes up to its concurrency cap, and maintains one
// Connection per accepted endpoint.
type Server struct {
	cfg     ServerConfig
	socket  net.PacketConn
	auth    TokenValidator
	events  *EventManager
	log     zerolog.Logger
	bufs    *pool.BufferPool
	packets *pool.TypedPool[*packet.Packet]

	mu         sync.RWMutex
	byAddr     map[string]*Connection
	byID       map[uint32]*Connection
	nextConnID uint32

	inbound chan rawInbound
	ready   chan InboundMessage

	handshakeLimiter *rate.Limiter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type rawInbound struct {
	addr net.Addr
	pkt  *packet.Packet
}

// NewServer wraps an already-bound socket (real *net.UDPConn in
// production, an in-memory net.PacketConn in tests) as a Server.
func NewServer(socket net.PacketConn, auth TokenValidator, cfg ServerConfig, log zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		socket:     socket,
		auth:       auth,
		events:     NewEventManager(),
		log:        log,
		bufs:       pool.NewBufferPool(),
		packets:    newPacketPool(),
		byAddr:     make(map[string]*Connection),
		byID:       make(map[uint32]*Connection),
		nextConnID: 1000,
		inbound:    make(chan rawInbound, cfg.InboundQueueSize),
		ready:      make(chan InboundMessage, cfg.InboundQueueSize),
		handshakeLimiter: rate.NewLimiter(handshakeRateLimit, handshakeRateBurst),
	}
}

// Events exposes the dispatcher so callers can register OnClientConnected,
// OnClientDisconnected, OnError, etc.
func (s *Server) Events() *EventManager { return s.events }

// Pool exposes the server's buffer pool so the ambient metrics stack can
// sample its live bucket statistics without the pool package itself
// depending on Prometheus.
func (s *Server) Pool() *pool.BufferPool { return s.bufs }

// Run starts the receive loop, heartbeat ticker, and retransmit sweeper as
// an errgroup, mirroring core/main.go's signal-driven lifecycle but with
// explicit suspension points instead of an unmanaged goroutine + bool
// flag. Run blocks until ctx is cancelled, then cascades shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.receiveLoop(ctx) })
	g.Go(func() error { return s.heartbeatLoop(ctx) })
	g.Go(func() error { return s.retransmitLoop(ctx) })

	err := g.Wait()
	s.shutdown()
	return err
}

// Shutdown signals Run's goroutines to stop and cascades the shutdown
// sequence described in spec §5: every connection is notified, the
// inbound queue drained back to the pool.
func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.byID))
	for _, c := range s.byID {
		conns = append(conns, c)
	}
	s.byAddr = make(map[string]*Connection)
	s.byID = make(map[uint32]*Connection)
	s.mu.Unlock()

	for _, c := range conns {
		s.events.Emit(Event{Type: EventClientDisconnected, ConnectionID: c.ID, Message: "Server shutdown"})
	}

	drain := true
	for drain {
		select {
		case raw := <-s.inbound:
			s.bufs.Return(raw.pkt.Payload)
			s.packets.Return(raw.pkt)
		default:
			drain = false
		}
	}
}

// receiveLoop blocks on socket reads and never performs application
// logic, per spec §5's "I/O tasks... enqueue work" rule.
func (s *Server) receiveLoop(ctx context.Context) error {
	buf := make([]byte, packet.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.socket.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := s.socket.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		payloadBuf := s.bufs.Rent(n)
		pkt := s.packets.Rent()
		if err := packet.DecodeInto(pkt, buf[:n], payloadBuf); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed packet")
			s.bufs.Return(payloadBuf)
			s.packets.Return(pkt)
			continue
		}
		select {
		case s.inbound <- rawInbound{addr: addr, pkt: pkt}:
		case <-ctx.Done():
			return nil
		default:
			// Bounded queue full: drop rather than block the receive loop.
			s.bufs.Return(pkt.Payload)
			s.packets.Return(pkt)
		}
	}
}

// ProcessIncoming drains up to the configured batch size of raw inbound
// datagrams, advances connection/channel state for each, and returns the
// application-ready messages. Call once per application tick.
func (s *Server) ProcessIncoming() []InboundMessage {
	var out []InboundMessage
	for i := 0; i < s.cfg.ProcessBatchSize; i++ {
		var raw rawInbound
		select {
		case raw = <-s.inbound:
		default:
			return out
		}
		out = append(out, s.handleDatagram(raw)...)
	}
	return out
}

func (s *Server) handleDatagram(raw rawInbound) []InboundMessage {
	key := raw.addr.String()

	s.mu.RLock()
	conn, known := s.byAddr[key]
	s.mu.RUnlock()

	if !known {
		s.handleUnknownEndpoint(raw)
		return nil
	}
	defer s.packets.Return(raw.pkt)

	conn.touchRecv(time.Now())
	conn.observeInbound(raw.pkt)

	switch raw.pkt.Type {
	case packet.TypePing:
		s.sendPong(conn, raw.pkt.Payload)
		s.bufs.Return(raw.pkt.Payload)
		return nil
	case packet.TypePong:
		updateRTT(conn, raw.pkt.Payload)
		s.bufs.Return(raw.pkt.Payload)
		return nil
	case packet.TypeDisconnect:
		s.bufs.Return(raw.pkt.Payload)
		s.removeConnection(conn, "Peer disconnected")
		return nil
	case packet.TypeData:
		return s.deliverData(conn, raw.pkt)
	default:
		s.bufs.Return(raw.pkt.Payload)
		return nil
	}
}

func (s *Server) deliverData(conn *Connection, pkt *packet.Packet) []InboundMessage {
	metrics.PacketsReceived.WithLabelValues(pkt.Channel.String()).Inc()
	switch pkt.Channel {
	case packet.ChannelReliable:
		payloads := conn.deliverReliable(pkt)
		msgs := make([]InboundMessage, 0, len(payloads))
		for _, p := range payloads {
			msgs = append(msgs, InboundMessage{ConnectionID: conn.ID, Channel: packet.ChannelReliable, Payload: p})
		}
		return msgs
	case packet.ChannelSequenced:
		if !conn.acceptSequenced(pkt.Sequence) {
			s.bufs.Return(pkt.Payload)
			return nil
		}
		return []InboundMessage{{ConnectionID: conn.ID, Channel: packet.ChannelSequenced, Payload: pkt.Payload}}
	default: // Unreliable
		return []InboundMessage{{ConnectionID: conn.ID, Channel: packet.ChannelUnreliable, Payload: pkt.Payload}}
	}
}

// handleUnknownEndpoint implements spec §4.3's handshake acceptance
// logic: concurrency cap, magic, then token validation; anything else
// from an unknown endpoint is a silent drop to avoid amplification.
func (s *Server) handleUnknownEndpoint(raw rawInbound) {
	defer s.bufs.Return(raw.pkt.Payload)
	defer s.packets.Return(raw.pkt)

	if raw.pkt.Type != packet.TypeHandshake {
		return
	}
	if !s.handshakeLimiter.Allow() {
		metrics.HandshakesRejected.WithLabelValues("rate_limited").Inc()
		return
	}

	s.mu.RLock()
	atCap := len(s.byID) >= s.cfg.MaxConnections
	s.mu.RUnlock()
	if atCap {
		metrics.HandshakesRejected.WithLabelValues("at_capacity").Inc()
		return
	}

	if !hasValidMagic(raw.pkt.Payload) {
		metrics.HandshakesRejected.WithLabelValues("bad_magic").Inc()
		return
	}
	version, token, err := parseHandshakePayload(raw.pkt.Payload)
	if err != nil || version != ProtocolVersion {
		metrics.HandshakesRejected.WithLabelValues("bad_version").Inc()
		return
	}
	if s.auth != nil {
		if _, ok := s.auth.ValidateToken(string(token)); !ok {
			metrics.HandshakesRejected.WithLabelValues("invalid_token").Inc()
			return
		}
	}

	s.mu.Lock()
	id := s.nextConnID
	s.nextConnID++
	conn := newConnection(id, raw.addr)
	conn.setState(StateConnected)
	s.byAddr[raw.addr.String()] = conn
	s.byID[id] = conn
	s.mu.Unlock()

	ackPkt := s.packets.Rent()
	ackPkt.Type = packet.TypeHandshakeAck
	s.sendRaw(conn, ackPkt, packet.ChannelUnreliable)
	s.packets.Return(ackPkt)
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	s.events.Emit(Event{Type: EventClientConnected, ConnectionID: id})
}

func (s *Server) removeConnection(conn *Connection, reason string) {
	s.mu.Lock()
	delete(s.byAddr, conn.RemoteAddr.String())
	delete(s.byID, conn.ID)
	s.mu.Unlock()
	conn.setState(StateDisconnected)
	metrics.ConnectionsActive.Dec()
	metrics.Disconnects.WithLabelValues(reason).Inc()
	s.events.Emit(Event{Type: EventClientDisconnected, ConnectionID: conn.ID, Message: reason})
}

// Send transmits payload to conn over the given channel, stamping the
// shared ack piggyback and, for Reliable, registering the datagram for
// retransmission.
func (s *Server) Send(conn *Connection, channel packet.ChannelType, payload []byte) error {
	p := s.packets.Rent()
	p.Type = packet.TypeData
	p.Channel = channel
	p.Payload = payload
	err := s.sendData(conn, p)
	s.packets.Return(p)
	return err
}

// Broadcast sends payload to every connection for which except (if
// non-nil) returns false. The datagram is encoded separately for each
// connection, since it carries that connection's own sequence and ack
// fields; the encoded bytes are not shared across recipients.
func (s *Server) Broadcast(channel packet.ChannelType, payload []byte, except func(id uint32) bool) {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.byID))
	for _, c := range s.byID {
		if except == nil || !except(c.ID) {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range conns {
		p := s.packets.Rent()
		p.Type = packet.TypeData
		p.Channel = channel
		p.Payload = payload
		_ = s.sendData(c, p)
		s.packets.Return(p)
	}
}

func (s *Server) sendData(conn *Connection, p *packet.Packet) error {
	switch p.Channel {
	case packet.ChannelReliable:
		return s.sendReliable(conn, p)
	case packet.ChannelSequenced:
		p.Sequence = conn.nextSequencedSeq()
	default:
		p.Sequence = conn.nextUnreliableSeq()
	}
	return s.sendRaw(conn, p, p.Channel)
}

func (s *Server) sendReliable(conn *Connection, p *packet.Packet) error {
	conn.beginReliableSend(p)
	buf := make([]byte, packet.HeaderSize+len(p.Payload))
	n, err := packet.Encode(p, buf)
	if err != nil {
		return err
	}
	conn.registerReliableSend(p.Sequence, buf[:n])
	_, err = s.socket.WriteTo(buf[:n], conn.RemoteAddr)
	conn.touchSend(time.Now())
	metrics.PacketsSent.WithLabelValues(packet.ChannelReliable.String()).Inc()
	return err
}

func (s *Server) sendRaw(conn *Connection, p *packet.Packet, channel packet.ChannelType) error {
	conn.buildOutgoing(p)
	buf := make([]byte, packet.HeaderSize+len(p.Payload))
	n, err := packet.Encode(p, buf)
	if err != nil {
		return err
	}
	_, err = s.socket.WriteTo(buf[:n], conn.RemoteAddr)
	conn.touchSend(time.Now())
	metrics.PacketsSent.WithLabelValues(channel.String()).Inc()
	return err
}

func (s *Server) sendPong(conn *Connection, pingPayload []byte) {
	p := s.packets.Rent()
	p.Type = packet.TypePong
	p.Channel = packet.ChannelUnreliable
	p.Payload = pingPayload
	p.Sequence = conn.nextUnreliableSeq()
	s.sendRaw(conn, p, packet.ChannelUnreliable)
	s.packets.Return(p)
}

// heartbeatLoop sends Ping to every connection that has had no outbound
// traffic in the last heartbeat interval, and declares dead any
// connection silent for longer than the heartbeat timeout.
func (s *Server) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.mu.RLock()
			conns := make([]*Connection, 0, len(s.byID))
			for _, c := range s.byID {
				conns = append(conns, c)
			}
			s.mu.RUnlock()

			for _, c := range conns {
				if c.sinceLastRecv(now) > s.cfg.HeartbeatTimeout {
					s.removeConnection(c, "Heartbeat timeout")
					continue
				}
				if c.sinceLastSend(now) >= s.cfg.HeartbeatInterval {
					s.sendPing(c, now)
				}
			}
		}
	}
}

func (s *Server) sendPing(conn *Connection, now time.Time) {
	payload := encodeTimestamp(now)
	p := s.packets.Rent()
	p.Type = packet.TypePing
	p.Channel = packet.ChannelUnreliable
	p.Payload = payload
	p.Sequence = conn.nextUnreliableSeq()
	s.sendRaw(conn, p, packet.ChannelUnreliable)
	s.packets.Return(p)
}

// retransmitLoop periodically resends unacknowledged reliable datagrams,
// closing connections whose reliable channel has stalled per spec §7.
func (s *Server) retransmitLoop(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.mu.RLock()
			conns := make([]*Connection, 0, len(s.byID))
			for _, c := range s.byID {
				conns = append(conns, c)
			}
			s.mu.RUnlock()

			for _, c := range conns {
				resend, stalled := c.dueRetransmits(now)
				if len(resend) > 0 {
					metrics.Retransmits.Add(float64(len(resend)))
				}
				for _, data := range resend {
					s.socket.WriteTo(data, c.RemoteAddr)
				}
				if stalled {
					s.events.Emit(Event{Type: EventError, ConnectionID: c.ID, Message: "Reliable channel stalled"})
					s.removeConnection(c, "Reliable channel stalled")
				}
			}
		}
	}
}
