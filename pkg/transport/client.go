package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xl4net/xl4net/pkg/packet"
	"github.com/xl4net/xl4net/pkg/pool"
)

// ClientHandshakeTimeout is the deadline within which a client expects a
// HandshakeAck before giving up, per spec §4.3's worked handshake
// scenario.
const ClientHandshakeTimeout = 3 * time.Second

var ErrHandshakeTimeout = errors.New("transport: handshake timeout")

// ClientConfig mirrors ServerConfig's tunables for the client side.
type ClientConfig struct {
	InboundQueueSize  int
	ProcessBatchSize  int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultClientConfig matches the reference defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		InboundQueueSize:  1024,
		ProcessBatchSize:  100,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  5 * time.Second,
	}
}

// Client is the player-side transport: one socket, one server peer.
type Client struct {
	cfg        ClientConfig
	socket     net.PacketConn
	serverAddr net.Addr
	events     *EventManager
	log        zerolog.Logger
	bufs       *pool.BufferPool

	packets *pool.TypedPool[*packet.Packet]

	mu   sync.Mutex
	peer *Connection

	inbound chan rawInbound
	cancel  context.CancelFunc
}

// NewClient wraps a socket already connected/bound for talking to
// serverAddr.
func NewClient(socket net.PacketConn, serverAddr net.Addr, cfg ClientConfig, log zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		socket:     socket,
		serverAddr: serverAddr,
		events:     NewEventManager(),
		log:        log,
		bufs:       pool.NewBufferPool(),
		packets:    newPacketPool(),
		inbound:    make(chan rawInbound, cfg.InboundQueueSize),
	}
}

func (c *Client) Events() *EventManager { return c.events }

// Peer returns the single server-side Connection, or nil before a
// successful handshake.
func (c *Client) Peer() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// Connect performs the one-round-trip handshake described in spec §4.3:
// send Handshake with the magic+version+token payload, then wait up to
// ClientHandshakeTimeout for HandshakeAck. On success it emits OnConnected.
// Connect only performs the synchronous handshake round trip; the
// background receive/heartbeat/retransmit tasks are started by Run, which
// the caller invokes separately.
func (c *Client) Connect(ctx context.Context, token []byte) error {
	peer := newConnection(0, c.serverAddr)
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()

	payload := buildHandshakePayload(ProtocolVersion, token)
	p := c.packets.Rent()
	p.Type = packet.TypeHandshake
	p.Channel = packet.ChannelUnreliable
	p.Payload = payload
	buf := make([]byte, packet.HeaderSize+len(payload))
	n, err := packet.Encode(p, buf)
	c.packets.Return(p)
	if err != nil {
		return fmt.Errorf("transport: encode handshake: %w", err)
	}
	if _, err := c.socket.WriteTo(buf[:n], c.serverAddr); err != nil {
		return fmt.Errorf("transport: send handshake: %w", err)
	}
	peer.touchSend(time.Now())

	deadline := time.Now().Add(ClientHandshakeTimeout)
	readBuf := make([]byte, packet.MaxDatagramSize)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.events.Emit(Event{Type: EventError, Message: "handshake timeout"})
			return ErrHandshakeTimeout
		}
		c.socket.SetReadDeadline(time.Now().Add(remaining))
		n, _, err := c.socket.ReadFrom(readBuf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		ack := c.packets.Rent()
		if err := packet.DecodeInto(ack, readBuf[:n], nil); err != nil {
			c.packets.Return(ack)
			continue
		}
		ackType := ack.Type
		c.packets.Return(ack)
		if ackType == packet.TypeHandshakeAck {
			peer.touchRecv(time.Now())
			peer.setState(StateConnected)
			c.events.Emit(Event{Type: EventConnected})
			return nil
		}
	}
}

// Run starts the client's background receive loop, heartbeat ticker, and
// reliable retransmit sweeper. Call after a successful Connect.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.receiveLoop(ctx) })
	g.Go(func() error { return c.heartbeatLoop(ctx) })
	g.Go(func() error { return c.retransmitLoop(ctx) })
	return g.Wait()
}

func (c *Client) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Client) receiveLoop(ctx context.Context) error {
	buf := make([]byte, packet.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		c.socket.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := c.socket.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		payloadBuf := c.bufs.Rent(n)
		pkt := c.packets.Rent()
		if err := packet.DecodeInto(pkt, buf[:n], payloadBuf); err != nil {
			c.bufs.Return(payloadBuf)
			c.packets.Return(pkt)
			continue
		}
		select {
		case c.inbound <- rawInbound{addr: addr, pkt: pkt}:
		case <-ctx.Done():
			return nil
		default:
			c.bufs.Return(pkt.Payload)
			c.packets.Return(pkt)
		}
	}
}

// ProcessIncoming drains the inbound queue and returns application-ready
// messages from the server peer, applying the same per-channel
// dedup/ordering rules as the server side.
func (c *Client) ProcessIncoming() []InboundMessage {
	peer := c.Peer()
	var out []InboundMessage
	for i := 0; i < c.cfg.ProcessBatchSize; i++ {
		var raw rawInbound
		select {
		case raw = <-c.inbound:
		default:
			return out
		}
		if peer == nil {
			c.bufs.Return(raw.pkt.Payload)
			c.packets.Return(raw.pkt)
			continue
		}
		out = append(out, c.handleFromServer(peer, raw.pkt)...)
	}
	return out
}

func (c *Client) handleFromServer(peer *Connection, pkt *packet.Packet) []InboundMessage {
	defer c.packets.Return(pkt)
	peer.touchRecv(time.Now())
	peer.observeInbound(pkt)

	switch pkt.Type {
	case packet.TypePing:
		c.sendPong(peer, pkt.Payload)
		c.bufs.Return(pkt.Payload)
		return nil
	case packet.TypePong:
		updateRTT(peer, pkt.Payload)
		c.bufs.Return(pkt.Payload)
		return nil
	case packet.TypeDisconnect:
		c.bufs.Return(pkt.Payload)
		peer.setState(StateDisconnected)
		c.events.Emit(Event{Message: "Server disconnected", Type: EventClientDisconnected})
		return nil
	case packet.TypeData:
		switch pkt.Channel {
		case packet.ChannelReliable:
			payloads := peer.deliverReliable(pkt)
			msgs := make([]InboundMessage, 0, len(payloads))
			for _, p := range payloads {
				msgs = append(msgs, InboundMessage{Channel: packet.ChannelReliable, Payload: p})
			}
			return msgs
		case packet.ChannelSequenced:
			if !peer.acceptSequenced(pkt.Sequence) {
				c.bufs.Return(pkt.Payload)
				return nil
			}
			return []InboundMessage{{Channel: packet.ChannelSequenced, Payload: pkt.Payload}}
		default:
			return []InboundMessage{{Channel: packet.ChannelUnreliable, Payload: pkt.Payload}}
		}
	default:
		c.bufs.Return(pkt.Payload)
		return nil
	}
}

// Send transmits payload to the server peer over the given channel.
func (c *Client) Send(channel packet.ChannelType, payload []byte) error {
	peer := c.Peer()
	if peer == nil {
		return errors.New("transport: not connected")
	}
	p := c.packets.Rent()
	defer c.packets.Return(p)
	p.Type = packet.TypeData
	p.Channel = channel
	p.Payload = payload
	switch channel {
	case packet.ChannelReliable:
		peer.beginReliableSend(p)
		buf := make([]byte, packet.HeaderSize+len(payload))
		n, err := packet.Encode(p, buf)
		if err != nil {
			return err
		}
		peer.registerReliableSend(p.Sequence, buf[:n])
		_, err = c.socket.WriteTo(buf[:n], c.serverAddr)
		peer.touchSend(time.Now())
		return err
	case packet.ChannelSequenced:
		p.Sequence = peer.nextSequencedSeq()
	default:
		p.Sequence = peer.nextUnreliableSeq()
	}
	peer.buildOutgoing(p)
	buf := make([]byte, packet.HeaderSize+len(payload))
	n, err := packet.Encode(p, buf)
	if err != nil {
		return err
	}
	_, err = c.socket.WriteTo(buf[:n], c.serverAddr)
	peer.touchSend(time.Now())
	return err
}

func (c *Client) sendPong(peer *Connection, pingPayload []byte) {
	p := c.packets.Rent()
	p.Type = packet.TypePong
	p.Channel = packet.ChannelUnreliable
	p.Payload = pingPayload
	p.Sequence = peer.nextUnreliableSeq()
	peer.buildOutgoing(p)
	buf := make([]byte, packet.HeaderSize+len(pingPayload))
	n, err := packet.Encode(p, buf)
	c.packets.Return(p)
	if err != nil {
		return
	}
	c.socket.WriteTo(buf[:n], c.serverAddr)
	peer.touchSend(time.Now())
}

func (c *Client) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			peer := c.Peer()
			if peer == nil {
				continue
			}
			if peer.sinceLastRecv(now) > c.cfg.HeartbeatTimeout {
				peer.setState(StateDisconnected)
				c.events.Emit(Event{Type: EventClientDisconnected, Message: "Heartbeat timeout"})
				continue
			}
			if peer.sinceLastSend(now) >= c.cfg.HeartbeatInterval {
				c.sendPing(peer, now)
			}
		}
	}
}

func (c *Client) sendPing(peer *Connection, now time.Time) {
	payload := encodeTimestamp(now)
	p := c.packets.Rent()
	p.Type = packet.TypePing
	p.Channel = packet.ChannelUnreliable
	p.Payload = payload
	p.Sequence = peer.nextUnreliableSeq()
	peer.buildOutgoing(p)
	buf := make([]byte, packet.HeaderSize+len(payload))
	n, err := packet.Encode(p, buf)
	c.packets.Return(p)
	if err != nil {
		return
	}
	c.socket.WriteTo(buf[:n], c.serverAddr)
	peer.touchSend(now)
}

func (c *Client) retransmitLoop(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			peer := c.Peer()
			if peer == nil {
				continue
			}
			resend, stalled := peer.dueRetransmits(now)
			for _, data := range resend {
				c.socket.WriteTo(data, c.serverAddr)
			}
			if stalled {
				peer.setState(StateDisconnected)
				c.events.Emit(Event{Type: EventError, Message: "Reliable channel stalled"})
				return nil
			}
		}
	}
}
