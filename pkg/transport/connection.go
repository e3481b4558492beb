package transport

import (
	"net"
	"sync"
	"time"

	"github.com/xl4net/xl4net/pkg/packet"
)

// State is a Connection's position in the Disconnected -> Handshaking ->
// Connected -> Closing lifecycle described in spec §4.3's Connection/Peer
// model.
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// pendingReliable is one not-yet-acknowledged reliable send: the encoded
// datagram bytes (re-sent verbatim on timeout, since re-stamping the ack
// piggyback on every retransmit buys little and costs a re-encode) plus
// retransmission bookkeeping.
type pendingReliable struct {
	data     []byte
	sentAt   time.Time
	attempts int
}

// retransmitSchedule is the bounded exponential backoff for unacknowledged
// reliable sends: 100ms doubling per attempt, five attempts total before
// the channel is declared stalled.
var retransmitSchedule = [MaxRetransmitAttempts]time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
}

const MaxRetransmitAttempts = 5

// Connection is one bidirectional association between two transport
// endpoints: a server's view of a connected client, or a client's view of
// its one server peer. Grounded on source/protocol/raknet.go's Session —
// generalized from RakNet's window/split-packet machinery down to the
// three channel disciplines spec §4.3 actually names.
type Connection struct {
	ID         uint32
	RemoteAddr net.Addr

	mu    sync.Mutex
	state State

	lastSend time.Time
	lastRecv time.Time
	rtt      time.Duration

	// ack bookkeeping for the reliable channel, fed by every inbound
	// reliable-channel sequence and piggybacked on every outbound packet.
	ackTracker packet.Packet

	reliableOutSeq  uint16
	unreliableOutSeq uint16
	sequencedOutSeq uint16

	unacked map[uint16]*pendingReliable

	reliableDeliverNext uint16
	reliableRecvBuf     map[uint16][]byte

	sequencedHasRecv     bool
	sequencedHighestRecv uint16
}

func newConnection(id uint32, addr net.Addr) *Connection {
	return &Connection{
		ID:                  id,
		RemoteAddr:          addr,
		state:               StateHandshaking,
		lastSend:            time.Now(),
		lastRecv:            time.Now(),
		unacked:             make(map[uint16]*pendingReliable),
		reliableDeliverNext: 1,
		reliableRecvBuf:     make(map[uint16][]byte),
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// RTT returns the most recently computed smoothed round-trip time.
func (c *Connection) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

func (c *Connection) touchRecv(now time.Time) {
	c.mu.Lock()
	c.lastRecv = now
	c.mu.Unlock()
}

func (c *Connection) touchSend(now time.Time) {
	c.mu.Lock()
	c.lastSend = now
	c.mu.Unlock()
}

func (c *Connection) sinceLastRecv(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastRecv)
}

func (c *Connection) sinceLastSend(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSend)
}

// buildOutgoing stamps the shared ack piggyback onto a packet about to be
// sent, regardless of channel: "the ack/ack_bits of every outbound
// packet" per spec §4.3.
func (c *Connection) buildOutgoing(p *packet.Packet) {
	c.mu.Lock()
	p.Ack = c.ackTracker.Ack
	p.AckBits = c.ackTracker.AckBits
	c.mu.Unlock()
}

// beginReliableSend stamps p with the next reliable-channel sequence and
// the current ack piggyback, all under one lock so concurrent senders on
// the same connection never interleave a sequence allocation.
func (c *Connection) beginReliableSend(p *packet.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reliableOutSeq++
	p.Sequence = c.reliableOutSeq
	p.Ack = c.ackTracker.Ack
	p.AckBits = c.ackTracker.AckBits
}

// registerReliableSend records the encoded datagram for sequence seq as
// unacknowledged, to be retransmitted until dueRetransmits reports it
// stalled or observeInbound drops it as acked.
func (c *Connection) registerReliableSend(seq uint16, encoded []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(encoded))
	copy(buf, encoded)
	c.unacked[seq] = &pendingReliable{data: buf, sentAt: time.Now(), attempts: 0}
}

func (c *Connection) nextUnreliableSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unreliableOutSeq++
	return c.unreliableOutSeq
}

func (c *Connection) nextSequencedSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequencedOutSeq++
	return c.sequencedOutSeq
}

// observeInbound folds one inbound packet's sequence into the reliable
// ack tracker (only the reliable channel occupies the acknowledged
// sequence space) and drops any of our own unacked sends that the peer's
// piggybacked ack/ack_bits now covers.
func (c *Connection) observeInbound(p *packet.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Channel == packet.ChannelReliable {
		c.ackTracker.MarkAcked(p.Sequence)
	}

	for seq := range c.unacked {
		if p.IsAcked(seq) {
			delete(c.unacked, seq)
		}
	}
}

// deliverReliable applies sequence dedup and in-order buffering for an
// inbound reliable-channel packet, returning the payloads now ready for
// delivery to the application in order (possibly more than one, if this
// packet fills a gap).
func (c *Connection) deliverReliable(p *packet.Packet) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seqBefore(p.Sequence, c.reliableDeliverNext) {
		return nil // duplicate or already-delivered
	}
	if p.Sequence != c.reliableDeliverNext {
		c.reliableRecvBuf[p.Sequence] = p.Payload
		return nil
	}

	var ready [][]byte
	ready = append(ready, p.Payload)
	c.reliableDeliverNext++
	for {
		buf, ok := c.reliableRecvBuf[c.reliableDeliverNext]
		if !ok {
			break
		}
		ready = append(ready, buf)
		delete(c.reliableRecvBuf, c.reliableDeliverNext)
		c.reliableDeliverNext++
	}
	return ready
}

// acceptSequenced reports whether an inbound sequenced-channel packet is
// newer than every previously accepted one; stale ones are dropped.
func (c *Connection) acceptSequenced(seq uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sequencedHasRecv {
		c.sequencedHasRecv = true
		c.sequencedHighestRecv = seq
		return true
	}
	if seqNewer(seq, c.sequencedHighestRecv) {
		c.sequencedHighestRecv = seq
		return true
	}
	return false
}

// dueRetransmits returns the sequences whose retransmission timeout has
// elapsed as of now, alongside the re-sendable bytes, and bumps their
// attempt counters. stalled is true if any sequence has already exhausted
// MaxRetransmitAttempts.
func (c *Connection) dueRetransmits(now time.Time) (resend map[uint16][]byte, stalled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resend = make(map[uint16][]byte)
	for seq, pr := range c.unacked {
		idx := pr.attempts
		if idx >= MaxRetransmitAttempts {
			stalled = true
			continue
		}
		if now.Sub(pr.sentAt) < retransmitSchedule[idx] {
			continue
		}
		pr.attempts++
		pr.sentAt = now
		resend[seq] = pr.data
	}
	return resend, stalled
}

// seqBefore reports whether a is strictly older than b under wrap-aware
// comparison (the complement of seqNewer, excluding equality).
func seqBefore(a, b uint16) bool {
	return a != b && !seqNewer(a, b)
}

// seqNewer mirrors packet.isNewer's 16-bit wrap-aware ordering for use
// outside the packet package (sequenced-channel staleness checks).
func seqNewer(s1, s2 uint16) bool {
	if s1 == s2 {
		return false
	}
	if s1 > s2 {
		return s1-s2 <= 32768
	}
	return s2-s1 > 32768
}
