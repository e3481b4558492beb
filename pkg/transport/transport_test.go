package transport

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xl4net/xl4net/pkg/packet"
	"github.com/xl4net/xl4net/pkg/pool"
)

// leaksBySize snapshots BufferPool.Stats().Leaks() across every fixed
// bucket size, for before/after leak comparisons.
func leaksBySize(bp *pool.BufferPool) map[int]int64 {
	out := make(map[int]int64)
	for _, size := range pool.BucketSizes() {
		out[size] = bp.Stats(size).Leaks()
	}
	return out
}

type alwaysValid struct{}

func (alwaysValid) ValidateToken(token string) (string, bool) { return "player", true }

type alwaysInvalid struct{}

func (alwaysInvalid) ValidateToken(token string) (string, bool) { return "", false }

// runServerLoop repeatedly drains ProcessIncoming until stop is closed,
// standing in for the application's per-tick call.
func runServerLoop(t *testing.T, s *Server, stop <-chan struct{}) {
	t.Helper()
	for {
		select {
		case <-stop:
			return
		default:
			s.ProcessIncoming()
			time.Sleep(time.Millisecond)
		}
	}
}

func runClientLoop(t *testing.T, c *Client, stop <-chan struct{}) []InboundMessage {
	t.Helper()
	var all []InboundMessage
	for {
		select {
		case <-stop:
			return all
		default:
			all = append(all, c.ProcessIncoming()...)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestHandshakeHappyPath(t *testing.T) {
	serverSock, clientSock := newFakeConnPair("server", "client")

	srv := NewServer(serverSock, alwaysValid{}, DefaultServerConfig(), zerolog.Nop())
	connected := make(chan uint32, 1)
	srv.Events().On(EventClientConnected, func(e Event) { connected <- e.ConnectionID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	stop := make(chan struct{})
	go runServerLoop(t, srv, stop)
	defer close(stop)

	cli := NewClient(clientSock, fakeAddr("server"), DefaultClientConfig(), zerolog.Nop())
	clientConnected := make(chan struct{}, 1)
	cli.Events().On(EventConnected, func(e Event) { clientConnected <- struct{}{} })

	start := time.Now()
	if err := cli.Connect(context.Background(), []byte("valid-token")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("handshake took %v, want under 100ms", time.Since(start))
	}

	select {
	case <-clientConnected:
	case <-time.After(time.Second):
		t.Fatal("OnConnected never fired")
	}

	select {
	case id := <-connected:
		if id < 1000 {
			t.Errorf("connection id = %d, want >= 1000", id)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClientConnected never fired")
	}
}

func TestHandshakeRejectedForBadMagic(t *testing.T) {
	serverSock, clientSock := newFakeConnPair("server", "client")
	// The server rejects every token, so the real client's well-formed
	// handshake below also goes unanswered and Connect times out.
	srv := NewServer(serverSock, alwaysInvalid{}, DefaultServerConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	stop := make(chan struct{})
	go runServerLoop(t, srv, stop)
	defer close(stop)

	badPayload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	p := &packet.Packet{Type: packet.TypeHandshake, Payload: badPayload}
	buf := make([]byte, packet.HeaderSize+len(badPayload))
	n, err := packet.Encode(p, buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := clientSock.WriteTo(buf[:n], fakeAddr("server")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	srv.mu.RLock()
	numConns := len(srv.byID)
	srv.mu.RUnlock()
	if numConns != 0 {
		t.Errorf("server accepted a connection despite bad magic: %d entries", numConns)
	}

	cli := NewClient(clientSock, fakeAddr("server"), DefaultClientConfig(), zerolog.Nop())
	errFired := make(chan string, 1)
	cli.Events().On(EventError, func(e Event) { errFired <- e.Message })

	done := make(chan error, 1)
	go func() { done <- cli.Connect(context.Background(), []byte("ignored")) }()

	select {
	case err := <-done:
		if err != ErrHandshakeTimeout {
			t.Errorf("Connect error = %v, want ErrHandshakeTimeout", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("Connect did not time out")
	}
	select {
	case msg := <-errFired:
		if msg != "handshake timeout" {
			t.Errorf("OnError message = %q, want %q", msg, "handshake timeout")
		}
	default:
		t.Error("OnError did not fire")
	}
}

func TestReliableDeliveryUnderLoss(t *testing.T) {
	serverSock, clientSock := newFakeConnPair("server", "client")
	cfg := DefaultServerConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond // fast ack piggyback for the test
	srv := NewServer(serverSock, alwaysValid{}, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	stop := make(chan struct{})
	defer close(stop)
	// The background server loop only drives the handshake; it is stopped
	// before any data is sent so this test's own ProcessIncoming loop is the
	// only consumer of delivered messages.
	serverLoopStop := make(chan struct{})
	serverLoopDone := make(chan struct{})
	go func() {
		runServerLoop(t, srv, serverLoopStop)
		close(serverLoopDone)
	}()

	cli := NewClient(clientSock, fakeAddr("server"), DefaultClientConfig(), zerolog.Nop())
	if err := cli.Connect(context.Background(), []byte("tok")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	close(serverLoopStop)
	<-serverLoopDone
	go cli.Run(ctx)
	go runClientLoop(t, cli, stop)

	// Drop every even-sequenced reliable data packet on its first send
	// attempt only; later retransmissions of the same sequence go through.
	var mu sync.Mutex
	droppedOnce := make(map[uint16]bool)
	clientSock.mu.Lock()
	clientSock.onSend = func(data []byte) bool {
		pkt, err := packet.Decode(data, nil)
		if err != nil || pkt.Type != packet.TypeData || pkt.Channel != packet.ChannelReliable {
			return false
		}
		if pkt.Sequence%2 != 0 {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if droppedOnce[pkt.Sequence] {
			return false
		}
		droppedOnce[pkt.Sequence] = true
		return true
	}
	clientSock.mu.Unlock()

	for i := 1; i <= 100; i++ {
		payload := []byte{byte(i), byte(i >> 8)}
		if err := cli.Send(packet.ChannelReliable, payload); err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
	}

	var received []InboundMessage
	deadline := time.Now().Add(10 * time.Second)
	for len(received) < 100 && time.Now().Before(deadline) {
		received = append(received, srv.ProcessIncoming()...)
		time.Sleep(5 * time.Millisecond)
	}

	if len(received) != 100 {
		t.Fatalf("server delivered %d messages, want 100", len(received))
	}
	for i, msg := range received {
		wantLow := byte(i + 1)
		if msg.Payload[0] != wantLow {
			t.Errorf("message %d out of order: payload[0]=%d, want %d", i, msg.Payload[0], wantLow)
		}
	}

	// 100 first sends plus at least one retransmission of each of the 50
	// dropped packets puts the floor at 150.
	sendCount := clientSock.sendCount()
	if sendCount < 150 || sendCount > 500 {
		t.Errorf("client socket send count = %d, want between 150 and 500", sendCount)
	}
}

func TestHeartbeatTimeoutDisconnectsSilentPeer(t *testing.T) {
	serverSock, clientSock := newFakeConnPair("server", "client")
	cfg := DefaultServerConfig()
	cfg.HeartbeatInterval = 100 * time.Millisecond
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	srv := NewServer(serverSock, alwaysValid{}, cfg, zerolog.Nop())

	disconnected := make(chan string, 1)
	srv.Events().On(EventClientDisconnected, func(e Event) { disconnected <- e.Message })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	stop := make(chan struct{})
	go runServerLoop(t, srv, stop)
	defer close(stop)

	preHandshake := leaksBySize(srv.Pool())

	cli := NewClient(clientSock, fakeAddr("server"), DefaultClientConfig(), zerolog.Nop())
	if err := cli.Connect(context.Background(), []byte("tok")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// The client never calls Run: it sends nothing further and never
	// answers pings, simulating a silent peer.

	select {
	case reason := <-disconnected:
		if reason != "Heartbeat timeout" {
			t.Errorf("disconnect reason = %q, want %q", reason, "Heartbeat timeout")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never disconnected the silent peer")
	}

	srv.mu.RLock()
	numConns := len(srv.byID)
	srv.mu.RUnlock()
	if numConns != 0 {
		t.Errorf("connection entry not removed: %d remain", numConns)
	}

	// Once a silent peer's connection is torn down, every buffer rented for
	// its packets has been returned to the buffer pool, so each bucket's
	// leak count (created minus available) matches its pre-handshake
	// baseline exactly. Available itself grows, since the pool fills lazily.
	time.Sleep(20 * time.Millisecond)
	postDisconnect := leaksBySize(srv.Pool())
	for _, size := range pool.BucketSizes() {
		if postDisconnect[size] != preHandshake[size] {
			t.Errorf("bucket %d: leaks = %d after disconnect, want %d (pre-handshake baseline)", size, postDisconnect[size], preHandshake[size])
		}
	}
}

func TestSequencedChannelDropsStalePackets(t *testing.T) {
	c := newConnection(1, fakeAddr("peer"))
	order := []uint16{}
	for _, seq := range []uint16{1, 3, 2, 5, 4} {
		if c.acceptSequenced(seq) {
			order = append(order, seq)
		}
	}
	want := []uint16{1, 3, 5}
	if len(order) != len(want) {
		t.Fatalf("accepted %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("accepted[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestUnreliableChannelDeliversEveryPacketRegardlessOfOrder(t *testing.T) {
	serverSock, clientSock := newFakeConnPair("server", "client")
	srv := NewServer(serverSock, alwaysValid{}, DefaultServerConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	// The background server loop only drives the handshake; it is stopped
	// before any data is sent so this test's own ProcessIncoming loop is the
	// only consumer of delivered messages.
	serverLoopStop := make(chan struct{})
	serverLoopDone := make(chan struct{})
	go func() {
		runServerLoop(t, srv, serverLoopStop)
		close(serverLoopDone)
	}()

	cli := NewClient(clientSock, fakeAddr("server"), DefaultClientConfig(), zerolog.Nop())
	if err := cli.Connect(context.Background(), []byte("tok")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	close(serverLoopStop)
	<-serverLoopDone

	for i := 0; i < 10; i++ {
		if err := cli.Send(packet.ChannelUnreliable, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	var got []int
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 10 && time.Now().Before(deadline) {
		for _, m := range srv.ProcessIncoming() {
			got = append(got, int(m.Payload[0]))
		}
		time.Sleep(5 * time.Millisecond)
	}
	sort.Ints(got)
	if len(got) != 10 {
		t.Fatalf("delivered %d unreliable packets, want 10", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d, want %d", i, v, i)
		}
	}
}
