package transport

import (
	"net"
	"sync"
	"time"
)

// fakeAddr is a minimal net.Addr for the in-memory socket pair below.
type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeTimeoutErr satisfies net.Error so receiveLoop's timeout-retry branch
// exercises the same path it would against a real *net.UDPConn deadline.
type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "fake: i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

// fakeConn is a point-to-point in-memory net.PacketConn, standing in for
// the real UDP socket per spec §8's note that testable properties are
// verified against an in-memory packet-conn pair rather than a live
// socket. onSend, when set, is consulted before every WriteTo and may
// report the datagram dropped (simulating loss) without an error.
type fakeConn struct {
	localAddr fakeAddr
	peer      *fakeConn
	inbox     chan []byte

	mu           sync.Mutex
	readDeadline time.Time
	onSend       func(data []byte) bool
	sent         int
}

func newFakeConnPair(addrA, addrB string) (a, b *fakeConn) {
	a = &fakeConn{localAddr: fakeAddr(addrA), inbox: make(chan []byte, 4096)}
	b = &fakeConn{localAddr: fakeAddr(addrB), inbox: make(chan []byte, 4096)}
	a.peer, b.peer = b, a
	return a, b
}

func (f *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	f.mu.Lock()
	dl := f.readDeadline
	f.mu.Unlock()

	var timeout <-chan time.Time
	if !dl.IsZero() {
		d := time.Until(dl)
		if d <= 0 {
			return 0, nil, fakeTimeoutErr{}
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data := <-f.inbox:
		n := copy(p, data)
		return n, f.peer.localAddr, nil
	case <-timeout:
		return 0, nil, fakeTimeoutErr{}
	}
}

func (f *fakeConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)

	f.mu.Lock()
	f.sent++
	onSend := f.onSend
	f.mu.Unlock()

	if onSend != nil && onSend(data) {
		return len(p), nil
	}
	f.peer.inbox <- data
	return len(p), nil
}

func (f *fakeConn) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func (f *fakeConn) Close() error                       { return nil }
func (f *fakeConn) LocalAddr() net.Addr                { return f.localAddr }
func (f *fakeConn) SetDeadline(t time.Time) error      { return f.SetReadDeadline(t) }
func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.readDeadline = t
	f.mu.Unlock()
	return nil
}
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }
