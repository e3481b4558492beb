package packet

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := &Packet{
		Sequence:    42,
		Ack:         41,
		AckBits:     0xDEADBEEF,
		Channel:     ChannelReliable,
		Type:        TypeData,
		Payload:     []byte("hello world"),
	}

	buf := make([]byte, HeaderSize+len(p.Payload))
	n, err := Encode(p, buf)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(buf[:n], nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Sequence != p.Sequence || decoded.Ack != p.Ack || decoded.AckBits != p.AckBits ||
		decoded.Channel != p.Channel || decoded.Type != p.Type {
		t.Fatalf("header mismatch: got %+v, want %+v", decoded, p)
	}
	if !bytes.Equal(decoded.Payload, p.Payload) {
		t.Fatalf("payload mismatch: got %q, want %q", decoded.Payload, p.Payload)
	}
}

func TestEncodeHeaderByteOrder(t *testing.T) {
	p := &Packet{
		Type:     TypeHandshake,
		Sequence: 0x0201,
		Ack:      0x0403,
		AckBits:  0x08070605,
		Channel:  ChannelSequenced,
		Payload:  []byte{0xAA},
	}
	buf := make([]byte, HeaderSize+1)
	n, err := Encode(p, buf)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		byte(TypeHandshake),
		0x01, 0x02, // sequence LE
		0x03, 0x04, // ack LE
		0x05, 0x06, 0x07, 0x08, // ack_bits LE
		byte(ChannelSequenced),
		0x01, 0x00, 0x00, 0x00, // payload_size LE
		0xAA,
	}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("encoded bytes = % X, want % X", buf[:n], want)
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := Decode(make([]byte, 13), nil)
	if err == nil {
		t.Fatal("expected error for 13-byte input")
	}
}

func TestDecodeRejectsInconsistentPayloadSize(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[10] = 0xFF // payload_size = huge, far beyond len(buf)
	buf[11] = 0xFF
	buf[12] = 0xFF
	buf[13] = 0xFF
	_, err := Decode(buf, nil)
	if err == nil {
		t.Fatal("expected error for payload_size overrunning input")
	}
}

func TestDecodeReusesExistingBuffer(t *testing.T) {
	p := &Packet{Type: TypeData, Payload: []byte("reuse-me")}
	buf := make([]byte, HeaderSize+len(p.Payload))
	n, _ := Encode(p, buf)

	existing := make([]byte, 0, 64)
	decoded, err := Decode(buf[:n], existing[:cap(existing)])
	if err != nil {
		t.Fatal(err)
	}
	if &decoded.Payload[0] != &existing[:cap(existing)][0] {
		t.Error("expected Decode to reuse the existing buffer's backing array")
	}
}

func TestIsNewerAntisymmetric(t *testing.T) {
	cases := []struct{ a, b uint16 }{
		{10, 5}, {5, 10}, {0, 65535}, {65535, 0}, {100, 100}, {32768, 0}, {0, 32768},
	}
	for _, c := range cases {
		fwd := isNewer(c.a, c.b)
		bwd := isNewer(c.b, c.a)
		if fwd && bwd {
			t.Errorf("isNewer(%d,%d) and isNewer(%d,%d) both true", c.a, c.b, c.b, c.a)
		}
	}
}

func TestMarkAckedThenIsAcked(t *testing.T) {
	p := &Packet{}
	for seq := uint16(1); seq <= 40; seq++ {
		p.MarkAcked(seq)
	}
	if !p.IsAcked(40) {
		t.Error("expected most recent sequence to be acked")
	}
	if !p.IsAcked(39) {
		t.Error("expected seq within window to be acked")
	}
	// seq 8 is distance 32 from ack 40, exactly the window edge.
	if !p.IsAcked(8) {
		t.Error("expected seq at window edge (distance 32) to be acked")
	}
	// seq 7 is distance 33, outside the 32-bit window.
	if p.IsAcked(7) {
		t.Error("expected seq outside window to not be acked")
	}
}

func TestMarkAckedOutOfOrderSetsBitInPlace(t *testing.T) {
	p := &Packet{}
	p.MarkAcked(10)
	p.MarkAcked(5) // older, within window: should set a bit, not move Ack
	if p.Ack != 10 {
		t.Errorf("Ack moved backwards: got %d, want 10", p.Ack)
	}
	if !p.IsAcked(5) {
		t.Error("expected out-of-order older seq to be recorded as acked")
	}
	if !p.IsAcked(10) {
		t.Error("expected original ack to remain acked")
	}
}

func TestMarkAckedLargeJumpClearsWindow(t *testing.T) {
	p := &Packet{}
	p.MarkAcked(1)
	p.MarkAcked(1000) // jump > 32: old window is fully shifted out
	if p.IsAcked(1) {
		t.Error("expected old ack to fall out of the window after a large jump")
	}
	if !p.IsAcked(1000) {
		t.Error("expected new ack to be acked")
	}
}
