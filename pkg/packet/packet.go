// Package packet implements the XL4Net wire envelope: a fixed 14-byte
// header plus opaque payload, symmetric encode/decode, and the selective
// acknowledgment bitfield math shared by every reliability channel.
//
// Wire layout (little-endian), grounded on the byte-level framing style of
// source/protocol/raknet.go's BitStream writers:
//
//	[type:1][sequence:2][ack:2][ack_bits:4][channel:1][payload_size:4][payload...]
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderSize = 14

// MaxDatagramSize bounds payload_size + HeaderSize to stay under typical
// MTU per spec §3.
const MaxDatagramSize = 1400

// ErrMalformedPacket is returned by Decode for any input that cannot be a
// well-formed Packet: too short, an inconsistent payload_size, or a
// payload_size that would overrun the buffer.
var ErrMalformedPacket = errors.New("packet: malformed")

// ChannelType is the delivery discipline applied above the datagram socket.
type ChannelType uint8

const (
	ChannelReliable ChannelType = iota
	ChannelUnreliable
	ChannelSequenced
)

func (c ChannelType) String() string {
	switch c {
	case ChannelReliable:
		return "reliable"
	case ChannelUnreliable:
		return "unreliable"
	case ChannelSequenced:
		return "sequenced"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Type is the 8-bit packet-type discriminator.
type Type uint8

const (
	TypeHandshake Type = iota
	TypeHandshakeAck
	TypePing
	TypePong
	TypeData
	TypeDisconnect
)

func (t Type) String() string {
	switch t {
	case TypeHandshake:
		return "Handshake"
	case TypeHandshakeAck:
		return "HandshakeAck"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeData:
		return "Data"
	case TypeDisconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Packet is the universal wire envelope. It does not own Payload: whoever
// assigned Payload (usually by renting it from a pool.BufferPool) is
// responsible for releasing it. See pool.BufferPool.Rent/Return.
type Packet struct {
	Sequence    uint16
	Ack         uint16
	AckBits     uint32
	Channel     ChannelType
	Type        Type
	PayloadSize uint32
	Payload     []byte
}

// Reset clears every field, dropping the Payload reference without
// returning it to any pool — the caller who attached Payload owns that.
func (p *Packet) Reset() {
	*p = Packet{}
}

// Encode writes the 14-byte header in field order
// [type][sequence][ack][ack_bits][channel][payload_size] followed by the
// payload, into dst. dst must have length >= HeaderSize+len(p.Payload).
func Encode(p *Packet, dst []byte) (int, error) {
	need := HeaderSize + len(p.Payload)
	if len(dst) < need {
		return 0, fmt.Errorf("packet: dst too small: need %d, have %d", need, len(dst))
	}

	dst[0] = byte(p.Type)
	binary.LittleEndian.PutUint16(dst[1:3], p.Sequence)
	binary.LittleEndian.PutUint16(dst[3:5], p.Ack)
	binary.LittleEndian.PutUint32(dst[5:9], p.AckBits)
	dst[9] = byte(p.Channel)
	binary.LittleEndian.PutUint32(dst[10:14], uint32(len(p.Payload)))
	copy(dst[HeaderSize:need], p.Payload)

	return need, nil
}

// Decode parses a Packet from src into a freshly allocated Packet. If
// existing has spare capacity for the payload it is reused
// (truncated/extended in place); otherwise a fresh slice is allocated.
// Decode fails with ErrMalformedPacket if src is shorter than HeaderSize,
// or if 14+payload_size exceeds len(src).
func Decode(src []byte, existing []byte) (*Packet, error) {
	p := &Packet{}
	if err := DecodeInto(p, src, existing); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeInto parses a Packet from src into dst, overwriting every field —
// typically dst is rented from a pool.TypedPool[*Packet] rather than
// allocated fresh, so the packet alloc/dealloc path on send/receive never
// has to allocate a Packet itself, only its payload bytes. Same
// existing-buffer reuse rule and error conditions as Decode.
func DecodeInto(dst *Packet, src []byte, existing []byte) error {
	if len(src) < HeaderSize {
		return fmt.Errorf("%w: short header (%d bytes)", ErrMalformedPacket, len(src))
	}

	dst.Type = Type(src[0])
	dst.Sequence = binary.LittleEndian.Uint16(src[1:3])
	dst.Ack = binary.LittleEndian.Uint16(src[3:5])
	dst.AckBits = binary.LittleEndian.Uint32(src[5:9])
	dst.Channel = ChannelType(src[9])
	dst.PayloadSize = binary.LittleEndian.Uint32(src[10:14])

	payloadEnd := HeaderSize + int(dst.PayloadSize)
	if payloadEnd < HeaderSize || payloadEnd > len(src) {
		return fmt.Errorf("%w: payload_size %d overruns input of %d bytes", ErrMalformedPacket, dst.PayloadSize, len(src))
	}

	var buf []byte
	if cap(existing) >= int(dst.PayloadSize) {
		buf = existing[:dst.PayloadSize]
	} else {
		buf = make([]byte, dst.PayloadSize)
	}
	copy(buf, src[HeaderSize:payloadEnd])
	dst.Payload = buf

	return nil
}

// isNewer reports whether s1 is newer than s2 under 16-bit wrap-aware
// sequence comparison.
func isNewer(s1, s2 uint16) bool {
	if s1 == s2 {
		return false
	}
	if s1 > s2 {
		return s1-s2 <= 32768
	}
	return s2-s1 > 32768
}

// IsAcked reports whether seq has been acknowledged by this packet's
// ack/ack_bits window.
func (p *Packet) IsAcked(seq uint16) bool {
	if seq == p.Ack {
		return true
	}
	dist := p.Ack - seq
	if dist < 1 || dist > 32 {
		return false
	}
	bit := dist - 1
	return p.AckBits&(1<<bit) != 0
}

// MarkAcked advances the ack window to record seq as received. If seq is
// strictly newer than the current Ack, the window slides: ack_bits shifts
// left by seq-ack, bit 0 is set to record the former ack, and Ack becomes
// seq. Otherwise, if seq falls within the existing window, the
// corresponding bit is set in place.
func (p *Packet) MarkAcked(seq uint16) {
	if isNewer(seq, p.Ack) {
		shift := seq - p.Ack
		if shift >= 32 {
			p.AckBits = 0
		} else {
			p.AckBits <<= shift
		}
		p.AckBits |= 1
		p.Ack = seq
		return
	}

	dist := p.Ack - seq
	if dist >= 1 && dist <= 32 {
		bit := dist - 1
		p.AckBits |= 1 << bit
	}
}
