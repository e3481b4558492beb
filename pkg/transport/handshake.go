package transport

import (
	"encoding/binary"
	"errors"
)

// MagicNumber is the 4-byte sentinel ("XL4N" read as a big-endian
// uint32) that must open every Handshake payload.
const MagicNumber uint32 = 0x584C344E

// magicBytes is MagicNumber encoded little-endian, as it appears on the
// wire: 0x4E 0x34 0x4C 0x58.
var magicBytes = [4]byte{0x4E, 0x34, 0x4C, 0x58}

var errHandshakeTooShort = errors.New("transport: handshake payload shorter than magic")

// buildHandshakePayload lays out the Handshake packet payload: magic,
// then protocol version, then the raw auth-token bytes.
func buildHandshakePayload(version uint16, token []byte) []byte {
	payload := make([]byte, 4+2+len(token))
	copy(payload[0:4], magicBytes[:])
	binary.LittleEndian.PutUint16(payload[4:6], version)
	copy(payload[6:], token)
	return payload
}

// parseHandshakePayload splits a Handshake payload into its protocol
// version and token. It returns errHandshakeTooShort if payload is
// shorter than the fixed magic+version prefix; the caller is responsible
// for checking the magic bytes themselves before calling this (the magic
// mismatch path is a silent drop, not a parse error).
func parseHandshakePayload(payload []byte) (version uint16, token []byte, err error) {
	if len(payload) < 6 {
		return 0, nil, errHandshakeTooShort
	}
	version = binary.LittleEndian.Uint16(payload[4:6])
	token = payload[6:]
	return version, token, nil
}

func hasValidMagic(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	return payload[0] == magicBytes[0] && payload[1] == magicBytes[1] &&
		payload[2] == magicBytes[2] && payload[3] == magicBytes[3]
}

// ProtocolVersion is the version this package speaks; handshakes from an
// incompatible version are rejected the same way as a bad magic.
const ProtocolVersion uint16 = 1
