// Package wire implements quince's on-the-wire packet format: a fixed
// 16-byte big-endian header followed by ciphertext, plus the frame types
// carried inside a decrypted payload and the MTU-bounded coalescer that
// batches packets into datagrams.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed size, in bytes, of a Packet's wire header.
const HeaderSize = 16

// CurrentVersion is the only version this implementation emits; receivers
// must silently drop anything else.
const CurrentVersion = 1

var (
	// ErrBufferTooSmall is returned by Decode when fewer than HeaderSize
	// bytes are available.
	ErrBufferTooSmall = errors.New("wire: buffer smaller than header size")
	// ErrTruncated is returned by Decode when the header's payload length
	// claims more bytes than are present.
	ErrTruncated = errors.New("wire: payload truncated")
	// ErrPayloadLength is returned by Encode when Payload's length does not
	// fit the header's 16-bit payload length field.
	ErrPayloadLength = errors.New("wire: payload length does not match header")
)

// FlagHandshakeUnencrypted marks a packet whose payload is a raw
// handshake public value rather than AEAD ciphertext: before the
// handshake completes there is no key yet to encrypt under, so the
// engine signals that case via this header bit instead of requiring the
// receiver to guess from the (still-encrypted) frame type.
const FlagHandshakeUnencrypted uint8 = 1 << 0

// Packet is the header plus ciphertext. StreamID 0 is reserved for ACK
// and control frames.
type Packet struct {
	Version      uint8
	Flags        uint8
	ConnectionID uint32
	PacketNumber uint32
	StreamID     uint32
	Payload      []byte
}

// Encode serializes p as header (big-endian) followed by Payload. It
// returns ErrPayloadLength if len(p.Payload) does not fit in a uint16.
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) > 0xFFFF {
		return nil, ErrPayloadLength
	}
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = p.Version
	buf[1] = p.Flags
	binary.BigEndian.PutUint32(buf[2:6], p.ConnectionID)
	binary.BigEndian.PutUint32(buf[6:10], p.PacketNumber)
	binary.BigEndian.PutUint32(buf[10:14], p.StreamID)
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// Decode parses the first packet out of buf, returning the packet and the
// total number of bytes it consumed (HeaderSize + payloadLength). Extra
// trailing bytes are left unconsumed so callers can keep parsing a
// coalesced datagram.
func Decode(buf []byte) (Packet, int, error) {
	if len(buf) < HeaderSize {
		return Packet{}, 0, ErrBufferTooSmall
	}
	payloadLen := int(binary.BigEndian.Uint16(buf[14:16]))
	total := HeaderSize + payloadLen
	if len(buf) < total {
		return Packet{}, 0, ErrTruncated
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[HeaderSize:total])
	p := Packet{
		Version:      buf[0],
		Flags:        buf[1],
		ConnectionID: binary.BigEndian.Uint32(buf[2:6]),
		PacketNumber: binary.BigEndian.Uint32(buf[6:10]),
		StreamID:     binary.BigEndian.Uint32(buf[10:14]),
		Payload:      payload,
	}
	return p, total, nil
}
