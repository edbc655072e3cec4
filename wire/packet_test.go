package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		payload []byte
	}{
		{"empty payload", []byte{}},
		{"small payload", []byte{0x01, 0x02, 0x03}},
		{"max payload", make([]byte, 65535)},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			p := Packet{
				Version:      CurrentVersion,
				Flags:        0,
				ConnectionID: 42,
				PacketNumber: 7,
				StreamID:     3,
				Payload:      tc.payload,
			}
			encoded, err := Encode(p)
			require.NoError(t, err)

			decoded, n, err := Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, len(encoded), n)
			require.Equal(t, p.Version, decoded.Version)
			require.Equal(t, p.ConnectionID, decoded.ConnectionID)
			require.Equal(t, p.PacketNumber, decoded.PacketNumber)
			require.Equal(t, p.StreamID, decoded.StreamID)
			require.Equal(t, tc.payload, decoded.Payload)
		})
	}
}

func TestDecodeBufferTooSmall(t *testing.T) {
	_, _, err := Decode(make([]byte, 15))
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestDecodeTruncated(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[14] = 0
	buf[15] = 100 // claims 100 payload bytes that are not present
	_, _, err := Decode(buf)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeLeavesTrailingBytes(t *testing.T) {
	p := Packet{Version: CurrentVersion, Payload: []byte{1, 2, 3}}
	encoded, err := Encode(p)
	require.NoError(t, err)
	encoded = append(encoded, 0xAA, 0xBB) // simulate a coalesced second packet's header start

	_, n, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, HeaderSize+3, n)
	require.Less(t, n, len(encoded))
}

func TestEncodePayloadLengthMismatchIsImpossibleByConstruction(t *testing.T) {
	// Encode derives PayloadLength from len(Payload), so the only failure
	// mode is exceeding the uint16 range.
	_, err := Encode(Packet{Payload: make([]byte, 1<<16)})
	require.ErrorIs(t, err, ErrPayloadLength)
}
