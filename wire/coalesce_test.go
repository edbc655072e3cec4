package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeOrFail(t *testing.T, p Packet) []byte {
	t.Helper()
	b, err := Encode(p)
	require.NoError(t, err)
	return b
}

func TestCoalesceSplitRoundTrip(t *testing.T) {
	packets := []Packet{
		{Version: 1, PacketNumber: 1, StreamID: 1, Payload: []byte("hello")},
		{Version: 1, PacketNumber: 2, StreamID: 1, Payload: []byte("world")},
		{Version: 1, PacketNumber: 3, StreamID: 2, Payload: []byte("!")},
	}
	var encoded [][]byte
	for _, p := range packets {
		encoded = append(encoded, encodeOrFail(t, p))
	}

	datagrams := Coalesce(encoded, MaxPayloadBytes)
	require.Len(t, datagrams, 1)

	split, err := Split(datagrams[0])
	require.NoError(t, err)
	require.Len(t, split, 3)
	for i, p := range packets {
		require.Equal(t, p.PacketNumber, split[i].PacketNumber)
		require.Equal(t, p.Payload, split[i].Payload)
	}
}

func TestCoalesceFlushesOnMTU(t *testing.T) {
	big := encodeOrFail(t, Packet{Payload: make([]byte, 700)})
	datagrams := Coalesce([][]byte{big, big, big}, 1472)
	// two 716-byte packets (1432 bytes) fit in one MTU-bounded datagram;
	// the third must start a new one.
	require.Len(t, datagrams, 2)
	require.Len(t, datagrams[0], 2*len(big))
	require.Len(t, datagrams[1], len(big))
}

func TestSplitTruncated(t *testing.T) {
	good := encodeOrFail(t, Packet{Payload: []byte("ok")})
	_, err := Split(append(good, 0x01, 0x00)) // 2 stray bytes, not a full header
	require.ErrorIs(t, err, ErrTruncated)
}
