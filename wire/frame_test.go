package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAckFrameRoundTrip(t *testing.T) {
	f := AckFrame{
		LargestAcked: 6,
		Ranges: []AckRange{
			{Start: 1, End: 3},
			{Start: 5, End: 6},
		},
	}
	body, err := EncodeAckFrame(f)
	require.NoError(t, err)

	decoded, err := DecodeAckFrame(body)
	require.NoError(t, err)
	require.Equal(t, f, decoded)
}

func TestAckFrameEmptyRanges(t *testing.T) {
	body, err := EncodeAckFrame(AckFrame{LargestAcked: 0})
	require.NoError(t, err)

	decoded, err := DecodeAckFrame(body)
	require.NoError(t, err)
	require.Equal(t, uint32(0), decoded.LargestAcked)
	require.Empty(t, decoded.Ranges)
}

func TestAckFrameTooManyRanges(t *testing.T) {
	ranges := make([]AckRange, 256)
	_, err := EncodeAckFrame(AckFrame{Ranges: ranges})
	require.Error(t, err)
}

func TestDecodeAckFrameTooShort(t *testing.T) {
	_, err := DecodeAckFrame([]byte{0, 0, 0})
	require.ErrorIs(t, err, ErrFrameTooShort)
}

func TestDecodeAckFrameTruncatedRange(t *testing.T) {
	body, err := EncodeAckFrame(AckFrame{LargestAcked: 1, Ranges: []AckRange{{Start: 1, End: 1}}})
	require.NoError(t, err)
	_, err = DecodeAckFrame(body[:len(body)-1])
	require.ErrorIs(t, err, ErrFrameTooShort)
}
