package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeccak256(t *testing.T) {
	// keccak256("") is a well known constant
	require.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Keccak256(nil).Hex())
	require.Equal(t, Keccak256([]byte("ab")), Keccak256([]byte("a"), []byte("b")))
}

func TestCeilWords(t *testing.T) {
	testCases := []struct {
		size uint64
		want uint64
	}{
		{0, 0}, {1, 1}, {32, 1}, {33, 2}, {64, 2},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, CeilWords(tc.size), "size %d", tc.size)
	}
}

func TestAddressHexPadding(t *testing.T) {
	addr := HexToAddress("0x00000000000000000000000000000000000000ff")
	data, err := addr.MarshalJSON()
	require.NoError(t, err)

	var decoded Address
	require.NoError(t, decoded.UnmarshalJSON(data))
	require.Equal(t, addr, decoded)
	require.Error(t, decoded.UnmarshalJSON([]byte(`"0x1234"`)))
}
