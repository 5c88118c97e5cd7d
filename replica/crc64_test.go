package replica

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCRC64CheckValue verifies the standard check input for the Jones
// polynomial with init 0 and no final xor.
func TestCRC64CheckValue(t *testing.T) {
	crc := crc64Update(0, []byte("123456789"))
	require.Equal(t, uint64(0xe9c6d914c4b8d9ca), crc)
}

func TestCRC64Incremental(t *testing.T) {
	data := []byte("REDIS0011 some snapshot payload")

	whole := crc64Update(0, data)

	var crc uint64
	for _, b := range data {
		crc = crc64Update(crc, []byte{b})
	}
	require.Equal(t, whole, crc)
}

func TestCRC64Empty(t *testing.T) {
	require.Equal(t, uint64(0), crc64Update(0, nil))
}
