package capture

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, codec Codec, payload []byte) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.capture")

	w, err := Create(path, codec)
	require.NoError(t, err)

	// Write in uneven chunks the way a session tee does
	for len(payload) > 0 {
		n := 7
		if n > len(payload) {
			n = len(payload)
		}
		_, err := w.Write(payload[:n])
		require.NoError(t, err)
		payload = payload[n:]
	}
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, codec, r.Codec())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, buildPayload(), got)
}

func buildPayload() []byte {
	var buf bytes.Buffer
	buf.WriteString("$10\r\nREDIS0009")
	for i := 0; i < 500; i++ {
		buf.WriteString("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")
	}
	buf.Write([]byte{0x00, 0xFF, 0xFE})
	return buf.Bytes()
}

func TestRoundTripRaw(t *testing.T) {
	roundTrip(t, CodecRaw, buildPayload())
}

func TestRoundTripLZ4(t *testing.T) {
	roundTrip(t, CodecLZ4, buildPayload())
}

func TestRoundTripZstd(t *testing.T) {
	roundTrip(t, CodecZstd, buildPayload())
}

func TestCompressedSmallerThanRaw(t *testing.T) {
	dir := t.TempDir()
	payload := buildPayload()

	sizes := map[Codec]int64{}
	for _, codec := range []Codec{CodecRaw, CodecZstd} {
		path := filepath.Join(dir, string(codec))
		w, err := Create(path, codec)
		require.NoError(t, err)
		_, err = w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		info, err := os.Stat(path)
		require.NoError(t, err)
		sizes[codec] = info.Size()
	}
	require.Less(t, sizes[CodecZstd], sizes[CodecRaw])
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(path, []byte("not a capture file"), 0644))

	_, err := Open(path)
	require.ErrorIs(t, err, ErrInvalidCapture)
}

func TestParseCodec(t *testing.T) {
	codec, err := ParseCodec("")
	require.NoError(t, err)
	require.Equal(t, CodecZstd, codec)

	codec, err = ParseCodec("lz4")
	require.NoError(t, err)
	require.Equal(t, CodecLZ4, codec)

	_, err = ParseCodec("gzip")
	require.Error(t, err)
}
