// Package capture records the raw replication stream to disk and plays
// it back through the decoders without a master. Files start with a
// small header naming the codec, followed by the compressed payload:
// everything the session consumed from the $-header of the snapshot
// onward, byte for byte.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the on-disk compression
type Codec string

const (
	CodecRaw  Codec = "raw"
	CodecLZ4  Codec = "lz4"
	CodecZstd Codec = "zstd"
)

var magic = []byte("REVC0001")

var ErrInvalidCapture = errors.New("capture: invalid capture file")

// ParseCodec validates a codec name from config
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case CodecRaw, CodecLZ4, CodecZstd:
		return Codec(s), nil
	case "":
		return CodecZstd, nil
	}
	return "", fmt.Errorf("capture: unknown codec %q", s)
}

// Writer streams capture data into a file through the chosen codec
type Writer struct {
	file *os.File
	w    io.Writer

	lz4W  *lz4.Writer
	zstdW *zstd.Encoder
}

// Create opens path for writing and emits the header
func Create(path string, codec Codec) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: create %s failed: %w", path, err)
	}

	header := append(append([]byte{}, magic...), byte(len(codec)))
	header = append(header, codec...)
	if _, err := file.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("capture: write header failed: %w", err)
	}

	cw := &Writer{file: file}
	switch codec {
	case CodecRaw:
		cw.w = file
	case CodecLZ4:
		cw.lz4W = lz4.NewWriter(file)
		cw.w = cw.lz4W
	case CodecZstd:
		enc, err := zstd.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("capture: zstd init failed: %w", err)
		}
		cw.zstdW = enc
		cw.w = enc
	default:
		file.Close()
		return nil, fmt.Errorf("capture: unknown codec %q", codec)
	}
	return cw, nil
}

// Write implements io.Writer; the session tees consumed bytes here
func (w *Writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Close flushes the codec and the file
func (w *Writer) Close() error {
	var codecErr error
	if w.lz4W != nil {
		codecErr = w.lz4W.Close()
	}
	if w.zstdW != nil {
		codecErr = w.zstdW.Close()
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	return codecErr
}

// Reader replays a capture file; Open leaves it positioned at the
// first payload byte.
type Reader struct {
	file  *os.File
	r     io.Reader
	zstdR *zstd.Decoder

	codec Codec
}

// Open validates the header and prepares decompression
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s failed: %w", path, err)
	}

	br := bufio.NewReader(file)
	header := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(br, header); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidCapture, err)
	}
	if string(header[:len(magic)]) != string(magic) {
		file.Close()
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidCapture)
	}
	nameLen := int(header[len(magic)])
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(br, name); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidCapture, err)
	}

	cr := &Reader{file: file, codec: Codec(name)}
	switch cr.codec {
	case CodecRaw:
		cr.r = br
	case CodecLZ4:
		cr.r = lz4.NewReader(br)
	case CodecZstd:
		dec, err := zstd.NewReader(br)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("capture: zstd init failed: %w", err)
		}
		cr.zstdR = dec
		cr.r = dec
	default:
		file.Close()
		return nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidCapture, name)
	}
	return cr, nil
}

// Codec reports the codec recorded in the header
func (r *Reader) Codec() Codec {
	return r.codec
}

// Read implements io.Reader over the decompressed payload
func (r *Reader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

// Close releases the decoder and the file
func (r *Reader) Close() error {
	if r.zstdR != nil {
		r.zstdR.Close()
	}
	return r.file.Close()
}
