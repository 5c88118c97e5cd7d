package replica

import (
	"bufio"
	"encoding/binary"
	"io"
)

const readerBufSize = 64 * 1024

// Reader is the forward-only byte source every decoder pulls from. It
// keeps a running count of consumed bytes (the replication offset source
// of truth in the stream phase), accumulates CRC-64 over a toggleable
// checksum region, and can mirror every consumed byte into a tee writer
// for stream capture.
type Reader struct {
	rd    *bufio.Reader
	count int64

	crc       uint64
	crcActive bool

	tee    io.Writer
	record []byte

	scratch [8]byte
}

// NewReader wraps r in a buffered replication stream reader
func NewReader(r io.Reader) *Reader {
	return &Reader{rd: bufio.NewReaderSize(r, readerBufSize)}
}

// Count returns the total number of bytes consumed so far
func (r *Reader) Count() int64 {
	return r.count
}

// SetTee mirrors every consumed byte into w. Pass nil to stop.
func (r *Reader) SetTee(w io.Writer) {
	r.tee = w
}

// StartChecksum begins a CRC-64 capture region with a fresh state
func (r *Reader) StartChecksum() {
	r.crc = 0
	r.crcActive = true
}

// StopChecksum ends the capture region, leaving the value readable
func (r *Reader) StopChecksum() {
	r.crcActive = false
}

// Checksum returns the CRC-64 accumulated since StartChecksum
func (r *Reader) Checksum() uint64 {
	return r.crc
}

func (r *Reader) account(p []byte) {
	r.count += int64(len(p))
	if r.crcActive {
		r.crc = crc64Update(r.crc, p)
	}
	if r.record != nil {
		r.record = append(r.record, p...)
	}
	if r.tee != nil {
		_, _ = r.tee.Write(p)
	}
}

// StartRecording keeps a copy of every byte consumed until StopRecording
func (r *Reader) StartRecording() {
	r.record = []byte{}
}

// StopRecording returns the bytes consumed since StartRecording
func (r *Reader) StopRecording() []byte {
	rec := r.record
	r.record = nil
	return rec
}

// ReadByte consumes and returns one byte
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.rd.ReadByte()
	if err != nil {
		return 0, err
	}
	r.scratch[0] = b
	r.account(r.scratch[:1])
	return b, nil
}

// PeekByte returns the next byte without consuming it
func (r *Reader) PeekByte() (byte, error) {
	buf, err := r.rd.Peek(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadBytes consumes exactly n bytes and returns them in a fresh buffer.
// Large payloads read straight through bufio's fill-bypass, so no second
// copy is made.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.ReadFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadFull fills buf entirely or fails with the underlying cause
func (r *Reader) ReadFull(buf []byte) error {
	if _, err := io.ReadFull(r.rd, buf); err != nil {
		return err
	}
	r.account(buf)
	return nil
}

// Discard skips n bytes without materializing them for the caller. The
// bytes still feed the checksum and the tee, so skipping happens in
// scratch-sized chunks.
func (r *Reader) Discard(n int64) error {
	var chunk [4096]byte
	for n > 0 {
		step := int64(len(chunk))
		if n < step {
			step = n
		}
		if err := r.ReadFull(chunk[:step]); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// ReadUint16LE reads a 2-byte little-endian unsigned integer
func (r *Reader) ReadUint16LE() (uint16, error) {
	if err := r.ReadFull(r.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(r.scratch[:2]), nil
}

// ReadUint32LE reads a 4-byte little-endian unsigned integer
func (r *Reader) ReadUint32LE() (uint32, error) {
	if err := r.ReadFull(r.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.scratch[:4]), nil
}

// ReadUint64LE reads an 8-byte little-endian unsigned integer
func (r *Reader) ReadUint64LE() (uint64, error) {
	if err := r.ReadFull(r.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.scratch[:8]), nil
}

// ReadUint32BE reads a 4-byte big-endian unsigned integer
func (r *Reader) ReadUint32BE() (uint32, error) {
	if err := r.ReadFull(r.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.scratch[:4]), nil
}

// ReadUint64BE reads an 8-byte big-endian unsigned integer
func (r *Reader) ReadUint64BE() (uint64, error) {
	if err := r.ReadFull(r.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(r.scratch[:8]), nil
}

// ReadInt64LE reads an 8-byte little-endian signed integer
func (r *Reader) ReadInt64LE() (int64, error) {
	v, err := r.ReadUint64LE()
	return int64(v), err
}

// ReadLine consumes up to and including "\r\n" and returns the line
// without the terminator. Used for RESP reply lines and the snapshot
// length header.
func (r *Reader) ReadLine() (string, error) {
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			return string(line), nil
		}
		line = append(line, b)
	}
}
