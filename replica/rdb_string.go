package replica

import (
	"fmt"
	"math"
	"strconv"

	lzf "github.com/zhuyie/golzf"
)

// readLength parses the RDB length encoding.
// Returns (length, isSpecial, error) where isSpecial denotes the
// integer/LZF string encodings selected by the top bits 11.
func (p *RDBParser) readLength() (uint64, bool, error) {
	firstByte, err := p.r.ReadByte()
	if err != nil {
		return 0, false, err
	}

	// Top two bits denote the encoding scheme
	switch (firstByte >> 6) & 0x03 {
	case 0:
		// 00|XXXXXX - 6-bit length
		return uint64(firstByte & 0x3F), false, nil

	case 1:
		// 01|XXXXXX XXXXXXXX - 14-bit length
		nextByte, err := p.r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		return (uint64(firstByte&0x3F) << 8) | uint64(nextByte), false, nil

	case 2:
		// 10|000000 + 4 bytes big-endian, or 10|000001 + 8 bytes
		switch firstByte & 0x3F {
		case 0:
			v, err := p.r.ReadUint32BE()
			return uint64(v), false, err
		case 1:
			v, err := p.r.ReadUint64BE()
			return v, false, err
		}
		return 0, false, fmt.Errorf("%w: marker 0x%02x", ErrInvalidLength, firstByte)

	default:
		// 11|XXXXXX - special string encoding
		return uint64(firstByte & 0x3F), true, nil
	}
}

// readString decodes one RDB string: plain length-prefixed bytes, an
// integer encoding rendered as decimal ASCII, or an LZF-compressed blob.
func (p *RDBParser) readString() (string, error) {
	length, special, err := p.readLength()
	if err != nil {
		return "", fmt.Errorf("failed to read string length: %w", err)
	}

	if special {
		return p.readStringEncoded(length)
	}

	if length == 0 {
		return "", nil
	}

	buf, err := p.r.ReadBytes(int(length))
	if err != nil {
		return "", fmt.Errorf("failed to read string data: %w", err)
	}
	return string(buf), nil
}

// readStringEncoded handles the integer/LZF encodings
func (p *RDBParser) readStringEncoded(encoding uint64) (string, error) {
	switch encoding {
	case encInt8:
		b, err := p.r.ReadByte()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(int8(b))), nil

	case encInt16:
		v, err := p.r.ReadUint16LE()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(int16(v))), nil

	case encInt32:
		v, err := p.r.ReadUint32LE()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(int32(v))), nil

	case encLZF:
		return p.readLZFString()

	default:
		return "", fmt.Errorf("%w: string encoding %d", ErrInvalidEncoding, encoding)
	}
}

// readLZFString handles the LZF layout: [clen][ulen][payload]
func (p *RDBParser) readLZFString() (string, error) {
	compressedLen, _, err := p.readLength()
	if err != nil {
		return "", fmt.Errorf("failed to read compressed length: %w", err)
	}

	originalLen, _, err := p.readLength()
	if err != nil {
		return "", fmt.Errorf("failed to read original length: %w", err)
	}
	if originalLen >= maxLZFOutput {
		return "", fmt.Errorf("%w: LZF output length %d exceeds cap", ErrInvalidEncoding, originalLen)
	}

	compressed, err := p.r.ReadBytes(int(compressedLen))
	if err != nil {
		return "", fmt.Errorf("failed to read compressed data: %w", err)
	}

	decompressed, err := lzfDecompress(compressed, int(originalLen))
	if err != nil {
		return "", err
	}
	return string(decompressed), nil
}

// lzfDecompress inflates src into exactly dstLen bytes. The library
// refuses to write past dst or read past src; a length mismatch means
// the blob is corrupt.
func lzfDecompress(src []byte, dstLen int) ([]byte, error) {
	if dstLen == 0 {
		return nil, nil
	}
	dst := make([]byte, dstLen)
	n, err := lzf.Decompress(src, dst)
	if err != nil {
		return nil, fmt.Errorf("LZF decompression failed: %w", err)
	}
	if n != dstLen {
		return nil, fmt.Errorf("LZF decompressed length mismatch: expect %d, got %d", dstLen, n)
	}
	return dst, nil
}

// readLegacyDouble reads the pre-ZSET_2 score encoding: a one-byte tag
// for NaN and the infinities, otherwise a length byte followed by the
// ASCII float.
func (p *RDBParser) readLegacyDouble() (float64, error) {
	length, err := p.r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch length {
	case doubleNaN:
		return math.NaN(), nil
	case doublePosInf:
		return math.Inf(1), nil
	case doubleNegInf:
		return math.Inf(-1), nil
	}

	buf, err := p.r.ReadBytes(int(length))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(string(buf), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid double %q: %w", buf, err)
	}
	return v, nil
}

// readBinaryDouble reads the ZSET_2 score encoding: 8 bytes LE IEEE-754
func (p *RDBParser) readBinaryDouble() (float64, error) {
	bits, err := p.r.ReadUint64LE()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}
