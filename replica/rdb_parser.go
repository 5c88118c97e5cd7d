package replica

import (
	"fmt"
	"io"
	"strconv"
)

// RDBParser decodes a snapshot payload into a lazy sequence of events.
// Call ParseHeader once, then ParseNext until it returns io.EOF. The
// single outstanding KeyValueEvent is pooled; callers that retain one
// past the next ParseNext must copy it.
type RDBParser struct {
	r       *Reader
	version int

	// state carried between entries
	currentDB  int
	expireUnit ExpireUnit
	expireAt   int64
	idle       int64
	freq       int64
}

// NewRDBParser creates a parser positioned at the REDIS magic
func NewRDBParser(r *Reader) *RDBParser {
	return &RDBParser{r: r}
}

// Version reports the snapshot format version once the header is parsed
func (p *RDBParser) Version() int {
	return p.version
}

// ParseHeader validates the "REDIS" magic and the 4-digit version, and
// begins checksum capture. The CRC trailer covers every byte from the
// magic onward, so capture starts before the header read.
func (p *RDBParser) ParseHeader() error {
	p.r.StartChecksum()

	header, err := p.r.ReadBytes(9)
	if err != nil {
		return fmt.Errorf("failed to read RDB header: %w", err)
	}
	if string(header[:5]) != "REDIS" {
		return fmt.Errorf("%w: %q", ErrInvalidMagic, header[:5])
	}

	version, err := strconv.Atoi(string(header[5:]))
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMagic, header[5:])
	}
	if version < 1 || version > maxRDBVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	p.version = version
	return nil
}

// ParseNext reads opcodes until one decodes into an event. Returns
// (nil, io.EOF) once the terminator is reached and the checksum, when
// present, has been verified.
func (p *RDBParser) ParseNext() (Event, error) {
	for {
		opcode, err := p.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				// io.EOF is reserved for the terminator opcode
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}

		switch opcode {
		case opcodeExpireMs:
			// 8-byte little-endian milliseconds, attaches to the next key
			ms, err := p.r.ReadInt64LE()
			if err != nil {
				return nil, fmt.Errorf("failed to read ms expiry: %w", err)
			}
			p.expireUnit = ExpireMilliseconds
			p.expireAt = ms

		case opcodeExpireSec:
			// 4-byte little-endian seconds, attaches to the next key
			sec, err := p.r.ReadUint32LE()
			if err != nil {
				return nil, fmt.Errorf("failed to read expiry: %w", err)
			}
			p.expireUnit = ExpireSeconds
			p.expireAt = int64(sec)

		case opcodeIdle:
			idle, _, err := p.readLength()
			if err != nil {
				return nil, fmt.Errorf("failed to read idle time: %w", err)
			}
			p.idle = int64(idle)

		case opcodeFreq:
			freq, err := p.r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("failed to read LFU frequency: %w", err)
			}
			p.freq = int64(freq)

		case opcodeSelectDB:
			db, _, err := p.readLength()
			if err != nil {
				return nil, fmt.Errorf("failed to read db index: %w", err)
			}
			p.currentDB = int(db)
			return &SelectDBEvent{DB: p.currentDB}, nil

		case opcodeResizeDB:
			size, _, err := p.readLength()
			if err != nil {
				return nil, fmt.Errorf("failed to read resize hint: %w", err)
			}
			expires, _, err := p.readLength()
			if err != nil {
				return nil, fmt.Errorf("failed to read resize hint: %w", err)
			}
			return &ResizeDBEvent{Size: size, ExpiresSize: expires}, nil

		case opcodeAux:
			key, err := p.readString()
			if err != nil {
				return nil, fmt.Errorf("failed to read aux key: %w", err)
			}
			value, err := p.readString()
			if err != nil {
				return nil, fmt.Errorf("failed to read aux value for %q: %w", key, err)
			}
			return &AuxEvent{Key: key, Value: value}, nil

		case opcodeFunction2:
			// Function library payload, not surfaced as an event
			if _, err := p.readString(); err != nil {
				return nil, fmt.Errorf("failed to read function payload: %w", err)
			}

		case opcodeFunction:
			return nil, fmt.Errorf("%w: pre-release function format", ErrInvalidEncoding)

		case opcodeModuleAux:
			if _, err := p.parseModule2(); err != nil {
				return nil, fmt.Errorf("failed to read module aux: %w", err)
			}

		case opcodeEOF:
			return nil, p.verifyChecksum()

		default:
			return p.parseKeyValue(opcode)
		}
	}
}

// verifyChecksum reads the 8-byte trailer and compares it against the
// value captured since the magic. A trailer of zero means checksum
// generation was disabled on the master. Always returns io.EOF on
// success so callers see a terminated sequence.
func (p *RDBParser) verifyChecksum() error {
	captured := p.r.Checksum()
	p.r.StopChecksum()

	trailer, err := p.r.ReadUint64LE()
	if err != nil {
		return fmt.Errorf("failed to read checksum trailer: %w", err)
	}
	if p.version >= 5 && trailer != 0 && trailer != captured {
		return fmt.Errorf("%w: computed %016x, trailer %016x", ErrChecksumMismatch, captured, trailer)
	}
	return io.EOF
}

// parseKeyValue decodes one key with its typed value and attaches any
// pending expiry/idle/freq hints, clearing them afterwards.
func (p *RDBParser) parseKeyValue(typeByte byte) (Event, error) {
	key, err := p.readString()
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	var value Value
	switch typeByte {
	case typeString:
		s, err2 := p.readString()
		if err2 != nil {
			err = err2
			break
		}
		value = &StringValue{Value: s}

	case typeList, typeListZiplist, typeListQuicklist, typeListQuicklist2:
		value, err = p.parseList(typeByte)

	case typeSet, typeSetIntset, typeSetListpack:
		value, err = p.parseSet(typeByte)

	case typeZSet, typeZSet2, typeZSetZiplist, typeZSetListpack:
		value, err = p.parseZSet(typeByte)

	case typeHash, typeHashZipmap, typeHashZiplist, typeHashListpack:
		value, err = p.parseHash(typeByte)

	case typeStreamListpacks, typeStreamListpacks2, typeStreamListpacks3:
		value, err = p.parseStream(typeByte)

	case typeModule:
		return nil, fmt.Errorf("%w: pre-module2 value (key=%q)", ErrInvalidEncoding, key)

	case typeModule2:
		value, err = p.parseModule2()

	default:
		return nil, fmt.Errorf("%w: value type %d (key=%q)", ErrInvalidEncoding, typeByte, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse value (type=%d, key=%q): %w", typeByte, key, err)
	}

	event := getKeyValueEvent()
	event.DB = p.currentDB
	event.Key = key
	event.Value = value
	event.ExpireUnit = p.expireUnit
	event.ExpireAt = p.expireAt
	event.Idle = p.idle
	event.Freq = p.freq

	p.expireUnit = ExpireNone
	p.expireAt = 0
	p.idle = 0
	p.freq = 0

	return event, nil
}
