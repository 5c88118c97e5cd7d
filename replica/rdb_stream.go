package replica

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// parseStream decodes the stream-listpacks encodings (types 15, 19, 21):
// entry listpacks keyed by 16-byte master IDs, stream metadata, and the
// consumer-group state.
func (p *RDBParser) parseStream(typeByte byte) (*StreamValue, error) {
	numListpacks, _, err := p.readLength()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream listpack count: %w", err)
	}

	var entries []StreamEntry
	for i := uint64(0); i < numListpacks; i++ {
		// Each node: 16-byte master ID (the radix tree key) + listpack
		nodeKey, err := p.readString()
		if err != nil {
			return nil, err
		}
		if len(nodeKey) != 16 {
			return nil, fmt.Errorf("%w: stream node key is %d bytes, want 16", ErrInvalidEncoding, len(nodeKey))
		}
		masterMs := binary.BigEndian.Uint64([]byte(nodeKey[0:8]))
		masterSeq := binary.BigEndian.Uint64([]byte(nodeKey[8:16]))

		payload, err := p.readString()
		if err != nil {
			return nil, err
		}
		nodeEntries, err := parseStreamListpack([]byte(payload), masterMs, masterSeq)
		if err != nil {
			return nil, fmt.Errorf("stream listpack %d: %w", i, err)
		}
		entries = append(entries, nodeEntries...)
	}

	value := &StreamValue{Entries: entries}

	if value.Length, _, err = p.readLength(); err != nil {
		return nil, err
	}

	lastMs, _, err := p.readLength()
	if err != nil {
		return nil, err
	}
	lastSeq, _, err := p.readLength()
	if err != nil {
		return nil, err
	}
	value.LastID = formatStreamID(lastMs, lastSeq)

	if typeByte >= typeStreamListpacks2 {
		firstMs, _, err := p.readLength()
		if err != nil {
			return nil, err
		}
		firstSeq, _, err := p.readLength()
		if err != nil {
			return nil, err
		}
		value.FirstID = formatStreamID(firstMs, firstSeq)

		delMs, _, err := p.readLength()
		if err != nil {
			return nil, err
		}
		delSeq, _, err := p.readLength()
		if err != nil {
			return nil, err
		}
		value.MaxDeletedID = formatStreamID(delMs, delSeq)

		if value.EntriesAdded, _, err = p.readLength(); err != nil {
			return nil, err
		}
	} else {
		value.EntriesAdded = value.Length
	}

	numGroups, _, err := p.readLength()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numGroups; i++ {
		group, err := p.parseStreamGroup(typeByte)
		if err != nil {
			return nil, fmt.Errorf("stream group %d: %w", i, err)
		}
		value.Groups = append(value.Groups, *group)
	}

	return value, nil
}

// parseStreamGroup decodes one consumer group with its global PEL and
// consumers.
func (p *RDBParser) parseStreamGroup(typeByte byte) (*StreamGroup, error) {
	group := &StreamGroup{}

	name, err := p.readString()
	if err != nil {
		return nil, err
	}
	group.Name = name

	ms, _, err := p.readLength()
	if err != nil {
		return nil, err
	}
	seq, _, err := p.readLength()
	if err != nil {
		return nil, err
	}
	group.LastDeliveredID = formatStreamID(ms, seq)

	if typeByte >= typeStreamListpacks2 {
		read, _, err := p.readLength()
		if err != nil {
			return nil, err
		}
		group.EntriesRead = int64(read)
	}

	// Global PEL: raw 16-byte IDs with delivery time and count
	pelSize, _, err := p.readLength()
	if err != nil {
		return nil, err
	}
	group.Pending = make([]StreamPending, 0, pelSize)
	for i := uint64(0); i < pelSize; i++ {
		id, err := p.readRawStreamID()
		if err != nil {
			return nil, err
		}
		deliveryTime, err := p.r.ReadInt64LE()
		if err != nil {
			return nil, err
		}
		deliveryCount, _, err := p.readLength()
		if err != nil {
			return nil, err
		}
		group.Pending = append(group.Pending, StreamPending{
			ID:            id,
			DeliveryTime:  deliveryTime,
			DeliveryCount: deliveryCount,
		})
	}

	numConsumers, _, err := p.readLength()
	if err != nil {
		return nil, err
	}
	group.Consumers = make([]StreamConsumer, 0, numConsumers)
	for i := uint64(0); i < numConsumers; i++ {
		consumer := StreamConsumer{}
		if consumer.Name, err = p.readString(); err != nil {
			return nil, err
		}
		if consumer.SeenTime, err = p.r.ReadInt64LE(); err != nil {
			return nil, err
		}
		if typeByte >= typeStreamListpacks3 {
			if consumer.ActiveTime, err = p.r.ReadInt64LE(); err != nil {
				return nil, err
			}
		} else {
			consumer.ActiveTime = consumer.SeenTime
		}

		// Consumer PEL entries reference the global PEL, so only the
		// raw ID is stored here.
		pel, _, err := p.readLength()
		if err != nil {
			return nil, err
		}
		consumer.Pending = make([]string, 0, pel)
		for j := uint64(0); j < pel; j++ {
			id, err := p.readRawStreamID()
			if err != nil {
				return nil, err
			}
			consumer.Pending = append(consumer.Pending, id)
		}
		group.Consumers = append(group.Consumers, consumer)
	}

	return group, nil
}

// readRawStreamID reads a 16-byte big-endian (ms, seq) pair
func (p *RDBParser) readRawStreamID() (string, error) {
	buf, err := p.r.ReadBytes(16)
	if err != nil {
		return "", err
	}
	ms := binary.BigEndian.Uint64(buf[0:8])
	seq := binary.BigEndian.Uint64(buf[8:16])
	return formatStreamID(ms, seq), nil
}

func formatStreamID(ms, seq uint64) string {
	return strconv.FormatUint(ms, 10) + "-" + strconv.FormatUint(seq, 10)
}

// parseStreamListpack walks one entry listpack. The layout is the master
// entry header [count][deleted][num-master-fields][fields...][0] followed
// by one record per item: [flags][ms-diff][seq-diff] and either values
// for the master fields (SAMEFIELDS) or [numfields][field][value]...,
// each terminated by the lp-count backpointer entry.
func parseStreamListpack(data []byte, masterMs, masterSeq uint64) ([]StreamEntry, error) {
	items, err := parseListpack(data)
	if err != nil {
		return nil, err
	}
	if len(items) < 3 {
		return nil, fmt.Errorf("%w: stream listpack header too short", ErrInvalidEncoding)
	}

	count, err := strconv.ParseUint(items[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stream entry count: %w", err)
	}
	deleted, err := strconv.ParseUint(items[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stream deleted count: %w", err)
	}
	numMasterFields, err := strconv.Atoi(items[2])
	if err != nil {
		return nil, fmt.Errorf("invalid master field count: %w", err)
	}

	idx := 3
	if idx+numMasterFields >= len(items) {
		return nil, fmt.Errorf("%w: stream listpack missing master fields", ErrInvalidEncoding)
	}
	masterFields := items[idx : idx+numMasterFields]
	idx += numMasterFields
	// The master entry ends with a zero marker
	idx++

	next := func() (string, error) {
		if idx >= len(items) {
			return "", fmt.Errorf("%w: truncated stream listpack", ErrInvalidEncoding)
		}
		v := items[idx]
		idx++
		return v, nil
	}
	nextUint := func() (uint64, error) {
		s, err := next()
		if err != nil {
			return 0, err
		}
		return strconv.ParseUint(s, 10, 64)
	}

	total := count + deleted
	entries := make([]StreamEntry, 0, count)
	for i := uint64(0); i < total; i++ {
		flags, err := nextUint()
		if err != nil {
			return nil, err
		}
		msDiff, err := nextUint()
		if err != nil {
			return nil, err
		}
		seqDiff, err := nextUint()
		if err != nil {
			return nil, err
		}

		numFields := numMasterFields
		if flags&streamItemFlagSameFields == 0 {
			n, err := nextUint()
			if err != nil {
				return nil, err
			}
			numFields = int(n)
		}

		fields := make(map[string]string, numFields)
		for j := 0; j < numFields; j++ {
			var field string
			if flags&streamItemFlagSameFields != 0 {
				field = masterFields[j]
			} else {
				if field, err = next(); err != nil {
					return nil, err
				}
			}
			value, err := next()
			if err != nil {
				return nil, err
			}
			fields[field] = value
		}

		// Skip the per-item lp-count backpointer
		if _, err := next(); err != nil {
			return nil, err
		}

		if flags&streamItemFlagDeleted != 0 {
			continue
		}
		entries = append(entries, StreamEntry{
			ID:     formatStreamID(masterMs+msDiff, masterSeq+seqDiff),
			Fields: fields,
		})
	}
	return entries, nil
}

// Module serialization opcodes (module2 payloads)
const (
	moduleOpcodeEOF    = 0
	moduleOpcodeSInt   = 1
	moduleOpcodeUInt   = 2
	moduleOpcodeFloat  = 3
	moduleOpcodeDouble = 4
	moduleOpcodeString = 5
)

const moduleNameChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// parseModule2 captures a module-2 value opaquely: the 64-bit module ID
// followed by the raw serialized body up to the module EOF opcode. The
// body is structured enough to skip safely without module callbacks.
func (p *RDBParser) parseModule2() (*ModuleValue, error) {
	id, _, err := p.readLength()
	if err != nil {
		return nil, fmt.Errorf("failed to read module ID: %w", err)
	}

	p.r.StartRecording()
	err = p.skipModuleBody()
	raw := p.r.StopRecording()
	if err != nil {
		return nil, err
	}

	name, version := decodeModuleID(id)
	return &ModuleValue{ID: id, Name: name, Version: version, Raw: raw}, nil
}

// skipModuleBody walks module opcodes until EOF without interpreting
// the payload.
func (p *RDBParser) skipModuleBody() error {
	for {
		opcode, _, err := p.readLength()
		if err != nil {
			return fmt.Errorf("failed to read module opcode: %w", err)
		}
		switch opcode {
		case moduleOpcodeEOF:
			return nil
		case moduleOpcodeSInt, moduleOpcodeUInt:
			if _, _, err := p.readLength(); err != nil {
				return err
			}
		case moduleOpcodeFloat:
			if _, err := p.r.ReadBytes(4); err != nil {
				return err
			}
		case moduleOpcodeDouble:
			if _, err := p.r.ReadBytes(8); err != nil {
				return err
			}
		case moduleOpcodeString:
			if _, err := p.readString(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: module opcode %d", ErrInvalidEncoding, opcode)
		}
	}
}

// decodeModuleID splits the 64-bit module ID into its 9-character name
// (6 bits per character) and 10-bit version.
func decodeModuleID(id uint64) (string, int) {
	name := make([]byte, 9)
	for i := 8; i >= 0; i-- {
		name[i] = moduleNameChars[(id>>(10+uint(8-i)*6))&0x3F]
	}
	return string(name), int(id & 0x3FF)
}
