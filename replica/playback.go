package replica

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Playback feeds a previously captured replication stream (snapshot
// header onward) through the decoders, dispatching events exactly as a
// live session would. It returns the number of post-snapshot bytes
// consumed, i.e. the offset delta the live session would have reported.
// A clean EOF at a frame boundary ends playback without error.
func Playback(src io.Reader, discardRDB bool, handler Handler) (int64, error) {
	if handler == nil {
		return 0, errors.New("replica: handler is required")
	}

	r := NewReader(src)

	header, err := r.ReadLine()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if len(header) < 2 || header[0] != '$' {
		return 0, fmt.Errorf("replica: malformed snapshot header %q", header)
	}

	var payloadLen int64 = -1
	var eofMark string
	if strings.HasPrefix(header[1:], "EOF:") {
		eofMark = header[5:]
	} else {
		payloadLen, err = strconv.ParseInt(header[1:], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("replica: malformed snapshot length %q", header[1:])
		}
	}

	snapStart := r.Count()
	parser := NewRDBParser(r)
	if err := parser.ParseHeader(); err != nil {
		return 0, err
	}
	for {
		event, err := parser.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if !discardRDB {
			handler.Handle(event)
		}
		recycleEvent(event)
	}

	if eofMark != "" {
		token, err := r.ReadBytes(len(eofMark))
		if err != nil {
			return 0, fmt.Errorf("failed to read EOF marker: %w", err)
		}
		if string(token) != eofMark {
			return 0, fmt.Errorf("replica: EOF marker mismatch")
		}
	} else if consumed := r.Count() - snapStart; consumed < payloadLen {
		if err := r.Discard(payloadLen - consumed); err != nil {
			return 0, err
		}
	}

	streamStart := r.Count()
	decoder := NewCommandDecoder(r)
	for {
		event, err := decoder.ReadCommand()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return r.Count() - streamStart, nil
			}
			return r.Count() - streamStart, err
		}
		if event.Cmd.Suppressed() {
			continue
		}
		handler.Handle(event)
	}
}
