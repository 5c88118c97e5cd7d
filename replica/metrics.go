package replica

import (
	"sync"
	"sync/atomic"
)

// sessionStats aggregates counters updated by the driver and the ACK
// worker; reads tolerate slightly stale values.
type sessionStats struct {
	snapshotEvents atomic.Int64
	commandEvents  atomic.Int64
	lastAck        atomic.Int64
}

// Stats is a point-in-time snapshot of session progress
type Stats struct {
	SnapshotEvents int64 // snapshot records decoded
	CommandEvents  int64 // stream frames decoded (PING and suppressed frames included), bare newlines excluded
	BytesRead      int64 // bytes consumed after the PSYNC reply (snapshot and stream)
	Offset         int64 // current replication offset
	LastAckOffset  int64 // offset carried by the latest REPLCONF ACK
}

// Stats reports session progress
func (r *Replicator) Stats() Stats {
	s := Stats{
		SnapshotEvents: r.stats.snapshotEvents.Load(),
		CommandEvents:  r.stats.commandEvents.Load(),
		Offset:         r.offset.Load(),
		LastAckOffset:  r.stats.lastAck.Load(),
	}
	if r.reader != nil {
		s.BytesRead = r.reader.Count()
	}
	return s
}

// atomicError keeps the first error published by a background worker
type atomicError struct {
	mu  sync.Mutex
	err error
}

func (e *atomicError) Store(err error) {
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
}

func (e *atomicError) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
