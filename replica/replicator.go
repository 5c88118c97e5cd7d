package replica

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maplestoria/redis-event/logger"
	"github.com/maplestoria/redis-event/redisx"
)

const ackInterval = time.Second

// Config describes one replication session
type Config struct {
	Addr          string        // host:port of the master
	Password      string        // empty means no AUTH
	ReplID        string        // replication ID, "?" when unknown
	ReplOffset    int64         // replication offset, -1 when unknown
	DiscardRDB    bool          // consume the snapshot without dispatching events
	AOF           bool          // continue with the command stream after the snapshot
	ListeningPort int           // port announced via REPLCONF listening-port, may be 0
	ReadTimeout   time.Duration // per-read deadline, zero means none
	WriteTimeout  time.Duration // per-write deadline, zero means none
}

func (c *Config) applyDefaults() {
	if c.ReplID == "" {
		c.ReplID = "?"
	}
}

// Validate ensures the config is usable
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("replica: addr is required")
	}
	if c.ReplOffset < -1 {
		return fmt.Errorf("replica: repl offset %d is invalid", c.ReplOffset)
	}
	if c.ListeningPort < 0 || c.ListeningPort > 65535 {
		return fmt.Errorf("replica: listening port %d is invalid", c.ListeningPort)
	}
	return nil
}

// Replicator runs one replication session against one master: it
// performs the handshake, decodes the snapshot and the command stream,
// and delivers every event to the handler on the calling goroutine.
// It does not reconnect; the first fatal error ends Start.
type Replicator struct {
	cfg     Config
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc

	conn   *redisx.Conn
	reader *Reader

	capture io.Writer

	mu     sync.Mutex
	state  SessionState
	master MasterInfo

	offset atomic.Int64
	ackErr atomicError

	stats sessionStats
}

// NewReplicator creates a session for the given master and handler
func NewReplicator(cfg Config, handler Handler) (*Replicator, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("replica: handler is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Replicator{
		cfg:     cfg,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
	}, nil
}

// SetCapture mirrors the raw replication stream (snapshot header
// included) into w. Must be called before Start. After +CONTINUE
// there is no snapshot, and w receives the command stream only.
func (r *Replicator) SetCapture(w io.Writer) {
	r.capture = w
}

// State returns the current session state
func (r *Replicator) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Replicator) setState(s SessionState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Master returns what PSYNC taught us about the master
func (r *Replicator) Master() MasterInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.master
}

// Offset returns the current replication offset
func (r *Replicator) Offset() int64 {
	return r.offset.Load()
}

// Stop requests an orderly shutdown. The driver notices at the next
// opcode or frame boundary; a read blocked on the socket is unblocked
// by closing the connection.
func (r *Replicator) Stop() {
	r.cancel()
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

// Start drives the session to completion. It returns nil after the
// snapshot when AOF is off, nil after an orderly Stop, and the first
// fatal error otherwise.
func (r *Replicator) Start() error {
	err := r.run()
	if err != nil {
		if r.stopped() {
			// Read failures after Stop are the close, not a fault
			r.setState(StateStopped)
			return nil
		}
		r.setState(StateFailed)
		return err
	}
	r.setState(StateStopped)
	return nil
}

func (r *Replicator) run() error {
	if err := r.connect(); err != nil {
		return err
	}
	defer r.conn.Close()

	if err := r.handshake(); err != nil {
		return err
	}

	fullResync, err := r.psync()
	if err != nil {
		return err
	}

	r.reader = NewReader(r.conn)
	if r.capture != nil && !fullResync {
		r.reader.SetTee(r.capture)
	}

	if fullResync {
		if err := r.receiveSnapshot(); err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		logger.Info("snapshot complete, offset=%d", r.master.Offset)
		if !r.cfg.AOF {
			return nil
		}
		r.offset.Store(r.master.Offset)
	} else {
		if !r.cfg.AOF {
			return nil
		}
		// Partial resync continues from the caller-supplied offset
		r.offset.Store(r.cfg.ReplOffset)
	}

	return r.receiveStream()
}

func (r *Replicator) stopped() bool {
	return r.ctx.Err() != nil
}

// connect opens the transport
func (r *Replicator) connect() error {
	r.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
	defer cancel()

	conn, err := redisx.Dial(dialCtx, redisx.Config{
		Addr:         r.cfg.Addr,
		ReadTimeout:  r.cfg.ReadTimeout,
		WriteTimeout: r.cfg.WriteTimeout,
	})
	if err != nil {
		return err
	}
	r.conn = conn
	logger.Info("connected to master %s", r.cfg.Addr)
	return nil
}

// handshake runs PING, optional AUTH, and the REPLCONF declarations
func (r *Replicator) handshake() error {
	r.setState(StateHandshakePing)
	reply, err := r.conn.Do("PING")
	if err != nil {
		return fmt.Errorf("PING failed: %w", err)
	}
	if s, _ := redisx.ToString(reply); s != "PONG" {
		return fmt.Errorf("replica: expected PONG, got %v", reply)
	}

	if r.cfg.Password != "" {
		r.setState(StateAuthing)
		reply, err = r.conn.Do("AUTH", r.cfg.Password)
		if err != nil {
			return fmt.Errorf("AUTH failed: %w", err)
		}
		if err := expectOK(reply); err != nil {
			return fmt.Errorf("AUTH rejected: %w", err)
		}
	}

	r.setState(StateReplconfPort)
	reply, err = r.conn.Do("REPLCONF", "listening-port", strconv.Itoa(r.cfg.ListeningPort))
	if err != nil {
		return fmt.Errorf("REPLCONF listening-port failed: %w", err)
	}
	if err := expectOK(reply); err != nil {
		return fmt.Errorf("REPLCONF listening-port rejected: %w", err)
	}

	r.setState(StateReplconfCapa)
	reply, err = r.conn.Do("REPLCONF", "capa", "eof", "capa", "psync2")
	if err != nil {
		return fmt.Errorf("REPLCONF capa failed: %w", err)
	}
	if err := expectOK(reply); err != nil {
		return fmt.Errorf("REPLCONF capa rejected: %w", err)
	}

	return nil
}

// psync negotiates the sync point. Returns true when the master chose a
// full resync (snapshot follows), false on +CONTINUE.
func (r *Replicator) psync() (bool, error) {
	r.setState(StatePsync)

	reply, err := r.conn.Do("PSYNC", r.cfg.ReplID, strconv.FormatInt(r.cfg.ReplOffset, 10))
	if err != nil {
		return false, fmt.Errorf("PSYNC failed: %w", err)
	}
	line, err := redisx.ToString(reply)
	if err != nil {
		return false, fmt.Errorf("replica: unexpected PSYNC reply %v", reply)
	}

	fields := strings.Fields(line)
	switch {
	case len(fields) == 3 && fields[0] == "FULLRESYNC":
		offset, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return false, fmt.Errorf("replica: malformed FULLRESYNC offset %q", fields[2])
		}
		r.mu.Lock()
		r.master = MasterInfo{ReplID: fields[1], Offset: offset}
		r.mu.Unlock()
		logger.Info("full resync from %s at offset %d", fields[1], offset)
		return true, nil

	case len(fields) >= 1 && fields[0] == "CONTINUE":
		r.mu.Lock()
		r.master = MasterInfo{ReplID: r.cfg.ReplID, Offset: r.cfg.ReplOffset}
		if len(fields) == 2 {
			r.master.ReplID = fields[1]
		}
		r.mu.Unlock()
		logger.Info("partial resync accepted at offset %d", r.cfg.ReplOffset)
		return false, nil
	}

	return false, fmt.Errorf("replica: unexpected PSYNC reply %q", line)
}

// receiveSnapshot consumes the RDB payload: either `$<len>\r\n<bytes>`
// or, when the master honored the eof capability, a payload delimited
// by a 40-byte marker repeated after the content.
func (r *Replicator) receiveSnapshot() error {
	r.setState(StateReceivingRdb)

	// The master may emit keepalive newlines while the snapshot is
	// being produced.
	for {
		b, err := r.reader.PeekByte()
		if err != nil {
			return err
		}
		if b != '\n' {
			break
		}
		if _, err := r.reader.ReadByte(); err != nil {
			return err
		}
	}

	// Capture begins at the $-header, the first byte playback parses
	if r.capture != nil {
		r.reader.SetTee(r.capture)
	}

	header, err := r.reader.ReadLine()
	if err != nil {
		return fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if len(header) < 2 || header[0] != '$' {
		return fmt.Errorf("replica: malformed snapshot header %q", header)
	}

	var payloadLen int64 = -1
	var eofMark string
	if strings.HasPrefix(header[1:], "EOF:") {
		eofMark = header[5:]
		if len(eofMark) != 40 {
			return fmt.Errorf("replica: malformed EOF marker %q", eofMark)
		}
	} else {
		payloadLen, err = strconv.ParseInt(header[1:], 10, 64)
		if err != nil {
			return fmt.Errorf("replica: malformed snapshot length %q", header[1:])
		}
	}

	start := r.reader.Count()
	parser := NewRDBParser(r.reader)
	if err := parser.ParseHeader(); err != nil {
		return err
	}
	logger.Debug("RDB version %d", parser.Version())

	for {
		if r.stopped() {
			return r.ctx.Err()
		}
		event, err := parser.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		r.stats.snapshotEvents.Add(1)
		if !r.cfg.DiscardRDB {
			r.handler.Handle(event)
		}
		recycleEvent(event)
	}

	if eofMark != "" {
		// Diskless transfer: the marker repeats after the payload
		token, err := r.reader.ReadBytes(40)
		if err != nil {
			return fmt.Errorf("failed to read EOF marker: %w", err)
		}
		if string(token) != eofMark {
			return fmt.Errorf("replica: EOF marker mismatch, expected %s got %s", eofMark, token)
		}
	} else if consumed := r.reader.Count() - start; consumed < payloadLen {
		// Trailing bytes the decoder did not need (version padding)
		if err := r.reader.Discard(payloadLen - consumed); err != nil {
			return err
		}
	}

	return nil
}

// receiveStream decodes command frames until stopped or failed, ACKing
// the offset once per second from a background worker.
func (r *Replicator) receiveStream() error {
	r.setState(StateReceivingStream)

	ackCtx, stopAck := context.WithCancel(r.ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.ackLoop(ackCtx)
	}()
	defer func() {
		stopAck()
		wg.Wait()
	}()

	base := r.offset.Load()
	streamStart := r.reader.Count()
	decoder := NewCommandDecoder(r.reader)

	for {
		if r.stopped() {
			return r.ctx.Err()
		}
		if err := r.ackErr.Load(); err != nil {
			return fmt.Errorf("ACK failed: %w", err)
		}

		event, err := decoder.ReadCommand()
		if err != nil {
			return fmt.Errorf("stream decode failed: %w", err)
		}

		// Every stream byte consumed moves the offset, keepalives and
		// unknown frames included.
		r.offset.Store(base + (r.reader.Count() - streamStart))
		r.stats.commandEvents.Add(1)

		if event.Cmd.Suppressed() {
			continue
		}
		r.handler.Handle(event)
	}
}

// ackLoop periodically reports the offset on the write half
func (r *Replicator) ackLoop(ctx context.Context) {
	ticker := time.NewTicker(ackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			offset := r.offset.Load()
			if err := r.conn.WriteCommand("REPLCONF", "ACK", strconv.FormatInt(offset, 10)); err != nil {
				if ctx.Err() == nil {
					r.ackErr.Store(err)
				}
				return
			}
			r.stats.lastAck.Store(offset)
		}
	}
}

func expectOK(reply interface{}) error {
	s, err := redisx.ToString(reply)
	if err != nil {
		return err
	}
	if s != "OK" {
		return fmt.Errorf("expected OK, got %q", s)
	}
	return nil
}
