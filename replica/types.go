package replica

import (
	"fmt"
	"strings"
)

// SessionState enumerates replication session states
type SessionState int

const (
	StateDisconnected    SessionState = iota // not connected
	StateConnecting                          // establishing connection
	StateHandshakePing                       // PING sent, waiting for PONG
	StateAuthing                             // AUTH sent
	StateReplconfPort                        // REPLCONF listening-port sent
	StateReplconfCapa                        // REPLCONF capa sent
	StatePsync                               // PSYNC sent
	StateReceivingRdb                        // snapshot transfer in progress
	StateReceivingStream                     // command stream in progress
	StateStopped                             // orderly stop
	StateFailed                              // fatal error
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshakePing:
		return "HANDSHAKE_PING"
	case StateAuthing:
		return "AUTHING"
	case StateReplconfPort:
		return "REPLCONF_PORT"
	case StateReplconfCapa:
		return "REPLCONF_CAPA"
	case StatePsync:
		return "PSYNC"
	case StateReceivingRdb:
		return "RECEIVING_RDB"
	case StateReceivingStream:
		return "RECEIVING_STREAM"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MasterInfo describes the remote master as learned during PSYNC
type MasterInfo struct {
	ReplID string // replication ID from the PSYNC reply (the configured ID after a bare +CONTINUE), empty before PSYNC
	Offset int64  // FULLRESYNC offset, or the configured offset after +CONTINUE; 0 before PSYNC
}

// Handler receives every decoded event, synchronously, on the session's
// driving goroutine. Event memory is only valid for the duration of the
// call; implementations must copy anything they keep.
type Handler interface {
	Handle(e Event)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(e Event)

func (f HandlerFunc) Handle(e Event) { f(e) }

// Event is the union of everything a replication session observes:
// snapshot records during the RDB phase and command frames afterwards.
type Event interface {
	event()
}

// SelectDBEvent reports a snapshot database switch (opcode 0xFE). A
// SELECT in the command stream arrives as a CommandEvent (CmdSelect).
type SelectDBEvent struct {
	DB int
}

// ResizeDBEvent carries the 0xFB hash table size hints
type ResizeDBEvent struct {
	Size        uint64 // main table size
	ExpiresSize uint64 // expires table size
}

// AuxEvent carries one 0xFA auxiliary metadata field
type AuxEvent struct {
	Key   string
	Value string
}

// ExpireUnit tells which expiry opcode preceded a key, if any
type ExpireUnit int

const (
	ExpireNone         ExpireUnit = iota
	ExpireSeconds                 // 0xFD, seconds since epoch
	ExpireMilliseconds            // 0xFC, milliseconds since epoch
)

// KeyValueEvent is one decoded key with its fully decoded logical value
// and whatever expiry/idle/freq hints preceded it in the snapshot.
type KeyValueEvent struct {
	DB         int
	Key        string
	Value      Value
	ExpireUnit ExpireUnit
	ExpireAt   int64 // epoch in ExpireUnit's unit, 0 when ExpireNone
	Idle       int64 // LRU idle time (0xF8), 0 when absent
	Freq       int64 // LFU frequency (0xF9), 0 when absent
}

// ExpireAtMillis normalizes the expiry to epoch milliseconds, 0 when none.
func (e *KeyValueEvent) ExpireAtMillis() int64 {
	switch e.ExpireUnit {
	case ExpireSeconds:
		return e.ExpireAt * 1000
	case ExpireMilliseconds:
		return e.ExpireAt
	default:
		return 0
	}
}

// CommandEvent is one decoded frame from the post-snapshot stream
type CommandEvent struct {
	Cmd  Command  // tagged command, CmdUnknown for unrecognized frames
	Name string   // uppercased command name as received
	Args []string // decoded bulk-string arguments, in order
	Size int64    // exact frame byte count on the wire
}

func (e *CommandEvent) String() string {
	args := make([]string, len(e.Args))
	for i, arg := range e.Args {
		if len(arg) > 50 {
			args[i] = fmt.Sprintf("%q...", arg[:50])
		} else {
			args[i] = fmt.Sprintf("%q", arg)
		}
	}
	return fmt.Sprintf("%s [%s]", e.Name, strings.Join(args, " "))
}

func (*SelectDBEvent) event() {}
func (*ResizeDBEvent) event() {}
func (*AuxEvent) event()      {}
func (*KeyValueEvent) event() {}
func (*CommandEvent) event()  {}

// Value is the decoded logical form of a snapshot object. Container
// encodings (ziplist, listpack, intset, quicklist, zipmap) never reach
// the handler; they collapse into one of the shapes below.
type Value interface {
	value()
}

// StringValue represents a String value
type StringValue struct {
	Value string
}

// ListValue represents a List value, in master order
type ListValue struct {
	Elements []string
}

// SetValue represents a Set value
type SetValue struct {
	Members []string
}

// ZSetMember is one member of a sorted set
type ZSetMember struct {
	Member string
	Score  float64
}

// ZSetValue represents a SortedSet value, in master order
type ZSetValue struct {
	Members []ZSetMember
}

// HashValue represents a Hash value
type HashValue struct {
	Fields map[string]string
}

// StreamEntry is one id-ordered stream entry
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// StreamPending is one pending-entries-list record
type StreamPending struct {
	ID            string
	DeliveryTime  int64
	DeliveryCount uint64
}

// StreamConsumer is one consumer inside a group
type StreamConsumer struct {
	Name       string
	SeenTime   int64
	ActiveTime int64 // only present for stream v3, otherwise SeenTime
	Pending    []string
}

// StreamGroup carries one consumer group's state
type StreamGroup struct {
	Name            string
	LastDeliveredID string
	EntriesRead     int64
	Pending         []StreamPending
	Consumers       []StreamConsumer
}

// StreamValue represents a Stream value with its consumer-group state
type StreamValue struct {
	Entries      []StreamEntry
	Length       uint64
	LastID       string
	FirstID      string
	MaxDeletedID string
	EntriesAdded uint64
	Groups       []StreamGroup
}

// ModuleValue carries an opaque module-2 payload. Raw is the byte
// sequence after the module ID, up to and including the module EOF
// opcode.
type ModuleValue struct {
	ID      uint64 // 64-bit module ID (9-char name + version)
	Name    string
	Version int
	Raw     []byte
}

func (*StringValue) value() {}
func (*ListValue) value()   {}
func (*SetValue) value()    {}
func (*ZSetValue) value()   {}
func (*HashValue) value()   {}
func (*StreamValue) value() {}
func (*ModuleValue) value() {}
