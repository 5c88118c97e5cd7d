package replica

import "errors"

// Highest snapshot format version this decoder understands
const maxRDBVersion = 11

// Sanity cap on LZF uncompressed lengths
const maxLZFOutput = 1 << 32

// RDB opcodes
const (
	opcodeFunction2 = 245  // function library payload (RDB v10+)
	opcodeFunction  = 246  // pre-release function format, rejected
	opcodeModuleAux = 247  // module auxiliary data
	opcodeIdle      = 0xF8 // LRU idle time, attaches to the next key
	opcodeFreq      = 0xF9 // LFU frequency, attaches to the next key
	opcodeAux       = 0xFA // auxiliary metadata field
	opcodeResizeDB  = 0xFB // hash table size hints
	opcodeExpireMs  = 0xFC // expiry in milliseconds, 8-byte LE
	opcodeExpireSec = 0xFD // expiry in seconds, 4-byte LE
	opcodeSelectDB  = 0xFE // database selector
	opcodeEOF       = 0xFF // end of snapshot, followed by CRC-64
)

// RDB value types, Redis's canonical numbering
const (
	typeString           = 0
	typeList             = 1
	typeSet              = 2
	typeZSet             = 3 // legacy ASCII double scores
	typeHash             = 4
	typeZSet2            = 5 // binary double scores
	typeModule           = 6 // pre-module2, unparseable without the module
	typeModule2          = 7
	typeHashZipmap       = 9
	typeListZiplist      = 10
	typeSetIntset        = 11
	typeZSetZiplist      = 12
	typeHashZiplist      = 13
	typeListQuicklist    = 14
	typeStreamListpacks  = 15
	typeHashListpack     = 16
	typeZSetListpack     = 17
	typeListQuicklist2   = 18
	typeStreamListpacks2 = 19
	typeSetListpack      = 20
	typeStreamListpacks3 = 21
)

// String special encodings (length decode with the top bits 11)
const (
	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
	encLZF   = 3
)

// Quicklist2 node containers
const (
	quicklistNodePlain  = 1
	quicklistNodePacked = 2
)

// Legacy double one-byte tags
const (
	doubleNaN    = 253
	doublePosInf = 254
	doubleNegInf = 255
)

// Stream entry flags inside entry listpacks
const (
	streamItemFlagDeleted    = 1 << 0
	streamItemFlagSameFields = 1 << 1
)

// Format errors surfaced by the snapshot decoder
var (
	ErrInvalidMagic       = errors.New("replica: invalid RDB magic")
	ErrUnsupportedVersion = errors.New("replica: unsupported RDB version")
	ErrChecksumMismatch   = errors.New("replica: RDB checksum mismatch")
	ErrInvalidLength      = errors.New("replica: invalid length encoding")
	ErrInvalidEncoding    = errors.New("replica: invalid object encoding")
)
