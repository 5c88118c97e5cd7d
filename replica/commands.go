package replica

import "strings"

// Command tags each recognized write command from the replication
// stream. Frames whose name is not in the table map to CmdUnknown and
// still advance the offset by their exact byte count.
type Command int

const (
	CmdUnknown Command = iota

	// connection / server
	CmdSelect
	CmdPing
	CmdReplconf
	CmdFlushDB
	CmdFlushAll
	CmdSwapDB
	CmdDebug
	CmdRestore
	CmdCopy
	CmdObject
	CmdWait

	// strings
	CmdSet
	CmdSetEx
	CmdPSetEx
	CmdSetNx
	CmdMSet
	CmdMSetNx
	CmdAppend
	CmdSetRange
	CmdIncr
	CmdDecr
	CmdIncrBy
	CmdDecrBy
	CmdIncrByFloat

	// keyspace
	CmdDel
	CmdUnlink
	CmdExpire
	CmdExpireAt
	CmdPExpire
	CmdPExpireAt
	CmdPersist
	CmdRename
	CmdRenameNx

	// lists
	CmdRPush
	CmdLPush
	CmdRPushX
	CmdLPushX
	CmdLInsert
	CmdLSet
	CmdLPop
	CmdRPop
	CmdLRem
	CmdLTrim
	CmdRPopLPush
	CmdBRPopLPush
	CmdLMove

	// sets
	CmdSAdd
	CmdSRem
	CmdSMove
	CmdSPop
	CmdSDiffStore
	CmdSInterStore
	CmdSUnionStore

	// sorted sets
	CmdZAdd
	CmdZRem
	CmdZIncrBy
	CmdZPopMin
	CmdZPopMax
	CmdZRemRangeByScore
	CmdZRemRangeByRank
	CmdZRemRangeByLex
	CmdZUnionStore
	CmdZInterStore

	// hashes
	CmdHSet
	CmdHMSet
	CmdHSetNx
	CmdHDel
	CmdHIncrBy
	CmdHIncrByFloat

	// streams
	CmdXAdd
	CmdXDel
	CmdXTrim
	CmdXSetID
	CmdXClaim
	CmdXGroup

	// geo / hyperloglog / pubsub / scripting / transactions
	CmdGeoAdd
	CmdPFAdd
	CmdPFCount
	CmdPFMerge
	CmdPublish
	CmdScript
	CmdEval
	CmdEvalSha
	CmdMulti
	CmdExec
	CmdDiscard
)

var commandNames = map[Command]string{
	CmdUnknown:          "UNKNOWN",
	CmdSelect:           "SELECT",
	CmdPing:             "PING",
	CmdReplconf:         "REPLCONF",
	CmdFlushDB:          "FLUSHDB",
	CmdFlushAll:         "FLUSHALL",
	CmdSwapDB:           "SWAPDB",
	CmdDebug:            "DEBUG",
	CmdRestore:          "RESTORE",
	CmdCopy:             "COPY",
	CmdObject:           "OBJECT",
	CmdWait:             "WAIT",
	CmdSet:              "SET",
	CmdSetEx:            "SETEX",
	CmdPSetEx:           "PSETEX",
	CmdSetNx:            "SETNX",
	CmdMSet:             "MSET",
	CmdMSetNx:           "MSETNX",
	CmdAppend:           "APPEND",
	CmdSetRange:         "SETRANGE",
	CmdIncr:             "INCR",
	CmdDecr:             "DECR",
	CmdIncrBy:           "INCRBY",
	CmdDecrBy:           "DECRBY",
	CmdIncrByFloat:      "INCRBYFLOAT",
	CmdDel:              "DEL",
	CmdUnlink:           "UNLINK",
	CmdExpire:           "EXPIRE",
	CmdExpireAt:         "EXPIREAT",
	CmdPExpire:          "PEXPIRE",
	CmdPExpireAt:        "PEXPIREAT",
	CmdPersist:          "PERSIST",
	CmdRename:           "RENAME",
	CmdRenameNx:         "RENAMENX",
	CmdRPush:            "RPUSH",
	CmdLPush:            "LPUSH",
	CmdRPushX:           "RPUSHX",
	CmdLPushX:           "LPUSHX",
	CmdLInsert:          "LINSERT",
	CmdLSet:             "LSET",
	CmdLPop:             "LPOP",
	CmdRPop:             "RPOP",
	CmdLRem:             "LREM",
	CmdLTrim:            "LTRIM",
	CmdRPopLPush:        "RPOPLPUSH",
	CmdBRPopLPush:       "BRPOPLPUSH",
	CmdLMove:            "LMOVE",
	CmdSAdd:             "SADD",
	CmdSRem:             "SREM",
	CmdSMove:            "SMOVE",
	CmdSPop:             "SPOP",
	CmdSDiffStore:       "SDIFFSTORE",
	CmdSInterStore:      "SINTERSTORE",
	CmdSUnionStore:      "SUNIONSTORE",
	CmdZAdd:             "ZADD",
	CmdZRem:             "ZREM",
	CmdZIncrBy:          "ZINCRBY",
	CmdZPopMin:          "ZPOPMIN",
	CmdZPopMax:          "ZPOPMAX",
	CmdZRemRangeByScore: "ZREMRANGEBYSCORE",
	CmdZRemRangeByRank:  "ZREMRANGEBYRANK",
	CmdZRemRangeByLex:   "ZREMRANGEBYLEX",
	CmdZUnionStore:      "ZUNIONSTORE",
	CmdZInterStore:      "ZINTERSTORE",
	CmdHSet:             "HSET",
	CmdHMSet:            "HMSET",
	CmdHSetNx:           "HSETNX",
	CmdHDel:             "HDEL",
	CmdHIncrBy:          "HINCRBY",
	CmdHIncrByFloat:     "HINCRBYFLOAT",
	CmdXAdd:             "XADD",
	CmdXDel:             "XDEL",
	CmdXTrim:            "XTRIM",
	CmdXSetID:           "XSETID",
	CmdXClaim:           "XCLAIM",
	CmdXGroup:           "XGROUP",
	CmdGeoAdd:           "GEOADD",
	CmdPFAdd:            "PFADD",
	CmdPFCount:          "PFCOUNT",
	CmdPFMerge:          "PFMERGE",
	CmdPublish:          "PUBLISH",
	CmdScript:           "SCRIPT",
	CmdEval:             "EVAL",
	CmdEvalSha:          "EVALSHA",
	CmdMulti:            "MULTI",
	CmdExec:             "EXEC",
	CmdDiscard:          "DISCARD",
}

var commandLookup map[string]Command

func init() {
	commandLookup = make(map[string]Command, len(commandNames))
	for cmd, name := range commandNames {
		if cmd == CmdUnknown {
			continue
		}
		commandLookup[name] = cmd
	}
}

// LookupCommand maps a command name (any case) to its tag
func LookupCommand(name string) Command {
	if cmd, ok := commandLookup[strings.ToUpper(name)]; ok {
		return cmd
	}
	return CmdUnknown
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// Suppressed reports whether an inbound frame is consumed for offset
// accounting only and never dispatched to the handler.
func (c Command) Suppressed() bool {
	switch c {
	case CmdReplconf, CmdObject, CmdWait:
		return true
	}
	return false
}
