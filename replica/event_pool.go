package replica

import "sync"

// KeyValueEvent pool: one event is outstanding per dispatch, so reuse
// avoids an allocation per snapshot entry.
var keyValuePool = sync.Pool{
	New: func() interface{} {
		return &KeyValueEvent{}
	},
}

func getKeyValueEvent() *KeyValueEvent {
	return keyValuePool.Get().(*KeyValueEvent)
}

// recycleEvent returns pooled events after dispatch
func recycleEvent(e Event) {
	if kv, ok := e.(*KeyValueEvent); ok {
		*kv = KeyValueEvent{}
		keyValuePool.Put(kv)
	}
}
