package engine

import (
	"sync"
)

// conversationLocks serializes turn processing per conversation. Concurrent
// requests for different conversations proceed in parallel; requests for the
// same conversation queue behind one another so the load-mutate-persist cycle
// never interleaves. Entries are never deleted: a deleted entry would let a
// goroutine still queued on the old mutex run alongside one that minted a
// fresh mutex for the same ID.
type conversationLocks struct {
	mu sync.Map // conversationID -> *sync.Mutex
}

func (l *conversationLocks) lock(conversationID string) func() {
	v, _ := l.mu.LoadOrStore(conversationID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
