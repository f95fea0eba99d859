package handler

import (
	"container/list"
	"sync"
	"sync/atomic"
)

var waiterIDCounter uint64

// NextWaiterID mints a process-wide unique waiter id for Register/Notify
// bookkeeping.
func NextWaiterID() uint64 {
	return atomic.AddUint64(&waiterIDCounter, 1)
}

// Waiter is a one-shot signal a blocked caller can be woken through. Ch is
// closed at most once, only by Notify (value available); a caller that
// times out calls Unregister and leaves Ch open. A Waiter must never be
// reused.
type Waiter struct {
	ID uint64
	Ch chan struct{}
}

// WaiterRegistry is a per-key FIFO of waiters, shared by BLPOP and
// XREAD BLOCK. Generalized from the teacher's BlockingManager, which was
// list-pop-specific (it carried BLMOVE destination-key plumbing this spec
// has no use for, since BLMOVE is not a supported command).
type WaiterRegistry struct {
	mu sync.Mutex

	// Reverse index: key -> FIFO of waiters blocked on it.
	byKey map[string]*list.List
	// Forward index: waiter id -> where it lives in byKey's lists, for
	// O(1) removal on every exit path (timeout, notify, connection close).
	regsByID map[uint64][]registration
}

type registration struct {
	key  string
	elem *list.Element
}

func NewWaiterRegistry() *WaiterRegistry {
	return &WaiterRegistry{
		byKey:    make(map[string]*list.List),
		regsByID: make(map[uint64][]registration),
	}
}

// Register appends w to the FIFO for every key in keys.
func (r *WaiterRegistry) Register(keys []string, w *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := make([]registration, 0, len(keys))
	for _, key := range keys {
		if r.byKey[key] == nil {
			r.byKey[key] = list.New()
		}
		elem := r.byKey[key].PushBack(w)
		regs = append(regs, registration{key: key, elem: elem})
	}
	r.regsByID[w.ID] = regs
}

// Unregister removes w from every key it was registered under. Safe to
// call after Notify already removed it.
func (r *WaiterRegistry) Unregister(w *Waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(w.ID)
}

func (r *WaiterRegistry) removeLocked(id uint64) {
	regs, ok := r.regsByID[id]
	if !ok {
		return
	}
	for _, reg := range regs {
		if l := r.byKey[reg.key]; l != nil {
			l.Remove(reg.elem)
			if l.Len() == 0 {
				delete(r.byKey, reg.key)
			}
		}
	}
	delete(r.regsByID, id)
}

// Notify wakes up to n waiters from the head of key's FIFO and returns how
// many were actually signaled. Each produced element wakes at most one
// waiter, so callers pass n == items made available by the write.
func (r *WaiterRegistry) Notify(key string, n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	woken := 0
	for woken < n {
		l := r.byKey[key]
		if l == nil || l.Len() == 0 {
			break
		}
		front := l.Front()
		w := front.Value.(*Waiter)
		r.removeLocked(w.ID)
		close(w.Ch)
		woken++
	}
	return woken
}
