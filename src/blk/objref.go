package blk

import "sync"

// Objref_t is the reference count and eviction-wait state attached to
// one cached block. It exists so Cache_t can tell apart "still held by
// a caller" from "only reachable through the cache" when deciding what
// to evict, the same distinction the teacher's cache packages
// (referenced but not shipped in blk.go itself -- only its *Objref_t
// field survived in the retrieval pack) draw between a pinned and an
// evictable entry.
type Objref_t struct {
	sync.Mutex
	count int
	evict chan bool
}

// MkObjref returns a fresh, unheld reference record.
func MkObjref() *Objref_t {
	return &Objref_t{evict: make(chan bool, 1)}
}

// Up records a new holder.
func (o *Objref_t) Up() {
	o.Lock()
	o.count++
	o.Unlock()
}

// Down drops a holder, returning true when no holder remains.
func (o *Objref_t) Down() bool {
	o.Lock()
	defer o.Unlock()
	if o.count <= 0 {
		panic("objref underflow")
	}
	o.count--
	return o.count == 0
}

// Held reports whether any holder remains.
func (o *Objref_t) Held() bool {
	o.Lock()
	defer o.Unlock()
	return o.count > 0
}
