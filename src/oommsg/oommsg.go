// Package oommsg carries out-of-memory notices from mem.Physmem_t's
// page allocator to whatever reclaim daemon is listening. CoalOS has
// no page-out/swap daemon (Memory Core's backing store is a host
// arena, not swappable disk), and nothing in this tree listens on
// OomCh; callers get a non-blocking send that falls straight through
// to an allocation failure.
package oommsg

/// OomCh is notified when the system runs out of memory.
var OomCh chan Oommsg_t = make(chan Oommsg_t)

/// Oommsg_t is sent on OomCh when memory is exhausted.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}
