// Package res bounds how much kernel-side work a single blocking
// operation may perform before it must give up with ENOHEAP rather than
// loop forever -- a cheap stand-in for the real kernel's heap-exhaustion
// detection. vm.Userbuf_t charges one unit per page touched while copying
// to/from user memory; this keeps a single huge read()/write() syscall
// from pinning an unbounded number of pages while copying.
package res

import (
	"sync/atomic"

	"coalos/src/bounds"
)

// Budget is the number of charges a single call site may make before
// res.Resadd_noblock starts refusing. It is deliberately generous --
// large enough that no legitimate single syscall trips it, small enough
// that a runaway loop is caught instead of spinning forever.
const Budget = 1 << 20

var counters [bounds.B_COUNT]int64

// Resadd_noblock charges one unit against b's budget and reports whether
// the charge succeeded. Unlike the real kernel's heap allocator it never
// blocks -- the "noblock" in the name is inherited from the teacher's own
// convention of pairing a blocking and non-blocking variant of the same
// primitive.
func Resadd_noblock(b bounds.Bound_t) bool {
	n := atomic.AddInt64(&counters[b], 1)
	return n <= Budget
}

// Reset clears a bound's counter; used between test cases and by a
// completed syscall to release its charge back to the pool.
func Reset(b bounds.Bound_t) {
	atomic.StoreInt64(&counters[b], 0)
}

// Count reports the current charge against b, for tests.
func Count(b bounds.Bound_t) int64 {
	return atomic.LoadInt64(&counters[b])
}
