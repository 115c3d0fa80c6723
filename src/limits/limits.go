package limits

import "unsafe"
import "sync/atomic"

/// Lhits counts limit hits.
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits. The teacher's own
/// Syslimit_t also tracked ARP entries, routes, and TCP segments for its
/// network stack; a network stack is an explicit Non-goal here, so those
/// fields are dropped rather than carried dead.
type Syslimit_t struct {
	// protected by the scheduler's run-queue lock
	Sysprocs int
	// vnodes held open across all mounted filesystems
	Vnodes int
	// open file descriptors, summed across all processes
	Fds Sysatomic_t
	// outstanding pipe buffers
	Pipes Sysatomic_t
	// bdev blocks resident in the block buffer cache; blk.Cache_t
	// charges this on every miss so the cache can return ENOMEM
	// (spec.md section 9's buffer-cache-free-size-threading decision)
	// instead of growing without bound.
	Blocks Sysatomic_t
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1e4,
		Vnodes:   20000,
		Fds:      1e5,
		Pipes:    1e4,
		// 8GB of block pages at BSIZE=4096
		Blocks: 1 << 21,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
