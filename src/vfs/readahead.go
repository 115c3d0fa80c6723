package vfs

// Per-file-handle read-ahead (spec.md section 4.4.1): a small fixed
// set of windows, coarse-LRU by last-access counter, populated after a
// driver read larger than raFillThreshold.

const (
	raSlots         = 4
	raWindow        = 8 * 1024
	raFillThreshold = 512
)

type rawindow_t struct {
	valid    bool
	start    int
	data     []byte
	lastUsed uint64
}

type readahead_t struct {
	slots [raSlots]rawindow_t
	clock uint64
	hits  int64
	misses int64
}

func newReadahead() *readahead_t {
	return &readahead_t{}
}

// lookup declares a hit when [off, off+n) lies entirely within one
// window (spec.md: "a read hit is declared when the requested range
// lies entirely within a buffer belonging to the same file handle").
func (r *readahead_t) lookup(off, n int) ([]byte, bool) {
	for i := range r.slots {
		s := &r.slots[i]
		if !s.valid {
			continue
		}
		if off >= s.start && off+n <= s.start+len(s.data) {
			r.clock++
			s.lastUsed = r.clock
			r.hits++
			return s.data[off-s.start : off-s.start+n], true
		}
	}
	r.misses++
	return nil, false
}

// fill installs data (read starting at off) into the least-recently-used
// slot, truncated to raWindow bytes.
func (r *readahead_t) fill(off int, data []byte) {
	n := len(data)
	if n > raWindow {
		n = raWindow
	}
	victim := 0
	for i := range r.slots {
		if !r.slots[i].valid {
			victim = i
			break
		}
		if r.slots[i].lastUsed < r.slots[victim].lastUsed {
			victim = i
		}
	}
	r.clock++
	buf := make([]byte, n)
	copy(buf, data[:n])
	r.slots[victim] = rawindow_t{valid: true, start: off, data: buf, lastUsed: r.clock}
}

// invalidate drops every window, used after a write makes them stale.
func (r *readahead_t) invalidate() {
	for i := range r.slots {
		r.slots[i].valid = false
	}
}
