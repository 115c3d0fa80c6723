package proc

import (
	"sync"

	"coalos/src/defs"
)

// Sig_t is a process's signal state: a pending bitmask set under lock
// by any sender, consulted only by the process itself at its next
// return to user mode (spec.md section 4.5: "a pending mask is set
// under the PCB's signal lock; handlers are invoked when the process
// next returns to user mode with the signal unblocked"). Delivery is
// explicitly best-effort (spec.md section 9's open questions) -- there
// is no guarantee of prompt delivery to a process blocked indefinitely
// in-kernel, since in-kernel blocking routines do not observe
// cancellation (section 5).
type Sig_t struct {
	sync.Mutex
	Pending  uint32
	Blocked  uint32
	Handlers [defs.MAXSIG]uintptr
}

// handler sentinel values, matching the conventional signal() return
// values: 0 is SIG_DFL, 1 is SIG_IGN.
const (
	SIG_DFL uintptr = 0
	SIG_IGN uintptr = 1
)

func (s *Sig_t) init() {
	s.Lock()
	for i := range s.Handlers {
		s.Handlers[i] = SIG_DFL
	}
	s.Unlock()
}

// unmaskable reports whether sig is SIGKILL or SIGSTOP, which can
// never be masked, ignored, or given a custom handler (spec.md section
// 4.5).
func unmaskable(sig int) bool {
	return sig == defs.SIGKILL || sig == defs.SIGSTOP
}

// Kill posts sig to p. SIGKILL dooms the task immediately through its
// kill note so any in-kernel wait it's blocked in wakes up; other
// signals are only recorded as pending and take effect the next time p
// runs CheckPending.
func (p *Proc_t) Kill(sig int) defs.Err_t {
	if sig < 0 || sig >= defs.MAXSIG {
		return defs.EINVAL
	}
	p.Sig.Lock()
	p.Sig.Pending |= 1 << uint(sig)
	p.Sig.Unlock()
	if sig == defs.SIGKILL {
		p.Tnote.Doom()
	}
	return 0
}

// Sigaction installs handler for sig, refusing SIGKILL/SIGSTOP.
func (p *Proc_t) Sigaction(sig int, handler uintptr) defs.Err_t {
	if sig < 0 || sig >= defs.MAXSIG || unmaskable(sig) {
		return defs.EINVAL
	}
	p.Sig.Lock()
	p.Sig.Handlers[sig] = handler
	p.Sig.Unlock()
	return 0
}

// CheckPending pops the lowest-numbered unblocked pending signal not
// set to SIG_IGN, for the trap layer to invoke on return to user mode.
// A process doomed by SIGKILL always reports SIGKILL first regardless
// of its blocked mask, since SIGKILL cannot be masked.
func (p *Proc_t) CheckPending() (sig int, handler uintptr, ok bool) {
	p.Sig.Lock()
	defer p.Sig.Unlock()
	if p.Sig.Pending&(1<<uint(defs.SIGKILL)) != 0 {
		p.Sig.Pending &^= 1 << uint(defs.SIGKILL)
		return defs.SIGKILL, SIG_DFL, true
	}
	for s := 0; s < defs.MAXSIG; s++ {
		bit := uint32(1) << uint(s)
		if p.Sig.Pending&bit == 0 {
			continue
		}
		if !unmaskable(s) && p.Sig.Blocked&bit != 0 {
			continue
		}
		h := p.Sig.Handlers[s]
		if h == SIG_IGN {
			p.Sig.Pending &^= bit
			continue
		}
		p.Sig.Pending &^= bit
		return s, h, true
	}
	return 0, 0, false
}
