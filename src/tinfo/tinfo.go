// Package tinfo tracks the kill/doom state the scheduler and process
// model need to tear a task down safely. The teacher's own tinfo.go
// locates the current thread's note through a per-goroutine pointer
// (runtime.Gptr/Setgptr) stored by a fork of the Go runtime; this module
// targets the stock runtime and has no SMP to hide behind (spec.md's
// Non-goals exclude SMP), so "current" is tracked explicitly by the
// scheduler (sched.Sched_t.Current) instead of through hidden
// thread-local storage -- see DESIGN.md.
package tinfo

import (
	"sync"

	"coalos/src/defs"
)

// Tnote_t stores per-task kill/doom state consulted on the path back to
// user mode and during waitpid-driven teardown.
type Tnote_t struct {
	Alive    bool
	Killed   bool
	Isdoomed bool
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the task is marked for forced termination
// (SIGKILL or a fatal, unhandled signal).
func (t *Tnote_t) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Isdoomed
}

// Doom marks the task doomed and wakes anyone waiting on Killnaps.Killch.
func (t *Tnote_t) Doom() {
	t.Lock()
	t.Isdoomed = true
	t.Killed = true
	t.Unlock()
	select {
	case t.Killnaps.Killch <- true:
	default:
	}
}

// Threadinfo_t is the kernel-wide registry of live task notes, keyed by
// tid. proc.Proc_t registers its note at creation and deregisters it
// in Teardown, when the process exits.
type Threadinfo_t struct {
	sync.Mutex
	Notes map[defs.Tid_t]*Tnote_t
}

// Init (re)initializes an empty registry.
func (t *Threadinfo_t) Init() {
	t.Lock()
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
	t.Unlock()
}

// Register installs a fresh note for tid and returns it.
func (t *Threadinfo_t) Register(tid defs.Tid_t) *Tnote_t {
	n := &Tnote_t{Alive: true}
	n.Killnaps.Killch = make(chan bool, 1)
	t.Lock()
	t.Notes[tid] = n
	t.Unlock()
	return n
}

// Find returns tid's note, or nil if it has no note (already exited).
func (t *Threadinfo_t) Find(tid defs.Tid_t) *Tnote_t {
	t.Lock()
	defer t.Unlock()
	return t.Notes[tid]
}

// Remove deregisters tid's note once the task is fully torn down.
func (t *Threadinfo_t) Remove(tid defs.Tid_t) {
	t.Lock()
	delete(t.Notes, tid)
	t.Unlock()
}
