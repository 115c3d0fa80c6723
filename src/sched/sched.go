// Package sched implements the single-CPU, preemptive, priority-level
// run queue spec.md section 4.6 describes. Like proc, the retrieval
// pack's copy of this package ships only a go.mod; there is no
// sched.go to port. The run-queue/bitmap shape, the tick-driven
// quantum and sleep-deadline draining, and the starvation boost are
// all authored directly from spec.md section 4.6's prose, using
// math/bits.TrailingZeros32 for the "find first set bit → O(1) in
// machine words" next-task selection it calls for -- no third-party
// bitset library in the retrieval pack does that lookup any more
// directly than the standard library already does (see DESIGN.md).
package sched

import (
	"math/bits"
	"sync"

	"coalos/src/proc"
)

// NumLevels is the fixed count of priority run-queue levels (spec.md
// section 4.6: "N levels (source uses a small fixed N)"). Level 0 is
// highest priority; NumLevels-1 is the idle task's level.
const NumLevels = 4

// quantumFor returns level's fixed time-slice quantum in ticks. Lower
// (higher-priority) levels get a shorter quantum so a starved
// high-priority task is rescheduled to check readiness more often;
// this particular scaling is this package's own choice, since spec.md
// only requires "fixed per-level quantum", not a specific curve.
func quantumFor(level int) int {
	return 2 * (level + 1)
}

// StarveTicks is how many ticks a READY task may wait before it earns
// a one-level priority boost (spec.md section 4.6: "tasks starved
// beyond a threshold receive a one-level boost").
const StarveTicks = 40

type sleeper_t struct {
	p        *proc.Proc_t
	deadline uint64
}

// Sched_t is the scheduler singleton. Every field is guarded by mu;
// there is exactly one instance per kernel (spec.md section 5: "Single-
// CPU... There are no parallel kernel threads").
type Sched_t struct {
	mu sync.Mutex

	levels  [NumLevels][]*proc.Proc_t
	bitmap  uint32
	sleepers []*sleeper_t

	current *proc.Proc_t
	idle    *proc.Proc_t

	ticks uint64
}

// New constructs an empty scheduler with idle installed at the lowest
// level.
func New(idle *proc.Proc_t) *Sched_t {
	s := &Sched_t{idle: idle}
	idle.SchedLevel = NumLevels - 1
	return s
}

// setBit/clearBit keep the bitmap in sync with queue
// occupancy (spec.md's invariant: "the bitmap bit for level L is set
// iff level L's FIFO is non-empty").
func (s *Sched_t) setBit(level int)   { s.bitmap |= 1 << uint(level) }
func (s *Sched_t) clearBit(level int) { s.bitmap &^= 1 << uint(level) }

// Enqueue places p at the tail of level's FIFO, READY, with a fresh
// quantum.
func (s *Sched_t) Enqueue(p *proc.Proc_t, level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(p, level)
}

func (s *Sched_t) enqueueLocked(p *proc.Proc_t, level int) {
	p.SchedLevel = level
	p.SchedRemain = quantumFor(level)
	p.SchedWaitTicks = 0
	p.SetState(proc.READY)
	s.levels[level] = append(s.levels[level], p)
	s.setBit(level)
}

func (s *Sched_t) dequeueHeadLocked(level int) *proc.Proc_t {
	q := s.levels[level]
	if len(q) == 0 {
		return nil
	}
	p := q[0]
	s.levels[level] = q[1:]
	if len(s.levels[level]) == 0 {
		s.clearBit(level)
	}
	return p
}

// PickNext selects the highest non-empty level's head task (spec.md
// testable property 7), or the idle task when every level is empty,
// and marks it RUNNING.
func (s *Sched_t) PickNext() *proc.Proc_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickNextLocked()
}

func (s *Sched_t) pickNextLocked() *proc.Proc_t {
	if s.bitmap == 0 {
		s.current = s.idle
		s.idle.SetState(proc.RUNNING)
		return s.idle
	}
	level := bits.TrailingZeros32(s.bitmap)
	p := s.dequeueHeadLocked(level)
	p.SetState(proc.RUNNING)
	s.current = p
	return p
}

// Current returns the task the scheduler believes is running.
func (s *Sched_t) Current() *proc.Proc_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Yield moves the current task to the tail of its own level and picks
// the next one (spec.md section 4.6: "Voluntary yield: moves the
// current task to its level's tail and picks next").
func (s *Sched_t) Yield() *proc.Proc_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	if cur != nil && cur != s.idle {
		s.enqueueLocked(cur, cur.SchedLevel)
	}
	return s.pickNextLocked()
}

// Sleep removes the current task from the running slot, records a
// wakeup deadline "ticks" ticks from now, and places it on the sleep
// list ordered by deadline (spec.md section 4.6: "a task sleeping for
// N ticks records a wakeup deadline... placed on a sleep list ordered
// by deadline").
func (s *Sched_t) Sleep(p *proc.Proc_t, ticksFromNow int) *proc.Proc_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.SetState(proc.SLEEPING)
	p.SleepDeadline = s.ticks + uint64(ticksFromNow)
	s.insertSleeperLocked(p)
	if s.current == p {
		s.current = nil
	}
	return s.pickNextLocked()
}

func (s *Sched_t) insertSleeperLocked(p *proc.Proc_t) {
	sl := &sleeper_t{p: p, deadline: p.SleepDeadline}
	i := 0
	for i < len(s.sleepers) && s.sleepers[i].deadline <= sl.deadline {
		i++
	}
	s.sleepers = append(s.sleepers, nil)
	copy(s.sleepers[i+1:], s.sleepers[i:])
	s.sleepers[i] = sl
}

// Tick advances the clock by one, ages and possibly boosts READY
// tasks, drains expired sleepers into their levels, and charges the
// running task's quantum, rotating it to its level's tail if it
// expires. It does not itself call PickNext; the caller (the trap
// layer's timer handler) does that once EOI has already been sent
// (spec.md section 4.7: "the timer handler sends EOI before invoking
// the scheduler tick").
func (s *Sched_t) Tick() (expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++

	for i := 0; i < len(s.sleepers); {
		sl := s.sleepers[i]
		if sl.deadline > s.ticks {
			break
		}
		s.sleepers = append(s.sleepers[:i], s.sleepers[i+1:]...)
		s.enqueueLocked(sl.p, sl.p.SchedLevel)
	}

	for lvl := 0; lvl < NumLevels; lvl++ {
		for _, p := range s.levels[lvl] {
			p.SchedWaitTicks++
			if p.SchedWaitTicks >= StarveTicks && lvl > 0 {
				s.boostLocked(p, lvl)
			}
		}
	}

	cur := s.current
	if cur == nil || cur == s.idle {
		return false
	}
	cur.SchedRemain--
	if cur.SchedRemain > 0 {
		return false
	}
	s.enqueueLocked(cur, cur.SchedLevel)
	s.current = nil
	return true
}

// boostLocked moves p up one priority level, gives it the new level's
// quantum, and resets its starvation counter. The boost is permanent:
// p stays at the boosted level afterwards, and its earlier level is not
// restored when it next runs. The caller must already hold mu and p must currently be resident in
// s.levels[lvl].
func (s *Sched_t) boostLocked(p *proc.Proc_t, lvl int) {
	q := s.levels[lvl]
	for i, t := range q {
		if t == p {
			s.levels[lvl] = append(q[:i], q[i+1:]...)
			if len(s.levels[lvl]) == 0 {
				s.clearBit(lvl)
			}
			break
		}
	}
	s.enqueueLocked(p, lvl-1)
}

// Exit removes p from its running slot without requeueing it; the
// caller (proc.Proc_t.Exit, invoked from the syscall path) has already
// transitioned it to ZOMBIE.
func (s *Sched_t) Exit(p *proc.Proc_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == p {
		s.current = nil
	}
}

// Bitmap exposes the live priority bitmap, for tests asserting spec.md
// testable property 6 ("the priority bitmap reflects queue
// non-emptiness").
func (s *Sched_t) Bitmap() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitmap
}
