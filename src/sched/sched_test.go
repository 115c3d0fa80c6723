package sched

import (
	"testing"

	"coalos/src/proc"
)

func mkProc(name string) *proc.Proc_t {
	return proc.MkProc(name, nil)
}

func TestBitmapReflectsOccupancy(t *testing.T) {
	s := New(mkProc("idle"))
	if s.Bitmap() != 0 {
		t.Fatalf("expected empty bitmap, got %b", s.Bitmap())
	}
	p := mkProc("a")
	s.Enqueue(p, 2)
	if s.Bitmap() != 1<<2 {
		t.Fatalf("expected bit 2 set, got %b", s.Bitmap())
	}
	s.PickNext()
	if s.Bitmap() != 0 {
		t.Fatalf("expected bitmap cleared after dequeue, got %b", s.Bitmap())
	}
}

func TestPickNextPrefersLowestLevel(t *testing.T) {
	s := New(mkProc("idle"))
	low := mkProc("low")
	high := mkProc("high")
	s.Enqueue(low, 3)
	s.Enqueue(high, 0)
	got := s.PickNext()
	if got != high {
		t.Fatalf("expected highest-priority (lowest level) task first")
	}
}

func TestPickNextFallsBackToIdle(t *testing.T) {
	idle := mkProc("idle")
	s := New(idle)
	if got := s.PickNext(); got != idle {
		t.Fatalf("expected idle task when every level is empty")
	}
}

func TestYieldRequeuesAtTail(t *testing.T) {
	s := New(mkProc("idle"))
	a := mkProc("a")
	b := mkProc("b")
	s.Enqueue(a, 1)
	s.Enqueue(b, 1)
	s.PickNext() // picks a, makes it current
	got := s.Yield()
	if got != b {
		t.Fatalf("expected b to run after a yields")
	}
}

func TestSleepRemovesFromRunningAndTickWakesIt(t *testing.T) {
	s := New(mkProc("idle"))
	p := mkProc("sleeper")
	s.Enqueue(p, 0)
	s.PickNext()
	s.Sleep(p, 3)
	if p.Getstate() != proc.SLEEPING {
		t.Fatalf("expected SLEEPING after Sleep")
	}
	for i := 0; i < 3; i++ {
		s.Tick()
	}
	if s.Bitmap()&(1<<0) == 0 {
		t.Fatalf("expected sleeper requeued onto level 0 after deadline")
	}
}

func TestStarvationBoostsPriority(t *testing.T) {
	s := New(mkProc("idle"))
	low := mkProc("low")
	s.Enqueue(low, 2)
	for i := 0; i < StarveTicks; i++ {
		s.Tick()
	}
	if low.SchedLevel != 1 {
		t.Fatalf("expected one-level boost after StarveTicks, level=%d", low.SchedLevel)
	}
}

func TestExitClearsCurrentWithoutRequeue(t *testing.T) {
	s := New(mkProc("idle"))
	p := mkProc("victim")
	s.Enqueue(p, 0)
	s.PickNext()
	s.Exit(p)
	if s.Current() != nil {
		t.Fatalf("expected current cleared after Exit")
	}
	if s.Bitmap() != 0 {
		t.Fatalf("expected no requeue after Exit, bitmap=%b", s.Bitmap())
	}
}
