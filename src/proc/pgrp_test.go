package proc

import (
	"testing"

	"coalos/src/defs"
)

func TestMkSessionMakesLeaderForeground(t *testing.T) {
	leader := MkProc("leader", nil)
	sess := MkSession(leader)
	if !leader.Pgrp.IsForeground() {
		t.Fatalf("expected session leader's group to start foreground")
	}
	if sess.ID != leader.Pid {
		t.Fatalf("expected session id to match leader pid")
	}
}

func TestSetpgidMovesBetweenGroups(t *testing.T) {
	leader := MkProc("leader", nil)
	sess := MkSession(leader)
	member := MkProc("member", leader)
	member.Pgrp = leader.Pgrp
	leader.Pgrp.Members[member.Pid] = member

	newGid := member.Pid
	if err := member.Setpgid(newGid); err != 0 {
		t.Fatalf("setpgid: %v", err)
	}
	if member.Pgrp.ID != newGid {
		t.Fatalf("expected member's group id updated")
	}
	if _, still := leader.Pgrp.Members[member.Pid]; still {
		t.Fatalf("expected member removed from old group")
	}
	if _, ok := sess.Pgrps[newGid]; !ok {
		t.Fatalf("expected new group registered in session")
	}
}

func TestPgrpSignalReachesAllMembers(t *testing.T) {
	leader := MkProc("leader", nil)
	MkSession(leader)
	member := MkProc("member", leader)
	member.Pgrp = leader.Pgrp
	leader.Pgrp.Members[member.Pid] = member

	leader.Pgrp.Signal(5)
	if sig, _, ok := member.CheckPending(); !ok || sig != 5 {
		t.Fatalf("expected member to receive broadcast signal 5")
	}
	if sig, _, ok := leader.CheckPending(); !ok || sig != 5 {
		t.Fatalf("expected leader to receive broadcast signal 5")
	}
}

func TestSetForegroundRejectsUnknownGroup(t *testing.T) {
	leader := MkProc("leader", nil)
	sess := MkSession(leader)
	if err := sess.SetForeground(defs.Pid_t(99999)); err != defs.EINVAL {
		t.Fatalf("expected EINVAL for an unregistered pgid, got %v", err)
	}
}
