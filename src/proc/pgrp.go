package proc

import (
	"sync"

	"coalos/src/defs"
)

// Pgrp_t and Session_t form the process-group/session graph spec.md
// section 4.5 names alongside the parent/child/sibling graph: "the
// session/pgrp graph supports process-group signal delivery and
// terminal foreground-group queries."
type Pgrp_t struct {
	ID      defs.Pid_t
	Session *Session_t

	mu      sync.Mutex
	Members map[defs.Pid_t]*Proc_t
}

type Session_t struct {
	ID defs.Pid_t

	mu             sync.Mutex
	Pgrps          map[defs.Pid_t]*Pgrp_t
	ForegroundPgrp defs.Pid_t
}

// MkSession creates a new session with leader as both session and
// process-group leader, the way setsid() establishes both atomically.
func MkSession(leader *Proc_t) *Session_t {
	sess := &Session_t{ID: leader.Pid, Pgrps: make(map[defs.Pid_t]*Pgrp_t)}
	pg := &Pgrp_t{ID: leader.Pid, Session: sess, Members: make(map[defs.Pid_t]*Proc_t)}
	pg.Members[leader.Pid] = leader
	sess.Pgrps[pg.ID] = pg
	sess.ForegroundPgrp = pg.ID
	leader.Pgrp = pg
	return sess
}

// Setpgid moves p into group pgid within its current session, creating
// the group if this is its first member.
func (p *Proc_t) Setpgid(pgid defs.Pid_t) defs.Err_t {
	if p.Pgrp == nil {
		return defs.EINVAL
	}
	sess := p.Pgrp.Session
	sess.mu.Lock()
	defer sess.mu.Unlock()

	old := p.Pgrp
	pg, ok := sess.Pgrps[pgid]
	if !ok {
		pg = &Pgrp_t{ID: pgid, Session: sess, Members: make(map[defs.Pid_t]*Proc_t)}
		sess.Pgrps[pgid] = pg
	}

	old.mu.Lock()
	delete(old.Members, p.Pid)
	old.mu.Unlock()

	pg.mu.Lock()
	pg.Members[p.Pid] = p
	pg.mu.Unlock()

	p.Pgrp = pg
	return 0
}

// Signal delivers sig to every member of pg -- the mechanism
// foreground-group Ctrl-C/Ctrl-Z delivery and job-control kill(-pgid,
// sig) both reduce to.
func (pg *Pgrp_t) Signal(sig int) defs.Err_t {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	for _, m := range pg.Members {
		m.Kill(sig)
	}
	return 0
}

// IsForeground reports whether pg is its session's foreground group,
// the check a terminal driver makes before delivering a generated
// signal (e.g. SIGINT on ^C) only to the group currently owning it.
func (pg *Pgrp_t) IsForeground() bool {
	pg.Session.mu.Lock()
	defer pg.Session.mu.Unlock()
	return pg.Session.ForegroundPgrp == pg.ID
}

// SetForeground assigns pgid as the session's foreground group (a
// terminal ioctl in a real kernel; exposed here as the primitive a
// future TIOCSPGRP equivalent would call).
func (sess *Session_t) SetForeground(pgid defs.Pid_t) defs.Err_t {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if _, ok := sess.Pgrps[pgid]; !ok {
		return defs.EINVAL
	}
	sess.ForegroundPgrp = pgid
	return 0
}
