package proc

import "coalos/src/defs"

// Exit transitions p to ZOMBIE, tears down everything but the PCB, and
// wakes a parent blocked in Wait (spec.md section 4.7's process state
// machine: "RUNNING ... ZOMBIE via exit; terminal state is ZOMBIE until
// reaped, then destroyed").
func (p *Proc_t) Exit(status int) {
	p.Teardown()

	p.mylock.Lock()
	p.exitStatus = status
	p.hasExited = true
	p.mylock.Unlock()
	p.SetState(ZOMBIE)

	// orphaned children are reparented to pid 1, the way init inherits
	// orphans under ordinary UNIX reaping rules.
	initp := Find(defs.ReservedPids - 1)
	p.mylock.Lock()
	for cpid, c := range p.children {
		c.mylock.Lock()
		c.parent = initp
		if initp != nil {
			c.Ppid = initp.Pid
			initp.mylock.Lock()
			initp.children[cpid] = c
			initp.mylock.Unlock()
		}
		c.mylock.Unlock()
	}
	p.children = nil
	p.mylock.Unlock()

	close(p.waitCh)
}

// WNOHANG mirrors the waitpid option of the same name.
const WNOHANG = 1

// Wait blocks (unless WNOHANG is set) until one of p's children
// matching pid (pid > 0: that child; pid == -1: any child) becomes a
// ZOMBIE, then reaps it: the PCB is dropped from the process table and
// its own resources, already released by Exit's Teardown, are not
// touched twice (spec.md's testable property 10: "resources are freed
// exactly once").
func (p *Proc_t) Wait(pid defs.Pid_t, options int) (defs.Pid_t, int, defs.Err_t) {
	for {
		p.mylock.Lock()
		var target *Proc_t
		for _, c := range p.children {
			if pid != -1 && c.Pid != pid {
				continue
			}
			target = c
			if c.Getstate() == ZOMBIE {
				break
			}
		}
		if target == nil {
			p.mylock.Unlock()
			// spec.md's errno set (section 6) has no ECHILD; EINVAL is
			// the closest of the specified codes for "no such child".
			return 0, 0, defs.EINVAL
		}
		if target.Getstate() != ZOMBIE {
			if options&WNOHANG != 0 {
				p.mylock.Unlock()
				return 0, 0, 0
			}
			ch := target.waitCh
			p.mylock.Unlock()
			<-ch
			continue
		}
		delete(p.children, target.Pid)
		p.mylock.Unlock()

		target.mylock.Lock()
		status := target.exitStatus
		target.mylock.Unlock()
		reclaim(target.Pid)
		return target.Pid, status, 0
	}
}
