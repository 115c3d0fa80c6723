// Package bpath canonicalizes paths for the kernel's fd.Cwd_t. It is the
// one place "." and ".." segments are collapsed *before* a path reaches
// the FAT resolver -- the resolver itself rejects any ".." it still sees
// (spec.md section 9: "..\" traversal is explicitly rejected by the path
// resolver; canonicalization must happen in the caller").
package bpath

import "coalos/src/ustr"

// Canonicalize collapses "." and ".." components and repeated slashes in
// an absolute path, returning a clean absolute Ustr. A ".." at the root
// is dropped rather than erroring, matching ordinary shell/libc behavior;
// it is the FAT resolver, not this function, that refuses any ".." that
// survives into a lookup (there should never be one after this pass).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	comps := p.Components()
	out := make([]ustr.Ustr, 0, len(comps))
	for _, c := range comps {
		switch {
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.MkUstr()
	for _, c := range out {
		ret = ret.Extend(c)
	}
	return ret
}

// Split divides a canonical absolute path into its parent directory path
// and final component, e.g. "/a/b/c" -> ("/a/b", "c"). The root itself
// splits to ("/", "").
func Split(p ustr.Ustr) (ustr.Ustr, ustr.Ustr) {
	comps := Canonicalize(p).Components()
	if len(comps) == 0 {
		return ustr.MkUstrRoot(), ustr.MkUstr()
	}
	last := comps[len(comps)-1]
	parent := ustr.MkUstr()
	for _, c := range comps[:len(comps)-1] {
		parent = parent.Extend(c)
	}
	if len(parent) == 0 {
		parent = ustr.MkUstrRoot()
	}
	return parent, last
}

// HasDotDot reports whether any component of p is "..". The FAT resolver
// uses this to implement the documented limitation that ".." traversal
// is rejected rather than resolved (spec.md section 4.3).
func HasDotDot(p ustr.Ustr) bool {
	for _, c := range p.Components() {
		if c.Isdotdot() {
			return true
		}
	}
	return false
}
