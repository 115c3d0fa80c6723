package ustr

import "strings"

// Components splits a path into its non-empty slash-separated parts.
// "/a/b/c" -> ["a","b","c"]; "/" -> [].
func (us Ustr) Components() []Ustr {
	parts := strings.Split(string(us), "/")
	ret := make([]Ustr, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		ret = append(ret, Ustr(p))
	}
	return ret
}

// EqFold compares two Ustr values ignoring ASCII case, used when matching
// a path component against a case-folded 8.3 name.
func (us Ustr) EqFold(s Ustr) bool {
	return strings.EqualFold(string(us), string(s))
}

// Last returns the final path component, or an empty Ustr for "/" or "".
func (us Ustr) Last() Ustr {
	c := us.Components()
	if len(c) == 0 {
		return MkUstr()
	}
	return c[len(c)-1]
}
