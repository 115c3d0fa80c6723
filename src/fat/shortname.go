package fat

import "strings"

// shortNameFor generates the 8.3 on-disk name for name (the last path
// component, extension included; it is split here), colliding against
// taken via the standard "~N" suffix scheme: BASENA~1.EXT,
// BASENA~2.EXT, and so on, matching spec.md section 1's long-filename
// creation Non-goal -- every file CoalOS itself creates gets only a
// short name, never an LFN run.
func shortNameFor(name string, taken func([11]byte) bool) [11]byte {
	base, ext := splitExt(name)
	base = sanitize(base)
	ext = sanitize(ext)
	if len(ext) > 3 {
		ext = ext[:3]
	}

	if len(base) <= 8 {
		cand := pack8_3(base, ext)
		if !taken(cand) {
			return cand
		}
	}
	trunc := base
	if len(trunc) > 6 {
		trunc = trunc[:6]
	}
	for n := 1; n <= 999999; n++ {
		suffix := tildeSuffix(n)
		b := trunc
		if len(b)+len(suffix) > 8 {
			b = b[:8-len(suffix)]
		}
		cand := pack8_3(b+suffix, ext)
		if !taken(cand) {
			return cand
		}
	}
	panic("fat: exhausted 8.3 collision suffixes")
}

func tildeSuffix(n int) string {
	digits := itoa(n)
	return "~" + digits
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func splitExt(name string) (base, ext string) {
	if name == "." || name == ".." {
		return name, ""
	}
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// sanitize upper-cases and drops characters the short-name charset
// disallows (spaces and the handful of punctuation characters FAT
// reserves), matching the FAT specification's "invalid characters are
// dropped, not replaced" convention used by most real implementations.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune("$%'-_@~`!(){}^#&", r):
			b.WriteRune(r)
		default:
			// dropped: space, '.', and everything else reserved by the
			// short-name charset
		}
	}
	return b.String()
}

func pack8_3(base, ext string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], base)
	copy(out[8:11], ext)
	return out
}
