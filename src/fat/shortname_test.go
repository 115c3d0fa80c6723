package fat

import "testing"

func TestShortNameForFitsWithoutCollision(t *testing.T) {
	got := shortNameFor("readme.txt", func([11]byte) bool { return false })
	want := pack8_3("README", "TXT")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestShortNameForSanitizesAndUppercases(t *testing.T) {
	got := shortNameFor("my file!.c", func([11]byte) bool { return false })
	want := pack8_3("MYFILE!", "C")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestShortNameForFallsBackToTildeSuffixOnCollision(t *testing.T) {
	taken := map[[11]byte]bool{pack8_3("README", "TXT"): true}
	got := shortNameFor("readme.txt", func(cand [11]byte) bool { return taken[cand] })
	want := pack8_3("README~1", "TXT")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestShortNameForAdvancesSuffixPastMultipleCollisions(t *testing.T) {
	taken := map[[11]byte]bool{
		pack8_3("README", "TXT"):   true,
		pack8_3("README~1", "TXT"): true,
		pack8_3("README~2", "TXT"): true,
	}
	got := shortNameFor("readme.txt", func(cand [11]byte) bool { return taken[cand] })
	want := pack8_3("README~3", "TXT")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestShortNameForTruncatesLongExtension(t *testing.T) {
	got := shortNameFor("x.jpeg", func([11]byte) bool { return false })
	want := pack8_3("X", "JPE")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSplitExtHandlesDotAndDotDot(t *testing.T) {
	if b, e := splitExt("."); b != "." || e != "" {
		t.Fatalf("got base=%q ext=%q", b, e)
	}
	if b, e := splitExt(".."); b != ".." || e != "" {
		t.Fatalf("got base=%q ext=%q", b, e)
	}
}

func TestSplitExtHandlesLeadingDotfile(t *testing.T) {
	// a leading dot is not an extension separator, matching shell dotfile
	// conventions rather than treating ".bashrc" as an empty base
	b, e := splitExt(".bashrc")
	if b != ".bashrc" || e != "" {
		t.Fatalf("got base=%q ext=%q", b, e)
	}
}
