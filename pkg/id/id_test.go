package id

import (
	"testing"
)

func TestNextIsMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		cur := g.Next()
		if cur.Compare(prev) <= 0 {
			t.Fatalf("id %s not greater than %s", cur, prev)
		}
		prev = cur
	}
}

func TestBackwardsClockPinned(t *testing.T) {
	g := NewGenerator()
	orig := nowMs
	defer func() { nowMs = orig }()

	clock := int64(5000)
	nowMs = func() int64 { return clock }

	a := g.Next()
	clock = 4000 // clock regression
	b := g.Next()
	if b.Compare(a) <= 0 {
		t.Fatalf("regressed clock produced non-increasing id: %s then %s", a, b)
	}
}

func TestParseRoundTrip(t *testing.T) {
	g := NewGenerator()
	want := g.Next()
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: %s vs %s", got, want)
	}
	if _, err := Parse("zz"); err == nil {
		t.Fatalf("expected error for bad hex")
	}
	if _, err := Parse("abcd"); err == nil {
		t.Fatalf("expected error for short input")
	}
}
