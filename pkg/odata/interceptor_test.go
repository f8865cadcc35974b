package odata

import (
	"testing"
)

func TestObserve_RecordsTop(t *testing.T) {
	tracker := &TopTracker{}
	b := Observe(NewQuery(), tracker)

	b.Top(42)

	got, ok := tracker.Observed()
	if !ok {
		t.Fatal("tracker did not observe the Top call")
	}
	if got != 42 {
		t.Errorf("observed = %d, want 42", got)
	}
}

func TestObserve_NoTopCall(t *testing.T) {
	tracker := &TopTracker{}
	b := Observe(NewQuery(), tracker)

	b.Select("Id").Filter("Status eq 'Open'").OrderBy("Title", true).Skip(10)

	if _, ok := tracker.Observed(); ok {
		t.Error("tracker observed a Top call that never happened")
	}
}

// Chained results must stay observable: a Top call several links deep in the
// chain is still recorded.
func TestObserve_NestedChainStaysObservable(t *testing.T) {
	tracker := &TopTracker{}
	b := Observe(NewQuery(), tracker)

	b.Select("Id").Filter("Active eq 1").Top(7).OrderBy("Id", true)

	got, ok := tracker.Observed()
	if !ok {
		t.Fatal("Top call in the middle of a chain was not observed")
	}
	if got != 7 {
		t.Errorf("observed = %d, want 7", got)
	}
}

func TestObserve_LastTopWins(t *testing.T) {
	tracker := &TopTracker{}
	b := Observe(NewQuery(), tracker)

	b.Top(5).Top(9)

	got, _ := tracker.Observed()
	if got != 9 {
		t.Errorf("observed = %d, want the later Top call to win", got)
	}
}

// The decorator must be a pure observation layer: the composed query is
// byte-identical with and without it.
func TestObserve_Transparent(t *testing.T) {
	build := func(b Builder) Builder {
		return b.Select("Id", "Title").Filter("Status eq 'Open'").Top(3).Skip(6)
	}

	plain := build(NewQuery()).Values()
	wrapped := build(Observe(NewQuery(), &TopTracker{})).Values()

	if plain.Encode() != wrapped.Encode() {
		t.Errorf("decorator altered the query:\nplain   = %s\nwrapped = %s",
			plain.Encode(), wrapped.Encode())
	}
}
