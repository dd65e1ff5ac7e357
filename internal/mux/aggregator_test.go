package mux

import (
	"testing"

	"github.com/groblegark/coop/internal/wire"
)

func TestAggregatorLatestWins(t *testing.T) {
	a := NewAggregator()
	a.Update("s1", wire.ScreenEntry{Session: "s1", Lines: []string{"old"}})
	a.Update("s1", wire.ScreenEntry{Session: "s1", Lines: []string{"new"}})
	a.Update("s2", wire.ScreenEntry{Session: "s2", Lines: []string{"other"}})

	entries := a.Flush()
	if len(entries) != 2 {
		t.Fatalf("flush returned %d entries", len(entries))
	}
	for _, e := range entries {
		if e.Session == "s1" && e.Lines[0] != "new" {
			t.Fatalf("stale screen survived: %+v", e)
		}
	}

	// Nothing staged after a flush.
	if again := a.Flush(); again != nil {
		t.Fatalf("second flush = %+v", again)
	}
}

func TestAggregatorANSIDedup(t *testing.T) {
	a := NewAggregator()
	entry := wire.ScreenEntry{Session: "s1", Lines: []string{"x"}, ANSI: []string{"\x1b[31mx\x1b[m"}}

	a.Update("s1", entry)
	first := a.Flush()
	if first[0].ANSI == nil {
		t.Fatal("first flush dropped ansi")
	}

	// Identical ansi next tick: omitted.
	a.Update("s1", entry)
	second := a.Flush()
	if second[0].ANSI != nil {
		t.Fatalf("unchanged ansi resent: %+v", second[0])
	}
	if second[0].Lines[0] != "x" {
		t.Fatal("plain lines must always be present")
	}

	// Changed ansi: sent again.
	changed := entry
	changed.ANSI = []string{"\x1b[32mx\x1b[m"}
	a.Update("s1", changed)
	third := a.Flush()
	if third[0].ANSI == nil {
		t.Fatal("changed ansi omitted")
	}
}

func TestAggregatorRemoveForgets(t *testing.T) {
	a := NewAggregator()
	a.Update("s1", wire.ScreenEntry{Session: "s1", Lines: []string{"x"}})
	a.Remove("s1")
	if entries := a.Flush(); entries != nil {
		t.Fatalf("flush after remove = %+v", entries)
	}
}
