package mux

import (
	"testing"

	"github.com/groblegark/coop/internal/wire"
)

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	created, err := r.Register("a", "http://one:8080", nil)
	if err != nil || !created {
		t.Fatalf("first register: created=%v err=%v", created, err)
	}
	rec1, _ := r.Get("a")

	// Same id + url: no-op, registered_at preserved.
	created, err = r.Register("a", "http://one:8080", nil)
	if err != nil || created {
		t.Fatalf("re-register: created=%v err=%v", created, err)
	}
	rec2, _ := r.Get("a")
	if !rec2.RegisteredAt.Equal(rec1.RegisteredAt) {
		t.Fatal("re-registration changed registered_at")
	}
}

func TestRegisterURLConflict(t *testing.T) {
	r := NewRegistry()
	r.Register("a", "http://one:8080", nil)
	if _, err := r.Register("a", "http://two:8080", nil); err != ErrURLConflict {
		t.Fatalf("conflicting url err = %v", err)
	}
}

func TestRegisterResetsHealthFailures(t *testing.T) {
	r := NewRegistry()
	r.Register("a", "http://one:8080", nil)
	r.HealthFailure("a")
	r.HealthFailure("a")
	r.Register("a", "http://one:8080", nil)
	rec, _ := r.Get("a")
	if rec.HealthFailures != 0 {
		t.Fatalf("failures after re-register = %d", rec.HealthFailures)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("a", "http://one:8080", nil)
	if !r.Remove("a") {
		t.Fatal("first remove returned false")
	}
	if r.Remove("a") {
		t.Fatal("second remove returned true")
	}
}

func TestListSnapshotsAreCopies(t *testing.T) {
	r := NewRegistry()
	r.Register("a", "http://one:8080", map[string]string{"k": "v"})
	list := r.List()
	list[0].Metadata["k"] = "mutated"
	rec, _ := r.Get("a")
	if rec.Metadata["k"] != "v" {
		t.Fatal("List returned a shared metadata map")
	}
}

func TestHealthFailureCounting(t *testing.T) {
	r := NewRegistry()
	r.Register("a", "http://one:8080", nil)
	for i := 1; i <= 3; i++ {
		if got := r.HealthFailure("a"); got != i {
			t.Fatalf("failure %d reported %d", i, got)
		}
	}
	r.HealthSuccess("a")
	if got := r.HealthFailure("a"); got != 1 {
		t.Fatalf("failure after success reported %d", got)
	}
}

func TestTrimTrailingBlank(t *testing.T) {
	lines, ansi := trimTrailingBlank(
		[]string{"top", "mid", "", "", ""},
		[]string{"TOP", "MID", "", "", ""},
	)
	// Trailing blanks collapse to exactly one anchor row.
	if len(lines) != 3 || lines[2] != "" {
		t.Fatalf("lines = %q", lines)
	}
	if len(ansi) != 3 {
		t.Fatalf("ansi = %q", ansi)
	}

	// All-blank screen keeps a single row.
	lines, _ = trimTrailingBlank([]string{"", "", ""}, nil)
	if len(lines) != 1 {
		t.Fatalf("all-blank lines = %q", lines)
	}

	// No trailing blanks: untouched.
	lines, _ = trimTrailingBlank([]string{"a", "b"}, nil)
	if len(lines) != 2 {
		t.Fatalf("no-blank lines = %q", lines)
	}
}

func TestScreenEntryFromMsg(t *testing.T) {
	entry := ScreenEntryFromMsg("s1", wire.ScreenMsg{
		Lines: []string{"hello", "", ""},
		ANSI:  []string{"hello", "", ""},
		Cols:  80, Rows: 24,
	})
	if entry.Session != "s1" || entry.Cols != 80 || len(entry.Lines) != 2 {
		t.Fatalf("entry = %+v", entry)
	}
}
