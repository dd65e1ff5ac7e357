package session

import "testing"

func TestTranscriptAppendAndGet(t *testing.T) {
	s := NewTranscriptStore()
	s.Append("one")
	s.Append("two")

	tr, ok := s.Get(0)
	if !ok || len(tr.Lines) != 2 || tr.Lines[1] != "two" {
		t.Fatalf("Get(0) = %+v ok=%v", tr, ok)
	}
	if _, ok := s.Get(1); ok {
		t.Fatal("Get(1) exists before rotate")
	}
	if _, ok := s.Get(-1); ok {
		t.Fatal("Get(-1) succeeded")
	}
}

func TestTranscriptRotate(t *testing.T) {
	s := NewTranscriptStore()
	s.Append("first child")
	s.Rotate()
	s.Append("second child")

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("List len = %d", len(list))
	}
	if len(list[0].Lines) != 0 {
		t.Fatal("List leaked lines")
	}
	tr, _ := s.Get(1)
	if tr.Lines[0] != "second child" {
		t.Fatalf("transcript 1 = %+v", tr)
	}
}

func TestTranscriptCatchup(t *testing.T) {
	s := NewTranscriptStore()
	s.Append("a")
	s.Append("b")
	s.Append("c")
	s.Rotate()
	s.Append("d")

	out := s.Catchup(0, 2)
	if len(out) != 2 {
		t.Fatalf("catchup segments = %d", len(out))
	}
	if len(out[0].Lines) != 1 || out[0].Lines[0] != "c" {
		t.Fatalf("segment 0 = %+v", out[0])
	}
	if len(out[1].Lines) != 1 || out[1].Lines[0] != "d" {
		t.Fatalf("segment 1 = %+v", out[1])
	}

	// Fully caught up on transcript 0: only later transcripts return.
	out = s.Catchup(0, 3)
	if len(out) != 1 || out[0].Index != 1 {
		t.Fatalf("catchup past end = %+v", out)
	}
}
