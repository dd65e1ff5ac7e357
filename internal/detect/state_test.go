package detect

import (
	"testing"
	"time"

	"github.com/groblegark/coop/internal/wire"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSeqIncrementsByOne(t *testing.T) {
	m := NewMachine(time.Second)
	now := t0

	tr1, ok := m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, now)
	if !ok || tr1.Seq != 1 || tr1.Prev != StateStarting || tr1.Next != StateWorking {
		t.Fatalf("first transition = %+v ok=%v", tr1, ok)
	}

	tr2, ok := m.Apply(Event{Tier: TierLog, Cause: CausePrompt, Prompt: &wire.PromptContext{Kind: "permission", Ready: true}}, now)
	if !ok || tr2.Seq != 2 || tr2.Prev != StateWorking || tr2.Next != StatePrompt {
		t.Fatalf("second transition = %+v ok=%v", tr2, ok)
	}
}

func TestRepeatedWorkingIsNoTransition(t *testing.T) {
	m := NewMachine(time.Second)
	m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0)
	if _, ok := m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0.Add(time.Second)); ok {
		t.Fatal("duplicate working produced a transition")
	}
	if m.Seq() != 1 {
		t.Fatalf("seq = %d, want 1", m.Seq())
	}
}

func TestErrorIsTerminalForState(t *testing.T) {
	m := NewMachine(time.Second)
	m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0)

	tr, ok := m.Apply(Event{Tier: TierHooks, Cause: CauseError, ErrorCategory: ErrOutOfCredits, ErrorDetail: "quota"}, t0)
	if !ok || tr.Next != StateError || tr.ErrorCategory != ErrOutOfCredits {
		t.Fatalf("error transition = %+v ok=%v", tr, ok)
	}

	// Later working/prompt observations cannot leave error.
	if _, ok := m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0.Add(time.Second)); ok {
		t.Fatal("working escaped error state")
	}
	if _, ok := m.Apply(Event{Tier: TierScreen, Cause: CausePrompt}, t0.Add(time.Second)); ok {
		t.Fatal("prompt escaped error state")
	}
}

func TestScreenCannotDeclareError(t *testing.T) {
	m := NewMachine(time.Second)
	m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0)
	if _, ok := m.Apply(Event{Tier: TierScreen, Cause: CauseError, ErrorCategory: ErrOther}, t0); ok {
		t.Fatal("screen tier declared error")
	}
	if m.State() != StateWorking {
		t.Fatalf("state = %s, want working", m.State())
	}
}

func TestIdleRequiresGrace(t *testing.T) {
	m := NewMachine(time.Second)
	m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0)

	// Idle observed, but the grace interval has not elapsed.
	m.Apply(Event{Tier: TierLog, Cause: CauseIdle}, t0.Add(2*time.Second))
	if _, ok := m.Tick(t0.Add(2500 * time.Millisecond)); ok {
		t.Fatal("idle committed before grace elapsed")
	}
	tr, ok := m.Tick(t0.Add(3100 * time.Millisecond))
	if !ok || tr.Next != StateIdle {
		t.Fatalf("idle not committed after grace: %+v ok=%v", tr, ok)
	}
}

func TestScreenIdleDuringLogWorkingDoesNotFlap(t *testing.T) {
	m := NewMachine(time.Second)
	m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0)

	// A screen-detected idle right after log activity is ignored.
	m.Apply(Event{Tier: TierScreen, Cause: CauseIdle}, t0.Add(100*time.Millisecond))
	if _, ok := m.Tick(t0.Add(5 * time.Second)); ok {
		t.Fatal("weak idle during strong working flapped the state")
	}
	if m.State() != StateWorking {
		t.Fatalf("state = %s, want working", m.State())
	}
}

func TestIdleCandidateCancelledByActivity(t *testing.T) {
	m := NewMachine(time.Second)
	m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0)
	m.Apply(Event{Tier: TierLog, Cause: CauseIdle}, t0.Add(2*time.Second))
	// New work arrives inside the grace window.
	m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0.Add(2200*time.Millisecond))
	if _, ok := m.Tick(t0.Add(10 * time.Second)); ok {
		t.Fatal("cancelled idle candidate still committed")
	}
}

func TestPromptAttachesContext(t *testing.T) {
	m := NewMachine(time.Second)
	p := &wire.PromptContext{
		Kind:      "question",
		Ready:     true,
		Questions: []wire.Question{{Text: "a?"}, {Text: "b?"}, {Text: "c?"}},
	}
	tr, ok := m.Apply(Event{Tier: TierLog, Cause: CausePrompt, Prompt: p}, t0)
	if !ok || tr.Prompt == nil || tr.Prompt.Kind != "question" {
		t.Fatalf("prompt transition = %+v", tr)
	}

	// Multi-question prompts advance one question per respond.
	tr, ok = m.AdvanceQuestion()
	if !ok || tr.Prompt.QuestionCurrent != 1 {
		t.Fatalf("advance 1: %+v ok=%v", tr, ok)
	}
	tr, ok = m.AdvanceQuestion()
	if !ok || tr.Prompt.QuestionCurrent != 2 {
		t.Fatalf("advance 2: %+v ok=%v", tr, ok)
	}
	if _, ok := m.AdvanceQuestion(); ok {
		t.Fatal("advanced past the last question")
	}
}

func TestRepeatedIdenticalPromptIsNoTransition(t *testing.T) {
	m := NewMachine(time.Second)
	p := func() *wire.PromptContext {
		return &wire.PromptContext{Kind: "permission", Options: []string{"Yes", "No"}, Ready: true}
	}
	if _, ok := m.Apply(Event{Tier: TierScreen, Cause: CausePrompt, Prompt: p()}, t0); !ok {
		t.Fatal("first prompt rejected")
	}
	// The screen tier re-reports the same menu every poll.
	if _, ok := m.Apply(Event{Tier: TierScreen, Cause: CausePrompt, Prompt: p()}, t0.Add(time.Second)); ok {
		t.Fatal("identical prompt re-published")
	}
	changed := p()
	changed.Options = []string{"Yes", "No", "Always"}
	if _, ok := m.Apply(Event{Tier: TierScreen, Cause: CausePrompt, Prompt: changed}, t0.Add(2*time.Second)); !ok {
		t.Fatal("changed prompt not published")
	}
}

func TestSwitchLifecycleContinuesSeq(t *testing.T) {
	m := NewMachine(time.Second)
	m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0)
	seq := m.Seq()

	tr := m.MarkSwitching()
	if tr.Next != StateSwitching || tr.Seq != seq+1 {
		t.Fatalf("switching = %+v", tr)
	}
	tr = m.MarkStarting()
	if tr.Next != StateStarting || tr.Seq != seq+2 {
		t.Fatalf("starting = %+v", tr)
	}
	// The rebuilt child recovers from any prior error classification.
	if cat, _ := m.ErrorInfo(); cat != "" {
		t.Fatalf("error category survived rebuild: %q", cat)
	}
}

func TestExitTransition(t *testing.T) {
	m := NewMachine(time.Second)
	m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0)
	tr := m.MarkExited()
	if tr.Next != StateExited || tr.Prev != StateWorking {
		t.Fatalf("exit = %+v", tr)
	}
	if _, ok := m.Apply(Event{Tier: TierLog, Cause: CauseWorking}, t0.Add(time.Second)); ok {
		t.Fatal("working escaped exited state")
	}
}

func TestSessionIDExtraction(t *testing.T) {
	m := NewMachine(time.Second)
	if _, ok := m.Apply(Event{Tier: TierLog, Cause: CauseSessionID, SessionID: "abc-123"}, t0); ok {
		t.Fatal("session id produced a transition")
	}
	if m.AgentSessionID() != "abc-123" {
		t.Fatalf("AgentSessionID = %q", m.AgentSessionID())
	}
}
