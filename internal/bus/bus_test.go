package bus

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/groblegark/coop/internal/wire"
)

func drainPTY(t *testing.T, s *Subscriber) []byte {
	t.Helper()
	var out []byte
	for {
		select {
		case frame := <-s.Frames():
			var env wire.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			switch env.Type {
			case wire.TypeReplay:
				var r wire.Replay
				json.Unmarshal(frame, &r)
				b, _ := base64.StdEncoding.DecodeString(r.Data)
				out = append(out, b...)
			case wire.TypeOutput:
				var o wire.Output
				json.Unmarshal(frame, &o)
				b, _ := base64.StdEncoding.DecodeString(o.Data)
				out = append(out, b...)
			}
		default:
			return out
		}
	}
}

func TestReplayThenLiveNoDuplicates(t *testing.T) {
	b := New()
	s := b.Subscribe([]string{SubPTY}, 16)
	defer b.Unsubscribe(s)

	// Initial replay of the ring prefix, then the live tail.
	act, ok := s.SendReplay([]byte("ABCDE"), 5)
	if !ok || !act.IsFirst {
		t.Fatalf("first replay: act=%+v ok=%v", act, ok)
	}
	b.PublishPTY([]byte("FG"), 5)

	if got := string(drainPTY(t, s)); got != "ABCDEFG" {
		t.Fatalf("delivered %q, want %q", got, "ABCDEFG")
	}
}

func TestLiveBeforeReplayDropped(t *testing.T) {
	b := New()
	s := b.Subscribe([]string{SubPTY}, 16)
	defer b.Unsubscribe(s)

	// Live broadcast races ahead of the initial replay: dropped.
	b.PublishPTY([]byte("XX"), 0)
	s.SendReplay([]byte("XXYY"), 4)
	b.PublishPTY([]byte("ZZ"), 4)

	if got := string(drainPTY(t, s)); got != "XXYYZZ" {
		t.Fatalf("delivered %q, want %q", got, "XXYYZZ")
	}
}

func TestOverlappingLiveTrimmed(t *testing.T) {
	b := New()
	s := b.Subscribe([]string{SubPTY}, 16)
	defer b.Unsubscribe(s)

	s.SendReplay([]byte("0123456789"), 10)
	// Lag-recovery rebroadcast overlaps the replay by 5 bytes.
	b.PublishPTY([]byte("56789abcde"), 5)

	if got := string(drainPTY(t, s)); got != "0123456789abcde" {
		t.Fatalf("delivered %q", got)
	}
}

func TestDuplicateReplayDelivesNothing(t *testing.T) {
	b := New()
	s := b.Subscribe([]string{SubPTY}, 16)
	defer b.Unsubscribe(s)

	s.SendReplay([]byte("ABCD"), 4)
	if _, ok := s.SendReplay([]byte("ABCD"), 4); ok {
		t.Fatal("duplicate replay accepted")
	}
	b.PublishPTY([]byte("EF"), 4)

	if got := string(drainPTY(t, s)); got != "ABCDEF" {
		t.Fatalf("delivered %q, want %q", got, "ABCDEF")
	}
}

func TestPerSubscriberGatesIndependent(t *testing.T) {
	b := New()
	early := b.Subscribe([]string{SubPTY}, 16)
	late := b.Subscribe([]string{SubPTY}, 16)
	defer b.Unsubscribe(early)
	defer b.Unsubscribe(late)

	early.SendReplay(nil, 0)
	b.PublishPTY([]byte("abc"), 0)

	// Late subscriber replays the full prefix after some live traffic.
	late.SendReplay([]byte("abc"), 3)
	b.PublishPTY([]byte("def"), 3)

	if got := string(drainPTY(t, early)); got != "abcdef" {
		t.Fatalf("early delivered %q", got)
	}
	if got := string(drainPTY(t, late)); got != "abcdef" {
		t.Fatalf("late delivered %q", got)
	}
}

func TestPublishRespectsKinds(t *testing.T) {
	b := New()
	stateOnly := b.Subscribe([]string{SubState}, 16)
	defer b.Unsubscribe(stateOnly)

	b.PublishPTY([]byte("bytes"), 0)
	b.Publish(SubState, wire.StateChange{Type: wire.TypeStateChange, Prev: "starting", Next: "working", Seq: 1})

	frame := <-stateOnly.Frames()
	var env wire.Envelope
	json.Unmarshal(frame, &env)
	if env.Type != wire.TypeStateChange {
		t.Fatalf("frame type = %q", env.Type)
	}
	select {
	case f := <-stateOnly.Frames():
		t.Fatalf("unexpected extra frame: %s", f)
	default:
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	b := New()
	s := b.Subscribe([]string{SubState}, 2)
	defer b.Unsubscribe(s)

	for i := 0; i < 5; i++ {
		b.Publish(SubState, wire.StateChange{Type: wire.TypeStateChange, Seq: uint64(i)})
	}
	select {
	case <-s.Failed():
	default:
		t.Fatal("overflowing subscriber not marked failed")
	}
}

func TestGateResetAfterSwitch(t *testing.T) {
	b := New()
	s := b.Subscribe([]string{SubPTY}, 16)
	defer b.Unsubscribe(s)

	s.SendReplay([]byte("old"), 3)
	b.ResetGates()

	// Stale live traffic from before the reset must not leak.
	b.PublishPTY([]byte("stale"), 3)
	if got := drainPTY(t, s); string(got) != "old" {
		t.Fatalf("delivered %q before fresh replay, want only %q", got, "old")
	}

	act, ok := s.SendReplay([]byte("new child"), 9)
	if !ok || !act.IsFirst {
		t.Fatalf("post-reset replay: act=%+v ok=%v", act, ok)
	}
	if got := drainPTY(t, s); string(got) != "new child" {
		t.Fatalf("delivered %q", got)
	}
}
