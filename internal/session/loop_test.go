package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/groblegark/coop/internal/agent"
	"github.com/groblegark/coop/internal/bus"
	"github.com/groblegark/coop/internal/wire"
)

func init() {
	agent.Register(&agent.ShellDriver{})
}

func startLoop(t *testing.T, argv ...string) *Session {
	t.Helper()
	sess, err := New(Config{
		AgentKind: "shell",
		ExtraArgv: argv,
		Cols:      80,
		Rows:      24,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		sess.Shutdown(shCtx)
	})
	return sess
}

func TestSwitchRebuildsWithoutDroppingSubscribers(t *testing.T) {
	sess := startLoop(t, "-c", "sleep 600")

	sub := sess.Bus.Subscribe([]string{bus.SubState, bus.SubPTY}, 64)
	defer sess.Bus.Unsubscribe(sub)
	sub.SendReplay(nil, 0) // sync the gate like a fresh client

	before := sess.Status()
	if before.SessionID == "" {
		t.Fatal("no session id before switch")
	}

	if err := sess.RequestSwitch(SwitchRequest{Force: true}); err != nil {
		t.Fatalf("switch: %v", err)
	}

	// The child is SIGHUPed and rebuilt under a new session id.
	deadline := time.Now().Add(10 * time.Second)
	var after Status
	for time.Now().Before(deadline) {
		after = sess.Status()
		if after.SessionID != before.SessionID && !after.Exited {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if after.SessionID == before.SessionID {
		t.Fatal("session id did not change")
	}
	if after.Exited {
		t.Fatal("session exited instead of rebuilding")
	}
	if after.StateSeq <= before.StateSeq {
		t.Fatalf("state_seq did not continue: %d -> %d", before.StateSeq, after.StateSeq)
	}

	// The still-attached subscriber observed switching -> starting with the
	// switched notification.
	var sawSwitching, sawStarting bool
	var switched *wire.SwitchedInfo
	drain := time.After(2 * time.Second)
	for !(sawSwitching && sawStarting) {
		select {
		case frame := <-sub.Frames():
			var sc wire.StateChange
			if json.Unmarshal(frame, &sc) != nil || sc.Type != wire.TypeStateChange {
				continue
			}
			switch sc.Next {
			case "switching":
				sawSwitching = true
			case "starting":
				if sawSwitching {
					sawStarting = true
					switched = sc.Switched
				}
			}
		case <-drain:
			t.Fatalf("missing transitions: switching=%v starting=%v", sawSwitching, sawStarting)
		}
	}
	if switched == nil || switched.NewSessionID != after.SessionID || !switched.StateSeqContinues {
		t.Fatalf("switched info = %+v", switched)
	}

	// Ring restarted at zero for the new child.
	if _, next, total := sess.Ring().Read(0, 0); total != next || total > after.TotalWritten+4096 {
		// Sanity only: offsets are small and consistent after the reset.
		t.Logf("ring after switch: next=%d total=%d", next, total)
	}
}

func TestConcurrentSwitchRejected(t *testing.T) {
	sess := startLoop(t, "-c", "read line; sleep 600")

	if err := sess.RequestSwitch(SwitchRequest{Force: false, TimeoutSecs: 120}); err != nil {
		t.Fatalf("first switch: %v", err)
	}
	if err := sess.RequestSwitch(SwitchRequest{}); err != ErrSwitchInProgress {
		t.Fatalf("second switch err = %v, want ErrSwitchInProgress", err)
	}
}

func TestExitPublishesToAllSubscribers(t *testing.T) {
	sess := startLoop(t, "-c", "exit 7")

	sub := sess.Bus.Subscribe([]string{bus.SubState}, 64)
	defer sess.Bus.Unsubscribe(sub)

	deadline := time.After(10 * time.Second)
	for {
		select {
		case frame := <-sub.Frames():
			var env wire.Envelope
			json.Unmarshal(frame, &env)
			if env.Type == wire.TypeExit {
				var exit wire.Exit
				json.Unmarshal(frame, &exit)
				if exit.Code != 7 {
					t.Fatalf("exit code = %d, want 7", exit.Code)
				}
				if !sess.Exited() {
					t.Fatal("session not marked exited")
				}
				return
			}
		case <-deadline:
			t.Fatal("exit frame never arrived")
		}
	}
}

func TestWriteAfterExitFails(t *testing.T) {
	sess := startLoop(t, "-c", "true")

	deadline := time.Now().Add(10 * time.Second)
	for !sess.Exited() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !sess.Exited() {
		t.Fatal("session never exited")
	}
	if err := sess.WriteInput("too late", true); err == nil {
		t.Fatal("write after exit succeeded")
	}
}
