package detect

import (
	"context"
	"strings"
	"time"

	"github.com/groblegark/coop/internal/term"
)

// ScreenClassifier inspects a rendered snapshot and returns a weak-tier
// event, or false when the screen carries no signal. Agent drivers supply
// the heuristics; permission menus, spinners, and "esc to interrupt" hints
// all live behind this function.
type ScreenClassifier func(s term.Screen) (Event, bool)

// Snapshotter is satisfied by term.Emulator.
type Snapshotter interface {
	Snapshot() term.Screen
}

// ScreenWatcher polls rendered snapshots and posts classified events. It is
// the weakest tier: it never declares errors and only fires when the frame
// sequence moved or the quiet interval elapsed.
type ScreenWatcher struct {
	Source   Snapshotter
	Classify ScreenClassifier
	Events   chan<- Event
	Interval time.Duration

	lastSeq uint64
}

// Run polls until ctx is cancelled.
func (w *ScreenWatcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := w.Source.Snapshot()
			changed := snap.Seq != w.lastSeq
			w.lastSeq = snap.Seq

			var ev Event
			var ok bool
			if w.Classify != nil {
				ev, ok = w.Classify(snap)
			}
			if !ok {
				// No explicit signal: a static screen reads as idle, a
				// moving one as working.
				if changed {
					ev = Event{Cause: CauseWorking, Evidence: "screen changed"}
				} else {
					ev = Event{Cause: CauseIdle, Evidence: "screen static"}
				}
			}
			if ev.Cause == CauseError {
				// Screen scraping is too weak to declare failure.
				continue
			}
			ev.Tier = TierScreen
			select {
			case w.Events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// ContainsAny reports whether any line contains one of the needles,
// case-insensitively. Shared by the driver screen heuristics.
func ContainsAny(lines []string, needles ...string) bool {
	for _, line := range lines {
		l := strings.ToLower(line)
		for _, n := range needles {
			if strings.Contains(l, n) {
				return true
			}
		}
	}
	return false
}
