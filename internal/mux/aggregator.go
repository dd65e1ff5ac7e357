package mux

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/groblegark/coop/internal/wire"
)

// DefaultBatchInterval is the screen coalescing tick.
const DefaultBatchInterval = 100 * time.Millisecond

// Aggregator coalesces per-session screen updates: only the latest screen
// per session survives each tick, and a session's ansi payload is omitted
// when it matches what the previous tick sent.
type Aggregator struct {
	mu       sync.Mutex
	pending  map[string]wire.ScreenEntry
	lastANSI map[string]string
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		pending:  make(map[string]wire.ScreenEntry),
		lastANSI: make(map[string]string),
	}
}

// Update stages the latest screen for a session.
func (a *Aggregator) Update(session string, entry wire.ScreenEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[session] = entry
}

// Remove forgets a session (deregister/evict).
func (a *Aggregator) Remove(session string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, session)
	delete(a.lastANSI, session)
}

// Flush drains staged entries, applying ansi dedup. Returns nil when there
// is nothing to send.
func (a *Aggregator) Flush() []wire.ScreenEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	out := make([]wire.ScreenEntry, 0, len(a.pending))
	for session, entry := range a.pending {
		key := joinLines(entry.ANSI)
		if key != "" && a.lastANSI[session] == key {
			entry.ANSI = nil
		} else if key != "" {
			a.lastANSI[session] = key
		}
		out = append(out, entry)
		delete(a.pending, session)
	}
	return out
}

// Run flushes every interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration, send func([]wire.ScreenEntry)) {
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if entries := a.Flush(); entries != nil {
				send(entries)
			}
		}
	}
}

func joinLines(lines []string) string {
	if lines == nil {
		return ""
	}
	return strings.Join(lines, "\n")
}
