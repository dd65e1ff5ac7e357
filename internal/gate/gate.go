// Package gate deduplicates terminal bytes across replays and live broadcasts.
//
// A ReplayGate tracks a single high-water mark of absolute stream offsets.
// The same implementation runs on both ends of the pipe: the server holds one
// per subscriber to decide what to write to that connection, and clients hold
// one per connection to decide what to write to their terminal. Offsets are
// absolute (total bytes ever produced by the PTY), so gap and overlap
// detection never depends on in-order arrival.
package gate

// pending is the gate value before the first replay on a connection.
const pending = -1

// ReplayGate is the integer high-water mark plus the pending bit.
// Not safe for concurrent use; callers serialize per connection.
type ReplayGate struct {
	gate int64
}

// New returns a gate in the pending state: live PTY data is dropped until the
// first replay arrives.
func New() *ReplayGate {
	return &ReplayGate{gate: pending}
}

// Action describes how much of a replay payload to deliver.
type Action struct {
	// Skip is the number of leading bytes already delivered through this gate.
	Skip int
	// IsFirst is true exactly once per Reset: the caller should clear its
	// terminal (or start a fresh buffer) before writing.
	IsFirst bool
}

// OnReplay decides what to do with a replay covering
// [nextOffset-dataLen, nextOffset). ok is false when the whole range is
// already behind the gate and nothing should be delivered.
func (g *ReplayGate) OnReplay(dataLen int, nextOffset int64) (act Action, ok bool) {
	start := nextOffset - int64(dataLen)
	if g.gate == pending {
		g.gate = nextOffset
		return Action{Skip: 0, IsFirst: true}, true
	}
	if nextOffset <= g.gate {
		return Action{}, false
	}
	skip := 0
	if d := g.gate - start; d > 0 {
		skip = int(d)
	}
	g.gate = nextOffset
	return Action{Skip: skip}, true
}

// OnPTY decides what to do with a live chunk covering
// [offset, offset+dataLen). ok is false when the gate is still pending or the
// chunk is entirely behind it.
func (g *ReplayGate) OnPTY(dataLen int, offset int64) (skip int, ok bool) {
	if g.gate == pending {
		return 0, false
	}
	end := offset + int64(dataLen)
	if end <= g.gate {
		return 0, false
	}
	if d := g.gate - offset; d > 0 {
		skip = int(d)
	}
	g.gate = end
	return skip, true
}

// Reset returns the gate to pending. The next OnReplay is accepted in full and
// reports IsFirst, so bytes accepted through a stale gate on a previous
// connection can never interleave with the fresh stream.
func (g *ReplayGate) Reset() {
	g.gate = pending
}

// Pending reports whether the gate has not yet seen a replay.
func (g *ReplayGate) Pending() bool {
	return g.gate == pending
}

// Mark returns the current high-water mark, or -1 while pending.
func (g *ReplayGate) Mark() int64 {
	return g.gate
}
