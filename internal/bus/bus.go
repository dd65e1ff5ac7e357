// Package bus fans session events out to WebSocket subscribers. Each
// subscriber owns a bounded frame queue and a server-side replay gate fed by
// the same absolute offsets the client sees, so a subscriber that requests a
// replay and then receives the live stream gets every byte range at most once
// per connection.
package bus

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/groblegark/coop/internal/gate"
	"github.com/groblegark/coop/internal/wire"
)

// Subscription kinds.
const (
	SubPTY    = "pty"
	SubState  = "state"
	SubScreen = "screen"
)

// DefaultQueueSize bounds a subscriber's pending frames. Slow consumers are
// dropped once the queue overflows.
const DefaultQueueSize = 256

// Subscriber is one attached WebSocket connection.
type Subscriber struct {
	subs  map[string]bool
	queue chan []byte

	mu     sync.Mutex
	gate   *gate.ReplayGate
	failed chan struct{} // closed on queue overflow
	once   sync.Once
}

// Frames returns the subscriber's outbound frame queue.
func (s *Subscriber) Frames() <-chan []byte { return s.queue }

// Failed is closed when the subscriber was dropped for falling behind.
func (s *Subscriber) Failed() <-chan struct{} { return s.failed }

// Wants reports whether the subscriber asked for the given kind.
func (s *Subscriber) Wants(kind string) bool { return s.subs[kind] }

// ResetGate returns the gate to pending, forcing the next replay to be
// accepted in full. Used when the session restarts under a new child.
func (s *Subscriber) ResetGate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate.Reset()
}

// SendReplay runs a replay through the subscriber's gate and, when any of it
// survives deduplication, enqueues a replay frame. Returns the gate action
// for the caller's bookkeeping.
func (s *Subscriber) SendReplay(data []byte, nextOffset int64) (gate.Action, bool) {
	s.mu.Lock()
	act, ok := s.gate.OnReplay(len(data), nextOffset)
	s.mu.Unlock()
	if !ok {
		return gate.Action{}, false
	}
	trimmed := data[act.Skip:]
	start := nextOffset - int64(len(trimmed))
	s.enqueue(marshal(wire.Replay{
		Type:       wire.TypeReplay,
		Data:       base64.StdEncoding.EncodeToString(trimmed),
		Offset:     start,
		NextOffset: nextOffset,
	}))
	return act, true
}

// sendPTY runs a live chunk through the gate; fully-deduplicated chunks
// enqueue nothing.
func (s *Subscriber) sendPTY(data []byte, offset int64) {
	s.mu.Lock()
	skip, ok := s.gate.OnPTY(len(data), offset)
	s.mu.Unlock()
	if !ok {
		return
	}
	trimmed := data[skip:]
	s.enqueue(marshal(wire.Output{
		Type:   wire.TypeOutput,
		Data:   base64.StdEncoding.EncodeToString(trimmed),
		Offset: offset + int64(skip),
	}))
}

// Enqueue adds an already-marshaled frame, bypassing the gate. Used for
// direct responses (screen, state, pong) on this connection.
func (s *Subscriber) Enqueue(frame []byte) {
	s.enqueue(frame)
}

func (s *Subscriber) enqueue(frame []byte) {
	select {
	case s.queue <- frame:
	default:
		// Queue overflow: the consumer is too slow. Drop the subscriber
		// rather than block the session loop.
		s.once.Do(func() { close(s.failed) })
	}
}

// Bus is the per-session broadcast hub.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscribe attaches a new subscriber for the given kinds.
func (b *Bus) Subscribe(kinds []string, queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	s := &Subscriber{
		subs:   set,
		queue:  make(chan []byte, queueSize),
		gate:   gate.New(),
		failed: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// SubscribeWithReplay attaches a subscriber and seeds its gate with an
// initial replay before any live publish can reach it. snapshot is called
// under the registry write lock, which excludes concurrent PublishPTY, so
// the replay prefix provably ends where the live stream begins.
func (b *Bus) SubscribeWithReplay(kinds []string, queueSize int, snapshot func() (data []byte, next int64)) *Subscriber {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	s := &Subscriber{
		subs:   set,
		queue:  make(chan []byte, queueSize),
		gate:   gate.New(),
		failed: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if set[SubPTY] {
		data, next := snapshot()
		s.SendReplay(data, next)
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe detaches a subscriber and its gate.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Count returns the number of attached subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// PublishPTY fans a live chunk at an absolute offset out to every pty
// subscriber through its own gate.
func (b *Bus) PublishPTY(data []byte, offset int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.subs[SubPTY] {
			s.sendPTY(data, offset)
		}
	}
}

// Publish marshals v once and enqueues it for every subscriber of kind.
func (b *Bus) Publish(kind string, v any) {
	frame := marshal(v)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.subs[kind] {
			s.enqueue(frame)
		}
	}
}

// PublishAll enqueues a frame for every subscriber regardless of kind
// (exit and resize notifications).
func (b *Bus) PublishAll(v any) {
	frame := marshal(v)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.enqueue(frame)
	}
}

// ResetGates returns every subscriber's gate to pending. The session loop
// calls this when a credential switch rebuilds the child and the ring
// restarts at offset zero.
func (b *Bus) ResetGates() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.ResetGate()
	}
}

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All wire types marshal; a failure here is a programming error.
		panic(err)
	}
	return data
}
