// Package term holds the byte-level terminal state for one session: the
// append-only ring of raw PTY output and the server-side emulator that renders
// screen snapshots from it.
package term

import "sync"

// DefaultRingCapacity bounds the raw PTY history kept for replay.
const DefaultRingCapacity = 2 * 1024 * 1024

// Ring is a circular byte buffer addressed by absolute offsets. The write
// position only ever increases; a reader holding offset o can always ask for
// [o, ...) and gets either that range or, if the head has been overwritten,
// the surviving suffix starting at total-capacity. One writer (the session
// loop), many readers.
type Ring struct {
	mu       sync.Mutex
	buf      []byte
	capacity int
	written  int64 // total bytes ever appended
}

// NewRing creates a ring with the given capacity in bytes.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{
		buf:      make([]byte, capacity),
		capacity: capacity,
	}
}

// Append copies p into the ring and advances the absolute write position.
// Returns the offset at which p begins.
func (r *Ring) Append(p []byte) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := r.written
	for len(p) > 0 {
		idx := int(r.written % int64(r.capacity))
		n := copy(r.buf[idx:], p)
		r.written += int64(n)
		p = p[n:]
	}
	return start
}

// TotalWritten returns the absolute write position.
func (r *Ring) TotalWritten() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// oldest returns the offset of the oldest retained byte. Caller holds mu.
func (r *Ring) oldest() int64 {
	if r.written <= int64(r.capacity) {
		return 0
	}
	return r.written - int64(r.capacity)
}

// Read returns up to limit bytes starting at offset. When offset is behind
// the oldest retained byte the read is clamped forward (truncated-at-head);
// the returned next offset always equals the offset of the byte after the
// last one returned. limit <= 0 means no limit.
func (r *Ring) Read(offset int64, limit int) (data []byte, next int64, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldest := r.oldest()
	if offset < oldest {
		offset = oldest
	}
	if offset >= r.written {
		return nil, r.written, r.written
	}

	avail := int(r.written - offset)
	if limit > 0 && avail > limit {
		avail = limit
	}

	data = make([]byte, avail)
	read := 0
	pos := offset
	for read < avail {
		idx := int(pos % int64(r.capacity))
		end := idx + (avail - read)
		if end > r.capacity {
			end = r.capacity
		}
		n := copy(data[read:], r.buf[idx:end])
		read += n
		pos += int64(n)
	}
	return data, offset + int64(read), r.written
}

// Snapshot returns every retained byte in write order and the offset at which
// the returned data begins.
func (r *Ring) Snapshot() (data []byte, start int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldest := r.oldest()
	avail := int(r.written - oldest)
	if avail == 0 {
		return nil, r.written
	}
	data = make([]byte, avail)
	read := 0
	pos := oldest
	for read < avail {
		idx := int(pos % int64(r.capacity))
		end := idx + (avail - read)
		if end > r.capacity {
			end = r.capacity
		}
		n := copy(data[read:], r.buf[idx:end])
		read += n
		pos += int64(n)
	}
	return data, oldest
}

// Reset discards all content and rewinds the write position to zero. Used
// when the session loop rebuilds the backend for a new child: replay offsets
// restart at 0 for the new process.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written = 0
	for i := range r.buf {
		r.buf[i] = 0
	}
}
