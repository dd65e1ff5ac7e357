// Package mux is the supervisor-of-supervisors: a registry of live coop
// endpoints, a health loop that evicts dead ones, a per-session tap that
// mirrors state and screens, and a WebSocket fan-out to browser tiles. The
// mux carries no agent semantics — it is transport plumbing.
package mux

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/groblegark/coop/internal/wire"
)

// ErrURLConflict is returned when an id re-registers with a different url.
var ErrURLConflict = fmt.Errorf("session id already registered with a different url")

// Record is the mux's view of one upstream coop.
type Record struct {
	ID           string
	URL          string
	Metadata     map[string]string
	RegisteredAt time.Time

	HealthFailures int
	State          string
	Screen         *wire.ScreenEntry // latest cached screen, nil until first update
}

// Registry is the directory of live coop endpoints. Mutations run under one
// write critical section; reads return snapshot copies.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register inserts a record. Re-registration with the same id and url is
// idempotent (registered_at is preserved, health failures reset); a
// conflicting url is a client error. Returns true when the record is new.
func (r *Registry) Register(id, url string, metadata map[string]string) (created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[id]; ok {
		if existing.URL != url {
			return false, ErrURLConflict
		}
		existing.HealthFailures = 0
		existing.Metadata = metadata
		return false, nil
	}
	r.records[id] = &Record{
		ID:           id,
		URL:          url,
		Metadata:     metadata,
		RegisteredAt: time.Now(),
	}
	return true, nil
}

// Remove deletes a record; idempotent.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}

// Get returns a snapshot copy of one record.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return snapshotRecord(rec), true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok
}

// List returns snapshot copies sorted by id.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, snapshotRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetState caches the latest upstream state.
func (r *Registry) SetState(id, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.State = state
	}
}

// SetScreen caches the latest upstream screen.
func (r *Registry) SetScreen(id string, screen wire.ScreenEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Screen = &screen
	}
}

// HealthFailure increments the consecutive-failure counter and returns its
// new value.
func (r *Registry) HealthFailure(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return 0
	}
	rec.HealthFailures++
	return rec.HealthFailures
}

// HealthSuccess resets the consecutive-failure counter.
func (r *Registry) HealthSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.HealthFailures = 0
	}
}

func snapshotRecord(rec *Record) Record {
	cp := *rec
	if rec.Metadata != nil {
		cp.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	if rec.Screen != nil {
		sc := *rec.Screen
		cp.Screen = &sc
	}
	return cp
}

// ScreenEntryFromMsg converts a coop screen frame into a batch entry,
// trimming trailing blank rows but keeping one to anchor bottom padding.
func ScreenEntryFromMsg(session string, sm wire.ScreenMsg) wire.ScreenEntry {
	lines, ansi := trimTrailingBlank(sm.Lines, sm.ANSI)
	return wire.ScreenEntry{
		Session: session,
		Cols:    sm.Cols,
		Rows:    sm.Rows,
		Lines:   lines,
		ANSI:    ansi,
	}
}

func trimTrailingBlank(lines, ansi []string) ([]string, []string) {
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	if end < len(lines) {
		end++ // keep one blank row
	}
	trimmed := lines[:end]
	if ansi != nil && len(ansi) >= end {
		ansi = ansi[:end]
	}
	return trimmed, ansi
}
