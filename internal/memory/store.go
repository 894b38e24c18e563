// Package memory keeps a bounded per-instrument history of structural events
// and derives a directional bias from it.
package memory

import (
	"sync"
	"time"

	"market-structure-engine/internal/structure"
)

// Key identifies one instrument history
type Key struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

func (k Key) String() string {
	return k.Symbol + ":" + k.Timeframe
}

// Bias is the derived directional lean for an instrument
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// Context is a consistent snapshot of one instrument's structural history.
// Callers receive copies; mutating a returned Context never affects the store.
type Context struct {
	Key          Key                                     `json:"key"`
	Events       []structure.Event                       `json:"events"`
	LatestByKind map[structure.EventKind]structure.Event `json:"latest_by_kind"`
	Bias         Bias                                    `json:"bias"`
	LastUpdated  time.Time                               `json:"last_updated"`
	HasHistory   bool                                    `json:"has_history"`
}

// LastSignificant returns the most recent break-type event, if any
func (c Context) LastSignificant() (structure.Event, bool) {
	bos, hasBOS := c.LatestByKind[structure.BreakOfStructure]
	choch, hasCHoCH := c.LatestByKind[structure.ChangeOfCharacter]
	switch {
	case hasBOS && hasCHoCH:
		if choch.Time.After(bos.Time) || (choch.Time.Equal(bos.Time) && choch.CandleIndex >= bos.CandleIndex) {
			return choch, true
		}
		return bos, true
	case hasBOS:
		return bos, true
	case hasCHoCH:
		return choch, true
	default:
		return structure.Event{}, false
	}
}

// entry is the mutable per-key state; writes for one key serialize on its lock
type entry struct {
	mu          sync.Mutex
	events      []structure.Event
	latest      map[structure.EventKind]structure.Event
	bias        Bias
	lastUpdated time.Time
}

// Store holds bounded event histories keyed by (symbol, timeframe).
// Updates for the same key are linearized on a per-key lock; reads return
// copy-on-read snapshots and may run concurrently with writes.
type Store struct {
	mu       sync.RWMutex
	entries  map[Key]*entry
	capacity int
}

// NewStore creates a store retaining up to capacity events per key
// (default 100)
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 100
	}
	return &Store{
		entries:  make(map[Key]*entry),
		capacity: capacity,
	}
}

func (s *Store) entryFor(key Key) *entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; ok {
		return e
	}
	e = &entry{
		latest: make(map[structure.EventKind]structure.Event),
		bias:   BiasNeutral,
	}
	s.entries[key] = e
	return e
}

// Update appends events for a key, evicts beyond capacity, recomputes bias
// and returns the resulting snapshot
func (s *Store) Update(key Key, events []structure.Event, observedAt time.Time) Context {
	e := s.entryFor(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ev := range events {
		e.events = append(e.events, ev)
		prev, ok := e.latest[ev.Kind]
		if !ok || !ev.Time.Before(prev.Time) {
			e.latest[ev.Kind] = ev
		}
	}
	if over := len(e.events) - s.capacity; over > 0 {
		e.events = append(e.events[:0:0], e.events[over:]...)
	}
	e.bias = deriveBias(e.latest)
	e.lastUpdated = observedAt

	return e.snapshot(key)
}

// Get returns a snapshot of a key's context. A key that has never been
// updated yields an empty neutral context with HasHistory=false, not an error.
func (s *Store) Get(key Key) Context {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Context{Key: key, Bias: BiasNeutral}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(key)
}

// Keys returns all tracked instrument keys
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Sweep drops contexts that have not been updated since the cutoff and
// returns how many were removed
func (s *Store) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		e.mu.Lock()
		stale := e.lastUpdated.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Restore replaces a key's state from a previously serialized context
func (s *Store) Restore(ctx Context) {
	e := s.entryFor(ctx.Key)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append([]structure.Event(nil), ctx.Events...)
	if over := len(e.events) - s.capacity; over > 0 {
		e.events = e.events[over:]
	}
	e.latest = make(map[structure.EventKind]structure.Event, len(ctx.LatestByKind))
	for k, v := range ctx.LatestByKind {
		e.latest[k] = v
	}
	e.bias = deriveBias(e.latest)
	e.lastUpdated = ctx.LastUpdated
}

// snapshot copies the entry state; caller must hold e.mu
func (e *entry) snapshot(key Key) Context {
	events := append([]structure.Event(nil), e.events...)
	latest := make(map[structure.EventKind]structure.Event, len(e.latest))
	for k, v := range e.latest {
		latest[k] = v
	}
	return Context{
		Key:          key,
		Events:       events,
		LatestByKind: latest,
		Bias:         e.bias,
		LastUpdated:  e.lastUpdated,
		HasHistory:   len(events) > 0,
	}
}

// deriveBias follows the most recent break-type event: bullish if the latest
// of BOS/CHoCH points up with no newer opposite event, bearish symmetrically,
// neutral otherwise
func deriveBias(latest map[structure.EventKind]structure.Event) Bias {
	bos, hasBOS := latest[structure.BreakOfStructure]
	choch, hasCHoCH := latest[structure.ChangeOfCharacter]

	var ref structure.Event
	switch {
	case hasBOS && hasCHoCH:
		if choch.Time.After(bos.Time) || (choch.Time.Equal(bos.Time) && choch.CandleIndex >= bos.CandleIndex) {
			ref = choch
		} else {
			ref = bos
		}
	case hasBOS:
		ref = bos
	case hasCHoCH:
		ref = choch
	default:
		return BiasNeutral
	}

	if ref.Direction == structure.Bullish {
		return BiasBullish
	}
	return BiasBearish
}
