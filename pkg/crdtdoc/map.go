package crdtdoc

import (
	"sort"
	"sync"
)

// mapEntry is an LWW-element: the value currently wins if its (ts,
// replica) pair is the greatest seen for that key, ties broken by replica
// id so merges are deterministic regardless of which side applies first.
type mapEntry struct {
	value   any
	ts      uint64
	replica string
	deleted bool
}

func (e *mapEntry) wins(other *mapEntry) bool {
	if e.ts != other.ts {
		return e.ts > other.ts
	}
	return e.replica > other.replica
}

// Map is a CRDT keyed map: string keys to arbitrary values (primitives,
// plain-converted containers, or nested shared containers), unordered,
// merging by last-write-wins per key.
type Map struct {
	base
	mu      sync.RWMutex
	entries map[string]*mapEntry
}

func (d *Doc) newMap() *Map {
	m := &Map{entries: make(map[string]*mapEntry)}
	m.self = m
	m.id = newID()
	m.d = d
	d.register(m)
	return m
}

func (m *Map) Kind() ContainerKind { return KindMap }

// Get returns the value at key and whether it is present (and not
// tombstoned).
func (m *Map) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	return e.value, true
}

// Keys returns the map's live keys in a deterministic (sorted) order.
// Real JS Maps are unordered per spec.md §3.1; sorting here only makes
// toPlain/test output stable, it carries no semantic weight.
func (m *Map) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Set writes key=value within tx, emitting an Added or Updated MapEvent.
// If value is itself a Container, it is reparented under this map at key,
// failing with ErrAlreadyParented if it is already attached elsewhere.
func (m *Map) Set(tx *Transaction, key string, value any) error {
	if tx.doc != m.d {
		return ErrNoActiveTransaction
	}
	if c, ok := value.(Container); ok {
		if err := attachOrReparent(tx, c, m, key); err != nil {
			return err
		}
	}

	m.mu.Lock()
	old, existed := m.entries[key]
	wasLive := existed && !old.deleted
	var oldVal any
	if wasLive {
		oldVal = old.value
	}
	m.entries[key] = &mapEntry{value: value, ts: tx.doc.tick(), replica: tx.doc.replica}
	m.mu.Unlock()

	ev := ContainerEvent{Container: m}
	if wasLive {
		ev.Map = &MapEvent{Updated: map[string]MapValueChange{key: {Old: oldVal, New: value}}}
	} else {
		ev.Map = &MapEvent{Added: map[string]any{key: value}}
	}
	tx.record(ev)
	return nil
}

// Delete tombstones key within tx, emitting a Removed MapEvent if the key
// was live. If the removed value was a nested container, its parent link
// is cleared so it may legally be re-assigned elsewhere afterward.
func (m *Map) Delete(tx *Transaction, key string) error {
	if tx.doc != m.d {
		return ErrNoActiveTransaction
	}
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok || e.deleted {
		m.mu.Unlock()
		return nil
	}
	e.deleted = true
	e.ts = tx.doc.tick()
	e.replica = tx.doc.replica
	removed := e.value
	m.mu.Unlock()

	if c, ok := removed.(Container); ok {
		c.clearParent()
	}

	tx.record(ContainerEvent{Container: m, Map: &MapEvent{Removed: []string{key}}})
	return nil
}

// mergeFrom reconciles other's entries into m, keeping the LWW-winning
// entry per key.
func (m *Map) mergeFrom(other *Map) {
	other.mu.RLock()
	remote := make(map[string]*mapEntry, len(other.entries))
	for k, e := range other.entries {
		cp := *e
		remote[k] = &cp
	}
	other.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, re := range remote {
		cur, ok := m.entries[k]
		if !ok || re.wins(cur) {
			m.entries[k] = re
		}
	}
}
