package crdtdoc

import "sync"

// Text is an opaque rich-text handle. Rich-text content transformation
// (e.g. Y.XmlFragment-style structural deltas) is explicitly out of scope
// (spec.md §1 Non-goals); a Text only carries a whole-string value with
// last-write-wins semantics, so the bridge can round-trip a rich-text
// editor's serialized value without interpreting it.
type Text struct {
	base
	mu      sync.RWMutex
	value   string
	ts      uint64
	replica string
}

// NewText creates a detached Text handle with an initial value. Like a
// freshly created Map or List, it has no document or parent until it is
// written as a value somewhere inside a Transact call.
func NewText(initial string) *Text {
	t := &Text{value: initial}
	t.self = t
	t.id = newID()
	return t
}

func (t *Text) Kind() ContainerKind { return KindText }

// Value returns the handle's current string content.
func (t *Text) Value() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.value
}

// Set overwrites the handle's content within tx, emitting a TextEvent. The
// handle must already be attached to tx's document — place it as a Map or
// List value first (which attaches it via attachOrReparent) before calling
// Set.
func (t *Text) Set(tx *Transaction, value string) error {
	if t.d == nil || tx.doc != t.d {
		return ErrNoActiveTransaction
	}

	t.mu.Lock()
	t.value = value
	t.ts = tx.doc.tick()
	t.replica = tx.doc.replica
	t.mu.Unlock()

	tx.record(ContainerEvent{Container: t, Text: &TextEvent{NewValue: value}})
	return nil
}

// mergeFrom resolves two Text values by last-write-wins, the same rule a
// Map entry uses.
func (t *Text) mergeFrom(other *Text) {
	other.mu.RLock()
	ots, oreplica, oval := other.ts, other.replica, other.value
	other.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if ots > t.ts || (ots == t.ts && oreplica > t.replica) {
		t.value = oval
		t.ts = ots
		t.replica = oreplica
	}
}
