package proxy

import (
	"fmt"
	"sync"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridgeerr"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/capture"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/registry"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/value"
)

// Array is the local proxy for an ordered shared container.
type Array struct {
	mu         sync.RWMutex
	reg        *registry.Registry
	container  *crdtdoc.List
	rec        capture.Recorder
	items      []any
	tombstoned bool
}

func newArray(c *crdtdoc.List, reg *registry.Registry, rec capture.Recorder) *Array {
	return &Array{reg: reg, container: c, rec: rec, items: append([]any(nil), c.Values()...)}
}

func (a *Array) Kind() crdtdoc.ContainerKind { return crdtdoc.KindList }

func (a *Array) Tombstone() {
	a.mu.Lock()
	a.tombstoned = true
	a.mu.Unlock()
}

func (a *Array) ContainerID() string { return a.container.ID() }

// SharedContainer implements value.SharedBacked so assigning an existing
// Array elsewhere in the tree is classified and reparent-checked exactly
// like assigning its backing crdtdoc.List directly.
func (a *Array) SharedContainer() crdtdoc.Container { return a.container }

// Len returns the array's current length.
func (a *Array) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

// Get reads index i, materializing a nested shared container on first
// access.
func (a *Array) Get(i int) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.items) {
		return nil, false
	}
	mv := materializeValue(a.reg, a.items[i])
	a.items[i] = mv
	return mv, true
}

// Set writes index i. i == Len() appends (an insert at tail); i < Len()
// overwrites in place; i > Len() is a sparse insertion and is rejected —
// the planner enforces the same rule again independently at flush time,
// but catching it here means the local array never observably holds a
// hole.
func (a *Array) Set(i int, v any) error {
	path := fmt.Sprintf("[%d]", i)
	if err := value.AssertAssignable(v, path); err != nil {
		return err
	}

	a.mu.Lock()
	if a.tombstoned {
		a.mu.Unlock()
		return bridgeerr.Lifecyclef(path, "write to tombstoned proxy discarded")
	}
	if i < 0 || i > len(a.items) {
		a.mu.Unlock()
		return bridgeerr.PlannerInvariantf(path, "sparse insertion is unsupported")
	}
	var old any
	hasOld := i < len(a.items)
	if hasOld {
		old = a.items[i]
	}
	if i == len(a.items) {
		a.items = append(a.items, v)
	} else {
		a.items[i] = v
	}
	a.mu.Unlock()

	a.rec.Record(a.container.ID(), capture.Op{
		Kind: capture.OpSet, Index: i, NewValue: v, OldValue: old, HasOld: hasOld,
	})
	return nil
}

// Delete removes the element at i, shifting subsequent elements down. A
// no-op if i is out of range.
func (a *Array) Delete(i int) error {
	a.mu.Lock()
	if a.tombstoned {
		a.mu.Unlock()
		return bridgeerr.Lifecyclef(fmt.Sprintf("[%d]", i), "write to tombstoned proxy discarded")
	}
	if i < 0 || i >= len(a.items) {
		a.mu.Unlock()
		return nil
	}
	a.items = append(a.items[:i], a.items[i+1:]...)
	a.mu.Unlock()

	a.rec.Record(a.container.ID(), capture.Op{Kind: capture.OpDelete, Index: i})
	return nil
}

// Push appends each value in order, each call producing one Set at the
// array's then-current tail — the same op shape the planner's bulk-insert
// coalescing rule expects from a burst of pushes in one batch.
func (a *Array) Push(vs ...any) error {
	for _, v := range vs {
		if err := a.Set(a.Len(), v); err != nil {
			return err
		}
	}
	return nil
}

// Splice removes deleteCount elements starting at start, then inserts the
// given values there: the JS-array-splice idiom. Deletion is a plain
// repeated Delete(start). Insertion in the middle of the array has no
// primitive of its own — there is no "insert" op in the capture
// vocabulary (spec.md §4.5: a list op is only ever set(i,v) or
// delete(i)) — so it is realized the way a real Proxy-trapped array
// produces it: insertAt grows the array to its final length with tail
// appends, shifts the captured original tail into its new position, and
// writes the new values into the freed slots, each step as one Set. The
// planner reconstructs this cascade back into delete+insert intents; see
// pkg/planner's bulk-insert coalescing for the one shape (a run of
// strictly-increasing tail sets) it recognizes and compresses into a
// single insert.
func (a *Array) Splice(start, deleteCount int, inserts ...any) error {
	for n := 0; n < deleteCount; n++ {
		if err := a.Delete(start); err != nil {
			return err
		}
	}
	return a.insertAt(start, inserts)
}

// insertAt shifts the tail (indices [start, curLen)) rightward by
// len(vals) and writes vals into the freed positions, using only Set's
// two legal shapes (append at the current length, or overwrite within
// it). The tail is captured before any mutation, the array is grown to
// its final length first (so every subsequent target index is always
// in-bounds), and the captured tail is then written back highest-index
// first so a position is never overwritten before it has been read.
func (a *Array) insertAt(start int, vals []any) error {
	if len(vals) == 0 {
		return nil
	}
	a.mu.RLock()
	curLen := len(a.items)
	a.mu.RUnlock()
	n := len(vals)

	tail := make([]any, 0, curLen-start)
	for k := start; k < curLen; k++ {
		v, ok := a.rawGet(k)
		if !ok {
			break
		}
		tail = append(tail, v)
	}

	for i := 0; i < n; i++ {
		if err := a.Set(a.Len(), vals[i]); err != nil {
			return err
		}
	}
	for i := len(tail) - 1; i >= 0; i-- {
		if err := a.Set(start+n+i, tail[i]); err != nil {
			return err
		}
	}
	for i, v := range vals {
		if err := a.Set(start+i, v); err != nil {
			return err
		}
	}
	return nil
}

func (a *Array) rawGet(i int) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.items) {
		return nil, false
	}
	return a.items[i], true
}

// InsertAtRemote and DeleteAtRemote are used exclusively by
// pkg/reconciler to replay a CRDT ListEvent's insert/delete runs into
// local state in place, preserving this Array's identity. Like
// Object.SetRemote, the Op they record is discarded by pkg/capture via
// the bridge's Suppressor, not skipped here.
func (a *Array) InsertAtRemote(i int, vals []any) {
	a.mu.Lock()
	a.items = append(a.items, make([]any, len(vals))...)
	copy(a.items[i+len(vals):], a.items[i:])
	copy(a.items[i:i+len(vals)], vals)
	a.mu.Unlock()

	a.rec.Record(a.container.ID(), capture.Op{Kind: capture.OpSet, Index: i, NewValue: vals})
}

func (a *Array) DeleteAtRemote(i, count int) {
	a.mu.Lock()
	end := i + count
	if end > len(a.items) {
		end = len(a.items)
	}
	a.items = append(a.items[:i], a.items[end:]...)
	a.mu.Unlock()

	a.rec.Record(a.container.ID(), capture.Op{Kind: capture.OpDelete, Index: i})
}
