package proxy

import (
	"sort"
	"sync"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridgeerr"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/capture"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/registry"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/value"
)

// Object is the local proxy for a keyed shared container.
type Object struct {
	mu         sync.RWMutex
	reg        *registry.Registry
	container  *crdtdoc.Map
	rec        capture.Recorder
	fields     map[string]any
	tombstoned bool
}

func newObject(c *crdtdoc.Map, reg *registry.Registry, rec capture.Recorder) *Object {
	o := &Object{reg: reg, container: c, rec: rec, fields: make(map[string]any)}
	for _, k := range c.Keys() {
		if v, ok := c.Get(k); ok {
			o.fields[k] = v
		}
	}
	return o
}

func (o *Object) Kind() crdtdoc.ContainerKind { return crdtdoc.KindMap }

// Tombstone marks the proxy dead; further writes are discarded with a
// LifecycleError. Called only by the registry, on purge.
func (o *Object) Tombstone() {
	o.mu.Lock()
	o.tombstoned = true
	o.mu.Unlock()
}

// ContainerID is the stable key pending batches and the reconciler use to
// find this proxy's backing container.
func (o *Object) ContainerID() string { return o.container.ID() }

// SharedContainer implements value.SharedBacked so assigning an existing
// Object elsewhere in the tree is classified and reparent-checked exactly
// like assigning its backing crdtdoc.Map directly.
func (o *Object) SharedContainer() crdtdoc.Container { return o.container }

// Get reads key, materializing a nested shared container into its own
// proxy node on first access.
func (o *Object) Get(key string) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.fields[key]
	if !ok {
		return nil, false
	}
	mv := materializeValue(o.reg, v)
	o.fields[key] = mv
	return mv, true
}

// Keys returns the object's current keys in sorted order (for diagnostics
// and toPlain only; the object itself is unordered per spec.md §3.1).
func (o *Object) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.fields))
	for k := range o.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set writes key=newValue, validating newValue against the assignable
// value rules (spec.md §4.1) before touching local state. The write lands
// in local state immediately; the Op is recorded for pkg/capture to batch
// and eventually plan against the CRDT.
func (o *Object) Set(key string, newValue any) error {
	if err := value.AssertAssignable(newValue, key); err != nil {
		return err
	}

	o.mu.Lock()
	if o.tombstoned {
		o.mu.Unlock()
		return bridgeerr.Lifecyclef(key, "write to tombstoned proxy discarded")
	}
	old, existed := o.fields[key]
	o.fields[key] = newValue
	o.mu.Unlock()

	o.rec.Record(o.container.ID(), capture.Op{
		Kind: capture.OpSet, Key: key, Index: -1,
		NewValue: newValue, OldValue: old, HasOld: existed,
	})
	return nil
}

// Delete removes key, a no-op if the key was already absent.
func (o *Object) Delete(key string) error {
	o.mu.Lock()
	if o.tombstoned {
		o.mu.Unlock()
		return bridgeerr.Lifecyclef(key, "write to tombstoned proxy discarded")
	}
	_, existed := o.fields[key]
	if !existed {
		o.mu.Unlock()
		return nil
	}
	delete(o.fields, key)
	o.mu.Unlock()

	o.rec.Record(o.container.ID(), capture.Op{Kind: capture.OpDelete, Key: key, Index: -1})
	return nil
}

// SetRemote and DeleteRemote are used exclusively by pkg/reconciler to
// apply a CRDT-originated change into local state. They skip value
// validation (remote content has already round-tripped through the CRDT)
// and rely on the caller holding the bridge's Suppressor so the Op they
// still record is discarded by pkg/capture rather than planned.
func (o *Object) SetRemote(key string, newValue any) {
	o.mu.Lock()
	old, existed := o.fields[key]
	o.fields[key] = newValue
	o.mu.Unlock()

	o.rec.Record(o.container.ID(), capture.Op{
		Kind: capture.OpSet, Key: key, Index: -1,
		NewValue: newValue, OldValue: old, HasOld: existed,
	})
}

func (o *Object) DeleteRemote(key string) {
	o.mu.Lock()
	delete(o.fields, key)
	o.mu.Unlock()

	o.rec.Record(o.container.ID(), capture.Op{Kind: capture.OpDelete, Key: key, Index: -1})
}
