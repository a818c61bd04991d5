// Package registry is the materialization registry: it lazily wraps
// shared CRDT containers as local proxy nodes, keeps a bidirectional
// identity map between the two, and purges proxies when their underlying
// container is replaced.
//
// Node is defined here rather than in pkg/proxy so registry has no
// dependency on the concrete proxy implementation — pkg/proxy imports
// registry and implements Node, not the other way around. The registry is
// handed a NodeFactory at construction time so it can create wrappers
// without ever importing pkg/proxy.
package registry

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
)

// Node is whatever a local proxy must expose for the registry to manage
// its lifetime.
type Node interface {
	Kind() crdtdoc.ContainerKind
	Tombstone()
}

// NodeFactory creates the proxy wrapper for a freshly materialized
// container. reg is passed through so the created node can call back into
// GetOrCreateProxy for its own lazily-read children.
type NodeFactory func(c crdtdoc.Container, reg *Registry) Node

type entry struct {
	shared     crdtdoc.Container
	node       Node
	tombstoned bool
}

// Registry owns the lifetime of every materialized proxy (it holds no
// document subscriptions); no other component should retain a proxy
// reference beyond the scope of the call that obtained it.
type Registry struct {
	mu          sync.RWMutex
	byContainer map[string]*entry
	byNode      map[Node]*entry
	factory     NodeFactory
	sf          singleflight.Group
	logger      *slog.Logger
}

// New creates an empty registry. factory is invoked at most once per
// container identity until that container is purged, even under
// concurrent GetOrCreateProxy calls, via an internal singleflight.Group.
func New(logger *slog.Logger, factory NodeFactory) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byContainer: make(map[string]*entry),
		byNode:      make(map[Node]*entry),
		factory:     factory,
		logger:      logger,
	}
}

// GetOrCreateProxy returns the proxy for c, creating it on first call and
// returning the same Node on every subsequent call until c is purged.
func (r *Registry) GetOrCreateProxy(c crdtdoc.Container) Node {
	r.mu.RLock()
	if e, ok := r.byContainer[c.ID()]; ok && !e.tombstoned {
		r.mu.RUnlock()
		return e.node
	}
	r.mu.RUnlock()

	v, _, _ := r.sf.Do(c.ID(), func() (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if e, ok := r.byContainer[c.ID()]; ok && !e.tombstoned {
			return e.node, nil
		}
		node := r.factory(c, r)
		e := &entry{shared: c, node: node}
		r.byContainer[c.ID()] = e
		r.byNode[node] = e
		return node, nil
	})
	return v.(Node)
}

// GetShared resolves the shared container backing n, if n is currently
// materialized and not tombstoned.
func (r *Registry) GetShared(n Node) (crdtdoc.Container, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byNode[n]
	if !ok || e.tombstoned {
		return nil, false
	}
	return e.shared, true
}

// Container resolves a container by its stable ID, the form a pending
// batch's container key takes (spec.md §4.4).
func (r *Registry) Container(id string) (crdtdoc.Container, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byContainer[id]
	if !ok {
		return nil, false
	}
	return e.shared, true
}

// PurgeSubtree tombstones the proxy for c, if materialized, and recurses
// into every nested shared container reachable from c — matching
// spec.md §3.3's replacement semantics: further local writes against a
// tombstoned proxy are discarded with a lifecycle warning.
func (r *Registry) PurgeSubtree(c crdtdoc.Container) {
	r.mu.Lock()
	e, ok := r.byContainer[c.ID()]
	if ok {
		e.tombstoned = true
		e.node.Tombstone()
		delete(r.byNode, e.node)
		delete(r.byContainer, c.ID())
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("purged subtree root", "container", c.ID())
	}

	switch c.Kind() {
	case crdtdoc.KindMap:
		m := c.(*crdtdoc.Map)
		for _, k := range m.Keys() {
			if v, ok := m.Get(k); ok {
				r.purgeIfSharedNonText(v)
			}
		}
	case crdtdoc.KindList:
		l := c.(*crdtdoc.List)
		for _, v := range l.Values() {
			r.purgeIfSharedNonText(v)
		}
	}
}

func (r *Registry) purgeIfSharedNonText(v any) {
	child, ok := v.(crdtdoc.Container)
	if !ok || child.Kind() == crdtdoc.KindText {
		return
	}
	r.PurgeSubtree(child)
}
