package crdtdoc

// Merge reconciles all state from other into d, container by container,
// matching containers by ID. It is the in-process stand-in for two
// replicas exchanging updates over a network provider (internal/provider):
// a test (or a future real provider) can Fork a document, mutate both
// sides independently, and Merge them back together to assert
// convergence.
//
// Containers that exist only in other (created there after the fork, with
// no counterpart yet in d) are cloned into d first so mergeFrom always has
// a local counterpart to merge into; a structural clone this shallow is
// sufficient because RGA/LWW merge logic is itself idempotent and
// order-independent.
//
// Merge locks both documents for its duration; callers must not invoke
// a.Merge(b) and b.Merge(a) concurrently from different goroutines, which
// could deadlock on lock ordering. Reference/test usage merges one
// direction at a time.
func (d *Doc) Merge(other *Doc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	for id, oc := range other.containers {
		if _, ok := d.containers[id]; !ok {
			d.cloneContainer(id, oc)
		}
	}
	for id, oc := range other.containers {
		lc := d.containers[id]
		mergeContainer(lc, oc)
	}
	if other.clock > d.clock {
		d.clock = other.clock
	}
}

// cloneContainer creates an empty, same-kind, same-ID local container so a
// subsequent mergeContainer call has something to merge other's state
// into. It does not copy parent links; those are re-established when the
// owning Map/List entry that references this container is merged.
func (d *Doc) cloneContainer(id string, src Container) {
	var c Container
	switch src.Kind() {
	case KindMap:
		m := &Map{entries: make(map[string]*mapEntry)}
		m.self, m.id, m.d = m, id, d
		c = m
	case KindList:
		l := &List{}
		l.self, l.id, l.d = l, id, d
		c = l
	case KindText:
		t := &Text{}
		t.self, t.id, t.d = t, id, d
		c = t
	}
	d.containers[id] = c
}

func mergeContainer(local, remote Container) {
	switch l := local.(type) {
	case *Map:
		l.mergeFrom(remote.(*Map))
	case *List:
		l.mergeFrom(remote.(*List))
	case *Text:
		l.mergeFrom(remote.(*Text))
	}
}

// Fork creates a new, independent document seeded with a full copy of d's
// current state, tagged with a new replica id. Edits to the fork and to d
// diverge freely until reconciled with Merge.
func (d *Doc) Fork(replica string) *Doc {
	d.mu.Lock()
	defer d.mu.Unlock()

	nd := &Doc{
		replica:          replica,
		containers:       make(map[string]Container),
		subscribers:      make(map[int]func(ContainerEvent)),
		batchSubscribers: make(map[int]func([]ContainerEvent)),
		clock:            d.clock,
	}
	for id, c := range d.containers {
		nd.cloneContainer(id, c)
	}
	for id, c := range d.containers {
		mergeContainer(nd.containers[id], c)
	}
	for id, c := range d.containers {
		if parent, key, ok := c.Parent(); ok {
			nd.containers[id].reparent(nd.containers[parent.ID()], key)
		}
	}
	// Nested container values copied by mergeFrom still point at d's
	// containers; swap each for the fork's own clone.
	for _, c := range nd.containers {
		switch x := c.(type) {
		case *Map:
			for _, e := range x.entries {
				if v, ok := e.value.(Container); ok {
					e.value = nd.containers[v.ID()]
				}
			}
		case *List:
			for _, e := range x.seq {
				if v, ok := e.value.(Container); ok {
					e.value = nd.containers[v.ID()]
				}
			}
		}
	}
	nd.root = nd.containers[d.root.ID()]
	return nd
}
