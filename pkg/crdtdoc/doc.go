// Package crdtdoc implements the shared CRDT document the bridge
// synchronizes a local reactive proxy against: keyed maps (LWW-element),
// ordered lists (RGA), and opaque rich-text handles, grouped under
// transactions tagged with an origin so a bridge can recognize and ignore
// the CRDT events its own writes produce.
//
// This package exists because the spec this bridge implements normally
// assumes an external CRDT library (Yjs, in the source ecosystem); no
// Go library of that shape appears in the example corpus, so the bridge
// owns a minimal one. CRDTDocument names the core document surface as an
// interface; pkg/bridge and the packages under it take *Doc directly.
package crdtdoc

import (
	"sync"

	"github.com/google/uuid"
)

// Origin tags a transaction with who produced it, so observers can
// distinguish self-authored transactions (the bridge's own writes) from
// remote ones (applied by a network/persistence provider).
type Origin struct {
	id    uuid.UUID
	Label string
}

// NewOrigin mints a fresh, process-unique origin tag.
func NewOrigin(label string) Origin {
	return Origin{id: uuid.New(), Label: label}
}

// Equal reports whether two origins were minted from the same NewOrigin
// call.
func (o Origin) Equal(other Origin) bool { return o.id == other.id }

func (o Origin) String() string {
	if o.Label != "" {
		return o.Label
	}
	return o.id.String()
}

// CRDTDocument is the core document surface: root lookup, transactions and
// event subscription. *Doc is the only implementation in this module, and
// pkg/bridge, pkg/applier and the provider take *Doc rather than this
// interface.
type CRDTDocument interface {
	Root() Container
	Transact(origin Origin, fn func(*Transaction) error) error
	Subscribe(fn func(ContainerEvent)) (unsubscribe func())
}

// Doc is an in-process CRDT document: a tree of Map/List/Text containers
// rooted at a single container, replicated by constructing another Doc via
// Fork and reconciling divergent edits with Merge.
type Doc struct {
	replica string

	mu         sync.Mutex
	root       Container
	containers map[string]Container
	clock      uint64
	counter    uint64

	subMu            sync.RWMutex
	subscribers      map[int]func(ContainerEvent)
	nextSubID        int
	batchSubscribers map[int]func([]ContainerEvent)
	nextBatchSubID   int
}

// NewDoc creates an empty document with the given root kind (KindMap or
// KindList) and a replica identifier used to tag newly created list
// elements and LWW map entries so concurrent edits from different replicas
// merge deterministically.
func NewDoc(replica string, rootKind ContainerKind) *Doc {
	d := &Doc{
		replica:          replica,
		containers:       make(map[string]Container),
		subscribers:      make(map[int]func(ContainerEvent)),
		batchSubscribers: make(map[int]func([]ContainerEvent)),
	}
	switch rootKind {
	case KindList:
		d.root = d.newList()
	default:
		d.root = d.newMap()
	}
	return d
}

// Root returns the document's root container, created (if absent) at
// NewDoc time — matching spec.md §3.3's "resolved, created if absent"
// bootstrap semantics.
func (d *Doc) Root() Container {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

// Replica returns this document's replica identifier.
func (d *Doc) Replica() string { return d.replica }

func (d *Doc) register(c Container) {
	d.containers[c.ID()] = c
}

func (d *Doc) lookup(id string) (Container, bool) {
	c, ok := d.containers[id]
	return c, ok
}

func (d *Doc) nextElemID() ElemID {
	d.counter++
	return ElemID{Replica: d.replica, Counter: d.counter}
}

func (d *Doc) tick() uint64 {
	d.clock++
	return d.clock
}

func newID() string {
	return uuid.NewString()
}

// Subscribe registers fn to receive every ContainerEvent produced by
// committed transactions; Merge emits no events. It returns an unsubscribe
// function.
func (d *Doc) Subscribe(fn func(ContainerEvent)) func() {
	d.subMu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.subscribers[id] = fn
	d.subMu.Unlock()
	return func() {
		d.subMu.Lock()
		delete(d.subscribers, id)
		d.subMu.Unlock()
	}
}

// SubscribeBatch registers fn to receive, once per committed transaction,
// every ContainerEvent that transaction produced (in emission order). A
// transaction touching several containers — a multi-key Bootstrap, or an
// applier flush spanning sibling containers — hands all of those events to
// fn together, so a caller that wants to reconcile them concurrently (see
// pkg/reconciler's ReconcileSiblings) can do so without trying to infer
// transaction boundaries from the single-event Subscribe stream. It
// returns an unsubscribe function.
func (d *Doc) SubscribeBatch(fn func([]ContainerEvent)) func() {
	d.subMu.Lock()
	id := d.nextBatchSubID
	d.nextBatchSubID++
	d.batchSubscribers[id] = fn
	d.subMu.Unlock()
	return func() {
		d.subMu.Lock()
		delete(d.batchSubscribers, id)
		d.subMu.Unlock()
	}
}

func (d *Doc) emit(ev ContainerEvent) {
	d.subMu.RLock()
	fns := make([]func(ContainerEvent), 0, len(d.subscribers))
	for _, fn := range d.subscribers {
		fns = append(fns, fn)
	}
	d.subMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (d *Doc) emitBatch(evs []ContainerEvent) {
	if len(evs) == 0 {
		return
	}
	d.subMu.RLock()
	fns := make([]func([]ContainerEvent), 0, len(d.batchSubscribers))
	for _, fn := range d.batchSubscribers {
		fns = append(fns, fn)
	}
	d.subMu.RUnlock()
	for _, fn := range fns {
		fn(evs)
	}
}
