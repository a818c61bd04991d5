// Package bridge is the public surface: it wires pkg/registry,
// pkg/capture, pkg/proxy, pkg/planner, pkg/applier, and pkg/reconciler
// together into the createBridge/bootstrap/dispose contract spec.md §6
// describes.
package bridge

import (
	"log/slog"
	"sync"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/applier"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridge/metrics"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridgeerr"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/capture"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/planner"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/proxy"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/reconciler"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/registry"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/value"
)

// Options configures CreateBridge.
type Options struct {
	// GetRoot resolves doc's root shared container. Defaults to doc.Root()
	// if nil. Must resolve to a Map or List — a Text root is rejected.
	GetRoot func(doc *crdtdoc.Doc) crdtdoc.Container

	// Logger receives structured diagnostics from every wired component.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// ErrorSink, if set, receives every error a flush or reconcile pass
	// produces, for callers that want to surface them asynchronously
	// (spec.md §7: "via a registered error handler otherwise").
	ErrorSink func(error)

	// Metrics, if set, receives batch/intent/reconcile/error counters for
	// this bridge instance. Left nil, CreateBridge runs uninstrumented.
	Metrics *metrics.Metrics
}

// Bridge wires one root shared container to one local proxy root, typed
// as T. T is the concrete proxy node type the caller expects the root to
// materialize as — *proxy.Object for a keyed-map root, *proxy.Array for
// an ordered-list root — not an arbitrary application struct: the proxy
// graph is dynamically shaped by the CRDT document it mirrors, so a
// statically-typed T naming that shape has no Go analogue without
// reflection-based field mapping the rest of this corpus never reaches
// for. CreateBridge type-asserts the materialized root into T once, at
// construction.
type Bridge[T registry.Node] struct {
	doc    *crdtdoc.Doc
	origin crdtdoc.Origin
	root   crdtdoc.Container
	proxy  T

	reg        *registry.Registry
	collector  *capture.Collector
	suppressor *capture.Suppressor
	applier    *applier.Applier
	recon      *reconciler.Reconciler
	unsubDoc   func()
	errorSink  func(error)
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	disposed bool
}

// CreateBridge resolves opts.GetRoot(doc) (or doc.Root()), materializes
// it as a proxy, and wires the planner/applier/reconciler pipeline in
// both directions. The returned Bridge owns a fresh crdtdoc.Origin used
// to tag every transaction its applier opens.
func CreateBridge[T registry.Node](doc *crdtdoc.Doc, opts Options) (*Bridge[T], error) {
	getRoot := opts.GetRoot
	if getRoot == nil {
		getRoot = func(d *crdtdoc.Doc) crdtdoc.Container { return d.Root() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := getRoot(doc)
	if root.Kind() == crdtdoc.KindText {
		return nil, bridgeerr.Lifecyclef("", "bridge root must be a map or list, not text")
	}

	origin := crdtdoc.NewOrigin("bridge")
	sup := &capture.Suppressor{}

	b := &Bridge[T]{
		doc:        doc,
		origin:     origin,
		root:       root,
		suppressor: sup,
		errorSink:  opts.ErrorSink,
		logger:     logger,
		metrics:    opts.Metrics,
	}

	b.collector = capture.NewCollector(b.flush, sup)
	b.reg = registry.New(logger, proxy.NewNodeFactory(b.collector))
	b.applier = applier.New(doc, origin, b.reg, logger)
	b.recon = reconciler.New(b.reg, origin, sup, logger)
	b.unsubDoc = doc.SubscribeBatch(func(evs []crdtdoc.ContainerEvent) {
		if err := b.recon.ReconcileSiblings(evs); err != nil {
			b.reportError(bridgeerr.Wrap(err))
		}
		if b.metrics != nil {
			for _, ev := range evs {
				if !ev.Origin.Equal(origin) {
					b.metrics.ReconcileApplied.Inc()
				}
			}
		}
	})

	node := b.reg.GetOrCreateProxy(root)
	typed, ok := any(node).(T)
	if !ok {
		b.unsubDoc()
		return nil, bridgeerr.Lifecyclef("", "materialized root does not satisfy the requested proxy type")
	}
	b.proxy = typed
	return b, nil
}

// Proxy returns the root proxy node. Field/index access and writes go
// through its Get/Set/Delete methods; every write is mirrored into local
// state synchronously and captured for the next microtask's flush.
func (b *Bridge[T]) Proxy() T { return b.proxy }

// SelfOrigin returns the crdtdoc.Origin this bridge tags its own
// transactions with, so external collaborators (an undo manager, a
// network provider auditing transaction provenance) can recognize the
// bridge's own writes.
func (b *Bridge[T]) SelfOrigin() crdtdoc.Origin { return b.origin }

// Bootstrap writes initial into the root within one self-origin
// transaction if the root is currently empty, and is a no-op otherwise —
// matching spec.md §6's idempotent bootstrap contract. The root proxy is
// then refreshed from the CRDT, since the reconciler ignores this bridge's
// own transactions. initial is a plain
// Go value (map[string]any for a map root, []any for a list root); unlike
// the proxy type T, there is no static Go type for "the root's plain JSON
// shape" to require here, so this intentionally takes `any` rather than
// T.
func (b *Bridge[T]) Bootstrap(initial any) error {
	if initial == nil {
		return nil
	}
	empty := false
	switch b.root.Kind() {
	case crdtdoc.KindMap:
		empty = len(b.root.(*crdtdoc.Map).Keys()) == 0
	case crdtdoc.KindList:
		empty = b.root.(*crdtdoc.List).Len() == 0
	}
	if !empty {
		return nil
	}

	err := b.doc.Transact(b.origin, func(tx *crdtdoc.Transaction) error {
		sv, err := value.ToShared(tx, initial)
		if err != nil {
			return err
		}
		switch root := b.root.(type) {
		case *crdtdoc.Map:
			m, ok := sv.(*crdtdoc.Map)
			if !ok {
				return bridgeerr.Validationf("", "bootstrap value for a map root must itself convert to a map")
			}
			for _, k := range m.Keys() {
				v, _ := m.Get(k)
				// Detach v from the temporary converted map so root can adopt it.
				if err := m.Delete(tx, k); err != nil {
					return bridgeerr.Wrap(err)
				}
				if err := root.Set(tx, k, v); err != nil {
					return bridgeerr.Wrap(err)
				}
			}
		case *crdtdoc.List:
			l, ok := sv.(*crdtdoc.List)
			if !ok {
				return bridgeerr.Validationf("", "bootstrap value for a list root must itself convert to a list")
			}
			vals := l.Values()
			if err := l.DeleteAt(tx, 0, len(vals)); err != nil {
				return bridgeerr.Wrap(err)
			}
			if err := root.InsertAt(tx, 0, vals); err != nil {
				return bridgeerr.Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.recon.Refresh(b.root)
	return nil
}

// Dispose flushes any pending batch one last time, unsubscribes from the
// document, and then tombstones the entire proxy subtree. Further writes
// against any proxy obtained from this bridge are discarded with a
// LifecycleError.
func (b *Bridge[T]) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	b.mu.Unlock()

	b.collector.FlushNow()
	b.unsubDoc()
	b.reg.PurgeSubtree(b.root)
}

// SyncedText creates a detached rich-text handle with the given initial
// value. Assign it as a map or list value to attach it to the document;
// until then it has no parent and cannot be Set.
func SyncedText(initial string) *crdtdoc.Text {
	return crdtdoc.NewText(initial)
}

// flush is the capture.Collector's FlushFunc: it plans every container's
// batch, and — only if every container in this flush plans cleanly —
// applies all of them in one CRDT transaction. Per spec.md §7's atomicity
// rule, a single container's planning failure discards the whole flush,
// not just that container's ops; the proxy has already observed the
// mutations (capture is post-hoc, so every container touched by this
// batch has already been written to locally), so on rejection every
// container in the batch has its proxy forced back to the CRDT's current
// state via Reconciler.Refresh — spec.md §7's "synthetic refresh pass" —
// rather than left holding writes that were never planned or applied.
func (b *Bridge[T]) flush(batch map[string][]capture.Op) {
	if b.metrics != nil {
		b.metrics.BatchesFlushed.Inc()
		b.metrics.PendingBatches.Set(float64(len(batch)))
	}

	containers := make(map[string]crdtdoc.Container, len(batch))
	for containerID := range batch {
		c, ok := b.reg.Container(containerID)
		if !ok {
			b.reportError(bridgeerr.Lifecyclef(containerID, "flush against a purged container discarded"))
			return
		}
		containers[containerID] = c
	}
	refreshAll := func() {
		for _, c := range containers {
			b.recon.Refresh(c)
		}
	}

	batches := make([]applier.Batch, 0, len(batch))
	for containerID, ops := range batch {
		c := containers[containerID]
		pre := planner.PreBatchState{Shape: planner.ShapeMap}
		if c.Kind() == crdtdoc.KindList {
			pre.Shape = planner.ShapeList
			pre.Len = c.(*crdtdoc.List).Len()
		}
		intents, err := planner.Plan(pre, ops)
		if err != nil {
			b.reportError(err)
			refreshAll()
			return
		}
		if b.metrics != nil {
			for _, in := range intents {
				b.metrics.IntentsPlanned.WithLabelValues(in.Kind.String()).Inc()
			}
		}
		batches = append(batches, applier.Batch{ContainerID: containerID, Intents: intents})
	}
	if err := b.applier.Apply(batches); err != nil {
		b.reportError(err)
		refreshAll()
		return
	}
	if b.metrics != nil {
		b.metrics.PendingBatches.Set(0)
	}
}

func (b *Bridge[T]) reportError(err error) {
	b.logger.Warn("bridge flush rejected", "error", err)
	if b.metrics != nil {
		kind, ok := bridgeerr.KindOf(err)
		label := "UnknownError"
		if ok {
			label = kind.String()
		}
		b.metrics.Errors.WithLabelValues(label).Inc()
	}
	if b.errorSink != nil {
		b.errorSink(err)
	}
}
