// Package reconciler is the sole writer of remote CRDT changes into the
// local proxy graph. It subscribes to crdtdoc.Doc's ContainerEvent stream
// and replays each event into the materialized proxy for that container,
// under the shared Suppressor so the write it produces is captured and
// discarded rather than planned back out (spec.md §4.7).
package reconciler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/capture"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/registry"
)

// ArrayNode and ObjectNode narrow pkg/proxy's Object/Array down to the
// remote-write methods the reconciler needs, so this package does not
// import pkg/proxy (which would cycle back through pkg/registry).
type ObjectNode interface {
	Keys() []string
	SetRemote(key string, newValue any)
	DeleteRemote(key string)
}

type ArrayNode interface {
	Len() int
	InsertAtRemote(i int, vals []any)
	DeleteAtRemote(i, count int)
}

// TextNode is implemented directly by *crdtdoc.Text; rich text has no
// local proxy wrapper, so the reconciler's only job for a TextEvent is to
// notify subscribers that the handle's Value() changed.
type TextNode interface {
	Value() string
}

// Reconciler applies remote ContainerEvents into the local proxy graph.
type Reconciler struct {
	reg    *registry.Registry
	self   crdtdoc.Origin
	sup    *capture.Suppressor
	logger *slog.Logger

	// seenMu guards seen: Handle may run concurrently across sibling
	// containers via ReconcileSiblings's errgroup fan-out, and
	// bloom.BloomFilter is not safe for concurrent Test/Add on its own.
	seenMu sync.Mutex
	seen   *bloom.BloomFilter

	// onTextChanged, if set, is called whenever a TextEvent is applied, so
	// a caller bound to a rich-text editor can refresh it.
	onTextChanged func(c *crdtdoc.Text, value string)
}

// New builds a Reconciler. self is the bridge's own origin — events
// tagged with it are the applier's own writes and are ignored, since
// local state already reflects them. sup is the Suppressor the proxy
// layer's remote-write methods rely on to keep the ops they still record
// from being captured and re-planned.
func New(reg *registry.Registry, self crdtdoc.Origin, sup *capture.Suppressor, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		reg:    reg,
		self:   self,
		sup:    sup,
		logger: logger,
		seen:   bloom.NewWithEstimates(100000, 0.01),
	}
}

// OnTextChanged registers a callback invoked after a remote TextEvent is
// applied.
func (r *Reconciler) OnTextChanged(fn func(c *crdtdoc.Text, value string)) {
	r.onTextChanged = fn
}

// Handle is the crdtdoc.Doc.Subscribe callback. It ignores this bridge's
// own transactions and any map or list container that has never been
// materialized into a proxy (nothing local observes it yet, so there is
// nothing to reconcile — the next GetOrCreateProxy call will read the
// container's current state directly). Text is never wrapped in a proxy,
// so a TextEvent goes straight to the OnTextChanged callback.
func (r *Reconciler) Handle(ev crdtdoc.ContainerEvent) {
	if ev.Origin.Equal(r.self) {
		return
	}
	if ev.TxnID != "" {
		// One transaction can emit several events for the same container;
		// the payload pointer tells them apart, while the same event value
		// delivered a second time still matches.
		key := []byte(fmt.Sprintf("%s:%s:%p%p%p", ev.TxnID, ev.Container.ID(), ev.Map, ev.List, ev.Text))
		r.seenMu.Lock()
		dup := r.seen.Test(key)
		if !dup {
			r.seen.Add(key)
		}
		r.seenMu.Unlock()
		if dup {
			return
		}
	}

	if ev.Text != nil {
		r.sup.Enter()
		defer r.sup.Exit()
		r.applyText(ev.Container, ev.Text)
		return
	}

	node, materialized := r.materializedNode(ev.Container)
	if !materialized {
		return
	}

	r.sup.Enter()
	defer r.sup.Exit()

	switch {
	case ev.Map != nil:
		r.applyMap(node, ev.Map)
	case ev.List != nil:
		r.applyList(node, ev.List)
	}
}

func (r *Reconciler) materializedNode(c crdtdoc.Container) (registry.Node, bool) {
	// GetOrCreateProxy would create a proxy for a container nothing has
	// read yet; the registry's Container lookup is the read-only check
	// for "is this already materialized" the reconciler needs instead.
	if _, ok := r.reg.Container(c.ID()); !ok {
		return nil, false
	}
	return r.reg.GetOrCreateProxy(c), true
}

func (r *Reconciler) applyMap(node registry.Node, ev *crdtdoc.MapEvent) {
	o, ok := node.(ObjectNode)
	if !ok {
		r.logger.Warn("reconciler: map event against non-object node")
		return
	}
	for k, v := range ev.Added {
		o.SetRemote(k, r.materializeIfContainer(v))
	}
	for k, ch := range ev.Updated {
		o.SetRemote(k, r.materializeIfContainer(ch.New))
	}
	for _, k := range ev.Removed {
		o.DeleteRemote(k)
	}
}

func (r *Reconciler) applyList(node registry.Node, ev *crdtdoc.ListEvent) {
	a, ok := node.(ArrayNode)
	if !ok {
		r.logger.Warn("reconciler: list event against non-array node")
		return
	}
	idx := 0
	for _, d := range ev.Deltas {
		switch d.Kind {
		case crdtdoc.DeltaRetain:
			idx += d.Count
		case crdtdoc.DeltaInsert:
			vals := make([]any, len(d.Values))
			for i, v := range d.Values {
				vals[i] = r.materializeIfContainer(v)
			}
			a.InsertAtRemote(idx, vals)
			idx += len(vals)
		case crdtdoc.DeltaDelete:
			a.DeleteAtRemote(idx, d.Count)
		}
	}
}

func (r *Reconciler) applyText(c crdtdoc.Container, ev *crdtdoc.TextEvent) {
	t, ok := c.(*crdtdoc.Text)
	if !ok {
		return
	}
	if r.onTextChanged != nil {
		r.onTextChanged(t, ev.NewValue)
	}
}

func (r *Reconciler) materializeIfContainer(v any) any {
	c, ok := v.(crdtdoc.Container)
	if !ok || c.Kind() == crdtdoc.KindText {
		return v
	}
	return r.reg.GetOrCreateProxy(c)
}

// Refresh re-reads every live entry of c's materialized proxy directly
// from the CRDT, for the "refresh on reject" path spec.md §7 calls for
// when a local intent is rejected mid-flush and the proxy is now stale
// relative to the document: the proxy may hold speculative writes the
// rejected flush never committed, so this forces it back to exactly the
// CRDT's current shape rather than trying to compute a diff. Like Handle,
// it runs under the Suppressor so the SetRemote/DeleteRemote calls it
// makes are captured and discarded rather than planned back out.
func (r *Reconciler) Refresh(c crdtdoc.Container) {
	node, ok := r.materializedNode(c)
	if !ok {
		return
	}

	r.sup.Enter()
	defer r.sup.Exit()

	switch c.Kind() {
	case crdtdoc.KindMap:
		m := c.(*crdtdoc.Map)
		o, ok := node.(ObjectNode)
		if !ok {
			return
		}
		live := make(map[string]struct{}, len(m.Keys()))
		for _, k := range m.Keys() {
			live[k] = struct{}{}
			if v, ok := m.Get(k); ok {
				o.SetRemote(k, r.materializeIfContainer(v))
			}
		}
		for _, k := range o.Keys() {
			if _, ok := live[k]; !ok {
				o.DeleteRemote(k)
			}
		}
	case crdtdoc.KindList:
		l := c.(*crdtdoc.List)
		a, ok := node.(ArrayNode)
		if !ok {
			return
		}
		if n := a.Len(); n > 0 {
			a.DeleteAtRemote(0, n)
		}
		vals := make([]any, 0, l.Len())
		for _, v := range l.Values() {
			vals = append(vals, r.materializeIfContainer(v))
		}
		a.InsertAtRemote(0, vals)
	}
}

// ReconcileSiblings runs Handle for each of evs concurrently via
// errgroup.Group, for a batch of sibling container events (e.g. one
// transaction that touched several containers) where reconciling one container's proxy has no
// dependency on another's. Handle's own Suppressor use makes this safe:
// each container's writes are independent, and the Suppressor is a
// process-wide reference count rather than a per-container lock, so
// concurrent Enter/Exit pairs compose correctly.
func (r *Reconciler) ReconcileSiblings(evs []crdtdoc.ContainerEvent) error {
	var g errgroup.Group
	for _, ev := range evs {
		ev := ev
		g.Go(func() error {
			r.Handle(ev)
			return nil
		})
	}
	return g.Wait()
}
