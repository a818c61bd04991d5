package reconciler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/capture"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/proxy"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/reconciler"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/registry"
)

type noopRecorder struct{}

func (noopRecorder) Record(string, capture.Op) {}

func newFixture(t *testing.T, rootKind crdtdoc.ContainerKind) (*crdtdoc.Doc, *registry.Registry, *reconciler.Reconciler, crdtdoc.Origin, *capture.Suppressor) {
	t.Helper()
	doc := crdtdoc.NewDoc("r1", rootKind)
	reg := registry.New(nil, proxy.NewNodeFactory(noopRecorder{}))
	self := crdtdoc.NewOrigin("bridge")
	sup := &capture.Suppressor{}
	rec := reconciler.New(reg, self, sup, nil)
	doc.Subscribe(rec.Handle)
	return doc, reg, rec, self, sup
}

func TestReconciler_SelfOriginEventsAreIgnored(t *testing.T) {
	doc, reg, _, self, _ := newFixture(t, crdtdoc.KindMap)
	root := doc.Root().(*crdtdoc.Map)
	node := reg.GetOrCreateProxy(root)
	obj := node.(*proxy.Object)

	err := doc.Transact(self, func(tx *crdtdoc.Transaction) error {
		return root.Set(tx, "a", "1")
	})
	require.NoError(t, err)

	// The reconciler ignored its own origin's event: the CRDT reflects the
	// write, but the proxy, which only learns of self-origin writes through
	// its own local Set calls, was never touched.
	v, ok := root.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = obj.Get("a")
	assert.False(t, ok)
}

func TestReconciler_UnmaterializedContainerIsIgnored(t *testing.T) {
	doc, _, _, _, _ := newFixture(t, crdtdoc.KindMap)
	root := doc.Root().(*crdtdoc.Map)
	remote := crdtdoc.NewOrigin("peer")

	// No proxy was ever materialized for root, so Handle has nothing to
	// reconcile into; this must not panic.
	err := doc.Transact(remote, func(tx *crdtdoc.Transaction) error {
		return root.Set(tx, "a", "1")
	})
	require.NoError(t, err)
}

// A remote (non-self-origin) map event is replayed into the materialized
// proxy's local state, without the proxy's own op-capture re-recording it
// as a local mutation (the Suppressor discards that Op before pkg/capture
// ever batches it — verified here by observing the proxy's updated state
// rather than absence of any Op record, since this fixture uses a noop
// recorder).
func TestReconciler_RemoteMapEventAppliesToMaterializedProxy(t *testing.T) {
	doc, reg, _, _, _ := newFixture(t, crdtdoc.KindMap)
	root := doc.Root().(*crdtdoc.Map)
	node := reg.GetOrCreateProxy(root)
	obj := node.(*proxy.Object)

	remote := crdtdoc.NewOrigin("peer")
	err := doc.Transact(remote, func(tx *crdtdoc.Transaction) error {
		return root.Set(tx, "fromPeer", "value")
	})
	require.NoError(t, err)

	v, ok := obj.Get("fromPeer")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestReconciler_RemoteListEventAppliesToMaterializedProxy(t *testing.T) {
	doc, reg, _, _, _ := newFixture(t, crdtdoc.KindList)
	root := doc.Root().(*crdtdoc.List)
	node := reg.GetOrCreateProxy(root)
	arr := node.(*proxy.Array)

	remote := crdtdoc.NewOrigin("peer")
	err := doc.Transact(remote, func(tx *crdtdoc.Transaction) error {
		return root.InsertAt(tx, 0, []any{"x", "y"})
	})
	require.NoError(t, err)

	assert.Equal(t, 2, arr.Len())
	v, _ := arr.Get(0)
	assert.Equal(t, "x", v)
}

func TestReconciler_RemoteTextEventInvokesCallback(t *testing.T) {
	doc, reg, rec, _, _ := newFixture(t, crdtdoc.KindMap)
	root := doc.Root().(*crdtdoc.Map)
	reg.GetOrCreateProxy(root)
	text := crdtdoc.NewText("initial")

	var gotValue string
	rec.OnTextChanged(func(c *crdtdoc.Text, value string) { gotValue = value })

	remote := crdtdoc.NewOrigin("peer")
	err := doc.Transact(remote, func(tx *crdtdoc.Transaction) error {
		if err := root.Set(tx, "body", text); err != nil {
			return err
		}
		return text.Set(tx, "updated")
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", gotValue)
}

func TestReconciler_RefreshResyncsArrayFromCrdt(t *testing.T) {
	doc, reg, rec, self, _ := newFixture(t, crdtdoc.KindList)
	root := doc.Root().(*crdtdoc.List)
	node := reg.GetOrCreateProxy(root)
	arr := node.(*proxy.Array)

	err := doc.Transact(self, func(tx *crdtdoc.Transaction) error {
		return root.InsertAt(tx, 0, []any{"a", "b"})
	})
	require.NoError(t, err)

	// Proxy never saw this self-origin write reflected remotely (the
	// reconciler ignores self events); force a resync.
	rec.Refresh(root)
	assert.Equal(t, 2, arr.Len())
	v0, _ := arr.Get(0)
	v1, _ := arr.Get(1)
	assert.Equal(t, "a", v0)
	assert.Equal(t, "b", v1)
}

func TestReconciler_ReconcileSiblingsAppliesAllConcurrently(t *testing.T) {
	doc, reg, rec, _, _ := newFixture(t, crdtdoc.KindMap)
	root := doc.Root().(*crdtdoc.Map)

	var aShared, bShared *crdtdoc.Map
	setup := crdtdoc.NewOrigin("setup")
	err := doc.Transact(setup, func(tx *crdtdoc.Transaction) error {
		a := tx.NewMap()
		b := tx.NewMap()
		if err := root.Set(tx, "a", a); err != nil {
			return err
		}
		if err := root.Set(tx, "b", b); err != nil {
			return err
		}
		aShared, bShared = a, b
		return nil
	})
	require.NoError(t, err)

	reg.GetOrCreateProxy(aShared)
	reg.GetOrCreateProxy(bShared)

	remote := crdtdoc.NewOrigin("peer")
	var evs []crdtdoc.ContainerEvent
	doc.Subscribe(func(ev crdtdoc.ContainerEvent) {
		if ev.Origin.Equal(remote) {
			evs = append(evs, ev)
		}
	})

	err = doc.Transact(remote, func(tx *crdtdoc.Transaction) error {
		if err := aShared.Set(tx, "x", "1"); err != nil {
			return err
		}
		return bShared.Set(tx, "y", "2")
	})
	require.NoError(t, err)
	require.Len(t, evs, 2)

	require.NoError(t, rec.ReconcileSiblings(evs))

	aNode := reg.GetOrCreateProxy(aShared).(*proxy.Object)
	bNode := reg.GetOrCreateProxy(bShared).(*proxy.Object)
	va, _ := aNode.Get("x")
	vb, _ := bNode.Get("y")
	assert.Equal(t, "1", va)
	assert.Equal(t, "2", vb)
}
