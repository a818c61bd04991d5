package proxy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/capture"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/proxy"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/registry"
)

// fakeRecorder captures ops without any scheduling machinery, so these
// tests exercise the proxy layer in isolation from pkg/capture's timers.
type fakeRecorder struct {
	ops map[string][]capture.Op
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ops: make(map[string][]capture.Op)}
}

func (f *fakeRecorder) Record(containerID string, op capture.Op) {
	f.ops[containerID] = append(f.ops[containerID], op)
}

func newObjectFixture(t *testing.T) (*proxy.Object, *registry.Registry, *fakeRecorder) {
	t.Helper()
	doc := crdtdoc.NewDoc("r1", crdtdoc.KindMap)
	rec := newFakeRecorder()
	reg := registry.New(nil, proxy.NewNodeFactory(rec))
	root := doc.Root().(*crdtdoc.Map)
	node := reg.GetOrCreateProxy(root)
	obj, ok := node.(*proxy.Object)
	require.True(t, ok)
	return obj, reg, rec
}

func newArrayFixture(t *testing.T) (*proxy.Array, *registry.Registry, *fakeRecorder) {
	t.Helper()
	doc := crdtdoc.NewDoc("r1", crdtdoc.KindList)
	rec := newFakeRecorder()
	reg := registry.New(nil, proxy.NewNodeFactory(rec))
	root := doc.Root().(*crdtdoc.List)
	node := reg.GetOrCreateProxy(root)
	arr, ok := node.(*proxy.Array)
	require.True(t, ok)
	return arr, reg, rec
}

func TestObject_SetRecordsOpAndUpdatesLocalState(t *testing.T) {
	obj, _, rec := newObjectFixture(t)

	require.NoError(t, obj.Set("title", "hello"))
	v, ok := obj.Get("title")
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	ops := rec.ops[obj.ContainerID()]
	require.Len(t, ops, 1)
	assert.Equal(t, capture.OpSet, ops[0].Kind)
	assert.Equal(t, "title", ops[0].Key)
	assert.False(t, ops[0].HasOld)
}

func TestObject_SetRejectsUnsupportedValue(t *testing.T) {
	obj, _, _ := newObjectFixture(t)
	err := obj.Set("bad", make(chan int))
	assert.Error(t, err)
}

func TestObject_DeleteIsNoOpWhenKeyAbsent(t *testing.T) {
	obj, _, rec := newObjectFixture(t)
	require.NoError(t, obj.Delete("missing"))
	assert.Empty(t, rec.ops[obj.ContainerID()])
}

func TestObject_TombstonedWritesAreDiscarded(t *testing.T) {
	obj, _, _ := newObjectFixture(t)
	obj.Tombstone()
	err := obj.Set("a", "b")
	assert.Error(t, err)
}

func TestArray_PushThenGetByIndex(t *testing.T) {
	arr, _, rec := newArrayFixture(t)

	require.NoError(t, arr.Push("first", "second", "third"))
	assert.Equal(t, 3, arr.Len())
	v, ok := arr.Get(1)
	require.True(t, ok)
	assert.Equal(t, "second", v)

	ops := rec.ops[arr.ContainerID()]
	require.Len(t, ops, 3)
	for i, op := range ops {
		assert.Equal(t, i, op.Index)
	}
}

func TestArray_SetSparseIndexRejected(t *testing.T) {
	arr, _, _ := newArrayFixture(t)
	err := arr.Set(5, "gap")
	assert.Error(t, err)
}

func TestArray_DeleteShiftsSubsequentElements(t *testing.T) {
	arr, _, _ := newArrayFixture(t)
	require.NoError(t, arr.Push("a", "b", "c"))
	require.NoError(t, arr.Delete(0))
	assert.Equal(t, 2, arr.Len())
	v, _ := arr.Get(0)
	assert.Equal(t, "b", v)
}

// Splice in the middle shifts the tail rightward and writes the new
// values into the freed slots.
func TestArray_SpliceInsertsInMiddle(t *testing.T) {
	arr, _, _ := newArrayFixture(t)
	require.NoError(t, arr.Push("a", "b", "c"))
	require.NoError(t, arr.Splice(1, 0, "x", "y"))
	assert.Equal(t, []any{"a", "x", "y", "b", "c"}, valuesOf(t, arr))
}

func TestArray_SpliceReplacesAndInserts(t *testing.T) {
	arr, _, _ := newArrayFixture(t)
	require.NoError(t, arr.Push("a", "b", "c"))
	require.NoError(t, arr.Splice(1, 1, "z"))
	assert.Equal(t, []any{"a", "z", "c"}, valuesOf(t, arr))
}

func valuesOf(t *testing.T, arr *proxy.Array) []any {
	t.Helper()
	out := make([]any, arr.Len())
	for i := range out {
		v, ok := arr.Get(i)
		require.True(t, ok)
		out[i] = v
	}
	return out
}

func TestRegistry_GetOrCreateProxyReturnsSameInstance(t *testing.T) {
	doc := crdtdoc.NewDoc("r1", crdtdoc.KindMap)
	rec := newFakeRecorder()
	reg := registry.New(nil, proxy.NewNodeFactory(rec))
	root := doc.Root().(*crdtdoc.Map)

	n1 := reg.GetOrCreateProxy(root)
	n2 := reg.GetOrCreateProxy(root)
	assert.Same(t, n1, n2)
}

func TestRegistry_PurgeSubtreeTombstonesNestedProxies(t *testing.T) {
	doc := crdtdoc.NewDoc("r1", crdtdoc.KindMap)
	rec := newFakeRecorder()
	reg := registry.New(nil, proxy.NewNodeFactory(rec))
	root := doc.Root().(*crdtdoc.Map)
	node := reg.GetOrCreateProxy(root)
	obj := node.(*proxy.Object)

	origin := crdtdoc.NewOrigin("setup")
	err := doc.Transact(origin, func(tx *crdtdoc.Transaction) error {
		inner := tx.NewMap()
		return root.Set(tx, "child", inner)
	})
	require.NoError(t, err)

	childShared, ok := root.Get("child")
	require.True(t, ok)
	childContainer := childShared.(*crdtdoc.Map)
	childNode := reg.GetOrCreateProxy(childContainer)

	reg.PurgeSubtree(root)

	_, ok = reg.GetShared(obj)
	assert.False(t, ok)
	_, ok = reg.GetShared(childNode)
	assert.False(t, ok)
}
