package value_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridgeerr"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/value"
)

func TestClassify_Primitives(t *testing.T) {
	cases := []any{nil, "s", true, float64(1), int(1)}
	for _, c := range cases {
		got := value.Classify(c)
		assert.Equal(t, value.Primitive, got.Kind, "%#v", c)
	}
}

func TestClassify_NonFiniteNumberUnsupported(t *testing.T) {
	got := value.Classify(math.NaN())
	assert.Equal(t, value.Unsupported, got.Kind)

	got = value.Classify(math.Inf(1))
	assert.Equal(t, value.Unsupported, got.Kind)
}

func TestClassify_PlainObjectAndArray(t *testing.T) {
	assert.Equal(t, value.PlainObject, value.Classify(map[string]any{"a": 1}).Kind)
	assert.Equal(t, value.PlainArray, value.Classify([]any{1, 2}).Kind)
}

func TestClassify_UnsupportedGoType(t *testing.T) {
	got := value.Classify(make(chan int))
	assert.Equal(t, value.Unsupported, got.Kind)
	assert.Contains(t, got.Reason, "unsupported Go type")
}

func TestAssertAssignable_NilInsideObjectRejected(t *testing.T) {
	err := value.AssertAssignable(map[string]any{"a": nil}, "")
	require.Error(t, err)
	kind, ok := bridgeerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, bridgeerr.Validation, kind)
}

func TestAssertAssignable_NilInsideArrayRejected(t *testing.T) {
	err := value.AssertAssignable([]any{1, nil}, "")
	require.Error(t, err)
	kind, ok := bridgeerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, bridgeerr.Validation, kind)
}

func TestAssertAssignable_TopLevelNilAccepted(t *testing.T) {
	assert.NoError(t, value.AssertAssignable(nil, ""))
}

func TestAssertAssignable_NestedValidTreePasses(t *testing.T) {
	v := map[string]any{
		"name": "demo",
		"tags": []any{"a", "b"},
		"meta": map[string]any{"count": float64(3)},
	}
	assert.NoError(t, value.AssertAssignable(v, ""))
}

// toPlain(toShared(v)) round-trips for a nested plain tree: the same shape
// and values survive the conversion to shared CRDT containers and back.
func TestRoundTrip_ToSharedToPlain(t *testing.T) {
	doc := crdtdoc.NewDoc("r1", crdtdoc.KindMap)
	original := map[string]any{
		"title": "demo board",
		"items": []any{"first", "second", float64(3)},
		"nested": map[string]any{
			"flag": true,
		},
	}

	var plain any
	err := doc.Transact(crdtdoc.NewOrigin("test"), func(tx *crdtdoc.Transaction) error {
		sv, err := value.ToShared(tx, original)
		if err != nil {
			return err
		}
		plain = value.ToPlain(sv)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, original, plain)
}

func TestToShared_RejectsAlreadyParentedContainer(t *testing.T) {
	doc := crdtdoc.NewDoc("r1", crdtdoc.KindMap)
	err := doc.Transact(crdtdoc.NewOrigin("test"), func(tx *crdtdoc.Transaction) error {
		root := doc.Root().(*crdtdoc.Map)
		inner := tx.NewMap()
		if err := root.Set(tx, "a", inner); err != nil {
			return err
		}
		_, err := value.ToShared(tx, inner)
		return err
	})
	require.Error(t, err)
	kind, ok := bridgeerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, bridgeerr.Reparent, kind)
}

func TestToShared_DetachedContainerIsAccepted(t *testing.T) {
	doc := crdtdoc.NewDoc("r1", crdtdoc.KindMap)
	err := doc.Transact(crdtdoc.NewOrigin("test"), func(tx *crdtdoc.Transaction) error {
		detached := tx.NewMap()
		sv, err := value.ToShared(tx, detached)
		if err != nil {
			return err
		}
		assert.Same(t, detached, sv)
		return nil
	})
	require.NoError(t, err)
}

func TestToPlain_TextHandle(t *testing.T) {
	text := crdtdoc.NewText("hello")
	assert.Equal(t, "hello", value.ToPlain(text))
}

func TestToPlainCompressed_RoundTripsThroughBrotli(t *testing.T) {
	data, err := value.ToPlainCompressed(map[string]any{"a": float64(1)})
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
