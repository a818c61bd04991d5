package value

import (
	"bytes"
	"encoding/json"

	"github.com/andybalholm/brotli"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridgeerr"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
)

// ToShared converts a plain value into its shared equivalent, ready to be
// assigned as a Map or List entry within tx. Plain objects and arrays are
// recursively rebuilt as fresh crdtdoc.Map/crdtdoc.List containers;
// primitives pass through unchanged; a value that is already a shared
// container is returned as-is if unparented, or rejected with a
// ReparentError if it already belongs somewhere else in the tree — toShared
// never silently detaches and reattaches an existing container.
//
// Go's map[string]any has no iteration order, so unlike the source
// ecosystem's toShared, key insertion order for a converted plain object is
// not preserved; this is a structural limitation of the host language, not
// a semantic choice (spec.md §4.2 assumes an ordered-map host runtime).
func ToShared(tx *crdtdoc.Transaction, v any) (any, error) {
	return toShared(tx, v, "")
}

func toShared(tx *crdtdoc.Transaction, v any, path string) (any, error) {
	c := Classify(v)
	switch c.Kind {
	case Unsupported:
		return nil, bridgeerr.Validationf(path, "%s", c.Reason)

	case Primitive:
		return normalizePrimitive(v), nil

	case PlainObject:
		m := tx.NewMap()
		for k, mv := range v.(map[string]any) {
			sv, err := toShared(tx, mv, childPath(path, k))
			if err != nil {
				return nil, err
			}
			if err := m.Set(tx, k, sv); err != nil {
				return nil, bridgeerr.Wrap(err)
			}
		}
		return m, nil

	case PlainArray:
		l := tx.NewList()
		arr := v.([]any)
		shared := make([]any, 0, len(arr))
		for i, ev := range arr {
			sv, err := toShared(tx, ev, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			shared = append(shared, sv)
		}
		if len(shared) > 0 {
			if err := l.InsertAt(tx, 0, shared); err != nil {
				return nil, bridgeerr.Wrap(err)
			}
		}
		return l, nil

	case SharedMap, SharedList, SharedText:
		container := Unwrap(v).(crdtdoc.Container)
		if _, _, hasParent := container.Parent(); hasParent {
			return nil, bridgeerr.Reparentf(path, "value is already attached elsewhere in the document")
		}
		return container, nil

	default:
		return nil, bridgeerr.Validationf(path, "unclassifiable value")
	}
}

func normalizePrimitive(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// ToPlain deep-converts a shared or primitive value into its plain Go
// representation: crdtdoc.Map becomes map[string]any, crdtdoc.List becomes
// []any, *crdtdoc.Text becomes its string value, and everything else passes
// through unchanged. It takes a point-in-time snapshot; it does not observe
// subsequent mutations.
func ToPlain(v any) any {
	switch t := v.(type) {
	case *crdtdoc.Text:
		return t.Value()
	case crdtdoc.Container:
		switch t.Kind() {
		case crdtdoc.KindMap:
			m := t.(*crdtdoc.Map)
			out := make(map[string]any, len(m.Keys()))
			for _, k := range m.Keys() {
				cv, _ := m.Get(k)
				out[k] = ToPlain(cv)
			}
			return out
		case crdtdoc.KindList:
			l := t.(*crdtdoc.List)
			vals := l.Values()
			out := make([]any, len(vals))
			for i, cv := range vals {
				out[i] = ToPlain(cv)
			}
			return out
		default:
			return t.(*crdtdoc.Text).Value()
		}
	default:
		return v
	}
}

// ToPlainCompressed JSON-marshals ToPlain(v) and compresses it with brotli,
// for diagnostic snapshots (e.g. a bootstrap-mismatch dump) that need to
// leave the process cheaply. It is not used on the hot mutation path.
func ToPlainCompressed(v any) ([]byte, error) {
	raw, err := json.Marshal(ToPlain(v))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
