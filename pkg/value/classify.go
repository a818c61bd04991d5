// Package value draws the line between what the bridge will carry across
// the proxy/CRDT boundary and what it rejects, and converts values between
// their plain (Go-native) and shared (crdtdoc.Container) forms.
package value

import (
	"fmt"
	"math"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridgeerr"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
)

// Kind is the closed set of value classifications the bridge understands.
type Kind int

const (
	Primitive Kind = iota
	PlainObject
	PlainArray
	SharedMap
	SharedList
	SharedText
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case Primitive:
		return "primitive"
	case PlainObject:
		return "plainObject"
	case PlainArray:
		return "plainArray"
	case SharedMap:
		return "sharedMap"
	case SharedList:
		return "sharedList"
	case SharedText:
		return "sharedText"
	default:
		return "unsupported"
	}
}

// Classification is the result of Classify: a Kind, plus — for Unsupported
// — a human-readable reason naming the offending runtime type.
type Classification struct {
	Kind   Kind
	Reason string
}

// SharedBacked is implemented by a local proxy node (pkg/proxy's Object
// and Array) so this package can classify and reparent-check it the same
// way it treats a raw crdtdoc.Container, without importing pkg/proxy
// (which itself imports this package) or pkg/registry.
type SharedBacked interface {
	SharedContainer() crdtdoc.Container
}

// Unwrap returns v's backing crdtdoc.Container if v is a SharedBacked
// proxy node, and v unchanged otherwise.
func Unwrap(v any) any {
	if sb, ok := v.(SharedBacked); ok {
		return sb.SharedContainer()
	}
	return v
}

// Classify inspects v's dynamic type and reports which of the closed set
// of value kinds it belongs to. It never recurses into containers; callers
// that need a deep check (AssertAssignable, ToShared) walk the tree
// themselves, tracking the path as they go.
func Classify(v any) Classification {
	v = Unwrap(v)
	switch t := v.(type) {
	case nil:
		return Classification{Kind: Primitive}
	case string, bool:
		return Classification{Kind: Primitive}
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Classification{Kind: Unsupported, Reason: "non-finite number (NaN/Infinity)"}
		}
		return Classification{Kind: Primitive}
	case int, int32, int64, float32:
		// Accepted as primitives at the boundary; ToShared/ToPlain always
		// produce float64, matching a JSON-number round trip.
		return Classification{Kind: Primitive}
	case *crdtdoc.Text:
		return Classification{Kind: SharedText}
	case crdtdoc.Container:
		switch t.Kind() {
		case crdtdoc.KindMap:
			return Classification{Kind: SharedMap}
		case crdtdoc.KindList:
			return Classification{Kind: SharedList}
		default:
			return Classification{Kind: SharedText}
		}
	case map[string]any:
		return Classification{Kind: PlainObject}
	case []any:
		return Classification{Kind: PlainArray}
	default:
		return Classification{Kind: Unsupported, Reason: fmt.Sprintf("unsupported Go type %T (want primitive, map[string]any, []any, crdtdoc.Container, or *crdtdoc.Text)", v)}
	}
}

// AssertAssignable walks v recursively and returns a ValidationError naming
// the first unsupported node and its path, or nil if the whole tree is
// assignable. A nil element inside a []any is rejected — Go slices have no
// concept of a sparse "hole", so an explicit nil is the closest analogue
// and is treated the same as the source ecosystem's nested-undefined rule.
func AssertAssignable(v any, path string) error {
	c := Classify(v)
	switch c.Kind {
	case Unsupported:
		return bridgeerr.Validationf(path, "%s", c.Reason)
	case PlainObject:
		m := v.(map[string]any)
		for k, mv := range m {
			if mv == nil {
				return bridgeerr.Validationf(childPath(path, k), "nil is not assignable inside an object (use null at the top level only)")
			}
			if err := AssertAssignable(mv, childPath(path, k)); err != nil {
				return err
			}
		}
		return nil
	case PlainArray:
		arr := v.([]any)
		for i, ev := range arr {
			if ev == nil {
				return bridgeerr.Validationf(indexPath(path, i), "nil is not assignable inside an array (sparse arrays are unsupported)")
			}
			if err := AssertAssignable(ev, indexPath(path, i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func childPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func indexPath(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}
