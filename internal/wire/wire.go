// Package wire is the reference wire encoding a network provider (see
// internal/provider/wsprovider) uses to ship committed container changes
// between replicas. The bridge itself never imports this package —
// spec.md explicitly treats network/persistence providers as external
// collaborators outside the bridge's own scope — but a provider has to
// serialize crdtdoc.ContainerEvent somehow, and protowire's manual
// field-by-field encoding is the lowest-level, schema-less way to do that
// without generating code from a .proto file this module doesn't ship.
//
// Each WireOp mirrors one ContainerEvent's Map/List/Text payload reduced
// to plain JSON-compatible values (via pkg/value.ToPlain), the same
// reduction the bridge itself performs for a toPlain snapshot — a shared
// container nested inside a changed value travels as its own plain
// subtree, not as a reference, since the receiving replica's registry
// has no notion of the sender's container identities.
package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// OpKind mirrors planner.IntentKind plus a TextSet case the planner
// itself never produces (rich text is transported as a whole-value LWW
// write, not planned intents).
type OpKind int32

const (
	MapSet OpKind = iota
	MapDelete
	ListInsert
	ListDelete
	TextSet
)

// WireOp is one container's mutation in transit.
type WireOp struct {
	ContainerID string
	Kind        OpKind
	Key         string // MapSet, MapDelete
	Index       int32  // ListInsert, ListDelete
	Count       int32  // ListDelete
	ValueJSON   []byte // MapSet (one value), ListInsert (a JSON array), TextSet (a JSON string)
}

const (
	fieldContainerID protowire.Number = 1
	fieldKind        protowire.Number = 2
	fieldKey         protowire.Number = 3
	fieldIndex       protowire.Number = 4
	fieldCount       protowire.Number = 5
	fieldValueJSON   protowire.Number = 6
)

// EncodeOps serializes ops as a sequence of length-delimited submessages,
// one per op, each a flat set of protowire fields. There is no envelope
// message: Decode reads ops back-to-back until the input is exhausted.
func EncodeOps(ops []WireOp) []byte {
	var out []byte
	for _, op := range ops {
		msg := encodeOp(op)
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	return out
}

func encodeOp(op WireOp) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldContainerID, protowire.BytesType)
	b = protowire.AppendString(b, op.ContainerID)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Kind))
	if op.Key != "" {
		b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
		b = protowire.AppendString(b, op.Key)
	}
	if op.Index != 0 {
		b = protowire.AppendTag(b, fieldIndex, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(op.Index)))
	}
	if op.Count != 0 {
		b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(op.Count)))
	}
	if len(op.ValueJSON) > 0 {
		b = protowire.AppendTag(b, fieldValueJSON, protowire.BytesType)
		b = protowire.AppendBytes(b, op.ValueJSON)
	}
	return b
}

// DecodeOps parses the output of EncodeOps back into a WireOp slice.
func DecodeOps(b []byte) ([]WireOp, error) {
	var ops []WireOp
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed op envelope tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != 1 || typ != protowire.BytesType {
			return nil, fmt.Errorf("wire: unexpected top-level field %d (type %v)", num, typ)
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed op envelope body: %w", protowire.ParseError(n))
		}
		b = b[n:]
		op, err := decodeOp(msg)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func decodeOp(b []byte) (WireOp, error) {
	var op WireOp
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return op, fmt.Errorf("wire: malformed field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldContainerID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return op, fmt.Errorf("wire: malformed container_id: %w", protowire.ParseError(n))
			}
			op.ContainerID = string(v)
			b = b[n:]
		case fieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return op, fmt.Errorf("wire: malformed kind: %w", protowire.ParseError(n))
			}
			op.Kind = OpKind(v)
			b = b[n:]
		case fieldKey:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return op, fmt.Errorf("wire: malformed key: %w", protowire.ParseError(n))
			}
			op.Key = string(v)
			b = b[n:]
		case fieldIndex:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return op, fmt.Errorf("wire: malformed index: %w", protowire.ParseError(n))
			}
			op.Index = int32(int64(v))
			b = b[n:]
		case fieldCount:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return op, fmt.Errorf("wire: malformed count: %w", protowire.ParseError(n))
			}
			op.Count = int32(int64(v))
			b = b[n:]
		case fieldValueJSON:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return op, fmt.Errorf("wire: malformed value_json: %w", protowire.ParseError(n))
			}
			op.ValueJSON = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return op, fmt.Errorf("wire: malformed unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return op, nil
}

// MarshalValue JSON-encodes a plain value (the result of pkg/value.ToPlain)
// for embedding as a WireOp's ValueJSON.
func MarshalValue(v any) ([]byte, error) { return json.Marshal(v) }

// UnmarshalValue decodes a WireOp's ValueJSON back into a plain Go value
// (map[string]any / []any / primitives) ready for pkg/value.ToShared.
func UnmarshalValue(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
