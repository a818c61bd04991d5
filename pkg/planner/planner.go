// Package planner implements the operation planner: a pure function from
// a container's pre-batch state and its captured ops to an ordered list of
// CRDT intents (spec.md §4.5, "the planner is a pure function"). It
// imports nothing stateful — no registry, no document, no clock — so it
// can be tested as ordinary data-in data-out Go code.
package planner

import (
	"log/slog"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridgeerr"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/capture"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/value"
)

// IntentKind is the closed set of CRDT operations a plan can contain.
type IntentKind int

const (
	MapSet IntentKind = iota
	MapDelete
	ListInsert
	ListDelete
)

func (k IntentKind) String() string {
	switch k {
	case MapSet:
		return "MAP_SET"
	case MapDelete:
		return "MAP_DELETE"
	case ListInsert:
		return "LIST_INSERT"
	case ListDelete:
		return "LIST_DELETE"
	default:
		return "UNKNOWN"
	}
}

// Intent is one directly-executable CRDT operation.
type Intent struct {
	Kind IntentKind

	Key   string // MapSet, MapDelete
	Index int    // ListInsert, ListDelete
	Count int    // ListDelete: number of elements removed

	Values []any // MapSet: exactly one value; ListInsert: ordered values
}

// Intents is the ordered plan produced for one container's batch.
type Intents []Intent

// ContainerShape tells Plan whether to run map or list planning.
type ContainerShape int

const (
	ShapeMap ContainerShape = iota
	ShapeList
)

// PreBatchState is the container's state immediately before its batch's
// first op, the only context the planner needs beyond the ops themselves.
type PreBatchState struct {
	Shape ContainerShape
	Len   int // pre-batch length, meaningful only for ShapeList
}

// Plan classifies ops — all captured against one container during one
// microtask — into an ordered Intents list. It validates re-parenting as
// it goes; the first violation aborts the whole plan so the caller's
// batch-wide transaction never opens (spec.md §4.5 "Re-parenting check":
// the batch is rejected atomically, no intents from it execute).
func Plan(pre PreBatchState, ops []capture.Op) (Intents, error) {
	if pre.Shape == ShapeMap {
		return planMap(ops)
	}
	return planList(pre.Len, ops)
}

func planMap(ops []capture.Op) (Intents, error) {
	order := make([]string, 0, len(ops))
	latest := make(map[string]capture.Op, len(ops))
	for _, op := range ops {
		if _, seen := latest[op.Key]; !seen {
			order = append(order, op.Key)
		}
		latest[op.Key] = op
	}

	intents := make(Intents, 0, len(order))
	for _, key := range order {
		op := latest[key]
		switch op.Kind {
		case capture.OpSet:
			if err := checkReparent(op.NewValue, key); err != nil {
				return nil, err
			}
			intents = append(intents, Intent{Kind: MapSet, Key: key, Values: []any{op.NewValue}})
		case capture.OpDelete:
			intents = append(intents, Intent{Kind: MapDelete, Key: key})
		}
	}
	return intents, nil
}

// planList implements spec.md §4.5's list classifiers in arrival order:
// insert-vs-replace against the tracked length L, bulk-insert coalescing
// for a run of strictly increasing tail sets, sparse-insert rejection, and
// delete with index renumbering. Coalescing never looks past a delete —
// each op is handled once, in order, so a delete always ends whatever run
// preceded it.
//
// Unshift/shift-cascade coalescing (spec.md §4.5.2) is implemented as the
// fallback the spec explicitly allows: a prepend arrives here as a
// cascade of ordinary tail-insert and replace-at-position ops, and a
// front-removal as repeated delete-at-start ops (see proxy.Array.Splice);
// no prefix detection is attempted, and this function classifies them
// correctly op-by-op. The result is a longer intent list than a
// hand-optimized single LIST_INSERT(0, ...)/LIST_DELETE(0, n) would
// produce, but it is executed in order and is CRDT-equivalent —
// "correctness is not affected, only efficiency," per spec.
func planList(initialLen int, ops []capture.Op) (Intents, error) {
	L := initialLen
	var intents Intents

	i := 0
	for i < len(ops) {
		op := ops[i]

		if op.Kind == capture.OpDelete {
			if op.Index < 0 || op.Index >= L {
				return nil, bridgeerr.PlannerInvariantf(indexPath(op.Index), "delete index %d out of range for length %d", op.Index, L)
			}
			intents = append(intents, Intent{Kind: ListDelete, Index: op.Index, Count: 1})
			L--
			i++
			continue
		}

		switch {
		case op.Index == L:
			run := []any{op.NewValue}
			j := i + 1
			for j < len(ops) && ops[j].Kind == capture.OpSet && ops[j].Index == L+len(run) {
				run = append(run, ops[j].NewValue)
				j++
			}
			for _, v := range run {
				if err := checkReparent(v, indexPath(L)); err != nil {
					return nil, err
				}
			}
			if len(run) > 1 {
				slog.Debug("planner: coalesced bulk tail insert", "index", L, "count", len(run))
			}
			intents = append(intents, Intent{Kind: ListInsert, Index: L, Values: run})
			L += len(run)
			i = j

		case op.Index > L:
			return nil, bridgeerr.PlannerInvariantf(indexPath(op.Index), "sparse insertion is unsupported (index %d > length %d)", op.Index, L)

		default: // op.Index < L: replace at position
			if err := checkReparent(op.NewValue, indexPath(op.Index)); err != nil {
				return nil, err
			}
			intents = append(intents,
				Intent{Kind: ListDelete, Index: op.Index, Count: 1},
				Intent{Kind: ListInsert, Index: op.Index, Values: []any{op.NewValue}},
			)
			i++
		}
	}
	return intents, nil
}

// checkReparent rejects v if it is (or wraps) a shared container that
// already has a parent somewhere in the document — spec.md's hard
// re-parenting rule. value.Unwrap handles v arriving either as a raw
// crdtdoc.Container or as a proxy node wrapping one.
func checkReparent(v any, path string) error {
	c, ok := value.Unwrap(v).(crdtdoc.Container)
	if !ok {
		return nil
	}
	if _, _, hasParent := c.Parent(); hasParent {
		return bridgeerr.Reparentf(path, "value is already attached elsewhere in the document")
	}
	return nil
}

func indexPath(i int) string {
	return "[" + itoa(i) + "]"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
