// Package proxy implements the local reactive proxy: Object and Array
// wrap a shared crdtdoc.Map/crdtdoc.List, mirror its state as plain Go
// values, and accept direct in-place mutation the way the source
// ecosystem's proxy objects do — a write lands in local state
// immediately, and is independently recorded as an Op for pkg/capture to
// batch and eventually reconcile against the CRDT.
//
// There is no teacher analogue for an in-process reactive object graph;
// this package's shape follows spec.md §3.1/§4.4 directly, written in the
// teacher's general idiom (exported constructors, explicit mutex guarding
// shared mutable state, no package-level globals).
package proxy

import (
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/capture"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/registry"
)

// NewNodeFactory builds a registry.NodeFactory that wraps a Map as an
// Object and a List as an Array, both recording ops through rec. Every
// proxy created by one bridge instance shares the same rec so all of
// their ops land in one Collector's batch.
func NewNodeFactory(rec capture.Recorder) registry.NodeFactory {
	return func(c crdtdoc.Container, reg *registry.Registry) registry.Node {
		if c.Kind() == crdtdoc.KindList {
			return newArray(c.(*crdtdoc.List), reg, rec)
		}
		return newObject(c.(*crdtdoc.Map), reg, rec)
	}
}

// materializeValue is shared by Object.Get and Array.Get: a raw stored
// value that is itself a shared container (other than rich text, which is
// exposed as the handle itself) is wrapped into its own proxy node on
// first read, and the wrapped node replaces the raw container in local
// storage so subsequent reads return the identical reference.
func materializeValue(reg *registry.Registry, v any) any {
	c, ok := v.(crdtdoc.Container)
	if !ok || c.Kind() == crdtdoc.KindText {
		return v
	}
	return reg.GetOrCreateProxy(c)
}
