package crdtdoc

import "errors"

// ErrAlreadyParented is returned when a container that already has a
// parent is assigned under a different parent/key. It is the CRDT
// document's own guard; the planner checks the same invariant earlier so
// that a whole batch can be rejected atomically before any transaction
// opens, but the document enforces it unconditionally as a last line of
// defense.
var ErrAlreadyParented = errors.New("crdtdoc: container already has a parent")

// ErrNoActiveTransaction is returned when a container mutation method is
// called with a transaction that does not belong to the document.
var ErrNoActiveTransaction = errors.New("crdtdoc: no active transaction for this document")

// ErrOutOfRange is returned for list index or text offset operations that
// fall outside the addressable range.
var ErrOutOfRange = errors.New("crdtdoc: index out of range")

// ErrUnknownContainer is returned when a container ID cannot be resolved
// against the document's registry, e.g. during Merge.
var ErrUnknownContainer = errors.New("crdtdoc: unknown container")
