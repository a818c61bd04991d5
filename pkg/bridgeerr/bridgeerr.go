// Package bridgeerr defines the error taxonomy the bridge raises, keyed by
// kind rather than by Go type, so callers can branch on errors.As without
// reaching into package-private types.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind identifies which part of the error taxonomy in spec §7 a failure
// belongs to.
type Kind int

const (
	// Validation covers unsupported values: functions, symbols, class
	// instances, nested nil, non-finite numbers, sparse arrays.
	Validation Kind = iota
	// Reparent covers assigning a shared container that already has a
	// parent elsewhere in the tree.
	Reparent
	// Lifecycle covers writes against a tombstoned proxy, or any call
	// after Dispose.
	Lifecycle
	// PlannerInvariant covers internal planner inconsistencies such as a
	// sparse insert (set(i) with i > L).
	PlannerInvariant
	// Crdt wraps an error surfaced unchanged from the underlying CRDT
	// document.
	Crdt
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "ValidationError"
	case Reparent:
		return "ReparentError"
	case Lifecycle:
		return "LifecycleError"
	case PlannerInvariant:
		return "PlannerInvariantError"
	case Crdt:
		return "CrdtError"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type raised across the bridge. Path names the
// location of the failure within the mutated value tree, when known.
type Error struct {
	Kind Kind
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s at %s: %s: %v", e.Kind, e.Path, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &bridgeerr.Error{Kind: bridgeerr.Validation})
// style checks: it matches any *Error target of the same Kind, whatever
// its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newf(kind Kind, path string, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Validationf builds a ValidationError.
func Validationf(path, format string, args ...any) *Error {
	return newf(Validation, path, format, args...)
}

// Reparentf builds a ReparentError.
func Reparentf(path, format string, args ...any) *Error {
	return newf(Reparent, path, format, args...)
}

// Lifecyclef builds a LifecycleError.
func Lifecyclef(path, format string, args ...any) *Error {
	return newf(Lifecycle, path, format, args...)
}

// PlannerInvariantf builds a PlannerInvariantError.
func PlannerInvariantf(path, format string, args ...any) *Error {
	return newf(PlannerInvariant, path, format, args...)
}

// Wrap wraps an error from the CRDT document as a CrdtError, unless it is
// already tagged with a kind, in which case it passes through unchanged.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: Crdt, Msg: "crdt operation failed", Err: err}
}

// KindOf reports the Kind of err, and whether err carries one at all.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
