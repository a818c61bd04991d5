// Package applier is the sole writer of local intents into the shared
// CRDT document. It is the one place pkg/planner's output ever touches
// crdtdoc, so a planner bug surfaces as a single well-defined failure
// point rather than scattered call sites.
package applier

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nmxmxh/reactive-crdt-bridge/pkg/bridgeerr"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/planner"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/value"
)

// ContainerResolver resolves a container by the stable ID key a pending
// batch is keyed on. *registry.Registry satisfies this directly.
type ContainerResolver interface {
	Container(id string) (crdtdoc.Container, bool)
}

// Applier opens one crdtdoc.Transaction per flush and executes every
// container's plan inside it, so all the containers touched by one
// microtask's batch become visible to observers atomically (spec.md
// §4.6).
type Applier struct {
	doc     *crdtdoc.Doc
	origin  crdtdoc.Origin
	reg     ContainerResolver
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[any]
}

// New builds an Applier. origin tags every transaction it opens, so
// pkg/reconciler can recognize and skip events this applier itself
// produced. A gobreaker.CircuitBreaker wraps the whole Apply call: a run
// of internal-invariant or CRDT-layer failures (which should never happen
// if the planner and applier agree, or the document is healthy) trips the
// breaker rather than hammering the document with transactions that are
// likely to keep failing the same way. IsSuccessful excludes caller
// mistakes (ValidationError, ReparentError) from that count — spec §4.6
// scopes the breaker to the CRDT transaction path, not to a caller
// repeatedly attempting an invalid write, so those kinds are reported to
// Apply's caller as usual but never move the breaker toward tripping.
func New(doc *crdtdoc.Doc, origin crdtdoc.Origin, reg ContainerResolver, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "bridge-applier",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			kind, ok := bridgeerr.KindOf(err)
			return ok && (kind == bridgeerr.Validation || kind == bridgeerr.Reparent)
		},
	})
	return &Applier{doc: doc, origin: origin, reg: reg, logger: logger, breaker: cb}
}

// Batch is one container's resolved plan, keyed by the stable container ID
// pkg/capture batched its ops against.
type Batch struct {
	ContainerID string
	Intents     planner.Intents
}

// Apply executes every batch's intents inside a single transaction. If
// any intent fails, the transaction's fn returns the error and no events
// for ANY container in this flush are emitted — crdtdoc.Doc.Transact's
// all-or-nothing event visibility, though (per its own doc comment)
// container state already mutated before the failure is not rolled back.
// A flush that reaches Apply is expected to already be internally
// consistent (the planner validated re-parenting and index bounds against
// the same pre-batch snapshot), so a failure here indicates the document
// changed concurrently out from under the batch, or a genuine bug.
func (a *Applier) Apply(batches []Batch) error {
	if len(batches) == 0 {
		return nil
	}
	_, err := a.breaker.Execute(func() (any, error) {
		return nil, a.doc.Transact(a.origin, func(tx *crdtdoc.Transaction) error {
			for _, b := range batches {
				c, ok := a.reg.Container(b.ContainerID)
				if !ok {
					return bridgeerr.Lifecyclef(b.ContainerID, "container no longer resolvable at apply time")
				}
				if err := applyContainer(tx, c, b.Intents); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		a.logger.Warn("applier flush failed", "error", err, "containers", len(batches))
	}
	return err
}

func applyContainer(tx *crdtdoc.Transaction, c crdtdoc.Container, intents planner.Intents) error {
	switch c.Kind() {
	case crdtdoc.KindMap:
		m := c.(*crdtdoc.Map)
		for _, in := range intents {
			switch in.Kind {
			case planner.MapSet:
				sv, err := value.ToShared(tx, in.Values[0])
				if err != nil {
					return err
				}
				if err := m.Set(tx, in.Key, sv); err != nil {
					return bridgeerr.Wrap(err)
				}
			case planner.MapDelete:
				if err := m.Delete(tx, in.Key); err != nil {
					return bridgeerr.Wrap(err)
				}
			}
		}
	case crdtdoc.KindList:
		l := c.(*crdtdoc.List)
		for _, in := range intents {
			switch in.Kind {
			case planner.ListInsert:
				shared := make([]any, 0, len(in.Values))
				for _, v := range in.Values {
					sv, err := value.ToShared(tx, v)
					if err != nil {
						return err
					}
					shared = append(shared, sv)
				}
				if err := l.InsertAt(tx, in.Index, shared); err != nil {
					return bridgeerr.Wrap(err)
				}
			case planner.ListDelete:
				if err := l.DeleteAt(tx, in.Index, in.Count); err != nil {
					return bridgeerr.Wrap(err)
				}
			}
		}
	default:
		return bridgeerr.Lifecyclef(c.ID(), "cannot apply intents to a text container")
	}
	return nil
}
