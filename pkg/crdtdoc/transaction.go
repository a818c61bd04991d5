package crdtdoc

// Transaction groups a batch of container mutations so they become visible
// to observers atomically, tagged with the Origin that produced them. All
// mutating Container methods (Map.Set, List.InsertAt, ...) require an
// in-flight *Transaction obtained from Doc.Transact.
type Transaction struct {
	doc    *Doc
	Origin Origin
	ID     string
	events []ContainerEvent
}

// Transact runs fn with a fresh transaction, then — if fn returns nil —
// commits by emitting every event fn's mutations produced, in the order
// they occurred, to all subscribers. The whole document is locked for the
// duration, matching spec.md §4.5's "intents for all containers touched in
// the batch are flushed inside one CRDT transaction" requirement.
//
// If fn returns an error, no events are emitted. Mutations already applied
// to container state before the error are not rolled back — spec.md §4.6
// explicitly allows this ("partial application is tolerated and a
// consistency warning is logged") for CRDT libraries, such as this one,
// that have no native transaction rollback. pkg/applier is responsible for
// validating everything it can before calling Transact so this path is
// only exercised by genuine internal inconsistencies.
func (d *Doc) Transact(origin Origin, fn func(*Transaction) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := &Transaction{doc: d, Origin: origin, ID: newID()}
	if err := fn(tx); err != nil {
		return err
	}
	for _, ev := range tx.events {
		d.emit(ev)
	}
	d.emitBatch(tx.events)
	return nil
}

// Doc returns the document this transaction belongs to.
func (tx *Transaction) Doc() *Doc { return tx.doc }

// NewMap creates a new Map container bound to this transaction's document.
// It has no parent until set as a value somewhere.
func (tx *Transaction) NewMap() *Map { return tx.doc.newMap() }

// NewList creates a new List container bound to this transaction's
// document.
func (tx *Transaction) NewList() *List { return tx.doc.newList() }

func (tx *Transaction) record(ev ContainerEvent) {
	ev.Origin = tx.Origin
	ev.TxnID = tx.ID
	tx.events = append(tx.events, ev)
}

// attachOrReparent is shared by Map.Set and List.InsertAt: when the value
// being written is itself a Container, it must either be freshly created
// (no parent yet) or already parented at exactly this location — anything
// else is a re-parenting attempt and is rejected.
func attachOrReparent(tx *Transaction, c Container, parent Container, key any) error {
	c.attach(tx.doc)
	return c.reparent(parent, key)
}
