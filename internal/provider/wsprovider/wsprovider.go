// Package wsprovider is a reference "network provider" external
// collaborator (spec.md §1, §6): it relays committed container changes
// between two crdtdoc.Doc replicas over a gorilla/websocket connection,
// applying remote frames via the document's ordinary transactional path
// with a non-self origin, exactly as spec.md §6 requires of any provider.
// It never writes to a proxy directly.
package wsprovider

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nmxmxh/reactive-crdt-bridge/internal/wire"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/crdtdoc"
	"github.com/nmxmxh/reactive-crdt-bridge/pkg/value"
)

// Stats mirrors the teacher's ConnectionStats shape: byte/message
// counters plus the last transport error observed, for diagnostics.
type Stats struct {
	BytesSent    uint64
	BytesRecv    uint64
	MessagesSent uint64
	MessagesRecv uint64
	LastError    string
}

// Provider relays one crdtdoc.Doc's committed changes to a peer over conn,
// and applies the peer's frames back into the document.
type Provider struct {
	doc    *crdtdoc.Doc
	origin crdtdoc.Origin
	conn   *websocket.Conn
	logger *slog.Logger

	mu       sync.RWMutex
	stats    Stats
	shutdown chan struct{}
	unsub    func()
}

// New wraps an already-established *websocket.Conn (the caller owns
// dialing/upgrading — this package does not open sockets itself, matching
// spec.md's "the bridge does not own a wire format" boundary). New mints
// the provider's own origin, which tags every transaction it applies
// locally from a received remote frame.
func New(doc *crdtdoc.Doc, conn *websocket.Conn, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		doc:      doc,
		origin:   crdtdoc.NewOrigin("wsprovider"),
		conn:     conn,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// Start subscribes to doc's own committed events (relaying every non-self
// transaction to the peer) and begins the receive loop that applies
// frames arriving from the peer. It returns immediately; the receive loop
// runs until the connection closes or Close is called.
func (p *Provider) Start() {
	p.unsub = p.doc.Subscribe(p.relay)
	go p.receiveLoop()
}

// relay forwards a locally committed ContainerEvent to the peer. Events
// tagged with this provider's own origin are its own remote-apply
// writes echoing back through the document and must not be re-sent.
func (p *Provider) relay(ev crdtdoc.ContainerEvent) {
	if ev.Origin.Equal(p.origin) {
		return
	}
	ops := eventToWireOps(ev)
	if len(ops) == 0 {
		return
	}
	if err := p.send(wire.EncodeOps(ops)); err != nil {
		p.mu.Lock()
		p.stats.LastError = err.Error()
		p.mu.Unlock()
		p.logger.Warn("wsprovider: send failed", "error", err)
	}
}

func (p *Provider) send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return errors.New("wsprovider: connection not open")
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	p.stats.BytesSent += uint64(len(data))
	p.stats.MessagesSent++
	return nil
}

func (p *Provider) receiveLoop() {
	defer p.Close()
	for {
		select {
		case <-p.shutdown:
			return
		default:
		}
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.logger.Warn("wsprovider: unexpected close", "error", err)
			}
			return
		}
		p.mu.Lock()
		p.stats.BytesRecv += uint64(len(message))
		p.stats.MessagesRecv++
		p.mu.Unlock()

		ops, err := wire.DecodeOps(message)
		if err != nil {
			p.logger.Warn("wsprovider: malformed frame discarded", "error", err)
			continue
		}
		if err := p.applyOps(ops); err != nil {
			p.logger.Warn("wsprovider: apply failed", "error", err)
		}
	}
}

// applyOps replays ops into the document inside one self-tagged
// transaction (this provider's own origin, distinct from the bridge's),
// via the document's ordinary transactional path — it never touches a
// proxy.
func (p *Provider) applyOps(ops []wire.WireOp) error {
	// Containers are resolved before Transact: lookupContainer reads
	// doc.Root(), which takes the document lock Transact holds.
	targets := make([]crdtdoc.Container, len(ops))
	for i, op := range ops {
		if c, ok := lookupContainer(p.doc, op.ContainerID); ok {
			targets[i] = c
		}
	}
	return p.doc.Transact(p.origin, func(tx *crdtdoc.Transaction) error {
		for i, op := range ops {
			c := targets[i]
			if c == nil {
				continue
			}
			if err := applyOp(tx, c, op); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyOp(tx *crdtdoc.Transaction, c crdtdoc.Container, op wire.WireOp) error {
	switch op.Kind {
	case wire.MapSet:
		m, ok := c.(*crdtdoc.Map)
		if !ok {
			return nil
		}
		v, err := wire.UnmarshalValue(op.ValueJSON)
		if err != nil {
			return err
		}
		sv, err := value.ToShared(tx, v)
		if err != nil {
			return err
		}
		return m.Set(tx, op.Key, sv)
	case wire.MapDelete:
		m, ok := c.(*crdtdoc.Map)
		if !ok {
			return nil
		}
		return m.Delete(tx, op.Key)
	case wire.ListInsert:
		l, ok := c.(*crdtdoc.List)
		if !ok {
			return nil
		}
		v, err := wire.UnmarshalValue(op.ValueJSON)
		if err != nil {
			return err
		}
		arr, ok := v.([]any)
		if !ok {
			return nil
		}
		shared := make([]any, 0, len(arr))
		for _, ev := range arr {
			sv, err := value.ToShared(tx, ev)
			if err != nil {
				return err
			}
			shared = append(shared, sv)
		}
		return l.InsertAt(tx, int(op.Index), shared)
	case wire.ListDelete:
		l, ok := c.(*crdtdoc.List)
		if !ok {
			return nil
		}
		return l.DeleteAt(tx, int(op.Index), int(op.Count))
	case wire.TextSet:
		t, ok := c.(*crdtdoc.Text)
		if !ok {
			return nil
		}
		v, err := wire.UnmarshalValue(op.ValueJSON)
		if err != nil {
			return err
		}
		s, _ := v.(string)
		return t.Set(tx, s)
	}
	return nil
}

// lookupContainer resolves a container by ID against doc. *crdtdoc.Doc
// does not expose a public by-ID lookup (only the registry does, for
// materialized proxies); this reference provider stays dependency-free
// of pkg/registry and instead walks the root's direct children, which is
// enough depth for the demo's shape. A deeper tree needs a recursive
// walk or a registry handed in alongside the Doc.
func lookupContainer(doc *crdtdoc.Doc, id string) (crdtdoc.Container, bool) {
	root := doc.Root()
	if root.ID() == id {
		return root, true
	}
	switch root.Kind() {
	case crdtdoc.KindMap:
		m := root.(*crdtdoc.Map)
		for _, k := range m.Keys() {
			if v, ok := m.Get(k); ok {
				if c, ok := v.(crdtdoc.Container); ok && c.ID() == id {
					return c, true
				}
			}
		}
	case crdtdoc.KindList:
		l := root.(*crdtdoc.List)
		for _, v := range l.Values() {
			if c, ok := v.(crdtdoc.Container); ok && c.ID() == id {
				return c, true
			}
		}
	}
	return nil, false
}

// eventToWireOps reduces a ContainerEvent to zero or more WireOps,
// dropping nested shared-container values to their plain snapshot via
// pkg/value.ToPlain — the receiving replica re-materializes its own
// subtree from the JSON rather than sharing container identity across
// the wire.
func eventToWireOps(ev crdtdoc.ContainerEvent) []wire.WireOp {
	var ops []wire.WireOp
	id := ev.Container.ID()
	switch {
	case ev.Map != nil:
		for k, v := range ev.Map.Added {
			ops = append(ops, mapSetOp(id, k, v))
		}
		for k, ch := range ev.Map.Updated {
			ops = append(ops, mapSetOp(id, k, ch.New))
		}
		for _, k := range ev.Map.Removed {
			ops = append(ops, wire.WireOp{ContainerID: id, Kind: wire.MapDelete, Key: k})
		}
	case ev.List != nil:
		idx := 0
		for _, d := range ev.List.Deltas {
			switch d.Kind {
			case crdtdoc.DeltaRetain:
				idx += d.Count
			case crdtdoc.DeltaInsert:
				plain := make([]any, len(d.Values))
				for i, v := range d.Values {
					plain[i] = value.ToPlain(v)
				}
				j, _ := wire.MarshalValue(plain)
				ops = append(ops, wire.WireOp{ContainerID: id, Kind: wire.ListInsert, Index: int32(idx), ValueJSON: j})
				idx += len(plain)
			case crdtdoc.DeltaDelete:
				ops = append(ops, wire.WireOp{ContainerID: id, Kind: wire.ListDelete, Index: int32(idx), Count: int32(d.Count)})
			}
		}
	case ev.Text != nil:
		j, _ := wire.MarshalValue(ev.Text.NewValue)
		ops = append(ops, wire.WireOp{ContainerID: id, Kind: wire.TextSet, ValueJSON: j})
	}
	return ops
}

func mapSetOp(containerID, key string, v any) wire.WireOp {
	j, _ := wire.MarshalValue(value.ToPlain(v))
	return wire.WireOp{ContainerID: containerID, Kind: wire.MapSet, Key: key, ValueJSON: j}
}

// Close stops the receive loop and closes the underlying connection.
func (p *Provider) Close() error {
	select {
	case <-p.shutdown:
		return nil
	default:
		close(p.shutdown)
	}
	if p.unsub != nil {
		p.unsub()
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// GetStats returns a snapshot of this provider's transport counters.
func (p *Provider) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}
