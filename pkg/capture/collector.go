package capture

import (
	"sync"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// FlushFunc receives one microtask's worth of ops, grouped by the
// container ID each touched. The whole batch — every container touched in
// the microtask — must be handed to a single CRDT transaction by the
// caller (pkg/bridge wires this to planner.Plan + applier.Apply) so that
// either all of it applies or none does, per spec.md §4.5 "Emission".
type FlushFunc func(batch map[string][]Op)

// Collector batches ops across every materialized proxy and flushes them
// together. A *Collector is shared by every proxy node the registry
// creates for one bridge instance.
type Collector struct {
	mu      sync.Mutex
	pending map[string][]Op
	timer   *time.Timer
	flush   FlushFunc
	limiter *limiter.TokenBucket
	sup     *Suppressor
}

// NewCollector creates a Collector that calls flush once per microtask.
// sup is consulted so ops produced while suppression is active (the
// reconciler's remote-apply writes) are dropped before ever reaching a
// batch.
func NewCollector(flush FlushFunc, sup *Suppressor) *Collector {
	st := store.NewMemoryStore(time.Minute)
	lim, _ := limiter.NewTokenBucket(
		limiter.Config{Rate: 200, Duration: time.Second, Burst: 400},
		st,
	)
	return &Collector{flush: flush, limiter: lim, sup: sup}
}

// Record appends op to the pending batch for containerID, arming a flush
// timer if this is the first op of a new batch. Ops arriving while the
// Suppressor is active are discarded — they were produced by the
// reconciler's own write, not an app mutation, and must never be planned.
func (c *Collector) Record(containerID string, op Op) {
	if c.sup.Active() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		c.pending = make(map[string][]Op)
	}
	arm := len(c.pending) == 0
	c.pending[containerID] = append(c.pending[containerID], op)
	if arm {
		c.timer = time.AfterFunc(0, c.runFlush)
	}
}

func (c *Collector) runFlush() {
	if c.limiter != nil && !c.limiter.Allow("bridge-flush") {
		// Pathological mutation storm: repace the flush rather than drop
		// ops. This only affects how often a burst of bursts coalesces,
		// never which ops end up in a batch.
		c.mu.Lock()
		c.timer = time.AfterFunc(time.Millisecond, c.runFlush)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	c.flush(batch)
}

// FlushNow synchronously runs any pending batch, bypassing the microtask
// timer. Dispose uses this for the documented "best-effort flush on
// disposal" behavior (spec.md §3.3).
func (c *Collector) FlushNow() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(batch) > 0 {
		c.flush(batch)
	}
}
