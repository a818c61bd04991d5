package capture

import "sync/atomic"

// Suppressor is the re-entrancy barrier described in spec.md §5: a
// reference-counted flag, not a mutex, because the bridge's own write
// paths are single-threaded cooperative. The reconciler holds it Enter'd
// for the duration of every remote-apply write, including any nested
// mutations a user callback triggers from within that write, so op-capture
// never re-records a remote change as a local one.
type Suppressor struct {
	n int32
}

// Enter increments the suppress count. Pair with a deferred Exit.
func (s *Suppressor) Enter() { atomic.AddInt32(&s.n, 1) }

// Exit decrements the suppress count.
func (s *Suppressor) Exit() { atomic.AddInt32(&s.n, -1) }

// Active reports whether any writer currently holds suppression.
func (s *Suppressor) Active() bool { return atomic.LoadInt32(&s.n) > 0 }
