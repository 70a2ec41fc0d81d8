package adapter

import (
	"sync"

	"github.com/theupdateframework/ldb/revtree"
)

// ChangeEvent is the payload spec.md §6 defines for the per-database
// "change" topic.
type ChangeEvent struct {
	ID      string
	Seq     uint64
	Changes []revtree.Leaf
	Doc     Body
}

// emitter is the process-local pub/sub point per database name (spec.md
// §3 "Ownership": lifetime = longest of any subscriber or the database
// handle). Subscribers are plain channels; Publish never blocks on a slow
// subscriber beyond a bounded buffer, matching §5's rule that change
// emission never happens synchronously inside the caller's stack.
type emitter struct {
	mu   sync.Mutex
	subs map[int]chan ChangeEvent
	next int
}

func newEmitter() *emitter {
	return &emitter{subs: map[int]chan ChangeEvent{}}
}

func (e *emitter) Subscribe() (id int, ch <-chan ChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id = e.next
	e.next++
	c := make(chan ChangeEvent, 64)
	e.subs[id] = c
	return id, c
}

func (e *emitter) Unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.subs[id]; ok {
		close(c)
		delete(e.subs, id)
	}
}

func (e *emitter) Publish(ev ChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.subs {
		select {
		case c <- ev:
		default:
			// Slow subscriber: drop rather than block the writer that
			// just committed — continuous changes is a best-effort live
			// feed, never a backpressure mechanism on writes.
		}
	}
}
