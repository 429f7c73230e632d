// Package notequeue is the hand-off between the scheduler and the renderer.
// Exactly one goroutine pushes and exactly one goroutine drains.
package notequeue

import (
	"sync"
	"sync/atomic"
)

// Event records one dispatched subdivision.
type Event struct {
	Index      int
	Time       float64 // audio clock seconds
	Generation uint64
}

// DefaultLimit bounds undrained entries. At the fastest tempo it holds
// several seconds of subdivisions, far more than a live consumer lags.
const DefaultLimit = 1024

// Queue is ordered by insertion, which is non-decreasing in time because the
// producer only ever appends later subdivisions. When nobody drains it, the
// oldest entries are discarded once limit is reached.
type Queue struct {
	mu         sync.Mutex
	events     []Event
	head       int
	limit      int
	overflowed uint64
	generation atomic.Uint64
}

func New() *Queue {
	return NewWithLimit(DefaultLimit)
}

func NewWithLimit(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Queue{events: make([]Event, 0, 64), limit: limit}
}

// Generation is the stamp the producer should put on new events.
func (q *Queue) Generation() uint64 {
	return q.generation.Load()
}

// Advance starts a new generation. Entries from older generations are
// dropped by the consumer when they reach the head.
func (q *Queue) Advance() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.generation.Add(1)
}

// Push appends ev at the tail, discarding the head if the queue is full.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	if len(q.events)-q.head >= q.limit {
		q.pop()
		q.overflowed++
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Overflowed counts entries discarded because the queue was full.
func (q *Queue) Overflowed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflowed
}

// PeekDue removes and returns the head if its time is before now.
func (q *Queue) PeekDue(now float64) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// Read under the lock so no entry can carry a newer stamp than gen.
	gen := q.generation.Load()
	for q.head < len(q.events) {
		ev := q.events[q.head]
		if ev.Generation < gen {
			q.pop()
			continue
		}
		if ev.Time >= now {
			return Event{}, false
		}
		q.pop()
		return ev, true
	}
	return Event{}, false
}

// Len is the number of entries not yet drained, stale ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events) - q.head
}

func (q *Queue) pop() {
	q.events[q.head] = Event{}
	q.head++
	if q.head == len(q.events) {
		q.events = q.events[:0]
		q.head = 0
		return
	}
	// Reclaim the drained prefix once it dominates the backing array.
	if q.head >= 256 && q.head*2 >= len(q.events) {
		n := copy(q.events, q.events[q.head:])
		q.events = q.events[:n]
		q.head = 0
	}
}
