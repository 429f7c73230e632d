package notequeue

import (
	"sync"
	"testing"
	"time"
)

func TestPeekDueOnlyReturnsPastEvents(t *testing.T) {
	q := New()
	q.Push(Event{Index: 0, Time: 1.0})
	q.Push(Event{Index: 1, Time: 2.0})

	if _, ok := q.PeekDue(1.0); ok {
		t.Fatalf("event at 1.0 must not be due at exactly 1.0")
	}
	ev, ok := q.PeekDue(1.5)
	if !ok || ev.Index != 0 {
		t.Fatalf("PeekDue(1.5) = %+v, %v; want index 0", ev, ok)
	}
	if _, ok := q.PeekDue(1.5); ok {
		t.Fatalf("second event should still be pending")
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
}

func TestDrainPreservesTimeOrder(t *testing.T) {
	q := New()
	for i := 0; i < 1000; i++ {
		q.Push(Event{Index: i % 48, Time: float64(i) * 0.01})
	}
	last := -1.0
	n := 0
	for {
		ev, ok := q.PeekDue(1e9)
		if !ok {
			break
		}
		if ev.Time < last {
			t.Fatalf("time went backwards: %v after %v", ev.Time, last)
		}
		last = ev.Time
		n++
	}
	if n != 1000 {
		t.Fatalf("drained %d events, want 1000", n)
	}
	if q.Len() != 0 {
		t.Fatalf("len after drain = %d", q.Len())
	}
}

func TestAdvanceDropsStaleGeneration(t *testing.T) {
	q := New()
	gen := q.Generation()
	q.Push(Event{Index: 5, Time: 10, Generation: gen})
	q.Push(Event{Index: 6, Time: 11, Generation: gen})

	next := q.Advance()
	if next == gen {
		t.Fatalf("Advance did not change generation")
	}
	q.Push(Event{Index: 0, Time: 3, Generation: next})

	ev, ok := q.PeekDue(4)
	if !ok || ev.Index != 0 || ev.Generation != next {
		t.Fatalf("PeekDue = %+v, %v; want fresh index 0", ev, ok)
	}
	if q.Len() != 0 {
		t.Fatalf("stale entries left behind: %d", q.Len())
	}
}

func TestSingleProducerSingleConsumer(t *testing.T) {
	const total = 20000
	q := NewWithLimit(total)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.Push(Event{Index: i % 48, Time: float64(i)})
		}
	}()

	got := 0
	last := -1.0
	for got < total {
		ev, ok := q.PeekDue(float64(total))
		if !ok {
			continue
		}
		if ev.Time <= last {
			t.Fatalf("out of order: %v after %v", ev.Time, last)
		}
		last = ev.Time
		got++
	}
	wg.Wait()
}

func TestUndrainedQueueIsBounded(t *testing.T) {
	q := NewWithLimit(8)
	for i := 0; i < 20; i++ {
		q.Push(Event{Index: i, Time: float64(i)})
	}
	if q.Len() != 8 {
		t.Fatalf("len = %d, want 8", q.Len())
	}
	if q.Overflowed() != 12 {
		t.Fatalf("overflowed = %d, want 12", q.Overflowed())
	}
	ev, ok := q.PeekDue(100)
	if !ok || ev.Index != 12 {
		t.Fatalf("oldest kept = %+v, %v; want index 12", ev, ok)
	}
}

func TestRestartNeverDiscardsCurrentGeneration(t *testing.T) {
	q := New()
	const restarts = 20000
	received := make(chan struct{})
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, ok := q.PeekDue(1); ok {
				select {
				case received <- struct{}{}:
				case <-stop:
					return
				}
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	// Each restart waits for its entry, so none of them is ever stale.
	for i := 0; i < restarts; i++ {
		gen := q.Advance()
		q.Push(Event{Index: 0, Time: 0, Generation: gen})
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("restart %d: current entry was discarded", i)
		}
	}
}
