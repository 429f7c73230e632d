// Package ticker is the coarse wake-up source for the scheduler. It plays
// the part of a background timer worker: it accepts start, stop and interval
// requests and delivers ticks by calling a handler on its own goroutine.
package ticker

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultInterval is the wake-up cadence when none is configured.
const DefaultInterval = 25 * time.Millisecond

// Ticker calls onTick every interval while started. onTick must return
// promptly; a slow handler delays the next tick but never queues them up.
//
// Start, Stop and SetInterval record the desired state and wake Run, which
// applies the latest state. Requests made in quick succession coalesce;
// none is lost.
type Ticker struct {
	onTick   func()
	running  atomic.Bool
	interval atomic.Int64 // time.Duration
	wake     chan struct{}
}

func New(interval time.Duration, onTick func()) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Ticker{
		onTick: onTick,
		wake:   make(chan struct{}, 1),
	}
	t.interval.Store(int64(interval))
	return t
}

// Start resumes tick delivery.
func (t *Ticker) Start() {
	t.running.Store(true)
	t.notify()
}

// Stop pauses tick delivery. Stopping a stopped ticker is a no-op.
func (t *Ticker) Stop() {
	t.running.Store(false)
	t.notify()
}

// SetInterval changes the cadence; a running ticker restarts its period.
func (t *Ticker) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.interval.Store(int64(d))
	t.notify()
}

// Interval is the configured cadence.
func (t *Ticker) Interval() time.Duration {
	return time.Duration(t.interval.Load())
}

func (t *Ticker) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
		// A wake-up is already pending and Run will read the latest state.
	}
}

// Run applies state changes and delivers ticks until ctx is done.
func (t *Ticker) Run(ctx context.Context) {
	var (
		tk      *time.Ticker
		c       <-chan time.Time
		current time.Duration
	)
	defer func() {
		if tk != nil {
			tk.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.wake:
			want := t.running.Load()
			interval := t.Interval()
			switch {
			case want && tk == nil:
				tk = time.NewTicker(interval)
				c = tk.C
				current = interval
			case !want && tk != nil:
				tk.Stop()
				tk, c = nil, nil
			case tk != nil && interval != current:
				tk.Reset(interval)
				current = interval
			}
		case <-c:
			if t.onTick != nil {
				t.onTick()
			}
		}
	}
}
