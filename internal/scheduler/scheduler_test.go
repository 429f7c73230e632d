package scheduler

import (
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/clicktrack/internal/notequeue"
	"github.com/cbegin/clicktrack/internal/sequencer"
)

type manualClock struct{ now float64 }

func (c *manualClock) Now() float64 { return c.now }

type toneCall struct {
	freq, start, stop float64
}

type recordingDevice struct {
	tones []toneCall
	err   error
	panic bool
}

func (d *recordingDevice) ScheduleTone(freq, start, stop float64) error {
	if d.panic {
		d.panic = false
		panic("device exploded")
	}
	if d.err != nil {
		return d.err
	}
	d.tones = append(d.tones, toneCall{freq, start, stop})
	return nil
}

type countingTicker struct{ starts, stops int }

func (t *countingTicker) Start() { t.starts++ }
func (t *countingTicker) Stop()  { t.stops++ }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestScheduler(t *testing.T, tempo float64, res sequencer.Resolution) (*Scheduler, *manualClock, *recordingDevice, *notequeue.Queue, *countingTicker) {
	t.Helper()
	state, err := sequencer.NewState(tempo, res)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	clock := &manualClock{}
	dev := &recordingDevice{}
	q := notequeue.New()
	tk := &countingTicker{}
	s, err := New(state, clock, dev, q, Options{Ticker: tk, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, clock, dev, q, tk
}

func drain(q *notequeue.Queue) []notequeue.Event {
	var out []notequeue.Event
	for {
		ev, ok := q.PeekDue(math.Inf(1))
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

// run simulates the timer firing every interval seconds until end.
func run(s *Scheduler, clock *manualClock, interval, end float64) {
	for clock.now < end {
		clock.now += interval
		s.Tick()
	}
}

func TestTicksIgnoredWhileStopped(t *testing.T) {
	s, clock, dev, q, _ := newTestScheduler(t, 60, sequencer.Sixteenth)
	run(s, clock, 0.025, 1)
	if len(dev.tones) != 0 || q.Len() != 0 {
		t.Fatalf("stopped scheduler dispatched %d tones, %d events", len(dev.tones), q.Len())
	}
}

func TestQuarterAtSixtyEndToEnd(t *testing.T) {
	s, clock, dev, _, _ := newTestScheduler(t, 60, sequencer.Quarter)
	s.Start()
	run(s, clock, 0.025, 3.5)

	if len(dev.tones) < 4 {
		t.Fatalf("got %d tones, want at least 4", len(dev.tones))
	}
	wantFreq := []float64{660, 440, 440, 440}
	for i := 0; i < 4; i++ {
		tone := dev.tones[i]
		if math.Abs(tone.start-float64(i)) > 1e-9 {
			t.Fatalf("tone %d starts at %v, want %v", i, tone.start, float64(i))
		}
		if tone.freq != wantFreq[i] {
			t.Fatalf("tone %d freq %v, want %v", i, tone.freq, wantFreq[i])
		}
		if d := tone.stop - tone.start; math.Abs(d-DefaultNoteLength) > 1e-9 {
			t.Fatalf("tone %d length %v, want %v", i, d, DefaultNoteLength)
		}
	}
}

func TestEveryDispatchIsQueued(t *testing.T) {
	s, clock, dev, q, _ := newTestScheduler(t, 120, sequencer.Quarter)
	s.Start()
	run(s, clock, 0.025, 2)

	events := drain(q)
	if len(events) == 0 {
		t.Fatalf("no events queued")
	}
	last := -1.0
	for i, ev := range events {
		if ev.Index != i%sequencer.Subdivisions {
			t.Fatalf("event %d index %d", i, ev.Index)
		}
		if ev.Time < last {
			t.Fatalf("event %d time %v before %v", i, ev.Time, last)
		}
		last = ev.Time
	}
	audible := 0
	for _, ev := range events {
		if sequencer.IsAudible(ev.Index, sequencer.Quarter) {
			audible++
		}
	}
	if audible != len(dev.tones) {
		t.Fatalf("audible events %d, tones %d", audible, len(dev.tones))
	}
	if st := s.Stats(); st.Dispatched != uint64(len(events)) || st.Scheduled != uint64(len(dev.tones)) {
		t.Fatalf("stats %+v disagree with %d events / %d tones", st, len(events), len(dev.tones))
	}
}

func TestPassIsBoundedByLookahead(t *testing.T) {
	for _, tempo := range []float64{30, 60, 120, 300} {
		s, clock, _, q, _ := newTestScheduler(t, tempo, sequencer.Sixteenth)
		s.Start()
		dur := sequencer.SubdivisionDuration(tempo)
		bound := int(DefaultLookahead/dur) + 1
		for i := 0; i < 100; i++ {
			before := q.Len()
			clock.now += 0.025
			s.Tick()
			if n := q.Len() - before; n > bound {
				t.Fatalf("tempo %v: pass dispatched %d, bound %d", tempo, n, bound)
			}
		}
	}
}

func TestScheduledTimesStayAheadOfClock(t *testing.T) {
	s, clock, _, q, _ := newTestScheduler(t, 90, sequencer.Sixteenth)
	s.Start()
	for i := 0; i < 200; i++ {
		clock.now += 0.025
		s.Tick()
		if due := s.State().NextDue; due < clock.now+DefaultLookahead {
			t.Fatalf("next due %v inside window ending %v", due, clock.now+DefaultLookahead)
		}
	}
	if q.Len() == 0 {
		t.Fatalf("nothing queued")
	}
}

func TestLateTickCatchesUp(t *testing.T) {
	s, clock, _, q, _ := newTestScheduler(t, 60, sequencer.Sixteenth)
	s.Start()
	clock.now = 2 // the timer stalled for two seconds
	s.Tick()
	events := drain(q)
	want := int((2+DefaultLookahead)/sequencer.SubdivisionDuration(60)) + 1
	if len(events) != want {
		t.Fatalf("catch-up dispatched %d, want %d", len(events), want)
	}
}

func TestStopStartResets(t *testing.T) {
	s, clock, dev, q, tk := newTestScheduler(t, 60, sequencer.Sixteenth)
	s.Start()
	run(s, clock, 0.025, 1.3)
	s.Stop()
	s.Stop()
	if tk.stops != 2 || s.Playing() {
		t.Fatalf("stop did not take: stops=%d playing=%v", tk.stops, s.Playing())
	}
	dispatched := s.Stats().Dispatched
	run(s, clock, 0.025, 2)
	if s.Stats().Dispatched != dispatched {
		t.Fatalf("dispatching continued after Stop")
	}

	dev.tones = nil
	clock.now = 5.25
	s.Start()
	st := s.State()
	if tk.starts != 2 {
		t.Fatalf("ticker starts = %d, want 2", tk.starts)
	}
	if len(dev.tones) == 0 || dev.tones[0].start != 5.25 || dev.tones[0].freq != 660 {
		t.Fatalf("restart did not begin with an accent at 5.25: %+v", dev.tones)
	}
	if st.NextDue <= 5.25 {
		t.Fatalf("state not advanced past restart: %+v", st)
	}

	// The renderer only sees the new cycle.
	events := drain(q)
	if len(events) == 0 || events[0].Index != 0 || events[0].Time != 5.25 {
		t.Fatalf("first event after restart = %+v", events)
	}
}

func TestToggleLabels(t *testing.T) {
	s, _, _, _, _ := newTestScheduler(t, 60, sequencer.Quarter)
	if got := s.Toggle(); got != "stop" {
		t.Fatalf("first toggle = %q, want stop", got)
	}
	if !s.Playing() {
		t.Fatalf("not playing after toggle")
	}
	if got := s.Toggle(); got != "play" {
		t.Fatalf("second toggle = %q, want play", got)
	}
	if s.Playing() {
		t.Fatalf("still playing after second toggle")
	}
}

func TestTempoChangeAffectsNextIntervalOnly(t *testing.T) {
	s, clock, _, q, _ := newTestScheduler(t, 60, sequencer.Sixteenth)
	s.Start()
	clock.now = 0.5
	s.Tick()
	before := s.State()

	if err := s.SetTempo(120); err != nil {
		t.Fatalf("SetTempo: %v", err)
	}
	if s.State().NextDue != before.NextDue {
		t.Fatalf("tempo change moved the already computed due time")
	}
	clock.now = 1.0
	s.Tick()

	events := drain(q)
	var gaps []float64
	for i := 1; i < len(events); i++ {
		gaps = append(gaps, events[i].Time-events[i-1].Time)
	}
	slow := sequencer.SubdivisionDuration(60)
	fast := sequencer.SubdivisionDuration(120)
	boundary := -1
	for i, ev := range events {
		if ev.Time == before.NextDue {
			boundary = i
		}
	}
	if boundary <= 0 {
		t.Fatalf("pre-change due time %v not found in queue", before.NextDue)
	}
	for i, g := range gaps {
		want := slow
		if i >= boundary {
			want = fast
		}
		if math.Abs(g-want) > 1e-9 {
			t.Fatalf("gap %d = %v, want %v", i, g, want)
		}
	}
}

func TestSettersRejectInvalidInput(t *testing.T) {
	s, _, _, _, _ := newTestScheduler(t, 60, sequencer.Quarter)
	if err := s.SetTempo(0); !errors.Is(err, sequencer.ErrInvalidTempo) {
		t.Fatalf("SetTempo(0) = %v", err)
	}
	if err := s.SetResolution(sequencer.Resolution(42)); !errors.Is(err, sequencer.ErrInvalidResolution) {
		t.Fatalf("SetResolution(42) = %v", err)
	}
	st := s.State()
	if st.Tempo != 60 || st.Resolution != sequencer.Quarter {
		t.Fatalf("invalid setters changed state: %+v", st)
	}
	if err := s.SetResolution(sequencer.EighthTriplet); err != nil {
		t.Fatalf("SetResolution: %v", err)
	}
	if s.State().Resolution != sequencer.EighthTriplet {
		t.Fatalf("resolution not applied")
	}
}

func TestDeviceFailureKeepsSequencerMoving(t *testing.T) {
	s, clock, dev, q, _ := newTestScheduler(t, 60, sequencer.Quarter)
	dev.err = errors.New("device reset")
	s.Start()
	run(s, clock, 0.025, 2)

	if len(dev.tones) != 0 {
		t.Fatalf("failing device recorded tones")
	}
	events := drain(q)
	if len(events) < 24 {
		t.Fatalf("only %d events dispatched with failing device", len(events))
	}
	if st := s.Stats(); st.Dropped < 2 {
		t.Fatalf("dropped = %d, want >= 2", st.Dropped)
	}

	// Recovery: the next tones land exactly on the grid.
	dev.err = nil
	run(s, clock, 0.025, 4)
	if len(dev.tones) == 0 {
		t.Fatalf("no tones after device recovered")
	}
	for _, tone := range dev.tones {
		if frac := tone.start - math.Floor(tone.start+1e-9); math.Abs(frac) > 1e-6 {
			t.Fatalf("tone at %v is off the quarter grid", tone.start)
		}
	}
}

func TestPanicInPassIsRecovered(t *testing.T) {
	s, clock, dev, _, _ := newTestScheduler(t, 60, sequencer.Quarter)
	dev.panic = true
	s.Start() // first pass hits the panic
	if s.Stats().Recovered != 1 {
		t.Fatalf("recovered = %d, want 1", s.Stats().Recovered)
	}
	run(s, clock, 0.025, 1.5)
	if len(dev.tones) < 2 {
		t.Fatalf("ticks stopped working after panic: %d tones", len(dev.tones))
	}
}

func TestToneLengthClampedAtHighTempo(t *testing.T) {
	s, clock, dev, _, _ := newTestScheduler(t, 300, sequencer.Sixteenth)
	s.Start()
	run(s, clock, 0.025, 0.5)
	sub := sequencer.SubdivisionDuration(300)
	for _, tone := range dev.tones {
		if tone.stop-tone.start >= sub {
			t.Fatalf("tone length %v not shorter than subdivision %v", tone.stop-tone.start, sub)
		}
	}
}

func TestSetTempoRejectsTempoAboveMax(t *testing.T) {
	s, clock, _, _, _ := newTestScheduler(t, 120, sequencer.Sixteenth)
	clock.now = 100
	s.Start()
	if err := s.SetTempo(1e20); !errors.Is(err, sequencer.ErrInvalidTempo) {
		t.Fatalf("SetTempo(1e20) err = %v", err)
	}
	if got := s.State().Tempo; got != 120 {
		t.Fatalf("tempo changed to %v", got)
	}
	if err := s.SetTempo(sequencer.MaxTempo); err != nil {
		t.Fatalf("SetTempo(MaxTempo): %v", err)
	}
	clock.now = 101
	s.Tick()
}

func TestPassStopsWhenClockCannotAdvance(t *testing.T) {
	s, clock, _, q, _ := newTestScheduler(t, 120, sequencer.Sixteenth)
	clock.now = 100
	s.Start()
	// Bypass the setter: a step this small vanishes next to NextDue.
	s.mu.Lock()
	s.state.Tempo = 1e20
	s.mu.Unlock()
	clock.now = 101

	done := make(chan struct{})
	go func() {
		s.Tick()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Tick did not return")
	}
	if n := len(drain(q)); n > 100 {
		t.Fatalf("stalled pass dispatched %d entries", n)
	}
	// The scheduler stays usable.
	if err := s.SetTempo(60); err != nil {
		t.Fatalf("SetTempo after stall: %v", err)
	}
	s.Stop()
}

func TestNewValidates(t *testing.T) {
	q := notequeue.New()
	if _, err := New(sequencer.State{Tempo: 0}, &manualClock{}, &recordingDevice{}, q, Options{}); !errors.Is(err, sequencer.ErrInvalidTempo) {
		t.Fatalf("zero tempo err = %v", err)
	}
	if _, err := New(sequencer.State{Tempo: 60}, nil, &recordingDevice{}, q, Options{}); err == nil {
		t.Fatalf("expected error for nil clock")
	}
	if _, err := New(sequencer.State{Tempo: 60}, &manualClock{}, &recordingDevice{}, q, Options{Lookahead: -1}); err == nil {
		t.Fatalf("expected error for negative lookahead")
	}
}

func BenchmarkTick(b *testing.B) {
	state, _ := sequencer.NewState(120, sequencer.Sixteenth)
	clock := &manualClock{}
	q := notequeue.New()
	s, _ := New(state, clock, &recordingDevice{}, q, Options{Logger: quietLogger()})
	s.Start()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.now += 0.025
		s.Tick()
		for {
			if _, ok := q.PeekDue(clock.now); !ok {
				break
			}
		}
	}
}
