// Package scheduler reconciles a coarse wake-up timer with the audio clock.
// Every tick it dispatches all subdivisions that fall due before now plus
// the lookahead window, so audio is always queued ahead of the timer's
// jitter.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cbegin/clicktrack/internal/notequeue"
	"github.com/cbegin/clicktrack/internal/sequencer"
)

const (
	// DefaultLookahead is how far past now a pass may schedule, in seconds.
	DefaultLookahead = 0.1
	// DefaultNoteLength is the click length in seconds before clamping.
	DefaultNoteLength = 0.05

	// A click never covers more than this fraction of a subdivision, so
	// consecutive clicks cannot overlap at high tempos.
	maxNoteFraction = 0.9
)

// Clock is the authoritative time base, in seconds.
type Clock interface {
	Now() float64
}

// Device plays a tone between two audio clock instants.
type Device interface {
	ScheduleTone(freq, start, stop float64) error
}

// Ticker is the wake-up source the scheduler starts and stops with playback.
type Ticker interface {
	Start()
	Stop()
}

type Options struct {
	Lookahead  float64 // seconds; 0 selects DefaultLookahead
	NoteLength float64 // seconds; 0 selects DefaultNoteLength
	Ticker     Ticker
	Logger     logrus.FieldLogger
}

// Stats counts scheduler activity since construction.
type Stats struct {
	Dispatched uint64 // queue entries pushed
	Scheduled  uint64 // tones accepted by the device
	Dropped    uint64 // tones the device rejected
	Recovered  uint64 // passes aborted by a panic
}

type Scheduler struct {
	mu         sync.Mutex
	state      sequencer.State
	playing    bool
	generation uint64

	clock      Clock
	device     Device
	queue      *notequeue.Queue
	ticker     Ticker
	lookahead  float64
	noteLength float64

	log  logrus.FieldLogger
	warn *rate.Limiter

	dispatched atomic.Uint64
	scheduled  atomic.Uint64
	dropped    atomic.Uint64
	recovered  atomic.Uint64
}

func New(state sequencer.State, clock Clock, device Device, queue *notequeue.Queue, opts Options) (*Scheduler, error) {
	if clock == nil || device == nil || queue == nil {
		return nil, errors.New("scheduler needs a clock, a device and a queue")
	}
	if err := sequencer.ValidateTempo(state.Tempo); err != nil {
		return nil, err
	}
	if err := sequencer.ValidateResolution(state.Resolution); err != nil {
		return nil, err
	}
	if opts.Lookahead == 0 {
		opts.Lookahead = DefaultLookahead
	}
	if opts.NoteLength == 0 {
		opts.NoteLength = DefaultNoteLength
	}
	if opts.Lookahead < 0 {
		return nil, fmt.Errorf("lookahead must be positive, got %v", opts.Lookahead)
	}
	if opts.NoteLength < 0 {
		return nil, fmt.Errorf("note length must be positive, got %v", opts.NoteLength)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		state:      state,
		clock:      clock,
		device:     device,
		queue:      queue,
		ticker:     opts.Ticker,
		lookahead:  opts.Lookahead,
		noteLength: opts.NoteLength,
		log:        log.WithField("component", "scheduler"),
		warn:       rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// SetTicker attaches the wake-up source. It must be called before Start.
func (s *Scheduler) SetTicker(t Ticker) {
	s.mu.Lock()
	s.ticker = t
	s.mu.Unlock()
}

// Start rewinds to the cycle start at the current audio time and begins
// accepting ticks. Starting while playing is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = true
	s.generation = s.queue.Advance()
	s.state = s.state.Reset(s.clock.Now())
	ticker := s.ticker
	s.mu.Unlock()

	if ticker != nil {
		ticker.Start()
	}
	// Cover the first window now instead of waiting a full tick interval.
	s.Tick()
}

// Stop ends playback. Tones already handed to the device finish on their
// own. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.playing = false
	ticker := s.ticker
	s.mu.Unlock()
	if ticker != nil {
		ticker.Stop()
	}
}

// Toggle flips playback and returns the label for the next action: "stop"
// when now playing, "play" when now stopped.
func (s *Scheduler) Toggle() string {
	if s.Playing() {
		s.Stop()
		return "play"
	}
	s.Start()
	return "stop"
}

func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// SetTempo takes effect on the next computed subdivision.
func (s *Scheduler) SetTempo(bpm float64) error {
	if err := sequencer.ValidateTempo(bpm); err != nil {
		return err
	}
	s.mu.Lock()
	s.state.Tempo = bpm
	s.mu.Unlock()
	return nil
}

// SetResolution takes effect on the next dispatched subdivision.
func (s *Scheduler) SetResolution(r sequencer.Resolution) error {
	if err := sequencer.ValidateResolution(r); err != nil {
		return err
	}
	s.mu.Lock()
	s.state.Resolution = r
	s.mu.Unlock()
	return nil
}

// State returns a snapshot of the sequencer state.
func (s *Scheduler) State() sequencer.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Lookahead() float64 { return s.lookahead }

func (s *Scheduler) Stats() Stats {
	return Stats{
		Dispatched: s.dispatched.Load(),
		Scheduled:  s.scheduled.Load(),
		Dropped:    s.dropped.Load(),
		Recovered:  s.recovered.Load(),
	}
}

// Tick runs one scheduling pass. It is the timer's callback and never
// panics; a failed pass leaves later ticks unaffected.
func (s *Scheduler) Tick() {
	defer func() {
		if r := recover(); r != nil {
			s.recovered.Add(1)
			s.log.WithField("panic", r).Error("scheduling pass aborted")
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}
	horizon := s.clock.Now() + s.lookahead
	for s.state.NextDue < horizon {
		s.dispatch(s.state)
		next := sequencer.Advance(s.state)
		if !(next.NextDue > s.state.NextDue) {
			// The step is below the clock's float resolution; stop rather
			// than spin with the lock held.
			s.state = next
			if s.warn.Allow() {
				s.log.WithFields(logrus.Fields{
					"tempo": s.state.Tempo,
					"due":   s.state.NextDue,
				}).Error("subdivision too short to advance the clock")
			}
			return
		}
		s.state = next
	}
}

func (s *Scheduler) dispatch(st sequencer.State) {
	s.queue.Push(notequeue.Event{Index: st.Index, Time: st.NextDue, Generation: s.generation})
	s.dispatched.Add(1)

	if !sequencer.IsAudible(st.Index, st.Resolution) {
		return
	}
	tier := sequencer.PitchTierOf(st.Index)
	stop := st.NextDue + s.toneLength(st.Tempo)
	if err := s.device.ScheduleTone(tier.Frequency(), st.NextDue, stop); err != nil {
		s.dropped.Add(1)
		if s.warn.Allow() {
			s.log.WithError(err).WithFields(logrus.Fields{
				"index":   st.Index,
				"due":     st.NextDue,
				"dropped": s.dropped.Load(),
			}).Warn("audio device rejected tone")
		}
		return
	}
	s.scheduled.Add(1)
}

func (s *Scheduler) toneLength(tempo float64) float64 {
	return min(s.noteLength, maxNoteFraction*sequencer.SubdivisionDuration(tempo))
}
