package clicktrack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	intaudio "github.com/cbegin/clicktrack/internal/audio"
	intq "github.com/cbegin/clicktrack/internal/notequeue"
	intsched "github.com/cbegin/clicktrack/internal/scheduler"
	intseq "github.com/cbegin/clicktrack/internal/sequencer"
	inttick "github.com/cbegin/clicktrack/internal/ticker"
)

type Resolution = intseq.Resolution

const (
	Sixteenth     = intseq.Sixteenth
	Eighth        = intseq.Eighth
	Quarter       = intseq.Quarter
	EighthTriplet = intseq.EighthTriplet
)

var (
	ErrInvalidTempo      = intseq.ErrInvalidTempo
	ErrInvalidResolution = intseq.ErrInvalidResolution
)

func ParseResolution(s string) (Resolution, error) { return intseq.ParseResolution(s) }

// Output is where clicks go. Its clock is the engine's audio clock.
type Output interface {
	Now() float64
	ScheduleTone(freq, start, stop float64) error
	Close() error
}

type volumeOutput interface {
	SetVolume(float64)
	Volume() float64
}

type Stats = intsched.Stats

type Option func(*engineConfig)

type engineConfig struct {
	sampleRate int
	tempo      float64
	resolution Resolution
	lookahead  time.Duration
	interval   time.Duration
	noteLength time.Duration
	volume     float64
	logger     logrus.FieldLogger
	output     Output
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		sampleRate: 48000,
		tempo:      60,
		resolution: Sixteenth,
		lookahead:  100 * time.Millisecond,
		interval:   inttick.DefaultInterval,
		noteLength: 50 * time.Millisecond,
		volume:     1,
	}
}

func WithSampleRate(rate int) Option {
	return func(cfg *engineConfig) { cfg.sampleRate = rate }
}

func WithTempo(bpm float64) Option {
	return func(cfg *engineConfig) { cfg.tempo = bpm }
}

func WithResolution(r Resolution) Option {
	return func(cfg *engineConfig) { cfg.resolution = r }
}

// WithLookahead sets how far ahead of the audio clock clicks are scheduled.
// It must exceed the tick interval.
func WithLookahead(d time.Duration) Option {
	return func(cfg *engineConfig) { cfg.lookahead = d }
}

// WithTickInterval sets the wake-up cadence of the scheduling timer.
func WithTickInterval(d time.Duration) Option {
	return func(cfg *engineConfig) { cfg.interval = d }
}

func WithNoteLength(d time.Duration) Option {
	return func(cfg *engineConfig) { cfg.noteLength = d }
}

func WithVolume(v float64) Option {
	return func(cfg *engineConfig) { cfg.volume = v }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(cfg *engineConfig) { cfg.logger = l }
}

// WithOutput replaces the system audio device, e.g. with a MIDI output.
// The engine takes ownership and closes it.
func WithOutput(out Output) Option {
	return func(cfg *engineConfig) { cfg.output = out }
}

func (cfg engineConfig) validate() error {
	if err := intseq.ValidateTempo(cfg.tempo); err != nil {
		return err
	}
	if err := intseq.ValidateResolution(cfg.resolution); err != nil {
		return err
	}
	if cfg.interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", cfg.interval)
	}
	if cfg.lookahead <= cfg.interval {
		return fmt.Errorf("lookahead %v must exceed tick interval %v", cfg.lookahead, cfg.interval)
	}
	if cfg.noteLength <= 0 {
		return fmt.Errorf("note length must be positive, got %v", cfg.noteLength)
	}
	if cfg.output == nil && cfg.sampleRate <= 0 {
		return errors.New("sampleRate must be positive")
	}
	return nil
}

// Engine is a running metronome: a timer-driven scheduler feeding an output
// and a note queue for whatever renders the beat.
type Engine struct {
	sched  *intsched.Scheduler
	ticker *inttick.Ticker
	queue  *intq.Queue
	output Output
	log    logrus.FieldLogger

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	startedAt float64
	stoppedAt float64
}

func New(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	out := cfg.output
	if out == nil {
		dev, err := intaudio.Open(cfg.sampleRate)
		if err != nil {
			return nil, fmt.Errorf("open audio device: %w", err)
		}
		out = dev
	}
	if v, ok := out.(volumeOutput); ok {
		v.SetVolume(cfg.volume)
	}

	state, err := intseq.NewState(cfg.tempo, cfg.resolution)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	queue := intq.New()
	sched, err := intsched.New(state, out, out, queue, intsched.Options{
		Lookahead:  cfg.lookahead.Seconds(),
		NoteLength: cfg.noteLength.Seconds(),
		Logger:     log,
	})
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	tk := inttick.New(cfg.interval, sched.Tick)
	sched.SetTicker(tk)

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		sched:  sched,
		ticker: tk,
		queue:  queue,
		output: out,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		tk.Run(ctx)
	}()
	log.WithFields(logrus.Fields{
		"tempo":      cfg.tempo,
		"resolution": cfg.resolution,
		"lookahead":  cfg.lookahead,
		"interval":   cfg.interval,
	}).Debug("engine ready")
	return e, nil
}

// Start begins playback from the top of the cycle.
func (e *Engine) Start() {
	if e.sched.Playing() {
		return
	}
	e.mu.Lock()
	e.started = true
	e.startedAt = e.output.Now()
	e.stopped = false
	e.mu.Unlock()
	e.sched.Start()
}

// Stop halts playback. Clicks already handed to the output still sound.
func (e *Engine) Stop() {
	if !e.sched.Playing() {
		return
	}
	e.sched.Stop()
	e.mu.Lock()
	e.stopped = true
	e.stoppedAt = e.output.Now()
	e.mu.Unlock()
}

// Toggle flips playback and returns the label for the next action.
func (e *Engine) Toggle() string {
	if e.sched.Playing() {
		e.Stop()
		return "play"
	}
	e.Start()
	return "stop"
}

func (e *Engine) Playing() bool { return e.sched.Playing() }

func (e *Engine) SetTempo(bpm float64) error { return e.sched.SetTempo(bpm) }

func (e *Engine) Tempo() float64 { return e.sched.State().Tempo }

func (e *Engine) SetResolution(r Resolution) error { return e.sched.SetResolution(r) }

func (e *Engine) Resolution() Resolution { return e.sched.State().Resolution }

// SetTickInterval changes the timer cadence. Intervals at or beyond the
// lookahead window would leave gaps and are rejected.
func (e *Engine) SetTickInterval(d time.Duration) error {
	if d <= 0 || d.Seconds() >= e.sched.Lookahead() {
		return fmt.Errorf("tick interval %v must be positive and below the lookahead", d)
	}
	e.ticker.SetInterval(d)
	return nil
}

// SetVolume sets the output gain when the output supports it.
func (e *Engine) SetVolume(v float64) {
	if vo, ok := e.output.(volumeOutput); ok {
		vo.SetVolume(v)
	}
}

func (e *Engine) Volume() float64 {
	if vo, ok := e.output.(volumeOutput); ok {
		return vo.Volume()
	}
	return 1
}

// Queue is the renderer's view of dispatched subdivisions. Exactly one
// goroutine may drain it, typically a render.Renderer. Without a consumer
// it keeps only the newest notequeue.DefaultLimit entries.
func (e *Engine) Queue() *intq.Queue { return e.queue }

// Now reads the audio clock.
func (e *Engine) Now() float64 { return e.output.Now() }

// Elapsed is audio time since the current (or last) Start.
func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return 0
	}
	end := e.stoppedAt
	if !e.stopped {
		end = e.output.Now()
	}
	return time.Duration((end - e.startedAt) * float64(time.Second))
}

func (e *Engine) Stats() Stats { return e.sched.Stats() }

// Close stops playback, shuts down the timer and releases the output.
func (e *Engine) Close() error {
	e.Stop()
	e.cancel()
	<-e.done
	return e.output.Close()
}
