// Package midiout schedules metronome clicks on an external MIDI synth or
// drum machine. The device keeps its own monotonic clock, which the
// scheduler uses as the audio clock when MIDI is the output.
package midiout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"golang.org/x/time/rate"
)

// DefaultPumpInterval is how often pending messages are flushed.
const DefaultPumpInterval = time.Millisecond

var ErrClosed = errors.New("midi output closed")

type Option func(*Device)

// WithChannel selects the MIDI channel (0-15). 9 addresses General MIDI drums.
func WithChannel(ch uint8) Option {
	return func(d *Device) {
		if ch < 16 {
			d.channel = ch
		}
	}
}

func WithVelocity(v uint8) Option {
	return func(d *Device) {
		if v > 0 && v < 128 {
			d.velocity = v
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

type pending struct {
	at  float64
	on  bool
	key uint8
}

type Device struct {
	send     func(midi.Message) error
	port     drivers.Out
	channel  uint8
	velocity uint8
	origin   time.Time
	now      func() time.Time
	log      logrus.FieldLogger
	warn     *rate.Limiter

	mu       sync.Mutex
	queue    []pending // ordered by at
	sounding map[uint8]int
	closed   bool
	failures uint64
}

// New wraps a send function such as the one returned by midi.SendTo.
func New(send func(midi.Message) error, opts ...Option) *Device {
	d := &Device{
		send:     send,
		velocity: 100,
		origin:   time.Now(),
		now:      time.Now,
		log:      logrus.StandardLogger(),
		warn:     rate.NewLimiter(rate.Every(time.Second), 1),
		sounding: make(map[uint8]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithField("component", "midiout")
	return d
}

// OpenPort connects to the output port whose name contains name.
func OpenPort(name string, opts ...Option) (*Device, error) {
	out, err := midi.FindOutPort(name)
	if err != nil {
		return nil, fmt.Errorf("find MIDI output %q: %w", name, err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("open MIDI output %q: %w", out.String(), err)
	}
	d := New(send, opts...)
	d.port = out
	return d, nil
}

// Ports lists the output port names the registered driver can see.
func Ports() []string {
	var names []string
	for _, p := range midi.GetOutPorts() {
		names = append(names, p.String())
	}
	return names
}

// Now is seconds since the device was created.
func (d *Device) Now() float64 {
	return d.now().Sub(d.origin).Seconds()
}

// NoteForFrequency maps Hz to the nearest equal-tempered MIDI key.
func NoteForFrequency(freq float64) (uint8, error) {
	if freq <= 0 || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return 0, fmt.Errorf("frequency %v has no MIDI key", freq)
	}
	n := math.Round(69 + 12*math.Log2(freq/440))
	if n < 0 || n > 127 {
		return 0, fmt.Errorf("frequency %v maps outside the MIDI range", freq)
	}
	return uint8(n), nil
}

// ScheduleTone queues a note-on at start and a note-off at stop.
func (d *Device) ScheduleTone(freq, start, stop float64) error {
	key, err := NoteForFrequency(freq)
	if err != nil {
		return err
	}
	if !(stop > start) {
		return fmt.Errorf("tone stop %v not after start %v", stop, start)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.insert(pending{at: start, on: true, key: key})
	d.insert(pending{at: stop, on: false, key: key})
	return nil
}

func (d *Device) insert(p pending) {
	i := sort.Search(len(d.queue), func(i int) bool { return d.queue[i].at > p.at })
	d.queue = append(d.queue, pending{})
	copy(d.queue[i+1:], d.queue[i:])
	d.queue[i] = p
}

// Pending is the number of queued messages.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Flush sends every message due by now. It returns the first send error;
// failed messages are not retried.
func (d *Device) Flush() error {
	now := d.Now()
	d.mu.Lock()
	n := 0
	for n < len(d.queue) && d.queue[n].at <= now {
		n++
	}
	due := make([]pending, n)
	copy(due, d.queue[:n])
	d.queue = append(d.queue[:0], d.queue[n:]...)
	d.mu.Unlock()

	var firstErr error
	for _, p := range due {
		if err := d.emit(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Device) emit(p pending) error {
	var msg midi.Message
	if p.on {
		msg = midi.NoteOn(d.channel, p.key, d.velocity)
	} else {
		msg = midi.NoteOff(d.channel, p.key)
	}
	err := d.send(msg)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.failures++
		return err
	}
	if p.on {
		d.sounding[p.key]++
	} else if d.sounding[p.key] > 0 {
		d.sounding[p.key]--
		if d.sounding[p.key] == 0 {
			delete(d.sounding, p.key)
		}
	}
	return nil
}

// Run flushes on a fixed cadence until ctx is done.
func (d *Device) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPumpInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := d.Flush(); err != nil && d.warn.Allow() {
				d.log.WithError(err).Warn("midi send failed")
			}
		}
	}
}

// Failures counts messages the port rejected.
func (d *Device) Failures() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures
}

// Close drops queued messages, silences sounding notes and closes the port.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.queue = nil
	keys := make([]uint8, 0, len(d.sounding))
	for k := range d.sounding {
		keys = append(keys, k)
	}
	d.sounding = map[uint8]int{}
	d.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if err := d.send(midi.NoteOff(d.channel, k)); err != nil {
			errs = append(errs, err)
		}
	}
	if d.port != nil {
		if err := d.port.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
