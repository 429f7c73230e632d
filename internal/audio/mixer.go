package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cbegin/clicktrack/internal/tone"
)

var (
	ErrDeviceClosed  = errors.New("audio device closed")
	ErrTooManyVoices = errors.New("audio device voice limit reached")
	ErrInvalidTone   = errors.New("invalid tone request")
)

// DefaultMaxVoices bounds scheduled-but-unfinished tones.
const DefaultMaxVoices = 64

const (
	limitThresholdDB = -1
	limitAttackMs    = 1
	limitReleaseMs   = 50
)

type voice struct {
	start int64 // absolute frame
	buf   []float32
}

// Mixer is the sample-accurate half of the audio device. Its frame counter
// is the audio clock: Now advances only as frames are rendered.
type Mixer struct {
	sampleRate int
	bank       *tone.Bank
	maxVoices  int

	mu     sync.Mutex
	voices []voice
	limit  *limiter

	frames atomic.Int64
	gain   atomic.Uint64 // math.Float64bits
	closed atomic.Bool
}

func NewMixer(sampleRate int, bank *tone.Bank) *Mixer {
	m := &Mixer{
		sampleRate: sampleRate,
		bank:       bank,
		maxVoices:  DefaultMaxVoices,
		limit:      newLimiter(sampleRate, limitThresholdDB, limitAttackMs, limitReleaseMs),
	}
	m.gain.Store(math.Float64bits(1))
	return m
}

// Now is the audio clock in seconds.
func (m *Mixer) Now() float64 {
	return float64(m.frames.Load()) / float64(m.sampleRate)
}

// SetVolume sets the output gain. 1.0 is default; negative clamps to 0.
func (m *Mixer) SetVolume(v float64) {
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	m.gain.Store(math.Float64bits(v))
}

func (m *Mixer) Volume() float64 {
	return math.Float64frombits(m.gain.Load())
}

// ScheduleTone queues a tone of freq Hz from start to stop (audio clock
// seconds). A start already in the past sounds immediately.
func (m *Mixer) ScheduleTone(freq, start, stop float64) error {
	if m.closed.Load() {
		return ErrDeviceClosed
	}
	if !(stop > start) || math.IsNaN(start) || math.IsInf(stop, 0) {
		return fmt.Errorf("%w: start %v stop %v", ErrInvalidTone, start, stop)
	}
	startFrame := int64(math.Round(start * float64(m.sampleRate)))
	length := int(math.Round((stop - start) * float64(m.sampleRate)))
	if length <= 0 {
		length = 1
	}
	buf, err := m.bank.Tone(freq, length)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTone, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.voices) >= m.maxVoices {
		return ErrTooManyVoices
	}
	if now := m.frames.Load(); startFrame < now {
		startFrame = now
	}
	m.voices = append(m.voices, voice{start: startFrame, buf: buf})
	return nil
}

// Pending is the number of tones not yet fully rendered.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Process renders interleaved stereo frames into dst and advances the clock.
func (m *Mixer) Process(dst []float32) {
	frames := len(dst) / 2
	for i := range dst {
		dst[i] = 0
	}
	gain := float32(m.Volume())

	m.mu.Lock()
	base := m.frames.Load()
	end := base + int64(frames)
	kept := m.voices[:0]
	for _, v := range m.voices {
		vEnd := v.start + int64(len(v.buf))
		if v.start < end {
			from := max(v.start, base)
			to := min(vEnd, end)
			for n := from; n < to; n++ {
				s := v.buf[n-v.start] * gain
				f := int(n - base)
				dst[f*2] += s
				dst[f*2+1] += s
			}
		}
		if vEnd > end {
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = voice{}
	}
	m.voices = kept
	for f := 0; f < frames; f++ {
		dst[f*2], dst[f*2+1] = m.limit.process(dst[f*2], dst[f*2+1])
	}
	m.frames.Store(end)
	m.mu.Unlock()
}

// Close rejects further tones. Tones already queued still render.
func (m *Mixer) Close() {
	m.closed.Store(true)
}
