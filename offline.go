package clicktrack

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	intaudio "github.com/cbegin/clicktrack/internal/audio"
	intq "github.com/cbegin/clicktrack/internal/notequeue"
	intsched "github.com/cbegin/clicktrack/internal/scheduler"
	intseq "github.com/cbegin/clicktrack/internal/sequencer"
	inttone "github.com/cbegin/clicktrack/internal/tone"
)

// RenderSettings describes an offline click track. Zero durations and
// volume select the engine defaults.
type RenderSettings struct {
	Tempo        float64
	Resolution   Resolution
	SampleRate   int
	TickInterval time.Duration
	Lookahead    time.Duration
	NoteLength   time.Duration
	Volume       float64
}

func (s RenderSettings) withDefaults() RenderSettings {
	def := defaultEngineConfig()
	if s.SampleRate == 0 {
		s.SampleRate = def.sampleRate
	}
	if s.TickInterval == 0 {
		s.TickInterval = def.interval
	}
	if s.Lookahead == 0 {
		s.Lookahead = def.lookahead
	}
	if s.NoteLength == 0 {
		s.NoteLength = def.noteLength
	}
	if s.Volume == 0 {
		s.Volume = def.volume
	}
	return s
}

func (s RenderSettings) engineConfig() engineConfig {
	return engineConfig{
		sampleRate: s.SampleRate,
		tempo:      s.Tempo,
		resolution: s.Resolution,
		lookahead:  s.Lookahead,
		interval:   s.TickInterval,
		noteLength: s.NoteLength,
		volume:     s.Volume,
	}
}

// RenderClickTrack runs the live scheduling loop against a mixer whose
// clock advances one tick interval per pass, and returns interleaved
// stereo samples. The output matches what the engine would play.
func RenderClickTrack(settings RenderSettings, seconds float64) ([]float32, error) {
	s := settings.withDefaults()
	if err := s.engineConfig().validate(); err != nil {
		return nil, err
	}
	if seconds < 0 || math.IsNaN(seconds) {
		return nil, errors.New("seconds must be non-negative")
	}
	state, err := intseq.NewState(s.Tempo, s.Resolution)
	if err != nil {
		return nil, err
	}
	mixer := intaudio.NewMixer(s.SampleRate, inttone.NewBank(s.SampleRate, intaudio.DefaultAmplitude))
	mixer.SetVolume(s.Volume)
	queue := intq.New()
	sched, err := intsched.New(state, mixer, mixer, queue, intsched.Options{
		Lookahead:  s.Lookahead.Seconds(),
		NoteLength: s.NoteLength.Seconds(),
	})
	if err != nil {
		return nil, err
	}

	frames := int(float64(s.SampleRate) * seconds)
	block := max(1, int(s.TickInterval.Seconds()*float64(s.SampleRate)))
	out := make([]float32, frames*2)
	sched.Start()
	for pos := 0; pos < frames; {
		n := min(block, frames-pos)
		mixer.Process(out[pos*2 : (pos+n)*2])
		pos += n
		// Nothing paints offline; keep the queue from growing.
		for {
			if _, ok := queue.PeekDue(mixer.Now()); !ok {
				break
			}
		}
		sched.Tick()
	}
	sched.Stop()
	return out, nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	out := make([]byte, 44+dataSize)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3) // IEEE float
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(v))
	}
	return out
}
