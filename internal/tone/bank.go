// Package tone renders the short sine clicks the audio device mixes in.
package tone

import (
	"fmt"
	"sync"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/signal"
	"github.com/cwbudde/algo-dsp/dsp/window"
)

// taper is the Tukey alpha: the fraction of the tone spent fading in and out.
const taper = 0.1

type key struct {
	freq   float64
	frames int
}

// Bank caches mono tone buffers by pitch and length. A metronome only ever
// asks for a handful of distinct tones, so the cache is unbounded.
type Bank struct {
	mu         sync.Mutex
	gen        *signal.Generator
	sampleRate int
	amplitude  float64
	cache      map[key][]float32
}

func NewBank(sampleRate int, amplitude float64) *Bank {
	return &Bank{
		gen:        signal.NewGenerator(core.WithSampleRate(float64(sampleRate))),
		sampleRate: sampleRate,
		amplitude:  core.Clamp(amplitude, 0, 1),
		cache:      make(map[key][]float32),
	}
}

// Tone returns a tapered sine of freqHz lasting frames samples. The returned
// slice is shared; callers must not modify it.
func (b *Bank) Tone(freqHz float64, frames int) ([]float32, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("tone length must be positive, got %d frames", frames)
	}
	if freqHz <= 0 || freqHz >= float64(b.sampleRate)/2 {
		return nil, fmt.Errorf("tone frequency %v Hz outside (0, %d)", freqHz, b.sampleRate/2)
	}
	k := key{freq: freqHz, frames: frames}

	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.cache[k]; ok {
		return buf, nil
	}
	wave, err := b.gen.Sine(freqHz, b.amplitude, frames)
	if err != nil {
		return nil, err
	}
	env, err := window.Tukey(frames, taper)
	if err != nil {
		return nil, err
	}
	if err := window.ApplyCoefficientsInPlace(wave, env); err != nil {
		return nil, err
	}
	buf := make([]float32, frames)
	for i, v := range wave {
		buf[i] = float32(v)
	}
	b.cache[k] = buf
	return buf, nil
}
