// Package audio is the output device: a sample-accurate tone mixer whose
// frame counter doubles as the audio clock, streamed through ebiten.
package audio

import (
	"github.com/cbegin/clicktrack/internal/tone"
)

// DefaultAmplitude is the peak level of a single click.
const DefaultAmplitude = 0.6

// Device plays scheduled tones on the system audio output.
type Device struct {
	*Mixer
	player *Player
}

// Open starts streaming silence immediately so the clock begins advancing.
func Open(sampleRate int) (*Device, error) {
	mixer := NewMixer(sampleRate, tone.NewBank(sampleRate, DefaultAmplitude))
	pl, err := NewPlayer(sampleRate, mixer)
	if err != nil {
		return nil, err
	}
	pl.Play()
	return &Device{Mixer: mixer, player: pl}, nil
}

// Close stops the stream. Safe to call more than once.
func (d *Device) Close() error {
	if d.Mixer.closed.Swap(true) {
		return nil
	}
	return d.player.Stop()
}
