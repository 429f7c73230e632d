package sequencer

import (
	"errors"
	"fmt"
	"math"
)

// Subdivisions is the length of one cycle: four bars cut finely enough
// (lcm of 12 and 16) to express sixteenths, eighths, quarters and eighth
// triplets as filters over the same counter.
const Subdivisions = 48

// subdivisionsPerBeat is 48 units over four bars of four beats.
const subdivisionsPerBeat = Subdivisions / 4

// MaxTempo is the fastest accepted tempo in BPM. At 1000 BPM a subdivision
// is 5 ms, still well above the audio clock's resolution.
const MaxTempo = 1000

var (
	ErrInvalidTempo      = errors.New("tempo must be above 0 and at most 1000 BPM")
	ErrInvalidResolution = errors.New("unrecognized resolution")
)

// State is everything the scheduler mutates between ticks. It is passed by
// value to Advance; the scheduler owns the single live copy.
type State struct {
	Tempo      float64 // beats per minute
	Resolution Resolution
	Index      int     // subdivision in [0, Subdivisions)
	NextDue    float64 // audio clock seconds
}

// NewState validates tempo and resolution and returns a state positioned at
// the start of the cycle.
func NewState(tempo float64, res Resolution) (State, error) {
	if err := ValidateTempo(tempo); err != nil {
		return State{}, err
	}
	if err := ValidateResolution(res); err != nil {
		return State{}, err
	}
	return State{Tempo: tempo, Resolution: res}, nil
}

// SubdivisionDuration is the length of one 48th of the cycle in seconds.
func SubdivisionDuration(tempo float64) float64 {
	return (60 / tempo) / subdivisionsPerBeat
}

// Advance moves s forward by one subdivision using the tempo held in s at
// the time of the call.
func Advance(s State) State {
	s.NextDue += SubdivisionDuration(s.Tempo)
	s.Index = ((s.Index+1)%Subdivisions + Subdivisions) % Subdivisions
	return s
}

// Reset rewinds s to the cycle start at now. Tempo and resolution survive.
func (s State) Reset(now float64) State {
	s.Index = 0
	s.NextDue = now
	return s
}

func ValidateTempo(bpm float64) error {
	if math.IsNaN(bpm) || bpm <= 0 || bpm > MaxTempo {
		return fmt.Errorf("%w: %v", ErrInvalidTempo, bpm)
	}
	return nil
}

func ValidateResolution(r Resolution) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidResolution, int(r))
	}
	return nil
}
