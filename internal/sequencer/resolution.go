package sequencer

import (
	"fmt"
	"strings"
)

// Resolution selects which subdivisions of the cycle are audible.
type Resolution int

const (
	Sixteenth Resolution = iota
	Eighth
	Quarter
	EighthTriplet
)

// Resolutions lists every resolution in UI order.
var Resolutions = []Resolution{Sixteenth, Eighth, Quarter, EighthTriplet}

func (r Resolution) Valid() bool {
	return r >= Sixteenth && r <= EighthTriplet
}

// Step is the spacing between audible subdivisions, or 0 for an invalid value.
func (r Resolution) Step() int {
	switch r {
	case Sixteenth:
		return 3
	case Eighth:
		return 6
	case Quarter:
		return 12
	case EighthTriplet:
		return 4
	default:
		return 0
	}
}

func (r Resolution) String() string {
	switch r {
	case Sixteenth:
		return "sixteenth"
	case Eighth:
		return "eighth"
	case Quarter:
		return "quarter"
	case EighthTriplet:
		return "eighth-triplet"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// ParseResolution accepts the canonical names plus the short forms used on
// the command line (16th, 8th, 4th, triplet).
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sixteenth", "16th", "16":
		return Sixteenth, nil
	case "eighth", "8th", "8":
		return Eighth, nil
	case "quarter", "4th", "4":
		return Quarter, nil
	case "eighth-triplet", "8th-triplet", "triplet", "12":
		return EighthTriplet, nil
	default:
		return 0, fmt.Errorf("%w: %q (expected 16th|8th|4th|triplet)", ErrInvalidResolution, s)
	}
}

func (r Resolution) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ValidateResolution(r)
	}
	return []byte(r.String()), nil
}

func (r *Resolution) UnmarshalText(text []byte) error {
	v, err := ParseResolution(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// IsAudible reports whether subdivision index sounds at resolution r.
func IsAudible(index int, r Resolution) bool {
	step := r.Step()
	if step == 0 {
		return false
	}
	return index%step == 0
}

// PitchTier is the accent level of an audible subdivision.
type PitchTier int

const (
	Weak PitchTier = iota
	Strong
	Accent
)

// PitchTierOf returns Accent on the cycle start, Strong on the remaining
// quarter-note positions and Weak everywhere else.
func PitchTierOf(index int) PitchTier {
	switch {
	case index%Subdivisions == 0:
		return Accent
	case index%subdivisionsPerBeat == 0:
		return Strong
	default:
		return Weak
	}
}

// Frequency is the tone pitch in Hz for the tier.
func (t PitchTier) Frequency() float64 {
	switch t {
	case Accent:
		return 660
	case Strong:
		return 440
	default:
		return 220
	}
}

func (t PitchTier) String() string {
	switch t {
	case Accent:
		return "accent"
	case Strong:
		return "strong"
	default:
		return "weak"
	}
}
