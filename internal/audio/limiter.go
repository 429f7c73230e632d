package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// limiter is a stereo-linked peak limiter on the master bus. It only acts
// when the summed output crosses the threshold, e.g. with volume above 1.
type limiter struct {
	threshold float32
	attack    float32 // coefficient
	release   float32 // coefficient
	env       float32
}

func newLimiter(sampleRate int, thresholdDB, attackMs, releaseMs float64) *limiter {
	sr := float64(sampleRate)
	return &limiter{
		threshold: float32(math.Pow(10, thresholdDB/20)),
		attack:    float32(1.0 - math.Exp(-1.0/(attackMs*sr/1000.0))),
		release:   float32(1.0 - math.Exp(-1.0/(releaseMs*sr/1000.0))),
	}
}

func (l *limiter) process(left, right float32) (float32, float32) {
	peak := max(abs32(left), abs32(right))
	if peak > l.env {
		l.env += l.attack * (peak - l.env)
	} else {
		l.env += l.release * (peak - l.env)
	}
	gain := float32(1)
	if l.env > l.threshold {
		gain = l.threshold / l.env
	}
	// The envelope lags transients; hard-clip what gets through.
	return clip(left * gain), clip(right * gain)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func clip(v float32) float32 {
	return float32(core.Clamp(float64(v), -1, 1))
}
