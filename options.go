package clicktrack

import (
	"time"

	intcfg "github.com/cbegin/clicktrack/internal/config"
)

// ConfigOptions maps stored preferences onto engine options. Later options
// passed to New override these.
func ConfigOptions(cfg *intcfg.Config) []Option {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return []Option{
		WithSampleRate(cfg.SampleRate),
		WithTempo(cfg.Tempo),
		WithResolution(cfg.Resolution),
		WithLookahead(ms(cfg.LookaheadMs)),
		WithTickInterval(ms(cfg.IntervalMs)),
		WithNoteLength(ms(cfg.NoteLengthMs)),
		WithVolume(cfg.Volume),
	}
}

// RenderSettingsFromConfig is the offline equivalent of ConfigOptions.
func RenderSettingsFromConfig(cfg *intcfg.Config) RenderSettings {
	return RenderSettings{
		Tempo:        cfg.Tempo,
		Resolution:   cfg.Resolution,
		SampleRate:   cfg.SampleRate,
		TickInterval: time.Duration(cfg.IntervalMs) * time.Millisecond,
		Lookahead:    time.Duration(cfg.LookaheadMs) * time.Millisecond,
		NoteLength:   time.Duration(cfg.NoteLengthMs) * time.Millisecond,
		Volume:       cfg.Volume,
	}
}
