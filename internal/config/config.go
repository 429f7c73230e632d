// Package config persists user preferences between sessions. Sequences are
// never stored; only how the metronome was last set up.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cbegin/clicktrack/internal/sequencer"
)

// Config is the on-disk preference file.
type Config struct {
	Tempo        float64              `json:"tempo"`
	Resolution   sequencer.Resolution `json:"resolution"`
	LookaheadMs  int                  `json:"lookaheadMs"`
	IntervalMs   int                  `json:"intervalMs"`
	NoteLengthMs int                  `json:"noteLengthMs"`
	SampleRate   int                  `json:"sampleRate"`
	Volume       float64              `json:"volume"`
	MIDI         MIDIConfig           `json:"midi,omitempty"`
}

// MIDIConfig selects an external MIDI output instead of the audio device.
type MIDIConfig struct {
	Port    string `json:"port,omitempty"`
	Channel int    `json:"channel,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Tempo:        60,
		Resolution:   sequencer.Sixteenth,
		LookaheadMs:  100,
		IntervalMs:   25,
		NoteLengthMs: 50,
		SampleRate:   48000,
		Volume:       1,
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "clicktrack"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from the default path, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path. Fields missing from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects values the engine would refuse.
func (c *Config) Validate() error {
	if err := sequencer.ValidateTempo(c.Tempo); err != nil {
		return err
	}
	if err := sequencer.ValidateResolution(c.Resolution); err != nil {
		return err
	}
	if c.IntervalMs <= 0 {
		return fmt.Errorf("intervalMs must be positive, got %d", c.IntervalMs)
	}
	if c.LookaheadMs <= c.IntervalMs {
		return fmt.Errorf("lookaheadMs (%d) must exceed intervalMs (%d)", c.LookaheadMs, c.IntervalMs)
	}
	if c.NoteLengthMs <= 0 {
		return fmt.Errorf("noteLengthMs must be positive, got %d", c.NoteLengthMs)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sampleRate must be positive, got %d", c.SampleRate)
	}
	if c.MIDI.Channel < 0 || c.MIDI.Channel > 15 {
		return fmt.Errorf("midi channel must be 0-15, got %d", c.MIDI.Channel)
	}
	return nil
}
