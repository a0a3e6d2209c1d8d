// Package config holds the engine configuration: built-in defaults, an
// optional YAML file and VUSIC_* environment overrides, applied in that
// order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of a render engine.
type Config struct {
	SampleRate int `yaml:"samplerate"`
	Period     int `yaml:"period"` // frames rendered per period
	// LookAhead is how far past the end of the current period events are
	// derived, so that they reach the graph before they are due.
	LookAhead   time.Duration `yaml:"lookahead"`
	Budget      time.Duration `yaml:"budget,omitempty"` // 0 disables overrun warnings
	ControlRate float64       `yaml:"controlrate"`      // automation values per second on linear segments
	Crossfade   int           `yaml:"crossfade"`        // frames
	MaxVoices   int           `yaml:"maxvoices"`
	InboxSize   int           `yaml:"inbox"`
	Seed        uint64        `yaml:"seed,omitempty"`
}

var ErrInvalid = errors.New("invalid configuration")

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SampleRate:  44100,
		Period:      512,
		LookAhead:   5 * time.Millisecond,
		Budget:      2 * time.Millisecond,
		ControlRate: 400,
		Crossfade:   256,
		MaxVoices:   32,
		InboxSize:   1024,
	}
}

// Load returns the defaults overridden by the YAML file at path, if path is
// not empty, and then by the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("could not read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("could not parse config %v: %w", path, err)
		}
	}
	if err := cfg.FromEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// FromEnv applies the VUSIC_* environment variables that are set.
func (c *Config) FromEnv() error {
	var err error
	envInt("VUSIC_SAMPLE_RATE", &c.SampleRate, &err)
	envInt("VUSIC_PERIOD", &c.Period, &err)
	envDuration("VUSIC_LOOKAHEAD", &c.LookAhead, &err)
	envDuration("VUSIC_BUDGET", &c.Budget, &err)
	envFloat("VUSIC_CONTROL_RATE", &c.ControlRate, &err)
	envInt("VUSIC_CROSSFADE", &c.Crossfade, &err)
	envInt("VUSIC_MAX_VOICES", &c.MaxVoices, &err)
	if v := os.Getenv("VUSIC_SEED"); v != "" {
		n, e := strconv.ParseUint(v, 10, 64)
		if e != nil {
			err = errors.Join(err, fmt.Errorf("VUSIC_SEED: %w", e))
		} else {
			c.Seed = n
		}
	}
	return err
}

// PeriodDuration is the wall time covered by one period.
func (c Config) PeriodDuration() time.Duration {
	return time.Duration(float64(c.Period) / float64(c.SampleRate) * float64(time.Second))
}

// Validate checks the configuration. The look-ahead must be shorter than a
// period, otherwise a period could be asked for events it has not derived.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalid, c.SampleRate)
	case c.Period <= 0:
		return fmt.Errorf("%w: period %d", ErrInvalid, c.Period)
	case c.LookAhead < 0 || c.LookAhead >= c.PeriodDuration():
		return fmt.Errorf("%w: look-ahead %v must be in [0, %v)", ErrInvalid, c.LookAhead, c.PeriodDuration())
	case c.Budget < 0:
		return fmt.Errorf("%w: budget %v", ErrInvalid, c.Budget)
	case c.ControlRate <= 0:
		return fmt.Errorf("%w: control rate %v", ErrInvalid, c.ControlRate)
	case c.Crossfade <= 0 || c.MaxVoices <= 0 || c.InboxSize <= 0:
		return fmt.Errorf("%w: crossfade, voice and inbox sizes must be positive", ErrInvalid)
	}
	return nil
}

func envInt(key string, dst *int, err *error) {
	if v := os.Getenv(key); v != "" {
		n, e := strconv.Atoi(v)
		if e != nil {
			*err = errors.Join(*err, fmt.Errorf("%v: %w", key, e))
			return
		}
		*dst = n
	}
}

func envFloat(key string, dst *float64, err *error) {
	if v := os.Getenv(key); v != "" {
		f, e := strconv.ParseFloat(v, 64)
		if e != nil {
			*err = errors.Join(*err, fmt.Errorf("%v: %w", key, e))
			return
		}
		*dst = f
	}
}

func envDuration(key string, dst *time.Duration, err *error) {
	if v := os.Getenv(key); v != "" {
		d, e := time.ParseDuration(v)
		if e != nil {
			*err = errors.Join(*err, fmt.Errorf("%v: %w", key, e))
			return
		}
		*dst = d
	}
}
