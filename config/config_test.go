package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vusic.yml")
	data := "samplerate: 48000\nperiod: 1024\nlookahead: 10ms\nseed: 7\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SampleRate != 48000 || cfg.Period != 1024 || cfg.LookAhead != 10*time.Millisecond || cfg.Seed != 7 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.MaxVoices != Default().MaxVoices {
		t.Errorf("fields missing from the file should keep their defaults, got %d voices", cfg.MaxVoices)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vusic.yml")
	if err := os.WriteFile(path, []byte("period: 1024\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VUSIC_PERIOD", "2048")
	t.Setenv("VUSIC_LOOKAHEAD", "20ms")
	t.Setenv("VUSIC_CONTROL_RATE", "100")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Period != 2048 {
		t.Errorf("Period = %d, want the environment value 2048", cfg.Period)
	}
	if cfg.LookAhead != 20*time.Millisecond {
		t.Errorf("LookAhead = %v, want 20ms", cfg.LookAhead)
	}
	if cfg.ControlRate != 100 {
		t.Errorf("ControlRate = %v, want 100", cfg.ControlRate)
	}
}

func TestMalformedEnvironment(t *testing.T) {
	t.Setenv("VUSIC_SAMPLE_RATE", "fast")
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for a malformed VUSIC_SAMPLE_RATE")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"NegativeLookAhead", func(c *Config) { c.LookAhead = -time.Millisecond }},
		{"LookAheadOfAPeriod", func(c *Config) { c.LookAhead = c.PeriodDuration() }},
		{"ZeroPeriod", func(c *Config) { c.Period = 0 }},
		{"ZeroSampleRate", func(c *Config) { c.SampleRate = 0 }},
		{"ZeroControlRate", func(c *Config) { c.ControlRate = 0 }},
		{"NoVoices", func(c *Config) { c.MaxVoices = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
