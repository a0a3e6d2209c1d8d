package graph

import (
	"math"
	"math/rand/v2"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/scheduler"
)

const (
	envAttack = iota
	envDecay
	envSustain
	envRelease
	envDone
)

type (
	// synth is a polyphonic oscillator with a linear ADSR envelope per
	// voice. The noise waveform draws from a generator seeded at
	// construction, so renders are reproducible.
	synth struct {
		unitBase
		sr        float64
		maxVoices int
		waveform  int
		detune    float64 // cents
		attack    float64 // seconds
		decay     float64
		sustain   float64
		release   float64
		gain      float64
		voices    []synthVoice
		rng       *rand.Rand
	}

	synthVoice struct {
		id       scheduler.Voice
		phase    float64
		pitch    float64
		velocity float64
		stage    int
		level    float64
		fall     float64 // level decrement per frame while releasing
	}
)

func newSynth(base unitBase, sr float64, maxVoices int, seed uint64) *synth {
	return &synth{unitBase: base, sr: sr, maxVoices: maxVoices, rng: rand.New(rand.NewPCG(seed, 0x5eed))}
}

func (s *synth) SetParameter(name string, v float64) {
	switch name {
	case "waveform":
		s.waveform = int(math.Round(v))
	case "detune":
		s.detune = v
	case "attack":
		s.attack = v
	case "decay":
		s.decay = v
	case "sustain":
		s.sustain = v
	case "release":
		s.release = v
	case "gain":
		s.gain = v
	}
}

func (s *synth) Start(e scheduler.Event) {
	if e.Sample != nil {
		return
	}
	if len(s.voices) >= s.maxVoices {
		// steal the oldest voice
		s.voices = append(s.voices[:0], s.voices[1:]...)
	}
	s.voices = append(s.voices, synthVoice{id: e.Voice, pitch: e.Pitch, velocity: e.Velocity})
}

func (s *synth) Release(v scheduler.Voice) {
	for i := range s.voices {
		if s.voices[i].id == v {
			s.releaseVoice(&s.voices[i])
		}
	}
}

func (s *synth) ReleaseEntity(h scheduler.Handle) {
	for i := range s.voices {
		v := &s.voices[i]
		if h != 0 && v.id.Entity != h {
			continue
		}
		v.stage = envRelease
		v.fall = max(v.fall, v.level/(fadeSeconds*s.sr))
	}
}

func (s *synth) releaseVoice(v *synthVoice) {
	if v.stage >= envRelease {
		return
	}
	v.stage = envRelease
	v.fall = v.level / (s.release * s.sr)
}

func (s *synth) Voices() int { return len(s.voices) }

func (s *synth) Reset() { s.voices = s.voices[:0] }

func (s *synth) Process(buf vusic.AudioBuffer) {
	rise := 1 / (s.attack * s.sr)
	drop := (1 - s.sustain) / (s.decay * s.sr)
	n := 0
	for i := range s.voices {
		v := &s.voices[i]
		omega := vusic.Mtof(v.pitch+s.detune/100) / s.sr
		amp := v.velocity * s.gain
		for j := range buf {
			switch v.stage {
			case envAttack:
				if v.level += rise; v.level >= 1 {
					v.level, v.stage = 1, envDecay
				}
			case envDecay:
				if v.level -= drop; v.level <= s.sustain {
					v.level, v.stage = s.sustain, envSustain
				}
			case envRelease:
				if v.level -= v.fall; v.level <= 0 {
					v.level, v.stage = 0, envDone
				}
			}
			if v.stage == envDone {
				break
			}
			out := float32(s.oscillate(v.phase) * v.level * amp)
			buf[j][0] += out
			buf[j][1] += out
			if v.phase += omega; v.phase >= 1 {
				v.phase -= math.Floor(v.phase)
			}
		}
		if v.stage != envDone {
			s.voices[n] = *v
			n++
		}
	}
	s.voices = s.voices[:n]
}

func (s *synth) oscillate(phase float64) float64 {
	switch s.waveform {
	case vusic.Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case vusic.Saw:
		return 2*phase - 1
	case vusic.Noise:
		return s.rng.Float64()*2 - 1
	}
	return math.Sin(2 * math.Pi * phase)
}
