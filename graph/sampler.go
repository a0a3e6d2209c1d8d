package graph

import (
	"github.com/dawg/vusic"
	"github.com/dawg/vusic/scheduler"
)

// fadeSeconds is how long a released sample takes to fade out.
const fadeSeconds = 0.005

type (
	// sampler plays sample starts. Notes are ignored.
	sampler struct {
		unitBase
		sr        float64
		maxVoices int
		gain      float64
		voices    []samplerVoice
	}

	samplerVoice struct {
		id     scheduler.Voice
		sample *vusic.Sample
		pos    float64 // frame position in the sample data
		step   float64
		end    float64
		gain   float64
		fade   float64
		fall   float64
	}
)

func (s *sampler) SetParameter(name string, v float64) {
	if name == "gain" {
		s.gain = v
	}
}

func (s *sampler) Start(e scheduler.Event) {
	smp := e.Sample
	if smp == nil || smp.Data == nil || smp.Data.SampleRate <= 0 {
		return
	}
	if len(s.voices) >= s.maxVoices {
		s.voices = append(s.voices[:0], s.voices[1:]...)
	}
	rate := float64(smp.Data.SampleRate)
	begin := float64(smp.TrimStart + e.Offset)
	s.voices = append(s.voices, samplerVoice{
		id:     e.Voice,
		sample: smp,
		pos:    begin * rate,
		step:   rate / s.sr,
		end:    float64(smp.TrimStart+smp.Duration()) * rate,
		gain:   smp.Gain,
		fade:   1,
	})
}

func (s *sampler) Release(v scheduler.Voice) {
	for i := range s.voices {
		if s.voices[i].id == v {
			s.voices[i].fall = 1 / (fadeSeconds * s.sr)
		}
	}
}

func (s *sampler) ReleaseEntity(h scheduler.Handle) {
	for i := range s.voices {
		if h == 0 || s.voices[i].id.Entity == h {
			s.voices[i].fall = 1 / (fadeSeconds * s.sr)
		}
	}
}

func (s *sampler) Voices() int { return len(s.voices) }

func (s *sampler) Reset() { s.voices = s.voices[:0] }

func (s *sampler) Process(buf vusic.AudioBuffer) {
	n := 0
	for i := range s.voices {
		v := &s.voices[i]
		d := v.sample.Data
		for j := range buf {
			if v.pos >= v.end || v.fade <= 0 {
				break
			}
			k := int(v.pos)
			frac := float32(v.pos - float64(k))
			a, b := d.Frame(k), d.Frame(k+1)
			g := float32(v.gain * v.fade * s.gain)
			buf[j][0] += (a[0] + (b[0]-a[0])*frac) * g
			buf[j][1] += (a[1] + (b[1]-a[1])*frac) * g
			v.pos += v.step
			v.fade -= v.fall
		}
		if v.pos < v.end && v.fade > 0 {
			s.voices[n] = *v
			n++
		}
	}
	s.voices = s.voices[:n]
}
