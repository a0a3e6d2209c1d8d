package graph

import (
	"github.com/dawg/vusic"
	"github.com/viterin/vek/vek32"
)

type (
	// chain is the compiled signal path of one track: instrument, effects,
	// channel gain and pan. Its output is mixed into the master bus.
	chain struct {
		handle  ChainHandle
		track   vusic.TrackID
		version uint64
		doc     vusic.TrackState // the document state the chain was last synced to

		source  Source
		samples Source // plays sample starts; the source itself for sampler tracks
		effects []*effectSlot
		gain    float64
		pan     float64
		mute    bool
		faulted bool

		values  map[vusic.ParamRef]float64 // last applied values
		clamped map[vusic.ParamRef]bool    // parameters whose last write was clamped

		out    vusic.AudioBuffer
		planar [2][]float32
	}

	// effectSlot is one effect of a chain. While mix moves towards target
	// the output crossfades between the effect's input and its output, so
	// inserting or removing an effect never produces a step.
	effectSlot struct {
		id     vusic.EffectID
		unit   Unit
		mix    float32
		target float32
		step   float32
		dry    vusic.AudioBuffer
	}
)

func (s *effectSlot) live() bool { return s.target == 1 }

func (s *effectSlot) done() bool { return s.target == 0 && s.mix == 0 }

func (s *effectSlot) process(buf vusic.AudioBuffer) {
	if s.mix == s.target {
		if s.mix == 1 {
			s.unit.Process(buf)
		}
		return
	}
	s.dry = append(s.dry[:0], buf...)
	s.unit.Process(buf)
	for i := range buf {
		for c := range 2 {
			buf[i][c] = s.dry[i][c] + s.mix*(buf[i][c]-s.dry[i][c])
		}
		if s.mix < s.target {
			s.mix = min(s.mix+s.step, s.target)
		} else if s.mix > s.target {
			s.mix = max(s.mix-s.step, s.target)
		}
	}
}

func (c *chain) slot(id vusic.EffectID) *effectSlot {
	for _, s := range c.effects {
		if s.id == id && s.live() {
			return s
		}
	}
	return nil
}

// spec resolves the declared range of a parameter of the chain.
func (c *chain) spec(ref vusic.ParamRef) (vusic.ParamSpec, Unit, bool) {
	if ref.Effect == 0 {
		p, ok := vusic.FindParam(vusic.ChannelConstrains, ref.Param)
		return p, nil, ok
	}
	s := c.slot(ref.Effect)
	if s == nil {
		return vusic.ParamSpec{}, nil, false
	}
	p, ok := vusic.FindParam(s.unit.Schema(), ref.Param)
	return p, s.unit, ok
}

// render processes n frames and adds them to the master bus. It reports the
// kind of the unit that faulted, if any.
func (c *chain) render(master [2][]float32, n int) (fault string) {
	if cap(c.out) < n {
		c.out = make(vusic.AudioBuffer, n)
		c.planar = [2][]float32{make([]float32, n), make([]float32, n)}
	}
	out := c.out[:n]
	clear(out)
	if c.faulted {
		return ""
	}
	c.source.Process(out)
	if c.samples != c.source {
		c.samples.Process(out)
	}
	if !finiteBuffer(out) {
		return c.fault(c.source.Kind())
	}
	live := c.effects[:0]
	for _, s := range c.effects {
		s.process(out)
		if !finiteBuffer(out) {
			return c.fault(s.unit.Kind())
		}
		if !s.done() {
			live = append(live, s)
		}
	}
	clear(c.effects[len(live):])
	c.effects = live
	if c.mute {
		return ""
	}
	l, r := balance(c.pan)
	g := float32(c.gain)
	left, right := c.planar[0][:n], c.planar[1][:n]
	for i, f := range out {
		left[i], right[i] = f[0], f[1]
	}
	vek32.MulNumber_Inplace(left, g*l)
	vek32.MulNumber_Inplace(right, g*r)
	vek32.Add_Inplace(master[0][:n], left)
	vek32.Add_Inplace(master[1][:n], right)
	return ""
}

// fault silences the chain until it is rebuilt.
func (c *chain) fault(kind string) string {
	c.faulted = true
	c.source.Reset()
	c.samples.Reset()
	return kind
}

func (c *chain) voices() int {
	n := c.source.Voices()
	if c.samples != c.source {
		n += c.samples.Voices()
	}
	return n
}
