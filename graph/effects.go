package graph

import (
	"math"

	"github.com/dawg/vusic"
)

type (
	gainUnit struct {
		unitBase
		gain float32
	}

	panUnit struct {
		unitBase
		l, r float32
	}

	distortUnit struct {
		unitBase
		amount, mix float32
	}

	crushUnit struct {
		unitBase
		step, mix float32
	}

	// filterUnit is a state variable filter; mode selects the lowpass,
	// bandpass or highpass output.
	filterUnit struct {
		unitBase
		sr        float64
		f, q      float64
		mode      int
		low, band [2]float64
	}

	delayUnit struct {
		unitBase
		sr            float64
		line          vusic.AudioBuffer
		pos, length   int
		feedback, mix float32
	}

	compressorUnit struct {
		unitBase
		sr               float64
		threshold, ratio float64
		attack, release  float64 // smoothing coefficients per frame
		makeup           float64
		level            float64
	}
)

func (u *gainUnit) SetParameter(name string, v float64) {
	if name == "gain" {
		u.gain = float32(v)
	}
}

func (u *gainUnit) Process(buf vusic.AudioBuffer) {
	for i := range buf {
		buf[i][0] *= u.gain
		buf[i][1] *= u.gain
	}
}

func (u *gainUnit) Reset() {}

func (u *panUnit) SetParameter(name string, v float64) {
	if name == "pan" {
		u.l, u.r = balance(v)
	}
}

func (u *panUnit) Process(buf vusic.AudioBuffer) {
	for i := range buf {
		buf[i][0] *= u.l
		buf[i][1] *= u.r
	}
}

func (u *panUnit) Reset() {}

func (u *distortUnit) SetParameter(name string, v float64) {
	switch name {
	case "drive":
		u.amount = float32(0.5 + 0.49*v)
	case "mix":
		u.mix = float32(v)
	}
}

func (u *distortUnit) Process(buf vusic.AudioBuffer) {
	for i := range buf {
		for c := range 2 {
			x := buf[i][c]
			buf[i][c] = x + u.mix*(waveshape(x, u.amount)-x)
		}
	}
}

func (u *distortUnit) Reset() {}

func (u *crushUnit) SetParameter(name string, v float64) {
	switch name {
	case "bits":
		u.step = float32(2 / math.Exp2(math.Round(v)))
	case "mix":
		u.mix = float32(v)
	}
}

func (u *crushUnit) Process(buf vusic.AudioBuffer) {
	for i := range buf {
		for c := range 2 {
			x := buf[i][c]
			q := float32(math.Round(float64(x/u.step))) * u.step
			buf[i][c] = x + u.mix*(q-x)
		}
	}
}

func (u *crushUnit) Reset() {}

func (u *filterUnit) SetParameter(name string, v float64) {
	switch name {
	case "frequency":
		// the filter is only stable up to about a sixth of the sample rate
		fc := min(v, u.sr/6)
		u.f = 2 * math.Sin(math.Pi*fc/u.sr)
	case "resonance":
		u.q = 1 / v
	case "mode":
		u.mode = int(math.Round(v))
	}
}

func (u *filterUnit) Process(buf vusic.AudioBuffer) {
	for i := range buf {
		for c := range 2 {
			low, band := u.low[c], u.band[c]
			low += u.f * band
			high := float64(buf[i][c]) - low - u.q*band
			band += u.f * high
			u.low[c], u.band[c] = low, band
			var out float64
			switch u.mode {
			case 0:
				out = low
			case 1:
				out = band
			default:
				out = high
			}
			buf[i][c] = float32(out)
		}
	}
}

func (u *filterUnit) Reset() { u.low, u.band = [2]float64{}, [2]float64{} }

func (u *delayUnit) SetParameter(name string, v float64) {
	switch name {
	case "time":
		u.length = min(max(int(math.Round(v*u.sr)), 1), len(u.line)-1)
	case "feedback":
		u.feedback = float32(v)
	case "mix":
		u.mix = float32(v)
	}
}

func (u *delayUnit) Process(buf vusic.AudioBuffer) {
	n := len(u.line)
	for i := range buf {
		read := u.pos - u.length
		if read < 0 {
			read += n
		}
		d := u.line[read]
		for c := range 2 {
			x := buf[i][c]
			u.line[u.pos][c] = x + d[c]*u.feedback
			buf[i][c] = x + u.mix*(d[c]-x)
		}
		u.pos++
		if u.pos == n {
			u.pos = 0
		}
	}
}

func (u *delayUnit) Reset() {
	clear(u.line)
	u.pos = 0
}

func (u *compressorUnit) SetParameter(name string, v float64) {
	switch name {
	case "threshold":
		u.threshold = v
	case "ratio":
		u.ratio = v
	case "attack":
		u.attack = 1 - math.Exp(-1/(v*u.sr))
	case "release":
		u.release = 1 - math.Exp(-1/(v*u.sr))
	case "makeup":
		u.makeup = v
	}
}

func (u *compressorUnit) Process(buf vusic.AudioBuffer) {
	for i := range buf {
		l, r := float64(buf[i][0]), float64(buf[i][1])
		power := (l*l + r*r) / 2
		alpha := u.attack
		if power < u.level {
			alpha = u.release
		}
		u.level += (power - u.level) * alpha
		gainDB := u.makeup
		if over := 10*math.Log10(u.level+1e-12) - u.threshold; over > 0 {
			gainDB -= over * (1 - 1/u.ratio)
		}
		g := float32(vusic.DBToGain(gainDB))
		buf[i][0] *= g
		buf[i][1] *= g
	}
}

func (u *compressorUnit) Reset() { u.level = 0 }

// waveshape bends the signal harder the closer amount is to 1; an amount of
// 0.5 leaves it unchanged.
func waveshape(x, amount float32) float32 {
	a := x
	if a < 0 {
		a = -a
	}
	return x * amount / (1 - amount + (2*amount-1)*a)
}
