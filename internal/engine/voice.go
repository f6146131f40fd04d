package engine

import (
	"math"

	"github.com/cbegin/sampler-go/internal/lfo"
	"github.com/cbegin/sampler-go/internal/modulation"
	"github.com/cbegin/sampler-go/internal/sample"
)

type onePole struct {
	l, r float32
}

// Voice plays one sample variant of one zone. Voices live in the fixed
// VoiceManager pool and are reused; every start bumps the signal generation
// and reattaches the matrix.
type Voice struct {
	active    bool
	releasing bool

	port, channel, key, noteID int
	part                       int
	started                    uint64

	zone     *Zone
	smp      *sample.Sample
	gain     float32
	velocity float32
	retune   float32

	pos        float64
	env        float32
	attackInc  float32
	releaseDec float32

	lfos    [3]lfo.LFO
	filters [2]onePole
	signals modulation.SignalTable
	matrix  modulation.Matrix
}

// Signals implements modulation.SignalSource.
func (v *Voice) Signals() *modulation.SignalTable { return &v.signals }

// Active reports whether the voice is sounding.
func (v *Voice) Active() bool { return v.active }

func (v *Voice) Key() int    { return v.key }
func (v *Voice) NoteID() int { return v.noteID }

// Matrix exposes the voice's modulation matrix.
func (v *Voice) Matrix() *modulation.Matrix { return &v.matrix }

func (v *Voice) start(z *Zone, smp *sample.Sample, variantGain float32, sampleRate float64) {
	v.active = true
	v.releasing = false
	v.zone = z
	v.smp = smp
	v.gain = variantGain
	v.pos = 0
	v.filters = [2]onePole{}

	v.attackInc = 1
	if a := float64(z.AEG.Attack) * sampleRate; a > 1 {
		v.attackInc = float32(1 / a)
		v.env = 0
	} else {
		v.env = 1
	}
	v.releaseDec = 1
	if r := float64(z.AEG.Release) * sampleRate; r > 1 {
		v.releaseDec = float32(1 / r)
	}

	v.signals.Generation++
	v.signals.Values = [modulation.NumSources]float32{}
	for i := range v.lfos {
		v.lfos[i].Configure(z.LFOs[i].Depth, z.LFOs[i].Shape)
		v.lfos[i].Attack(uint32(v.started)*2654435761 + uint32(i))
		v.signals.Values[modulation.SourceLFO1+modulation.Source(i)] = v.lfos[i].Output()
	}
	v.signals.Values[modulation.SourceVelocity] = v.velocity
	v.signals.Values[modulation.SourceKeytrack] = float32(v.key-z.Mapping.RootKey) / 12

	v.matrix.Clear()
	v.matrix.SnapRoutingFromZone(z)
	v.matrix.CopyBaseValuesFromZone(z)
	v.matrix.AttachSourcesFromVoice(v)
	v.matrix.Process()
}

func (v *Voice) release() {
	if v.active {
		v.releasing = true
	}
}

func (v *Voice) terminate() {
	v.active = false
	v.releasing = false
	v.zone = nil
	v.smp = nil
	v.signals.Generation++
}

func clamp01(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func poleCoefficient(cutoff float32, sampleRate float64) float32 {
	if cutoff <= 0 {
		return 0
	}
	if float64(cutoff) >= sampleRate/2 {
		return 1
	}
	return float32(1 - math.Exp(-2*math.Pi*float64(cutoff)/sampleRate))
}

// render adds one block of the voice into out.
func (v *Voice) render(out *[2][BlockSize]float32, sampleRate float64, bend float32) {
	if !v.active {
		return
	}
	v.matrix.Process()
	for i := range v.lfos {
		rate := float64(v.matrix.Value(modulation.DestLFO1Rate + modulation.Destination(i)))
		v.signals.Values[modulation.SourceLFO1+modulation.Source(i)] = v.lfos[i].Process(rate, BlockSize, sampleRate)
	}

	z := v.zone
	semis := float64(v.key-z.Mapping.RootKey) + float64(v.retune) + float64(bend) + float64(v.matrix.Value(modulation.DestPitch))
	step := v.smp.SampleRate / sampleRate * math.Exp2(semis/12)
	amp := v.matrix.Value(modulation.DestAmplitude) * v.gain * v.velocity
	if amp < 0 {
		amp = 0
	}
	mix1 := clamp01(v.matrix.Value(modulation.DestFilter1Mix))
	mix2 := clamp01(v.matrix.Value(modulation.DestFilter2Mix))
	a1 := poleCoefficient(z.Filters[0].Cutoff, sampleRate)
	a2 := poleCoefficient(z.Filters[1].Cutoff, sampleRate)
	f1, f2 := &v.filters[0], &v.filters[1]

	for s := 0; s < BlockSize; s++ {
		if v.pos >= float64(v.smp.Frames) {
			v.terminate()
			return
		}
		i := int(v.pos)
		frac := float32(v.pos - float64(i))
		l0, r0 := v.smp.Frame(i)
		l1, r1 := v.smp.Frame(i + 1)
		l := l0 + (l1-l0)*frac
		r := r0 + (r1-r0)*frac

		f1.l += a1 * (l - f1.l)
		f1.r += a1 * (r - f1.r)
		l += mix1 * (f1.l - l)
		r += mix1 * (f1.r - r)
		f2.l += a2 * (l - f2.l)
		f2.r += a2 * (r - f2.r)
		l += mix2 * (f2.l - l)
		r += mix2 * (f2.r - r)

		if v.releasing {
			v.env -= v.releaseDec
			if v.env <= 0 {
				v.terminate()
				return
			}
		} else if v.env < 1 {
			v.env += v.attackInc
			if v.env > 1 {
				v.env = 1
			}
		}

		g := amp * v.env
		out[0][s] += l * g
		out[1][s] += r * g
		v.pos += step
	}
}
