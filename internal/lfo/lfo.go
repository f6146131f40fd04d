package lfo

import "math"

// Shape selects the LFO waveform. Values are saved in patches.
type Shape int

const (
	ShapeSine Shape = iota
	ShapeSaw
	ShapeSquare
	ShapeTriangle
	ShapeRandom
)

// LFO is a per-voice low-frequency oscillator evaluated once per render block.
// Output holds the value for the current block in [-1, 1] scaled by depth.
type LFO struct {
	shape  Shape
	depth  float32
	phase  float64 // [0, 1)
	held   float32 // sample-and-hold value for ShapeRandom
	seed   uint32
	output float32
}

// Configure sets depth and waveform. Unknown shapes fall back to sine.
func (l *LFO) Configure(depth float32, shape Shape) {
	if shape < ShapeSine || shape > ShapeRandom {
		shape = ShapeSine
	}
	l.shape = shape
	l.depth = depth
}

// Attack restarts the oscillator for a new note. seed makes ShapeRandom
// reproducible per voice.
func (l *LFO) Attack(seed uint32) {
	l.phase = 0
	if seed == 0 {
		seed = 0x9e3779b9
	}
	l.seed = seed
	l.held = l.nextRandom()
	l.output = l.depth * l.wave()
}

// Process advances the oscillator by frames samples at rateHz and latches the
// new output. Negative rates are treated as zero.
func (l *LFO) Process(rateHz float64, frames int, sampleRate float64) float32 {
	if sampleRate <= 0 || rateHz <= 0 {
		return l.output
	}
	l.phase += rateHz * float64(frames) / sampleRate
	if l.phase >= 1 {
		l.phase -= math.Floor(l.phase)
		if l.shape == ShapeRandom {
			l.held = l.nextRandom()
		}
	}
	l.output = l.depth * l.wave()
	return l.output
}

// Output returns the value latched by the last Process or Attack.
func (l *LFO) Output() float32 { return l.output }

func (l *LFO) wave() float32 {
	p := l.phase
	switch l.shape {
	case ShapeSaw:
		return float32(1 - 2*p)
	case ShapeSquare:
		if p < 0.5 {
			return 1
		}
		return -1
	case ShapeTriangle:
		if p < 0.5 {
			return float32(4*p - 1)
		}
		return float32(3 - 4*p)
	case ShapeRandom:
		return l.held
	default:
		return float32(math.Sin(2 * math.Pi * p))
	}
}

// xorshift32; no allocation, safe on the render path.
func (l *LFO) nextRandom() float32 {
	x := l.seed
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	l.seed = x
	return float32(x)/float32(math.MaxUint32)*2 - 1
}
