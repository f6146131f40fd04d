package engine

import (
	"log/slog"
	"math"

	"github.com/cbegin/sampler-go/internal/sample"
	"github.com/cbegin/sampler-go/internal/tuning"
)

const (
	// BlockSize is the internal render granularity in frames.
	BlockSize     = 16
	BlockSizeMask = BlockSize - 1

	DefaultSampleRate = 48000
)

// BlockSize must be a power of two so block positions wrap with a mask.
var _ = [1]struct{}{}[BlockSize&BlockSizeMask]

// Busses hold one block of output. Aux[i] backs plugin output i+1.
type Busses struct {
	Main [2][BlockSize]float32
	Aux  [NumAuxOutputs][2][BlockSize]float32
}

func (b *Busses) Clear() {
	b.Main = [2][BlockSize]float32{}
	b.Aux = [NumAuxOutputs][2][BlockSize]float32{}
}

// Output returns the bus for output index i; unknown indices fall back to Main.
func (b *Busses) Output(i int) *[2][BlockSize]float32 {
	if i >= 1 && i <= NumAuxOutputs {
		return &b.Aux[i-1]
	}
	return &b.Main
}

// Engine is the audio-owning state. While rendering runs it belongs to the
// render context; a suspended serial closure may own it instead. Nothing else
// touches it.
type Engine struct {
	Transport Transport

	patch        *Patch
	busses       Busses
	voices       *VoiceManager
	samples      *sample.Manager
	retuner      tuning.MidikeyRetuner
	selectedPart int

	sampleRate    float64
	sampleRateInv float64
	beatsPerBlock float64

	logger *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithSampleRate(sampleRate float64) Option {
	return func(e *Engine) {
		if sampleRate > 0 {
			e.sampleRate = sampleRate
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		Transport:  DefaultTransport(),
		patch:      NewPatch(),
		sampleRate: DefaultSampleRate,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.samples = sample.NewManager(e.logger)
	e.voices = newVoiceManager(e)
	e.PrepareToPlay(e.sampleRate)
	return e
}

// PrepareToPlay sets the render sample rate.
func (e *Engine) PrepareToPlay(sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	e.sampleRate = sampleRate
	e.sampleRateInv = 1 / sampleRate
	e.OnTransportUpdated()
	e.logger.Debug("engine prepared", "sampleRate", sampleRate, "blockSize", BlockSize)
}

func (e *Engine) SampleRate() float64             { return e.sampleRate }
func (e *Engine) Patch() *Patch                   { return e.patch }
func (e *Engine) Busses() *Busses                 { return &e.busses }
func (e *Engine) VoiceManager() *VoiceManager     { return e.voices }
func (e *Engine) SampleManager() *sample.Manager  { return e.samples }
func (e *Engine) Retuner() *tuning.MidikeyRetuner { return &e.retuner }
func (e *Engine) Logger() *slog.Logger            { return e.logger }

// SelectedPart is the part that receives notes played from the GUI.
func (e *Engine) SelectedPart() int { return e.selectedPart }

// SelectPart changes the selected part; out of range values are ignored.
func (e *Engine) SelectPart(i int) bool {
	if i < 0 || i >= NumParts {
		return false
	}
	e.selectedPart = i
	return true
}

// OnTransportUpdated recomputes tempo-derived values after the transport
// changed. The host's tempo and meter are kept as given; a tempo that is not
// positive freezes TimeInBeats.
func (e *Engine) OnTransportUpdated() {
	tempo := e.Transport.Tempo
	if !(tempo > 0) || math.IsInf(tempo, 0) {
		tempo = 0
	}
	e.beatsPerBlock = BlockSize * tempo * e.sampleRateInv / 60
}

// ProcessAudio renders one block into the busses and advances the transport.
func (e *Engine) ProcessAudio() {
	e.busses.Clear()
	e.voices.render(e.patch, &e.busses, e.sampleRate)
	e.Transport.TimeInBeats += e.beatsPerBlock
}

// ImmediatelyTerminateAllVoices stops all sound without release tails.
func (e *Engine) ImmediatelyTerminateAllVoices() {
	e.voices.TerminateAll()
	e.busses.Clear()
}

// ReplacePatch installs p. Voices referencing the old patch must already be
// terminated.
func (e *Engine) ReplacePatch(p *Patch) {
	if p == nil {
		p = NewPatch()
	}
	e.patch = p
}

// PurgeUnreferencedSamples drops samples no part uses.
func (e *Engine) PurgeUnreferencedSamples() int {
	return e.samples.Purge(e.patch.References)
}

// Clear resets the patch and sample table to empty.
func (e *Engine) Clear() {
	e.ImmediatelyTerminateAllVoices()
	e.patch = NewPatch()
	e.samples.Purge(func(sample.ID) bool { return false })
	e.selectedPart = 0
}
