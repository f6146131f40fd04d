package engine

import (
	"slices"

	"github.com/cbegin/sampler-go/internal/lfo"
	"github.com/cbegin/sampler-go/internal/modulation"
	"github.com/cbegin/sampler-go/internal/sample"
)

const (
	NumParts      = 16
	NumAuxOutputs = 15
	// OmniChannel makes a part respond to every MIDI channel.
	OmniChannel = -1
	// MainOutput routes a part to the main stereo bus; 1..NumAuxOutputs pick an aux bus.
	MainOutput = 0
)

// KeyboardMapping selects the keys and velocities a zone answers.
type KeyboardMapping struct {
	RootKey       int
	KeyStart      int
	KeyEnd        int
	VelocityStart int
	VelocityEnd   int
}

// Envelope is a linear attack/release amplitude envelope, in seconds.
type Envelope struct {
	Attack  float32
	Release float32
}

type LFOConfig struct {
	Rate  float32 // Hz
	Depth float32
	Shape lfo.Shape
}

type FilterConfig struct {
	Cutoff float32 // Hz
	Mix    float32 // 0 dry .. 1 filtered
}

// Variant is one sample a zone can play.
type Variant struct {
	SampleID sample.ID
	Gain     float32
}

// Zone is the smallest playable unit: a key/velocity range bound to samples.
type Zone struct {
	Name     string
	Mapping  KeyboardMapping
	Gain     float32
	AEG      Envelope
	LFOs     [3]LFOConfig
	Filters  [2]FilterConfig
	Routing  modulation.RoutingTable
	Variants []Variant

	nextVariant int
}

// NewZone returns a full-range zone with unity gain and open filters.
func NewZone(name string) *Zone {
	z := &Zone{
		Name:    name,
		Mapping: KeyboardMapping{RootKey: 60, KeyStart: 0, KeyEnd: 127, VelocityStart: 0, VelocityEnd: 127},
		Gain:    1,
		AEG:     Envelope{Attack: 0.002, Release: 0.1},
	}
	for i := range z.LFOs {
		z.LFOs[i] = LFOConfig{Rate: 1, Depth: 1, Shape: lfo.ShapeSine}
	}
	for i := range z.Filters {
		z.Filters[i] = FilterConfig{Cutoff: 20000}
	}
	return z
}

// RoutingTable implements modulation.RoutingSource.
func (z *Zone) RoutingTable() *modulation.RoutingTable { return &z.Routing }

// BaseValue implements modulation.BaseValueSource.
func (z *Zone) BaseValue(d modulation.Destination) float32 {
	switch d {
	case modulation.DestLFO1Rate, modulation.DestLFO2Rate, modulation.DestLFO3Rate:
		return z.LFOs[d-modulation.DestLFO1Rate].Rate
	case modulation.DestFilter1Mix:
		return z.Filters[0].Mix
	case modulation.DestFilter2Mix:
		return z.Filters[1].Mix
	case modulation.DestAmplitude:
		return z.Gain
	default:
		return 0
	}
}

// Matches reports whether key and MIDI velocity fall inside the zone.
func (z *Zone) Matches(key, velocity int) bool {
	m := z.Mapping
	return key >= m.KeyStart && key <= m.KeyEnd && velocity >= m.VelocityStart && velocity <= m.VelocityEnd
}

// pickVariant cycles through the variants round robin.
func (z *Zone) pickVariant() (Variant, bool) {
	if len(z.Variants) == 0 {
		return Variant{}, false
	}
	if z.nextVariant >= len(z.Variants) {
		z.nextVariant = 0
	}
	v := z.Variants[z.nextVariant]
	z.nextVariant++
	return v, true
}

type Group struct {
	Name  string
	Zones []*Zone
}

// PartConfiguration holds the MIDI channel and output bus of a part.
type PartConfiguration struct {
	Channel int
	Output  int
}

type Part struct {
	Configuration PartConfiguration
	Groups        []*Group
}

// NewPart returns an empty part listening on channel.
func NewPart(channel int) *Part {
	return &Part{Configuration: PartConfiguration{Channel: channel, Output: MainOutput}}
}

// RespondsTo reports whether the part plays notes arriving on channel.
func (p *Part) RespondsTo(channel int) bool {
	return p.Configuration.Channel == OmniChannel || p.Configuration.Channel == channel
}

// Empty reports whether the part has no zones.
func (p *Part) Empty() bool {
	for _, g := range p.Groups {
		if len(g.Zones) > 0 {
			return false
		}
	}
	return true
}

// SamplesUsed returns the distinct sample IDs referenced by the part, sorted.
func (p *Part) SamplesUsed() []sample.ID {
	var ids []sample.ID
	for _, g := range p.Groups {
		for _, z := range g.Zones {
			for _, v := range z.Variants {
				ids = append(ids, v.SampleID)
			}
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Patch is the whole instrument: a fixed set of parts.
type Patch struct {
	Parts [NumParts]*Part
}

// NewPatch returns a patch whose part i listens on channel i.
func NewPatch() *Patch {
	p := &Patch{}
	for i := range p.Parts {
		p.Parts[i] = NewPart(i)
	}
	return p
}

// SamplesUsed returns the distinct sample IDs referenced anywhere, sorted.
func (p *Patch) SamplesUsed() []sample.ID {
	var ids []sample.ID
	for _, part := range p.Parts {
		if part != nil {
			ids = append(ids, part.SamplesUsed()...)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// References reports whether any part uses id.
func (p *Patch) References(id sample.ID) bool {
	for _, part := range p.Parts {
		if part == nil {
			continue
		}
		for _, g := range part.Groups {
			for _, z := range g.Zones {
				for _, v := range z.Variants {
					if v.SampleID == id {
						return true
					}
				}
			}
		}
	}
	return false
}

// UsesOutputBus reports whether a non-empty part is routed to output bus i.
func (p *Patch) UsesOutputBus(i int) bool {
	for _, part := range p.Parts {
		if part != nil && part.Configuration.Output == i && !part.Empty() {
			return true
		}
	}
	return false
}
