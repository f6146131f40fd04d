package engine

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/cbegin/sampler-go/internal/lfo"
	"github.com/cbegin/sampler-go/internal/modulation"
	"github.com/cbegin/sampler-go/internal/sample"
	"github.com/cbegin/sampler-go/internal/tuning"
)

// StateVersion is the newest state payload this build writes and reads.
const StateVersion = 1

var (
	ErrStateVersion  = errors.New("engine: state version is newer than this build")
	ErrPartIndex     = errors.New("engine: part index out of range")
	ErrRoutingSlot   = errors.New("engine: routing slot out of range")
	ErrUnknownSample = errors.New("engine: zone references an unlisted sample")
)

type routingDoc struct {
	Slot  int     `yaml:"slot"`
	Src   int32   `yaml:"src"`
	Dst   int32   `yaml:"dst"`
	Depth float32 `yaml:"depth"`
}

type lfoDoc struct {
	Rate  float32 `yaml:"rate"`
	Depth float32 `yaml:"depth"`
	Shape int     `yaml:"shape"`
}

type filterDoc struct {
	Cutoff float32 `yaml:"cutoff"`
	Mix    float32 `yaml:"mix"`
}

type variantDoc struct {
	Sample sample.ID `yaml:"sample"`
	Gain   float32   `yaml:"gain"`
}

type zoneDoc struct {
	Name          string       `yaml:"name"`
	RootKey       int          `yaml:"rootKey"`
	KeyStart      int          `yaml:"keyStart"`
	KeyEnd        int          `yaml:"keyEnd"`
	VelocityStart int          `yaml:"velocityStart"`
	VelocityEnd   int          `yaml:"velocityEnd"`
	Gain          float32      `yaml:"gain"`
	Attack        float32      `yaml:"attack"`
	Release       float32      `yaml:"release"`
	LFOs          []lfoDoc     `yaml:"lfos"`
	Filters       []filterDoc  `yaml:"filters"`
	Routing       []routingDoc `yaml:"routing,omitempty"`
	Variants      []variantDoc `yaml:"variants"`
}

type groupDoc struct {
	Name  string    `yaml:"name"`
	Zones []zoneDoc `yaml:"zones"`
}

type partDoc struct {
	Index   int        `yaml:"index"`
	Channel int        `yaml:"channel"`
	Output  int        `yaml:"output"`
	Groups  []groupDoc `yaml:"groups"`
}

type multiDoc struct {
	Version      int          `yaml:"version"`
	SelectedPart int          `yaml:"selectedPart"`
	TuningMode   int32        `yaml:"tuningMode"`
	Samples      []sample.Ref `yaml:"samples"`
	Parts        []partDoc    `yaml:"parts"`
}

type partStateDoc struct {
	Version int          `yaml:"version"`
	Samples []sample.Ref `yaml:"samples"`
	Part    partDoc      `yaml:"part"`
}

// Prepared is decoded state with its samples already loaded, ready to be
// installed by ApplyPrepared while rendering is suspended. Exactly one of
// Patch and Part is set.
type Prepared struct {
	Patch        *Patch
	Part         *Part
	SelectedPart int
	TuningMode   tuning.Mode
	Samples      []*sample.Sample
}

// StreamMulti serializes the whole engine state.
func StreamMulti(e *Engine) ([]byte, error) {
	doc := multiDoc{
		Version:      StateVersion,
		SelectedPart: e.selectedPart,
		TuningMode:   int32(e.retuner.TuningMode()),
		Samples:      sampleRefs(e, e.patch.SamplesUsed()),
	}
	for i, p := range e.patch.Parts {
		if p != nil {
			doc.Parts = append(doc.Parts, encodePart(i, p))
		}
	}
	return yaml.Marshal(&doc)
}

// StreamPart serializes a single part and the samples it uses.
func StreamPart(e *Engine, part int) ([]byte, error) {
	if part < 0 || part >= NumParts {
		return nil, fmt.Errorf("%w: %d", ErrPartIndex, part)
	}
	p := e.patch.Parts[part]
	if p == nil {
		p = NewPart(part)
	}
	doc := partStateDoc{
		Version: StateVersion,
		Samples: sampleRefs(e, p.SamplesUsed()),
		Part:    encodePart(part, p),
	}
	return yaml.Marshal(&doc)
}

// UnstreamMulti decodes a whole-engine payload and loads its samples.
func UnstreamMulti(payload []byte, l *sample.Loader) (*Prepared, error) {
	var doc multiDoc
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode multi state: %w", err)
	}
	if doc.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrStateVersion, doc.Version)
	}
	patch := NewPatch()
	for _, pd := range doc.Parts {
		if pd.Index < 0 || pd.Index >= NumParts {
			return nil, fmt.Errorf("%w: %d", ErrPartIndex, pd.Index)
		}
		p, err := decodePart(pd)
		if err != nil {
			return nil, err
		}
		patch.Parts[pd.Index] = p
	}
	samples, err := loadSamples(doc.Samples, patch.SamplesUsed(), l)
	if err != nil {
		return nil, err
	}
	prep := &Prepared{Patch: patch, TuningMode: tuning.Mode(doc.TuningMode), Samples: samples}
	if doc.SelectedPart >= 0 && doc.SelectedPart < NumParts {
		prep.SelectedPart = doc.SelectedPart
	}
	return prep, nil
}

// UnstreamPart decodes a single-part payload and loads its samples.
func UnstreamPart(payload []byte, l *sample.Loader) (*Prepared, error) {
	var doc partStateDoc
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode part state: %w", err)
	}
	if doc.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrStateVersion, doc.Version)
	}
	p, err := decodePart(doc.Part)
	if err != nil {
		return nil, err
	}
	samples, err := loadSamples(doc.Samples, p.SamplesUsed(), l)
	if err != nil {
		return nil, err
	}
	return &Prepared{Part: p, Samples: samples}, nil
}

// ApplyPrepared installs p. A multi state replaces the patch; a part state
// replaces part into. All voices are terminated first and unreferenced
// samples purged afterwards. Only call with rendering suspended.
func (e *Engine) ApplyPrepared(p *Prepared, into int) error {
	if p.Patch == nil && (into < 0 || into >= NumParts) {
		return fmt.Errorf("%w: %d", ErrPartIndex, into)
	}
	e.ImmediatelyTerminateAllVoices()
	if p.Patch != nil {
		e.ReplacePatch(p.Patch)
		e.selectedPart = p.SelectedPart
		e.retuner.SetTuningMode(p.TuningMode)
	} else {
		p.Part.Configuration.Channel = partChannel(p.Part, into)
		e.patch.Parts[into] = p.Part
	}
	for _, s := range p.Samples {
		e.samples.Add(s)
	}
	if n := e.PurgeUnreferencedSamples(); n > 0 {
		e.logger.Debug("dropped samples after state change", "count", n)
	}
	e.logger.Info("state applied", "multi", p.Patch != nil, "part", into, "samples", e.samples.Len())
	return nil
}

// partChannel gives a loaded part the channel of the slot it lands in unless
// it is omni.
func partChannel(p *Part, into int) int {
	if p.Configuration.Channel == OmniChannel {
		return OmniChannel
	}
	return into
}

func sampleRefs(e *Engine, ids []sample.ID) []sample.Ref {
	refs := make([]sample.Ref, 0, len(ids))
	for _, id := range ids {
		if e.samples.Get(id) == nil {
			continue
		}
		refs = append(refs, sample.Ref{ID: id, Path: e.samples.StreamPath(id)})
	}
	return refs
}

func loadSamples(refs []sample.Ref, used []sample.ID, l *sample.Loader) ([]*sample.Sample, error) {
	listed := make(map[sample.ID]bool, len(refs))
	var out []*sample.Sample
	for _, ref := range refs {
		if listed[ref.ID] {
			continue
		}
		listed[ref.ID] = true
		s, err := l.Load(ref)
		if err != nil {
			return nil, fmt.Errorf("load sample %s: %w", ref.Path, err)
		}
		out = append(out, s)
	}
	for _, id := range used {
		if !listed[id] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSample, id)
		}
	}
	return out, nil
}

func encodePart(index int, p *Part) partDoc {
	pd := partDoc{Index: index, Channel: p.Configuration.Channel, Output: p.Configuration.Output}
	for _, g := range p.Groups {
		gd := groupDoc{Name: g.Name}
		for _, z := range g.Zones {
			gd.Zones = append(gd.Zones, encodeZone(z))
		}
		pd.Groups = append(pd.Groups, gd)
	}
	return pd
}

func encodeZone(z *Zone) zoneDoc {
	zd := zoneDoc{
		Name:          z.Name,
		RootKey:       z.Mapping.RootKey,
		KeyStart:      z.Mapping.KeyStart,
		KeyEnd:        z.Mapping.KeyEnd,
		VelocityStart: z.Mapping.VelocityStart,
		VelocityEnd:   z.Mapping.VelocityEnd,
		Gain:          z.Gain,
		Attack:        z.AEG.Attack,
		Release:       z.AEG.Release,
	}
	for _, l := range z.LFOs {
		zd.LFOs = append(zd.LFOs, lfoDoc{Rate: l.Rate, Depth: l.Depth, Shape: int(l.Shape)})
	}
	for _, f := range z.Filters {
		zd.Filters = append(zd.Filters, filterDoc{Cutoff: f.Cutoff, Mix: f.Mix})
	}
	for i, r := range z.Routing {
		if r == (modulation.Routing{}) {
			continue
		}
		zd.Routing = append(zd.Routing, routingDoc{Slot: i, Src: int32(r.Src), Dst: int32(r.Dst), Depth: r.Depth})
	}
	for _, v := range z.Variants {
		zd.Variants = append(zd.Variants, variantDoc{Sample: v.SampleID, Gain: v.Gain})
	}
	return zd
}

func decodePart(pd partDoc) (*Part, error) {
	p := &Part{Configuration: PartConfiguration{Channel: pd.Channel, Output: pd.Output}}
	for _, gd := range pd.Groups {
		g := &Group{Name: gd.Name}
		for _, zd := range gd.Zones {
			z, err := decodeZone(zd)
			if err != nil {
				return nil, fmt.Errorf("part %d group %q: %w", pd.Index, gd.Name, err)
			}
			g.Zones = append(g.Zones, z)
		}
		p.Groups = append(p.Groups, g)
	}
	return p, nil
}

func decodeZone(zd zoneDoc) (*Zone, error) {
	z := NewZone(zd.Name)
	z.Mapping = KeyboardMapping{
		RootKey:       zd.RootKey,
		KeyStart:      zd.KeyStart,
		KeyEnd:        zd.KeyEnd,
		VelocityStart: zd.VelocityStart,
		VelocityEnd:   zd.VelocityEnd,
	}
	z.Gain = zd.Gain
	z.AEG = Envelope{Attack: zd.Attack, Release: zd.Release}
	for i, ld := range zd.LFOs {
		if i >= len(z.LFOs) {
			break
		}
		z.LFOs[i] = LFOConfig{Rate: ld.Rate, Depth: ld.Depth, Shape: lfo.Shape(ld.Shape)}
	}
	for i, fd := range zd.Filters {
		if i >= len(z.Filters) {
			break
		}
		z.Filters[i] = FilterConfig{Cutoff: fd.Cutoff, Mix: fd.Mix}
	}
	for _, rd := range zd.Routing {
		if rd.Slot < 0 || rd.Slot >= modulation.NumVoiceRoutingSlots {
			return nil, fmt.Errorf("zone %q: %w: %d", zd.Name, ErrRoutingSlot, rd.Slot)
		}
		// Ordinals this build does not know are kept as written; they are inert.
		z.Routing[rd.Slot] = modulation.Routing{
			Src:   modulation.Source(rd.Src),
			Dst:   modulation.Destination(rd.Dst),
			Depth: rd.Depth,
		}
	}
	for _, vd := range zd.Variants {
		z.Variants = append(z.Variants, Variant{SampleID: vd.Sample, Gain: vd.Gain})
	}
	return z, nil
}
