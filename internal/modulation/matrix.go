package modulation

// NumVoiceRoutingSlots is the fixed capacity of a voice routing table.
const NumVoiceRoutingSlots = 32

// Destination identifies a modulation target inside a voice.
//
// Destinations are saved as integers. Only ever append new values at the end
// (immediately before numDestinations); never renumber or remove one.
type Destination int32

const (
	DestNone Destination = iota

	DestLFO1Rate
	DestLFO2Rate
	DestLFO3Rate // LFO rate destinations are contiguous: DestLFO1Rate+i

	DestFilter1Mix
	DestFilter2Mix

	DestAmplitude
	DestPitch

	numDestinations
)

// NumDestinations is the count of destinations known to this build.
const NumDestinations = int(numDestinations)

// Source identifies a per-voice modulation signal.
//
// Sources are saved as integers. Only ever append new values at the end
// (immediately before numSources); never renumber or remove one.
type Source int32

const (
	SourceNone Source = iota

	SourceLFO1
	SourceLFO2
	SourceLFO3

	SourceVelocity
	SourceKeytrack

	numSources
)

// NumSources is the count of sources known to this build.
const NumSources = int(numSources)

var destinationNames = [NumDestinations]string{
	"none", "lfo1.rate", "lfo2.rate", "lfo3.rate", "filter1.mix", "filter2.mix", "amplitude", "pitch",
}

var sourceNames = [NumSources]string{
	"none", "lfo1", "lfo2", "lfo3", "velocity", "keytrack",
}

// Valid reports whether d is a destination this build can route to.
func (d Destination) Valid() bool { return d > DestNone && int(d) < NumDestinations }

func (d Destination) String() string {
	if d < 0 || int(d) >= NumDestinations {
		return "unknown"
	}
	return destinationNames[d]
}

// Valid reports whether s is a source this build can read.
func (s Source) Valid() bool { return s > SourceNone && int(s) < NumSources }

func (s Source) String() string {
	if s < 0 || int(s) >= NumSources {
		return "unknown"
	}
	return sourceNames[s]
}

// Routing is one source to destination connection.
type Routing struct {
	Src   Source      `yaml:"src"`
	Dst   Destination `yaml:"dst"`
	Depth float32     `yaml:"depth"`
}

// Active reports whether the slot contributes to any destination.
func (r Routing) Active() bool { return r.Src.Valid() && r.Dst.Valid() }

// RoutingTable is the authored routing of a zone.
type RoutingTable [NumVoiceRoutingSlots]Routing

// SignalTable is the per-voice block of source values a matrix reads from.
// Generation must be bumped whenever the owning voice is reallocated so that
// matrices still holding the table stop reading it until reattached.
type SignalTable struct {
	Values     [NumSources]float32
	Generation uint32
}

// RoutingSource supplies an authored routing table (a zone).
type RoutingSource interface {
	RoutingTable() *RoutingTable
}

// BaseValueSource supplies unmodulated destination values (a zone).
type BaseValueSource interface {
	BaseValue(d Destination) float32
}

// SignalSource exposes the live signal table of a voice.
type SignalSource interface {
	Signals() *SignalTable
}

// Matrix is the per-voice modulation matrix. All storage is fixed-size;
// Process does not allocate.
type Matrix struct {
	routing   RoutingTable
	signals   *SignalTable
	signalGen uint32
	base      [NumDestinations]float32
	modulated [NumDestinations]float32
}

// NewMatrix returns a cleared matrix.
func NewMatrix() *Matrix {
	m := &Matrix{}
	m.Clear()
	return m
}

// Clear drops all routings, detaches sources and zeroes every value.
func (m *Matrix) Clear() {
	m.routing = RoutingTable{}
	m.signals = nil
	m.signalGen = 0
	m.base = [NumDestinations]float32{}
	m.modulated = [NumDestinations]float32{}
}

// SnapRoutingFromZone copies the authored routing table into the live table.
func (m *Matrix) SnapRoutingFromZone(z RoutingSource) {
	if z == nil {
		m.routing = RoutingTable{}
		return
	}
	if t := z.RoutingTable(); t != nil {
		m.routing = *t
	}
}

// CopyBaseValuesFromZone sets the unmodulated value of every destination.
func (m *Matrix) CopyBaseValuesFromZone(z BaseValueSource) {
	for d := Destination(1); int(d) < NumDestinations; d++ {
		if z == nil {
			m.base[d] = 0
			continue
		}
		m.base[d] = z.BaseValue(d)
	}
	m.modulated = m.base
}

// AttachSourcesFromVoice binds source ordinals to the voice's signal table.
// The binding is only valid for the voice's current generation; reattach
// whenever the voice is reallocated.
func (m *Matrix) AttachSourcesFromVoice(v SignalSource) {
	if v == nil {
		m.signals = nil
		return
	}
	m.signals = v.Signals()
	if m.signals != nil {
		m.signalGen = m.signals.Generation
	}
}

func (m *Matrix) source(s Source) float32 {
	if m.signals == nil || m.signals.Generation != m.signalGen {
		return 0
	}
	return m.signals.Values[s]
}

// Process recomputes every destination from its base value and the active routings.
func (m *Matrix) Process() {
	m.modulated = m.base
	for i := range m.routing {
		r := &m.routing[i]
		if !r.Active() {
			continue
		}
		m.modulated[r.Dst] += r.Depth * m.source(r.Src)
	}
}

// Value returns the modulated value of d, or 0 for unknown destinations.
func (m *Matrix) Value(d Destination) float32 {
	if d < 0 || int(d) >= NumDestinations {
		return 0
	}
	return m.modulated[d]
}

// BaseValue returns the unmodulated value of d.
func (m *Matrix) BaseValue(d Destination) float32 {
	if d < 0 || int(d) >= NumDestinations {
		return 0
	}
	return m.base[d]
}

// Routing returns the live routing table.
func (m *Matrix) Routing() *RoutingTable { return &m.routing }
