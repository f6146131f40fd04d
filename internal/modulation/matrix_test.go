package modulation

import (
	"math"
	"testing"
)

type fakeZone struct {
	table RoutingTable
	base  map[Destination]float32
}

func (z *fakeZone) RoutingTable() *RoutingTable     { return &z.table }
func (z *fakeZone) BaseValue(d Destination) float32 { return z.base[d] }

type fakeVoice struct {
	signals SignalTable
}

func (v *fakeVoice) Signals() *SignalTable { return &v.signals }

func newRoutedMatrix(z *fakeZone, v *fakeVoice) *Matrix {
	m := NewMatrix()
	m.SnapRoutingFromZone(z)
	m.CopyBaseValuesFromZone(z)
	m.AttachSourcesFromVoice(v)
	return m
}

func TestMatrixSumsActiveRoutings(t *testing.T) {
	z := &fakeZone{base: map[Destination]float32{DestFilter1Mix: 0.25, DestLFO2Rate: 3}}
	z.table[0] = Routing{Src: SourceLFO1, Dst: DestFilter1Mix, Depth: 0.5}
	z.table[5] = Routing{Src: SourceLFO2, Dst: DestFilter1Mix, Depth: -0.25}
	z.table[9] = Routing{Src: SourceVelocity, Dst: DestLFO2Rate, Depth: 2}
	v := &fakeVoice{}
	v.signals.Values[SourceLFO1] = 1
	v.signals.Values[SourceLFO2] = 0.4
	v.signals.Values[SourceVelocity] = 0.5

	m := newRoutedMatrix(z, v)
	m.Process()

	if got, want := m.Value(DestFilter1Mix), float32(0.25+0.5*1-0.25*0.4); math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("filter1 mix = %v, want %v", got, want)
	}
	if got := m.Value(DestLFO2Rate); got != 4 {
		t.Fatalf("lfo2 rate = %v, want 4", got)
	}
	if got := m.Value(DestPitch); got != 0 {
		t.Fatalf("untouched destination = %v, want 0", got)
	}
}

func TestMatrixProcessIsIdempotent(t *testing.T) {
	z := &fakeZone{base: map[Destination]float32{DestAmplitude: 1}}
	for i := range z.table {
		z.table[i] = Routing{Src: Source(1 + i%3), Dst: Destination(1 + i%(NumDestinations-1)), Depth: float32(i) * 0.01}
	}
	v := &fakeVoice{}
	v.signals.Values[SourceLFO1] = 0.3
	v.signals.Values[SourceLFO2] = -0.7
	v.signals.Values[SourceLFO3] = 0.9
	m := newRoutedMatrix(z, v)

	m.Process()
	var first [NumDestinations]float32
	for d := range first {
		first[d] = m.Value(Destination(d))
	}
	m.Process()
	for d := range first {
		if got := m.Value(Destination(d)); got != first[d] {
			t.Fatalf("destination %v changed between passes: %v then %v", Destination(d), first[d], got)
		}
	}
}

func TestMatrixSkipsInactiveAndUnknownSlots(t *testing.T) {
	z := &fakeZone{base: map[Destination]float32{DestFilter2Mix: 0.5}}
	z.table[0] = Routing{Src: SourceNone, Dst: DestFilter2Mix, Depth: 10}
	z.table[1] = Routing{Src: SourceLFO1, Dst: DestNone, Depth: 10}
	z.table[2] = Routing{Src: Source(NumSources + 7), Dst: DestFilter2Mix, Depth: 10}
	z.table[3] = Routing{Src: SourceLFO1, Dst: Destination(NumDestinations + 3), Depth: 10}
	z.table[4] = Routing{Src: Source(-2), Dst: Destination(-1), Depth: 10}
	v := &fakeVoice{}
	v.signals.Values[SourceLFO1] = 1
	m := newRoutedMatrix(z, v)
	m.Process()
	if got := m.Value(DestFilter2Mix); got != 0.5 {
		t.Fatalf("filter2 mix = %v, want base 0.5", got)
	}
	if got := m.Value(Destination(NumDestinations + 3)); got != 0 {
		t.Fatalf("unknown destination value = %v, want 0", got)
	}
}

func TestMatrixStaleSignalTableReadsZero(t *testing.T) {
	z := &fakeZone{}
	z.table[0] = Routing{Src: SourceLFO1, Dst: DestPitch, Depth: 12}
	v := &fakeVoice{}
	v.signals.Values[SourceLFO1] = 1
	m := newRoutedMatrix(z, v)
	m.Process()
	if got := m.Value(DestPitch); got != 12 {
		t.Fatalf("pitch = %v, want 12", got)
	}

	v.signals.Generation++
	m.Process()
	if got := m.Value(DestPitch); got != 0 {
		t.Fatalf("pitch after reallocation = %v, want 0", got)
	}

	m.AttachSourcesFromVoice(v)
	m.Process()
	if got := m.Value(DestPitch); got != 12 {
		t.Fatalf("pitch after reattach = %v, want 12", got)
	}
}

func TestMatrixClearRestoresIdentity(t *testing.T) {
	z := &fakeZone{base: map[Destination]float32{DestAmplitude: 1}}
	z.table[0] = Routing{Src: SourceLFO1, Dst: DestAmplitude, Depth: 1}
	v := &fakeVoice{}
	v.signals.Values[SourceLFO1] = 1
	m := newRoutedMatrix(z, v)
	m.Process()
	m.Clear()
	m.Process()
	for d := 0; d < NumDestinations; d++ {
		if got := m.Value(Destination(d)); got != 0 {
			t.Fatalf("destination %d after clear = %v, want 0", d, got)
		}
	}
	for i, r := range m.Routing() {
		if r.Active() {
			t.Fatalf("slot %d still active after clear", i)
		}
	}
}

func TestMatrixProcessDoesNotAllocate(t *testing.T) {
	z := &fakeZone{}
	z.table[0] = Routing{Src: SourceLFO3, Dst: DestLFO1Rate, Depth: 1}
	v := &fakeVoice{}
	m := newRoutedMatrix(z, v)
	allocs := testing.AllocsPerRun(100, func() {
		v.signals.Values[SourceLFO3] += 0.01
		m.Process()
	})
	if allocs != 0 {
		t.Fatalf("Process allocated %v times per run, want 0", allocs)
	}
}

// Saved documents store these numbers; they must never change.
func TestPersistedOrdinalsAreStable(t *testing.T) {
	destinations := []struct {
		d    Destination
		want int32
	}{
		{DestNone, 0},
		{DestLFO1Rate, 1},
		{DestLFO2Rate, 2},
		{DestLFO3Rate, 3},
		{DestFilter1Mix, 4},
		{DestFilter2Mix, 5},
		{DestAmplitude, 6},
		{DestPitch, 7},
	}
	for _, tc := range destinations {
		if int32(tc.d) != tc.want {
			t.Errorf("%v = %d, want %d", tc.d, int32(tc.d), tc.want)
		}
	}
	sources := []struct {
		s    Source
		want int32
	}{
		{SourceNone, 0},
		{SourceLFO1, 1},
		{SourceLFO2, 2},
		{SourceLFO3, 3},
		{SourceVelocity, 4},
		{SourceKeytrack, 5},
	}
	for _, tc := range sources {
		if int32(tc.s) != tc.want {
			t.Errorf("%v = %d, want %d", tc.s, int32(tc.s), tc.want)
		}
	}
	if DestLFO2Rate != DestLFO1Rate+1 || DestLFO3Rate != DestLFO1Rate+2 {
		t.Fatalf("lfo rate destinations must be contiguous")
	}
	if NumDestinations < len(destinations) || NumSources < len(sources) {
		t.Fatalf("ordinal counts shrank: %d destinations, %d sources", NumDestinations, NumSources)
	}
}
