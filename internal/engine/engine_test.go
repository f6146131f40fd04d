package engine

import (
	"errors"
	"math"
	"testing"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/sampler-go/internal/modulation"
	"github.com/cbegin/sampler-go/internal/sample"
)

func constantSample(id sample.ID, value float32, frames int) *sample.Sample {
	ch := make([]float32, frames)
	for i := range ch {
		ch[i] = value
	}
	return &sample.Sample{ID: id, Path: "/samples/" + string(id) + ".wav", SampleRate: DefaultSampleRate, Channels: [][]float32{ch}, Frames: frames}
}

// newTestEngine returns an engine whose part 0 plays a constant 0.5 sample on
// every key with no attack or release.
func newTestEngine(t *testing.T) (*Engine, *Zone) {
	t.Helper()
	e := New()
	e.SampleManager().Add(constantSample("flat", 0.5, 4096))
	z := NewZone("flat")
	z.AEG = Envelope{}
	z.Variants = []Variant{{SampleID: "flat", Gain: 1}}
	e.Patch().Parts[0].Groups = []*Group{{Name: "g", Zones: []*Zone{z}}}
	return e, z
}

func TestBlockSizeIsPowerOfTwo(t *testing.T) {
	if BlockSize&BlockSizeMask != 0 {
		t.Fatalf("block size %d is not a power of two", BlockSize)
	}
}

func TestNoteOnRendersIntoMainBus(t *testing.T) {
	e, _ := newTestEngine(t)
	if n := e.VoiceManager().ProcessNoteOnEvent(0, 0, 60, 1, 1, 0); n != 1 {
		t.Fatalf("voices started = %d, want 1", n)
	}
	e.ProcessAudio()
	for s := 0; s < BlockSize; s++ {
		if got := e.Busses().Main[0][s]; got != 0.5 {
			t.Fatalf("main[0][%d] = %v, want 0.5", s, got)
		}
		if got := e.Busses().Main[1][s]; got != 0.5 {
			t.Fatalf("main[1][%d] = %v, want 0.5", s, got)
		}
	}
}

func TestPartOutputRoutesToAuxBus(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Patch().Parts[0].Configuration.Output = 2
	if !e.Patch().UsesOutputBus(2) || e.Patch().UsesOutputBus(1) {
		t.Fatalf("UsesOutputBus disagrees with part routing")
	}
	e.VoiceManager().ProcessNoteOnEvent(0, 0, 60, 1, 1, 0)
	e.ProcessAudio()
	if got := e.Busses().Aux[1][1][0]; got != 0.5 {
		t.Fatalf("aux[1] right = %v, want 0.5", got)
	}
	if got := e.Busses().Main[0][0]; got != 0 {
		t.Fatalf("main = %v, want 0", got)
	}
}

func TestChannelFiltering(t *testing.T) {
	e, _ := newTestEngine(t)
	if n := e.VoiceManager().ProcessNoteOnEvent(0, 3, 60, 1, 1, 0); n != 0 {
		t.Fatalf("part on channel 0 answered channel 3")
	}
	e.Patch().Parts[0].Configuration.Channel = OmniChannel
	if n := e.VoiceManager().ProcessNoteOnEvent(0, 3, 60, 1, 1, 0); n != 1 {
		t.Fatalf("omni part did not answer channel 3")
	}
}

func TestNoteOffReleasesByNoteID(t *testing.T) {
	e, _ := newTestEngine(t)
	vm := e.VoiceManager()
	vm.ProcessNoteOnEvent(0, 0, 60, 7, 1, 0)
	vm.ProcessNoteOnEvent(0, 0, 60, 8, 1, 0)
	if n := vm.ProcessNoteOffEvent(0, 0, 60, 7, 0); n != 1 {
		t.Fatalf("released = %d, want 1", n)
	}
	e.ProcessAudio()
	if got := vm.ActiveVoiceCount(); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
	if n := vm.ProcessNoteOffEvent(0, 0, 60, AnyNoteID, 0); n != 1 {
		t.Fatalf("wildcard released = %d, want 1", n)
	}
	e.ProcessAudio()
	if got := vm.ActiveVoiceCount(); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}
}

func TestVoiceStealingTakesOldest(t *testing.T) {
	e, _ := newTestEngine(t)
	vm := e.VoiceManager()
	for id := 0; id <= MaxVoices; id++ {
		vm.ProcessNoteOnEvent(0, 0, 60, id, 1, 0)
	}
	if got := vm.ActiveVoiceCount(); got != MaxVoices {
		t.Fatalf("active = %d, want %d", got, MaxVoices)
	}
	for i := 0; i < MaxVoices; i++ {
		if v := vm.Voice(i); v.Active() && v.NoteID() == 0 {
			t.Fatalf("oldest voice survived stealing")
		}
	}
}

func TestApplyMIDI1Message(t *testing.T) {
	e, _ := newTestEngine(t)
	vm := e.VoiceManager()
	var on, off [3]byte
	copy(on[:], midi.NoteOn(0, 60, 127))
	copy(off[:], midi.NoteOff(0, 60))

	vm.ApplyMIDI1Message(0, on)
	if got := vm.ActiveVoiceCount(); got != 1 {
		t.Fatalf("active after note on = %d, want 1", got)
	}
	vm.ApplyMIDI1Message(0, off)
	e.ProcessAudio()
	if got := vm.ActiveVoiceCount(); got != 0 {
		t.Fatalf("active after note off = %d, want 0", got)
	}
}

func TestVelocityRoutingScalesAmplitude(t *testing.T) {
	e, z := newTestEngine(t)
	z.Routing[0] = modulation.Routing{Src: modulation.SourceVelocity, Dst: modulation.DestAmplitude, Depth: 1}
	// An ordinal from a newer build must be inert.
	z.Routing[1] = modulation.Routing{Src: modulation.Source(99), Dst: modulation.DestAmplitude, Depth: 5}
	e.VoiceManager().ProcessNoteOnEvent(0, 0, 60, 1, 1, 0)
	e.ProcessAudio()
	if got := e.Busses().Main[0][0]; got != 1 {
		t.Fatalf("main = %v, want 1 (0.5 * (gain 1 + velocity 1))", got)
	}
}

func TestProcessAudioAdvancesTransport(t *testing.T) {
	e := New()
	e.ProcessAudio()
	want := float64(BlockSize) * DefaultTempo / DefaultSampleRate / 60
	if got := e.Transport.TimeInBeats; math.Abs(got-want) > 1e-12 {
		t.Fatalf("time in beats = %v, want %v", got, want)
	}
}

func TestHostTransportIsKeptVerbatim(t *testing.T) {
	e := New()
	e.Transport.Tempo = 0.5
	e.Transport.Signature = Signature{Numerator: 0, Denominator: 0}
	e.OnTransportUpdated()
	if e.Transport.Tempo != 0.5 || e.Transport.Signature != (Signature{}) {
		t.Fatalf("transport = %+v, want host values kept", e.Transport)
	}
	e.ProcessAudio()
	want := float64(BlockSize) * 0.5 / DefaultSampleRate / 60
	if got := e.Transport.TimeInBeats; math.Abs(got-want) > 1e-15 {
		t.Fatalf("time in beats = %v, want %v", got, want)
	}

	e.Transport.Tempo = -10
	e.OnTransportUpdated()
	before := e.Transport.TimeInBeats
	e.ProcessAudio()
	if e.Transport.TimeInBeats != before || e.Transport.Tempo != -10 {
		t.Fatalf("negative tempo advanced time to %v (tempo %v)", e.Transport.TimeInBeats, e.Transport.Tempo)
	}
	if got := e.Transport.BeatsPerBar(); got != 4 {
		t.Fatalf("beats per bar = %v, want 4", got)
	}
}

func TestTerminateAllSilences(t *testing.T) {
	e, _ := newTestEngine(t)
	e.VoiceManager().ProcessNoteOnEvent(0, 0, 60, 1, 1, 0)
	e.ImmediatelyTerminateAllVoices()
	e.ProcessAudio()
	if e.VoiceManager().ActiveVoiceCount() != 0 || e.Busses().Main[0][0] != 0 {
		t.Fatalf("voices still sounding after terminate")
	}
}

func TestProcessAudioDoesNotAllocate(t *testing.T) {
	e, z := newTestEngine(t)
	z.Routing[0] = modulation.Routing{Src: modulation.SourceLFO1, Dst: modulation.DestPitch, Depth: 0.1}
	for id := 0; id < 8; id++ {
		e.VoiceManager().ProcessNoteOnEvent(0, 0, 60+id, id, 1, 0)
	}
	allocs := testing.AllocsPerRun(100, func() {
		e.ProcessAudio()
	})
	if allocs != 0 {
		t.Fatalf("ProcessAudio allocs = %v, want 0", allocs)
	}
}

func TestSelectPart(t *testing.T) {
	e := New()
	if !e.SelectPart(3) || e.SelectedPart() != 3 {
		t.Fatalf("select part 3 failed")
	}
	if e.SelectPart(NumParts) || e.SelectedPart() != 3 {
		t.Fatalf("out of range selection changed the part")
	}
}

func TestUnstreamRejectsNewerVersion(t *testing.T) {
	_, err := UnstreamMulti([]byte("version: 9\n"), sample.NewLoader(0, nil))
	if !errors.Is(err, ErrStateVersion) {
		t.Fatalf("err = %v, want ErrStateVersion", err)
	}
}

func TestUnstreamRejectsUnlistedSample(t *testing.T) {
	payload := []byte(`version: 1
parts:
- index: 0
  groups:
  - name: g
    zones:
    - name: z
      keyEnd: 127
      velocityEnd: 127
      variants:
      - sample: missing
        gain: 1
`)
	_, err := UnstreamMulti(payload, sample.NewLoader(0, nil))
	if !errors.Is(err, ErrUnknownSample) {
		t.Fatalf("err = %v, want ErrUnknownSample", err)
	}
}
