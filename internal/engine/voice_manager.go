package engine

import (
	"gitlab.com/gomidi/midi/v2"
)

const (
	MaxVoices = 64
	// AnyNoteID matches every voice on note-off.
	AnyNoteID = -1

	pitchBendRange = 2 // semitones

	ccAllSoundOff = 120
	ccAllNotesOff = 123
)

// VoiceManager owns the fixed voice pool. Its methods run on the render
// context (or a suspended serial closure) and never allocate.
type VoiceManager struct {
	e       *Engine
	voices  [MaxVoices]Voice
	counter uint64
	bend    [16]float32
}

func newVoiceManager(e *Engine) *VoiceManager {
	return &VoiceManager{e: e}
}

// ProcessNoteOnEvent starts a voice for every zone of every part answering
// channel, key and velocity (0..1). retune is added in semitones.
func (vm *VoiceManager) ProcessNoteOnEvent(port, channel, key, noteID int, velocity float64, retune float32) int {
	patch := vm.e.patch
	if patch == nil || key < 0 || key > 127 {
		return 0
	}
	vel127 := int(velocity*127 + 0.5)
	retune += vm.e.retuner.RetuneForKey(key)
	started := 0
	for pi, part := range patch.Parts {
		if part == nil || !part.RespondsTo(channel) {
			continue
		}
		for _, g := range part.Groups {
			for _, z := range g.Zones {
				if !z.Matches(key, vel127) {
					continue
				}
				variant, ok := z.pickVariant()
				if !ok {
					continue
				}
				smp := vm.e.samples.Get(variant.SampleID)
				if smp == nil || smp.Frames == 0 {
					continue
				}
				v := &vm.voices[vm.allocate()]
				vm.counter++
				v.port, v.channel, v.key, v.noteID = port, channel, key, noteID
				v.part = pi
				v.started = vm.counter
				v.velocity = float32(velocity)
				v.retune = retune
				v.start(z, smp, variant.Gain, vm.e.sampleRate)
				started++
			}
		}
	}
	return started
}

// ProcessNoteOffEvent releases matching voices. A noteID of AnyNoteID, or a
// voice started without one, matches on key alone.
func (vm *VoiceManager) ProcessNoteOffEvent(port, channel, key, noteID int, velocity float64) int {
	released := 0
	for i := range vm.voices {
		v := &vm.voices[i]
		if !v.active || v.releasing || v.port != port || v.channel != channel || v.key != key {
			continue
		}
		if noteID != AnyNoteID && v.noteID != AnyNoteID && v.noteID != noteID {
			continue
		}
		v.release()
		released++
	}
	return released
}

// ApplyMIDI1Message decodes a raw three byte MIDI 1.0 message.
func (vm *VoiceManager) ApplyMIDI1Message(port int, data [3]byte) {
	msg := midi.Message(data[:])
	var ch, key, vel, ctl, val uint8
	var rel int16
	var abs uint16
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		vm.ProcessNoteOnEvent(port, int(ch), int(key), AnyNoteID, float64(vel)/127, 0)
	case msg.GetNoteEnd(&ch, &key):
		vm.ProcessNoteOffEvent(port, int(ch), int(key), AnyNoteID, 0)
	case msg.GetPitchBend(&ch, &rel, &abs):
		vm.bend[ch&0x0f] = float32(rel) / 8192 * pitchBendRange
	case msg.GetControlChange(&ch, &ctl, &val):
		switch ctl {
		case ccAllSoundOff:
			vm.terminateChannel(port, int(ch))
		case ccAllNotesOff:
			vm.releaseChannel(port, int(ch))
		}
	}
}

func (vm *VoiceManager) releaseChannel(port, channel int) {
	for i := range vm.voices {
		if v := &vm.voices[i]; v.active && v.port == port && v.channel == channel {
			v.release()
		}
	}
}

func (vm *VoiceManager) terminateChannel(port, channel int) {
	for i := range vm.voices {
		if v := &vm.voices[i]; v.active && v.port == port && v.channel == channel {
			v.terminate()
		}
	}
}

// allocate returns a free slot, stealing the oldest voice when full.
func (vm *VoiceManager) allocate() int {
	oldest := 0
	for i := range vm.voices {
		if !vm.voices[i].active {
			return i
		}
		if vm.voices[i].started < vm.voices[oldest].started {
			oldest = i
		}
	}
	vm.voices[oldest].terminate()
	return oldest
}

// ActiveVoiceCount returns the number of sounding voices, release tails included.
func (vm *VoiceManager) ActiveVoiceCount() int {
	n := 0
	for i := range vm.voices {
		if vm.voices[i].active {
			n++
		}
	}
	return n
}

// TerminateAll silences every voice immediately.
func (vm *VoiceManager) TerminateAll() {
	for i := range vm.voices {
		vm.voices[i].terminate()
	}
	vm.bend = [16]float32{}
}

// Voice returns slot i of the pool.
func (vm *VoiceManager) Voice(i int) *Voice {
	if i < 0 || i >= MaxVoices {
		return nil
	}
	return &vm.voices[i]
}

func (vm *VoiceManager) render(patch *Patch, b *Busses, sampleRate float64) {
	for i := range vm.voices {
		v := &vm.voices[i]
		if !v.active {
			continue
		}
		out := &b.Main
		if patch != nil && patch.Parts[v.part] != nil {
			out = b.Output(patch.Parts[v.part].Configuration.Output)
		}
		v.render(out, sampleRate, vm.bend[v.channel&0x0f])
	}
}
