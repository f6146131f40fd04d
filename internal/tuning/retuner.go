package tuning

import "fmt"

// Mode selects how MIDI keys map to pitch. Values arrive as integers from
// client messages.
type Mode int32

const (
	TwelveTET Mode = iota
	// MTSESP follows an externally supplied per-key table. Until a table is
	// installed it behaves like TwelveTET.
	MTSESP
)

func (m Mode) String() string {
	switch m {
	case TwelveTET:
		return "twelve-tet"
	case MTSESP:
		return "mts-esp"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// Valid reports whether m names a supported mode.
func (m Mode) Valid() bool { return m == TwelveTET || m == MTSESP }

// MidikeyRetuner returns per-key pitch offsets in semitones.
type MidikeyRetuner struct {
	mode    Mode
	offsets [128]float32
}

// SetTuningMode switches the active mode. Invalid modes are ignored.
func (r *MidikeyRetuner) SetTuningMode(m Mode) {
	if m.Valid() {
		r.mode = m
	}
}

// TuningMode returns the active mode.
func (r *MidikeyRetuner) TuningMode() Mode { return r.mode }

// SetKeyOffset installs the retuning of key, in semitones, used in MTSESP mode.
func (r *MidikeyRetuner) SetKeyOffset(key int, semitones float32) {
	if key < 0 || key >= len(r.offsets) {
		return
	}
	r.offsets[key] = semitones
}

// RetuneForKey returns the offset in semitones to apply to key.
func (r *MidikeyRetuner) RetuneForKey(key int) float32 {
	if r.mode != MTSESP || key < 0 || key >= len(r.offsets) {
		return 0
	}
	return r.offsets[key]
}
