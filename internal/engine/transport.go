package engine

// TransportStatus is a bitset; playing, recording and looping are independent.
type TransportStatus uint8

const (
	StatusStopped   TransportStatus = 0
	StatusPlaying   TransportStatus = 1 << 0
	StatusRecording TransportStatus = 1 << 1
	StatusLooping   TransportStatus = 1 << 2
)

func (s TransportStatus) Has(f TransportStatus) bool { return s&f != 0 }

func (s TransportStatus) String() string {
	if s == StatusStopped {
		return "stopped"
	}
	out := ""
	add := func(name string) {
		if out != "" {
			out += "|"
		}
		out += name
	}
	if s.Has(StatusPlaying) {
		add("playing")
	}
	if s.Has(StatusRecording) {
		add("recording")
	}
	if s.Has(StatusLooping) {
		add("looping")
	}
	return out
}

// Signature is the meter.
type Signature struct {
	Numerator   int
	Denominator int
}

const DefaultTempo = 120.0

// Transport is the engine's view of host time.
type Transport struct {
	Tempo               float64
	HostTimeInBeats     float64
	LastBarStartInBeats float64
	// TimeInBeats advances by one block every ProcessAudio and is reset from
	// the host position while the host plays.
	TimeInBeats float64
	Status      TransportStatus
	Signature   Signature
}

// DefaultTransport is 120 BPM, 4/4, stopped.
func DefaultTransport() Transport {
	return Transport{Tempo: DefaultTempo, Signature: Signature{4, 4}}
}

// BeatsPerBar returns the bar length in quarter-note beats.
func (t Transport) BeatsPerBar() float64 {
	if t.Signature.Numerator <= 0 || t.Signature.Denominator <= 0 {
		return 4
	}
	return float64(t.Signature.Numerator) * 4 / float64(t.Signature.Denominator)
}
