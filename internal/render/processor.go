package render

import (
	"log/slog"
	"slices"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"

	"github.com/cbegin/sampler-go/internal/engine"
)

const (
	// maxHeldReleases bounds the note-offs kept while rendering is suspended.
	maxHeldReleases = 256

	// eventScratchSize is the preallocated room for reordering one call's events.
	eventScratchSize = 512

	ccAllSoundOff = 120
	ccAllNotesOff = 123
)

type EventKind uint8

const (
	EventMIDI EventKind = iota
	EventNoteOn
	EventNoteOff
)

// Event is a host event. Time is a frame offset into the current Process call.
type Event struct {
	Time     int
	Kind     EventKind
	Port     int
	Channel  int
	Key      int
	NoteID   int
	Velocity float64
	Data     [3]byte
}

type TransportFlags uint8

const (
	TransportPlaying TransportFlags = 1 << iota
	TransportRecording
	TransportLoopActive
)

// TransportInfo is the host's transport snapshot for one Process call.
type TransportInfo struct {
	Tempo         float64
	SongPosBeats  float64
	BarStartBeats float64
	TSigNum       int
	TSigDenom     int
	Flags         TransportFlags
}

// Bus is one output port; Channels[c] must hold at least frames samples.
type Bus struct {
	Channels [][]float32
}

type Status int

const (
	StatusContinue Status = iota
	// StatusSleep asks the host to call again later; nothing was rendered.
	StatusSleep
)

// Gate guards the engine against concurrent destructive changes. It is
// implemented by messaging.Controller.
type Gate interface {
	BeginRender() bool
	EndRender()
	RunAudioThreadCallbacks()
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Processor renders host requested spans out of fixed engine blocks.
type Processor struct {
	e        *engine.Engine
	gate     Gate
	logger   *slog.Logger
	blockPos int
	auxUsed  [engine.NumAuxOutputs + 1]bool
	scratch  []Event

	held  [maxHeldReleases]Event
	nHeld int

	late         atomic.Uint64
	suspended    atomic.Uint64
	sleepCalls   atomic.Uint64
	lostReleases atomic.Uint64
}

func New(e *engine.Engine, gate Gate, opts ...Option) *Processor {
	p := &Processor{e: e, gate: gate, logger: slog.Default(), scratch: make([]Event, 0, eventScratchSize)}
	for _, opt := range opts {
		opt(p)
	}
	p.logger.Debug("block processor ready", "blockSize", engine.BlockSize, "auxOutputs", engine.NumAuxOutputs)
	return p
}

// LateEvents counts events dropped because their time was at or past the
// end of the call that delivered them.
func (p *Processor) LateEvents() uint64 { return p.late.Load() }

// SuspendedCalls counts calls answered with silence while suspended.
func (p *Processor) SuspendedCalls() uint64 { return p.suspended.Load() }

// SleepCalls counts calls refused for a non-stereo main output.
func (p *Processor) SleepCalls() uint64 { return p.sleepCalls.Load() }

// LostReleases counts note-offs dropped because too many arrived while
// rendering was suspended.
func (p *Processor) LostReleases() uint64 { return p.lostReleases.Load() }

// Process renders frames into outputs. outputs[0] is the stereo main bus,
// outputs[i] is aux bus i. Events out of Time order are reordered in a
// processor owned copy; equal times keep their order and events itself is
// never modified.
//
// While rendering is suspended the call outputs silence and drops its events,
// except note-offs, which are held and applied when rendering resumes.
func (p *Processor) Process(frames int, events []Event, transport *TransportInfo, outputs []Bus) Status {
	if len(outputs) == 0 || len(outputs[0].Channels) != 2 {
		p.sleepCalls.Add(1)
		return StatusSleep
	}
	if !p.gate.BeginRender() {
		p.suspended.Add(1)
		p.holdReleases(events)
		silence(frames, outputs)
		return StatusContinue
	}
	defer p.gate.EndRender()

	e := p.e
	p.adoptTransport(transport)
	p.applyHeldReleases()
	if !slices.IsSortedFunc(events, byTime) {
		p.scratch = append(p.scratch[:0], events...)
		slices.SortStableFunc(p.scratch, byTime)
		events = p.scratch
	}

	main := outputs[0].Channels
	b := e.Busses()
	next := 0
	for s := 0; s < frames; s++ {
		if p.blockPos == 0 {
			p.gate.RunAudioThreadCallbacks()
			for next < len(events) && events[next].Time <= s {
				p.handle(&events[next])
				next++
			}
			e.ProcessAudio()
			p.refreshAuxUse()
		}
		main[0][s] = b.Main[0][p.blockPos]
		main[1][s] = b.Main[1][p.blockPos]
		for i := 1; i < len(outputs); i++ {
			ch := outputs[i].Channels
			if i <= engine.NumAuxOutputs && p.auxUsed[i] && len(ch) >= 2 {
				ch[0][s] = b.Aux[i-1][0][p.blockPos]
				ch[1][s] = b.Aux[i-1][1][p.blockPos]
				continue
			}
			for c := range ch {
				ch[c][s] = 0
			}
		}
		p.blockPos = (p.blockPos + 1) & engine.BlockSizeMask
	}

	// Events after the last block boundary of this call still belong to it;
	// events stamped past its end are a host error and are dropped.
	for ; next < len(events); next++ {
		if events[next].Time >= frames {
			p.late.Add(1)
			continue
		}
		p.handle(&events[next])
	}
	return StatusContinue
}

func byTime(a, b Event) int { return a.Time - b.Time }

func (p *Processor) holdReleases(events []Event) {
	for i := range events {
		if !events[i].isRelease() {
			continue
		}
		if p.nHeld == len(p.held) {
			p.lostReleases.Add(1)
			continue
		}
		p.held[p.nHeld] = events[i]
		p.nHeld++
	}
}

func (p *Processor) applyHeldReleases() {
	for i := 0; i < p.nHeld; i++ {
		p.handle(&p.held[i])
	}
	p.nHeld = 0
}

// isRelease reports whether ev ends notes: a note-off, or an all notes off or
// all sound off controller.
func (ev *Event) isRelease() bool {
	switch ev.Kind {
	case EventNoteOff:
		return true
	case EventMIDI:
		msg := midi.Message(ev.Data[:])
		var ch, key, ctl, val uint8
		if msg.GetNoteEnd(&ch, &key) {
			return true
		}
		return msg.GetControlChange(&ch, &ctl, &val) && (ctl == ccAllNotesOff || ctl == ccAllSoundOff)
	}
	return false
}

func (p *Processor) refreshAuxUse() {
	patch := p.e.Patch()
	for i := 1; i <= engine.NumAuxOutputs; i++ {
		p.auxUsed[i] = patch.UsesOutputBus(i)
	}
}

func (p *Processor) adoptTransport(ti *TransportInfo) {
	t := &p.e.Transport
	if ti == nil {
		t.Tempo = engine.DefaultTempo
		t.Signature = engine.Signature{Numerator: 4, Denominator: 4}
		t.Status = engine.StatusStopped
		p.e.OnTransportUpdated()
		return
	}
	t.Tempo = ti.Tempo
	if ti.Flags&(TransportPlaying|TransportRecording) != 0 {
		t.HostTimeInBeats = ti.SongPosBeats
		t.LastBarStartInBeats = ti.BarStartBeats
		t.TimeInBeats = t.HostTimeInBeats
	}
	t.Status = engine.StatusStopped
	if ti.Flags&TransportPlaying != 0 {
		t.Status |= engine.StatusPlaying
	}
	if ti.Flags&TransportRecording != 0 {
		t.Status |= engine.StatusRecording
	}
	if ti.Flags&TransportLoopActive != 0 {
		t.Status |= engine.StatusLooping
	}
	t.Signature = engine.Signature{Numerator: ti.TSigNum, Denominator: ti.TSigDenom}
	p.e.OnTransportUpdated()
}

func (p *Processor) handle(ev *Event) {
	vm := p.e.VoiceManager()
	switch ev.Kind {
	case EventMIDI:
		vm.ApplyMIDI1Message(ev.Port, ev.Data)
	case EventNoteOn:
		vm.ProcessNoteOnEvent(ev.Port, ev.Channel, ev.Key, ev.NoteID, ev.Velocity, 0)
	case EventNoteOff:
		vm.ProcessNoteOffEvent(ev.Port, ev.Channel, ev.Key, ev.NoteID, ev.Velocity)
	}
}

func silence(frames int, outputs []Bus) {
	for _, o := range outputs {
		for _, ch := range o.Channels {
			n := min(frames, len(ch))
			clear(ch[:n])
		}
	}
}
