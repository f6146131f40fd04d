package sampler

import (
	"bytes"
	"encoding/binary"
	"slices"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/sampler-go/internal/render"
)

// RenderOffline renders frames of interleaved stereo from the main bus,
// applying each event at its absolute frame. Events at or past frames are
// ignored. Do not call it while a device is playing the instrument.
func (in *Instrument) RenderOffline(frames int, events []render.Event) []float32 {
	evs := slices.Clone(events)
	slices.SortStableFunc(evs, func(a, b render.Event) int { return a.Time - b.Time })
	out := make([]float32, frames*2)
	in.renderMu.Lock()
	defer in.renderMu.Unlock()
	in.renderInterleaved(out, evs)
	return out
}

// ReadMIDIFile returns the channel messages of a standard MIDI file as events
// stamped with absolute frames at sampleRate.
func ReadMIDIFile(path string, sampleRate int) ([]render.Event, error) {
	var events []render.Event
	err := smf.ReadTracks(path).Do(func(te smf.TrackEvent) {
		m := []byte(te.Message)
		if len(m) < 2 || m[0] < 0x80 || m[0] >= 0xF0 {
			return
		}
		ev := render.Event{
			Time: int(te.AbsMicroSeconds * int64(sampleRate) / 1_000_000),
			Kind: render.EventMIDI,
		}
		copy(ev.Data[:], m)
		events = append(events, ev)
	}).Error()
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(events, func(a, b render.Event) int { return a.Time - b.Time })
	return events, nil
}

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

const wavFormatIEEEFloat = 3

// EncodeWAVFloat32LE wraps interleaved float32 samples in a WAV container.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := uint32(len(samples) * 4)
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		Format:        wavFormatIEEEFloat,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * 4),
		BlockAlign:    uint16(channels * 4),
		BitsPerSample: 32,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))
	binary.Write(&buf, binary.LittleEndian, &h)
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}
