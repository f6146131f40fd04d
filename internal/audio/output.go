package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

var ErrUnknownBackend = errors.New("audio: unknown backend")

// Output is a running device stream.
type Output interface {
	Play()
	Pause()
	IsPlaying() bool
	// Frames is how many frames the device has pulled from its source.
	Frames() uint64
	Close() error
}

const (
	BackendEbiten = "ebiten"
	BackendOto    = "oto"
	BackendNone   = "none"
)

// Open starts a paused output on the named backend. Only one device backend
// can be used per process: both drive the same underlying oto context.
func Open(backend string, sampleRate int, source SampleSource, bufferTime time.Duration) (Output, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendEbiten, "":
		return NewEbitenPlayer(sampleRate, source)
	case BackendOto:
		return NewOtoPlayer(sampleRate, source, bufferTime)
	case BackendNone:
		return &NullOutput{}, nil
	}
	return nil, fmt.Errorf("%w: %q (expected ebiten|oto|none)", ErrUnknownBackend, backend)
}

// NullOutput discards audio. The caller drives rendering itself.
type NullOutput struct {
	playing atomic.Bool
}

func (n *NullOutput) Play()           { n.playing.Store(true) }
func (n *NullOutput) Pause()          { n.playing.Store(false) }
func (n *NullOutput) IsPlaying() bool { return n.playing.Load() }
func (n *NullOutput) Frames() uint64  { return 0 }

func (n *NullOutput) Close() error {
	n.playing.Store(false)
	return nil
}

var (
	_ Output = (*EbitenPlayer)(nil)
	_ Output = (*OtoPlayer)(nil)
	_ Output = (*NullOutput)(nil)
)
