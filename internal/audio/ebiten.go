package audio

import (
	"fmt"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// ebiten allows a single audio context per process, fixed to one rate.
var ebiten struct {
	once sync.Once
	ctx  *ebitaudio.Context
	rate int
}

func ebitenContext(sampleRate int) (*ebitaudio.Context, error) {
	ebiten.once.Do(func() {
		ebiten.rate = sampleRate
		ebiten.ctx = ebitaudio.NewContext(sampleRate)
	})
	if ebiten.rate != sampleRate {
		return nil, fmt.Errorf("audio: ebiten context runs at %d Hz, cannot open %d Hz", ebiten.rate, sampleRate)
	}
	return ebiten.ctx, nil
}

// EbitenPlayer streams a SampleSource through ebiten's audio context.
type EbitenPlayer struct {
	mu     sync.Mutex
	player *ebitaudio.Player
	reader *DeviceReader
}

// NewEbitenPlayer opens a paused player. ebiten picks its own buffer size.
func NewEbitenPlayer(sampleRate int, source SampleSource) (*EbitenPlayer, error) {
	ctx, err := ebitenContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewDeviceReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &EbitenPlayer{player: pl, reader: reader}, nil
}

func (ep *EbitenPlayer) Play() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.player != nil {
		ep.player.Play()
	}
}

func (ep *EbitenPlayer) Pause() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.player != nil {
		ep.player.Pause()
	}
}

func (ep *EbitenPlayer) IsPlaying() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.player != nil && ep.player.IsPlaying()
}

func (ep *EbitenPlayer) Frames() uint64 { return ep.reader.Frames() }

// Close stops the player; later calls are no-ops.
func (ep *EbitenPlayer) Close() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.player == nil {
		return nil
	}
	ep.player.Pause()
	err := ep.player.Close()
	ep.player = nil
	return err
}
