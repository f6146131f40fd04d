package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

var (
	otoContextOnce sync.Once
	otoContext     *oto.Context
	otoContextErr  error
	otoSampleRate  int
)

func sharedOtoContext(sampleRate int, bufferTime time.Duration) (*oto.Context, error) {
	otoContextOnce.Do(func() {
		otoSampleRate = sampleRate
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
			BufferSize:   bufferTime,
		})
		if err != nil {
			otoContextErr = err
			return
		}
		<-ready
		otoContext = ctx
	})
	if otoContextErr != nil {
		return nil, otoContextErr
	}
	if otoSampleRate != sampleRate {
		return nil, fmt.Errorf("oto context already initialized at %d Hz (requested %d Hz)", otoSampleRate, sampleRate)
	}
	return otoContext, nil
}

// OtoPlayer plays a SampleSource straight through an oto context.
type OtoPlayer struct {
	mu     sync.Mutex
	player *oto.Player
	reader *DeviceReader
}

// NewOtoPlayer opens the device. bufferTime of zero lets oto pick.
func NewOtoPlayer(sampleRate int, source SampleSource, bufferTime time.Duration) (*OtoPlayer, error) {
	ctx, err := sharedOtoContext(sampleRate, bufferTime)
	if err != nil {
		return nil, err
	}
	reader := NewDeviceReader(source)
	return &OtoPlayer{player: ctx.NewPlayer(reader), reader: reader}, nil
}

func (op *OtoPlayer) Play() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.player != nil {
		op.player.Play()
	}
}

func (op *OtoPlayer) Pause() {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.player != nil {
		op.player.Pause()
	}
}

func (op *OtoPlayer) IsPlaying() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.player != nil && op.player.IsPlaying()
}

func (op *OtoPlayer) Frames() uint64 { return op.reader.Frames() }

func (op *OtoPlayer) Close() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.player == nil {
		return nil
	}
	err := op.player.Close()
	op.player = nil
	return err
}
