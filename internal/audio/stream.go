package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
)

// bytesPerFrame is one interleaved stereo float32 frame.
const bytesPerFrame = 2 * 4

// readChunkFrames caps how much one SampleSource call renders, so the
// scratch buffer never grows with the device's request size.
const readChunkFrames = 1024

// SampleSource renders interleaved stereo float32 frames into dst. It is
// called from the device goroutine.
type SampleSource interface {
	Process(dst []float32)
}

// DeviceReader adapts a SampleSource to the io.Reader both device backends
// pull from. Reads are whole frames; a trailing partial frame is left unread.
type DeviceReader struct {
	mu      sync.Mutex
	source  SampleSource
	scratch [readChunkFrames * 2]float32
	frames  atomic.Uint64
}

func NewDeviceReader(source SampleSource) *DeviceReader {
	return &DeviceReader{source: source}
}

func (r *DeviceReader) Read(p []byte) (int, error) {
	total := len(p) / bytesPerFrame
	if total == 0 {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for done := 0; done < total; {
		n := min(total-done, readChunkFrames)
		buf := r.scratch[:2*n]
		r.source.Process(buf)
		putFloat32LE(p[done*bytesPerFrame:], buf)
		done += n
	}
	r.frames.Add(uint64(total))
	return total * bytesPerFrame, nil
}

// Frames is the number of frames handed to the device so far.
func (r *DeviceReader) Frames() uint64 { return r.frames.Load() }

func (r *DeviceReader) Close() error { return nil }

func putFloat32LE(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}
