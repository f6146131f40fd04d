package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

type rampSource struct{ next float32 }

func (r *rampSource) Process(dst []float32) {
	for i := range dst {
		dst[i] = r.next
		r.next += 0.25
	}
}

func TestDeviceReaderEncodesFloat32LE(t *testing.T) {
	r := NewDeviceReader(&rampSource{})
	p := make([]byte, 19)
	n, err := r.Read(p)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if n != 16 {
		t.Fatalf("Read() = %d, want 16 (two whole frames)", n)
	}
	for i, want := range []float32{0, 0.25, 0.5, 0.75} {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if got != want {
			t.Fatalf("sample %d = %v, want %v", i, got, want)
		}
	}
	if r.Frames() != 2 {
		t.Fatalf("Frames() = %d, want 2", r.Frames())
	}
}

func TestDeviceReaderShortBuffer(t *testing.T) {
	src := &rampSource{}
	r := NewDeviceReader(src)
	if n, err := r.Read(make([]byte, 7)); n != 0 || err != nil {
		t.Fatalf("Read(7) = %d, %v; want 0, nil", n, err)
	}
	if src.next != 0 {
		t.Fatalf("source rendered for a buffer smaller than a frame")
	}
}

func TestDeviceReaderLargeReadIsChunked(t *testing.T) {
	src := &callCounter{}
	r := NewDeviceReader(src)
	frames := 2*readChunkFrames + 3
	n, err := r.Read(make([]byte, frames*bytesPerFrame))
	if err != nil || n != frames*bytesPerFrame {
		t.Fatalf("Read() = %d, %v; want %d, nil", n, err, frames*bytesPerFrame)
	}
	if want := []int{2 * readChunkFrames, 2 * readChunkFrames, 6}; len(src.sizes) != 3 || src.sizes[0] != want[0] || src.sizes[2] != want[2] {
		t.Fatalf("Process sizes = %v, want %v", src.sizes, want)
	}
	if r.Frames() != uint64(frames) {
		t.Fatalf("Frames() = %d, want %d", r.Frames(), frames)
	}
}

type callCounter struct{ sizes []int }

func (c *callCounter) Process(dst []float32) { c.sizes = append(c.sizes, len(dst)) }

func TestOpenNoneAndUnknown(t *testing.T) {
	out, err := Open(BackendNone, 48000, &rampSource{}, 0)
	if err != nil {
		t.Fatalf("Open(none) error = %v", err)
	}
	out.Play()
	if !out.IsPlaying() {
		t.Fatalf("null output not playing after Play")
	}
	if err := out.Close(); err != nil || out.IsPlaying() {
		t.Fatalf("Close() = %v, playing %v", err, out.IsPlaying())
	}
	if _, err := Open("alsa", 48000, &rampSource{}, 0); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("Open(alsa) error = %v, want ErrUnknownBackend", err)
	}
}
