package lfo

import (
	"math"
	"testing"
)

func TestLFOTriangleShapeAcrossBlocks(t *testing.T) {
	l := &LFO{}
	l.Configure(1, ShapeTriangle)
	l.Attack(1)

	// 1 Hz at 64 frames per second, 16-frame blocks: quarter cycle per block.
	if got := l.Output(); math.Abs(float64(got)+1) > 1e-6 {
		t.Fatalf("triangle at phase 0 = %v, want -1", got)
	}
	if got := l.Process(1, 16, 64); math.Abs(float64(got)) > 1e-6 {
		t.Fatalf("triangle at phase 0.25 = %v, want 0", got)
	}
	if got := l.Process(1, 16, 64); math.Abs(float64(got)-1) > 1e-6 {
		t.Fatalf("triangle at phase 0.5 = %v, want 1", got)
	}
}

func TestLFOSquareAndSaw(t *testing.T) {
	sq := &LFO{}
	sq.Configure(2, ShapeSquare)
	sq.Attack(1)
	if got := sq.Output(); got != 2 {
		t.Fatalf("square first half = %v, want 2", got)
	}
	if got := sq.Process(1, 50, 100); got != -2 {
		t.Fatalf("square second half = %v, want -2", got)
	}

	saw := &LFO{}
	saw.Configure(1, ShapeSaw)
	saw.Attack(1)
	if got := saw.Output(); got != 1 {
		t.Fatalf("saw at phase 0 = %v, want 1", got)
	}
}

func TestLFOZeroRateHoldsOutput(t *testing.T) {
	l := &LFO{}
	l.Configure(1, ShapeSine)
	l.Attack(1)
	before := l.Output()
	for i := 0; i < 10; i++ {
		if got := l.Process(0, 16, 48000); got != before {
			t.Fatalf("zero-rate output moved: %v -> %v", before, got)
		}
	}
	if got := l.Process(-3, 16, 48000); got != before {
		t.Fatalf("negative-rate output moved: %v -> %v", before, got)
	}
}

func TestLFORandomIsBoundedAndReproducible(t *testing.T) {
	a, b := &LFO{}, &LFO{}
	a.Configure(1, ShapeRandom)
	b.Configure(1, ShapeRandom)
	a.Attack(42)
	b.Attack(42)
	distinct := map[float32]struct{}{}
	for i := 0; i < 200; i++ {
		va := a.Process(10, 16, 1000)
		vb := b.Process(10, 16, 1000)
		if va != vb {
			t.Fatalf("step %d: same seed diverged (%v vs %v)", i, va, vb)
		}
		if va < -1 || va > 1 {
			t.Fatalf("step %d: random value %v out of range", i, va)
		}
		distinct[va] = struct{}{}
	}
	if len(distinct) < 2 {
		t.Fatalf("random LFO never changed value")
	}
}

func TestLFOUnknownShapeFallsBackToSine(t *testing.T) {
	l := &LFO{}
	l.Configure(1, Shape(99))
	l.Attack(1)
	if got := l.Process(1, 25, 100); math.Abs(float64(got)-1) > 1e-6 {
		t.Fatalf("sine at quarter phase = %v, want 1", got)
	}
}
