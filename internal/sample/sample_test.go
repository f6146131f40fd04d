package sample

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	pbxwav "github.com/ik5/audpbx/formats/wav"
)

func writeTestWAV(t *testing.T, path string, rate int, pcm []int16) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := pbxwav.WriteWAV16(&buf, rate, pcm); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return buf.Bytes()
}

func TestLoaderDecodesWAV(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "kick.wav")
	writeTestWAV(t, p, 48000, []int16{0, 16384, -16384, 8192})

	s, err := NewLoader(48000, nil).Load(Ref{Path: p})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Frames != 4 {
		t.Fatalf("frames = %d, want 4", s.Frames)
	}
	if s.Type != SourceFile {
		t.Fatalf("type = %v, want file", s.Type)
	}
	if s.ID != IDForPath(p) {
		t.Fatalf("id = %q, want %q", s.ID, IDForPath(p))
	}
	if l, r := s.Frame(1); l != 0.5 || r != 0.5 {
		t.Fatalf("frame 1 = (%v, %v), want (0.5, 0.5)", l, r)
	}
	if l, _ := s.Frame(2); l != -0.5 {
		t.Fatalf("frame 2 = %v, want -0.5", l)
	}
	if l, r := s.Frame(99); l != 0 || r != 0 {
		t.Fatalf("out of range frame = (%v, %v), want silence", l, r)
	}
}

func TestLoaderKeepsReferenceID(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "snare.wav")
	writeTestWAV(t, p, 48000, []int16{1, 2, 3})
	s, err := NewLoader(0, nil).Load(Ref{ID: "saved-id", Path: p})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.ID != "saved-id" {
		t.Fatalf("id = %q, want saved-id", s.ID)
	}
}

func TestLoaderResamplesToTargetRate(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tone.wav")
	pcm := make([]int16, 2400)
	for i := range pcm {
		pcm[i] = int16(i % 100 * 100)
	}
	writeTestWAV(t, p, 24000, pcm)
	s, err := NewLoader(48000, nil).Load(Ref{Path: p})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.SampleRate != 48000 {
		t.Fatalf("sample rate = %v, want 48000", s.SampleRate)
	}
	if s.Frames < 4000 || s.Frames > 5200 {
		t.Fatalf("frames = %d, want roughly twice 2400", s.Frames)
	}
}

func TestLoaderResolvesRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "samples"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestWAV(t, filepath.Join(dir, "samples", "hat.wav"), 48000, []int16{5, 6})
	l := NewLoader(0, nil)
	l.SetRelativeRoot(dir)
	s, err := l.Load(Ref{Path: "samples/hat.wav"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := filepath.Join(dir, "samples", "hat.wav"); s.Path != want {
		t.Fatalf("path = %q, want %q", s.Path, want)
	}
}

func TestLoaderPrefersMonolithIndex(t *testing.T) {
	dir := t.TempDir()
	var wavBytes bytes.Buffer
	if err := pbxwav.WriteWAV16(&wavBytes, 48000, []int16{16384, 16384}); err != nil {
		t.Fatal(err)
	}
	fetched := -1
	l := NewLoader(0, nil)
	l.SetMonolithBinaryIndex(filepath.Join(dir, "doc.scm"), []string{"/gone/a.wav", "/gone/b.wav"},
		func(i int) (string, []byte, error) {
			fetched = i
			return "b.wav", wavBytes.Bytes(), nil
		})
	s, err := l.Load(Ref{ID: "b", Path: "/gone/b.wav"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fetched != 1 {
		t.Fatalf("fetched index %d, want 1", fetched)
	}
	if s.Type != SourceMonolith || s.MonolithIndex != 1 {
		t.Fatalf("sample = %v/%d, want monolith/1", s.Type, s.MonolithIndex)
	}
	if s.Path != "/gone/b.wav" {
		t.Fatalf("path = %q, want original path", s.Path)
	}

	l.ClearMonolithBinaryIndex()
	if _, err := l.Load(Ref{Path: "/gone/b.wav"}); err == nil {
		t.Fatalf("expected filesystem miss after clearing index")
	}
}

func TestLoaderRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(0, nil).Load(Ref{Path: p}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestIsLoadableSingleSample(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.wav")
	writeTestWAV(t, good, 44100, []int16{1, 2, 3, 4})
	bad := filepath.Join(dir, "bad.wav")
	if err := os.WriteFile(bad, []byte("definitely not riff"), 0o644); err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		path string
		want bool
	}{
		{good, true},
		{bad, false},
		{filepath.Join(dir, "kit.sf2"), false},
		{filepath.Join(dir, "missing.wav"), false},
		{filepath.Join(dir, "readme.txt"), false},
		{filepath.Join(dir, "loop.mp3"), true},
	}
	for _, tc := range cases {
		if got := IsLoadableSingleSample(tc.path); got != tc.want {
			t.Errorf("IsLoadableSingleSample(%s) = %v, want %v", filepath.Base(tc.path), got, tc.want)
		}
	}
}

func TestManagerReparentAndPurge(t *testing.T) {
	m := NewManager(nil)
	a := &Sample{ID: "a", Path: "/x/one/kick.wav"}
	b := &Sample{ID: "b", Path: "/x/two/snare.wav"}
	m.Add(a)
	m.Add(b)

	m.ReparentSamplesOnStreamToRelative("samples/")
	if got := m.StreamPath("a"); got != "samples/kick.wav" {
		t.Fatalf("reparented path = %q, want samples/kick.wav", got)
	}
	if a.Path != "/x/one/kick.wav" {
		t.Fatalf("reparenting changed the live path to %q", a.Path)
	}
	m.ClearReparenting()
	if got := m.StreamPath("a"); got != "/x/one/kick.wav" {
		t.Fatalf("path after clear = %q", got)
	}

	removed := m.Purge(func(id ID) bool { return id == "b" })
	if removed != 1 || m.Get("a") != nil || m.Get("b") == nil {
		t.Fatalf("purge removed %d, a=%v b=%v", removed, m.Get("a"), m.Get("b"))
	}
}

func TestIDForPathIsStable(t *testing.T) {
	if IDForPath("/a/b.wav") != IDForPath("/a/b.wav") {
		t.Fatalf("id not deterministic")
	}
	if IDForPath("/a/b.wav") == IDForPath("/a/c.wav") {
		t.Fatalf("distinct paths share an id")
	}
}
