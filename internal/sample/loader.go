package sample

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	goaiff "github.com/go-audio/aiff"
	gowav "github.com/go-audio/wav"
	"github.com/ik5/audpbx/audio"
	pbxaiff "github.com/ik5/audpbx/formats/aiff"
	pbxmp3 "github.com/ik5/audpbx/formats/mp3"
	pbxvorbis "github.com/ik5/audpbx/formats/vorbis"
	pbxwav "github.com/ik5/audpbx/formats/wav"
	"github.com/mitchellh/go-homedir"
)

const readChunk = 4096

// EmbeddedFetcher returns the filename and raw bytes of embedded sample i.
type EmbeddedFetcher func(i int) (filename string, data []byte, err error)

// Ref is a sample reference as stored in a saved document.
type Ref struct {
	ID   ID     `yaml:"id"`
	Path string `yaml:"path"`
}

// Loader decodes sample references into Samples. A Loader is configured for
// a single document load: its relative root and monolith index describe the
// document being read.
type Loader struct {
	registry     *audio.Registry
	targetRate   int
	relativeRoot string
	monoDoc      string
	monoIndex    map[string]int
	monoFetch    EmbeddedFetcher
	logger       *slog.Logger
}

// NewRegistry returns the decoder registry keyed by lower-case extension.
func NewRegistry() *audio.Registry {
	r := audio.NewRegistry()
	r.Register("wav", pbxwav.Decoder{})
	r.Register("aif", pbxaiff.Decoder{})
	r.Register("aiff", pbxaiff.Decoder{})
	r.Register("mp3", pbxmp3.Decoder{})
	r.Register("ogg", pbxvorbis.Decoder{})
	return r
}

// NewLoader returns a loader resampling everything to targetRate; a
// non-positive rate keeps each file's own rate.
func NewLoader(targetRate int, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		registry:   NewRegistry(),
		targetRate: targetRate,
		logger:     logger,
	}
}

// SetRelativeRoot resolves relative sample paths against dir.
func (l *Loader) SetRelativeRoot(dir string) { l.relativeRoot = dir }

// SetMonolithBinaryIndex makes paths listed in index load from embedded
// payloads of docPath instead of the filesystem. index[i] pairs with fetch(i).
func (l *Loader) SetMonolithBinaryIndex(docPath string, index []string, fetch EmbeddedFetcher) {
	l.monoDoc = docPath
	l.monoIndex = make(map[string]int, len(index))
	for i, p := range index {
		l.monoIndex[p] = i
	}
	l.monoFetch = fetch
}

// ClearMonolithBinaryIndex drops the embedded payload lookup.
func (l *Loader) ClearMonolithBinaryIndex() {
	l.monoDoc = ""
	l.monoIndex = nil
	l.monoFetch = nil
}

// Load decodes the sample ref points at.
func (l *Loader) Load(ref Ref) (*Sample, error) {
	if i, ok := l.monoIndex[ref.Path]; ok && l.monoFetch != nil {
		return l.loadEmbedded(ref, i)
	}
	p, err := l.resolve(ref.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open sample: %w", err)
	}
	defer f.Close()

	s, err := l.decode(f, filepath.Ext(p))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	s.Path = p
	s.Type = SourceFile
	s.ID = ref.ID
	if s.ID == "" {
		s.ID = IDForPath(p)
	}
	l.logger.Debug("loaded sample", "path", p, "frames", s.Frames, "channels", len(s.Channels), "sampleRate", s.SampleRate)
	return s, nil
}

func (l *Loader) loadEmbedded(ref Ref, i int) (*Sample, error) {
	name, data, err := l.monoFetch(i)
	if err != nil {
		return nil, fmt.Errorf("embedded sample %d: %w", i, err)
	}
	s, err := l.decode(bytes.NewReader(data), filepath.Ext(name))
	if err != nil {
		return nil, fmt.Errorf("decode embedded %s: %w", name, err)
	}
	s.Path = ref.Path
	s.Type = SourceMonolith
	s.MonolithIndex = i
	s.ID = ref.ID
	if s.ID == "" {
		s.ID = IDForPath(ref.Path)
	}
	l.logger.Debug("loaded embedded sample", "document", l.monoDoc, "index", i, "filename", name, "frames", s.Frames)
	return s, nil
}

func (l *Loader) resolve(p string) (string, error) {
	p, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("expand sample path: %w", err)
	}
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) && l.relativeRoot != "" {
		p = filepath.Join(l.relativeRoot, p)
	}
	return p, nil
}

func (l *Loader) decode(r io.Reader, ext string) (*Sample, error) {
	dec, ok := l.registry.Get(strings.TrimPrefix(strings.ToLower(ext), "."))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	src, err := dec.Decode(r)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var stream audio.Source = src
	rate := src.SampleRate()
	if l.targetRate > 0 && rate != l.targetRate {
		stream = audio.NewResampler(src, l.targetRate)
		rate = l.targetRate
	}
	chans := stream.Channels()
	if chans < 1 {
		return nil, ErrEmptySample
	}

	var interleaved []float32
	buf := make([]float32, readChunk*chans)
	for {
		n, err := stream.ReadSamples(buf)
		interleaved = append(interleaved, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	frames := len(interleaved) / chans
	if frames == 0 {
		return nil, ErrEmptySample
	}
	out := make([][]float32, chans)
	for c := range out {
		out[c] = make([]float32, frames)
		for i := 0; i < frames; i++ {
			out[c][i] = interleaved[i*chans+c]
		}
	}
	return &Sample{SampleRate: float64(rate), Channels: out, Frames: frames}, nil
}

// IsLoadableSingleSample reports whether path is a single audio file this
// build can decode. wav and aiff files are checked for a valid header.
func IsLoadableSingleSample(path string) bool {
	if TypeForPath(path) != SourceFile {
		return false
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if _, ok := NewRegistry().Get(ext); !ok {
		return false
	}
	switch ext {
	case "wav", "aif", "aiff":
	default:
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	if ext == "wav" {
		return gowav.NewDecoder(f).IsValidFile()
	}
	return goaiff.NewDecoder(f).IsValidFile()
}
