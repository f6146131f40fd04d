package sample

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ID identifies a sample across save and load. IDs are UUIDv5 strings derived
// from the sample's absolute path.
type ID string

// IDForPath returns the stable ID of the sample stored at path.
func IDForPath(path string) ID {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(path)))
	return ID(u.String())
}

// SourceType records where a sample's audio came from.
type SourceType int

const (
	// SourceFile is a single audio file on disk.
	SourceFile SourceType = iota
	// SourceMonolith is audio embedded in a monolith document.
	SourceMonolith
	// SourceMultiFile is a region of a multi-sample container (sf2, sfz, gig).
	SourceMultiFile
)

func (t SourceType) String() string {
	switch t {
	case SourceFile:
		return "file"
	case SourceMonolith:
		return "monolith"
	case SourceMultiFile:
		return "multifile"
	default:
		return "unknown"
	}
}

var multiFileExtensions = map[string]bool{".sf2": true, ".sfz": true, ".gig": true}

// TypeForPath guesses the source type from a path's extension.
func TypeForPath(path string) SourceType {
	if multiFileExtensions[strings.ToLower(filepath.Ext(path))] {
		return SourceMultiFile
	}
	return SourceFile
}

// Sample is decoded audio, one slice per channel, at SampleRate.
type Sample struct {
	ID         ID
	Path       string
	Type       SourceType
	SampleRate float64
	Channels   [][]float32
	Frames     int
	// MonolithIndex is the position of the embedded payload when Type is SourceMonolith.
	MonolithIndex int
}

// Frame returns the stereo frame at i; mono samples are duplicated, frames
// outside the sample are silent.
func (s *Sample) Frame(i int) (float32, float32) {
	if s == nil || i < 0 || i >= s.Frames || len(s.Channels) == 0 {
		return 0, 0
	}
	l := s.Channels[0][i]
	if len(s.Channels) == 1 {
		return l, l
	}
	return l, s.Channels[1][i]
}
