package patchio

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/cbegin/sampler-go/internal/chunk"
)

// MonolithSampleReader gives positional access to the samples embedded in a
// monolith document. Entry i pairs Paths()[i] with the i-th filename/payload
// chunk pair.
type MonolithSampleReader struct {
	paths   []string
	entries []*chunk.Chunk
}

// NewMonolithSampleReader indexes the embedded samples of doc.
func NewMonolithSampleReader(doc *chunk.Chunk) (*MonolithSampleReader, error) {
	lst := doc.SubList(sampleTag)
	if lst == nil {
		return nil, ErrNotMonolith
	}
	pc := lst.Sub(samplePathsTag)
	if pc == nil {
		return nil, fmt.Errorf("%w: no path index", ErrMonolithIndex)
	}
	var paths []string
	if err := yaml.Unmarshal(pc.Data, &paths); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMonolithIndex, err)
	}
	sl := lst.SubList(sampleListTag)
	if sl == nil {
		return nil, fmt.Errorf("%w: no sample list", ErrMonolithIndex)
	}
	if len(sl.Children)%2 != 0 || len(sl.Children)/2 != len(paths) {
		return nil, fmt.Errorf("%w: %d paths, %d chunks", ErrMonolithIndex, len(paths), len(sl.Children))
	}
	return &MonolithSampleReader{paths: paths, entries: sl.Children}, nil
}

// SampleCount is the number of embedded samples.
func (r *MonolithSampleReader) SampleCount() int { return len(r.entries) / 2 }

// Paths returns the sorted source paths of the embedded samples.
func (r *MonolithSampleReader) Paths() []string { return r.paths }

// SampleData returns the filename and raw file bytes of sample i.
func (r *MonolithSampleReader) SampleData(i int) (string, []byte, error) {
	if i < 0 || i >= r.SampleCount() {
		return "", nil, fmt.Errorf("%w: sample %d of %d", ErrMonolithIndex, i, r.SampleCount())
	}
	fc, dc := r.entries[2*i], r.entries[2*i+1]
	if fc.ID != sampleFilenameTag || dc.ID != sampleDataTag {
		return "", nil, fmt.Errorf("%w: sample %d has chunks %s/%s", ErrMonolithIndex, i, fc.ID, dc.ID)
	}
	name := fc.Data
	if n := bytes.IndexByte(name, 0); n >= 0 {
		name = name[:n]
	}
	return string(name), dc.Data, nil
}

// buildSampleList embeds every file of paths, which must already be sorted
// and unique, under a new sample list.
func buildSampleList(paths []string) (*chunk.Chunk, error) {
	index, err := yaml.Marshal(paths)
	if err != nil {
		return nil, err
	}
	sl := chunk.NewList(sampleListTag)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != info.Size() {
			return nil, fmt.Errorf("%w: %s stat %d, read %d", ErrSizeMismatch, p, info.Size(), len(data))
		}
		fn := append([]byte(baseName(p)), 0)
		sl.Add(chunk.NewData(sampleFilenameTag, fn))
		sl.Add(chunk.NewData(sampleDataTag, data))
	}
	return chunk.NewList(sampleTag, chunk.NewData(samplePathsTag, index), sl), nil
}
